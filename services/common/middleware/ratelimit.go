package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// KeyFunc picks the bucket a request is charged to.
type KeyFunc func(c *gin.Context) string

// ClientIPKey charges requests to the client address.
func ClientIPKey(c *gin.Context) string { return "ip:" + c.ClientIP() }

// ActorOrIPKey charges authenticated requests to the caller's email so users
// behind one NAT do not share a bucket. It must run after authentication.
func ActorOrIPKey(c *gin.Context) string {
	if email := c.GetString("email"); email != "" {
		return "user:" + email
	}
	return ClientIPKey(c)
}

type bucket struct {
	limiter *rate.Limiter
	seen    time.Time
}

// RateLimiter keeps one token bucket per key. Buckets idle for longer than
// idle are dropped during later calls.
type RateLimiter struct {
	limit rate.Limit
	burst int
	idle  time.Duration
	now   func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

func NewRateLimiter(limit rate.Limit, burst int, idle time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:   limit,
		burst:   burst,
		idle:    idle,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

// Reserve takes a token for key. When none is available it returns false and
// how long until one will be.
func (rl *RateLimiter) Reserve(key string) (bool, time.Duration) {
	now := rl.now()

	rl.mu.Lock()
	if now.Sub(rl.lastSweep) > rl.idle {
		for k, b := range rl.buckets {
			if now.Sub(b.seen) > rl.idle {
				delete(rl.buckets, k)
			}
		}
		rl.lastSweep = now
	}
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.buckets[key] = b
	}
	b.seen = now
	rl.mu.Unlock()

	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, rl.idle
	}
	if wait := r.DelayFrom(now); wait > 0 {
		r.CancelAt(now)
		return false, wait
	}
	return true, 0
}

func (rl *RateLimiter) Allow(key string) bool {
	ok, _ := rl.Reserve(key)
	return ok
}

// RateLimitMiddleware allows perMinute requests per key with the given burst
// and answers 429 with Retry-After otherwise. A nil key charges by client IP.
func RateLimitMiddleware(perMinute, burst int, key KeyFunc) gin.HandlerFunc {
	if perMinute <= 0 {
		perMinute = 60
	}
	if burst <= 0 {
		burst = 10
	}
	if key == nil {
		key = ClientIPKey
	}
	limiter := NewRateLimiter(rate.Every(time.Minute/time.Duration(perMinute)), burst, 10*time.Minute)

	return func(c *gin.Context) {
		ok, wait := limiter.Reserve(key(c))
		if !ok {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "too many requests",
				"kind":  "rate_limited",
			})
			return
		}
		c.Next()
	}
}
