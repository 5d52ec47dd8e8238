package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mamun007molla/blood-donation-server/services/donation-service/models"
)

const (
	RequestCachePrefix     = "request:detail:"
	RequestVersionPrefix   = "request:version:"
	RequestListCachePrefix = "requests:v:"
	RequestCacheVersionKey = "requests:version"
	requestVersionTTL      = time.Hour
	DefaultRequestCacheTTL = 30 * time.Second
)

// fillIfUnchanged writes a detail entry only while the request's version
// still has the value read before the store was queried.
var fillIfUnchanged = redis.NewScript(`
if (redis.call('GET', KEYS[1]) or '') ~= ARGV[1] then
  return 0
end
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
return 1
`)

type cachedPage struct {
	Items []models.DonationRequest `json:"items"`
	Total int64                    `json:"total"`
}

// CachedRequestRepository is a read-through Redis cache in front of another
// RequestRepository. List results are keyed by a version counter that every
// write bumps, so a write invalidates all cached pages at once. Each request
// also has its own version: a detail fill that raced a write is discarded, so
// a status read after a committed transition never sees the old value. Redis
// failures fall through to the inner repository.
type CachedRequestRepository struct {
	inner  RequestRepository
	redis  *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewCachedRequestRepository(inner RequestRepository, client *redis.Client, ttl time.Duration, logger *zap.Logger) *CachedRequestRepository {
	if ttl <= 0 {
		ttl = DefaultRequestCacheTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedRequestRepository{inner: inner, redis: client, ttl: ttl, logger: logger}
}

func (r *CachedRequestRepository) Create(ctx context.Context, req *models.DonationRequest) error {
	if err := r.inner.Create(ctx, req); err != nil {
		return err
	}
	r.invalidate(ctx, "")
	return nil
}

func (r *CachedRequestRepository) FindByID(ctx context.Context, id string) (*models.DonationRequest, error) {
	key := RequestCachePrefix + id
	if raw, err := r.redis.Get(ctx, key).Bytes(); err == nil {
		var cached models.DonationRequest
		if err := json.Unmarshal(raw, &cached); err == nil {
			return &cached, nil
		}
		r.logger.Warn("Failed to unmarshal cached request", zap.String("request_id", id))
	}

	verKey := RequestVersionPrefix + id
	version, verErr := r.redis.Get(ctx, verKey).Result()
	if verErr == redis.Nil {
		version, verErr = "", nil
	}

	req, err := r.inner.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if verErr == nil {
		r.fill(ctx, verKey, version, key, req)
	}
	return req, nil
}

func (r *CachedRequestRepository) fill(ctx context.Context, verKey, version, key string, req *models.DonationRequest) {
	b, err := json.Marshal(req)
	if err != nil {
		r.logger.Warn("Failed to marshal cache entry", zap.String("key", key), zap.Error(err))
		return
	}
	written, err := fillIfUnchanged.Run(ctx, r.redis, []string{verKey, key}, version, b, r.ttl.Milliseconds()).Int()
	if err != nil {
		r.logger.Debug("Failed to write cache entry", zap.String("key", key), zap.Error(err))
		return
	}
	if written == 0 {
		r.logger.Debug("Skipped stale cache fill", zap.String("key", key))
	}
}

func (r *CachedRequestRepository) List(ctx context.Context, filter RequestFilter, page PageQuery) ([]models.DonationRequest, int64, error) {
	version, err := r.redis.Get(ctx, RequestCacheVersionKey).Int64()
	if err != nil && err != redis.Nil {
		return r.inner.List(ctx, filter, page)
	}

	key := listCacheKey(version, filter, page)
	if raw, err := r.redis.Get(ctx, key).Bytes(); err == nil {
		var cached cachedPage
		if err := json.Unmarshal(raw, &cached); err == nil {
			return cached.Items, cached.Total, nil
		}
	}

	items, total, err := r.inner.List(ctx, filter, page)
	if err != nil {
		return nil, 0, err
	}
	r.set(ctx, key, cachedPage{Items: items, Total: total})
	return items, total, nil
}

func (r *CachedRequestRepository) UpdateStatus(ctx context.Context, id string, change StatusChange) (*models.DonationRequest, error) {
	updated, err := r.inner.UpdateStatus(ctx, id, change)
	if err != nil {
		return nil, err
	}
	r.invalidate(ctx, id)
	return updated, nil
}

func (r *CachedRequestRepository) UpdateIfPending(ctx context.Context, id string, patch models.RequestPatch, at time.Time) (*models.DonationRequest, error) {
	updated, err := r.inner.UpdateIfPending(ctx, id, patch, at)
	if err != nil {
		return nil, err
	}
	r.invalidate(ctx, id)
	return updated, nil
}

func (r *CachedRequestRepository) Delete(ctx context.Context, id string, allowInProgress bool) error {
	if err := r.inner.Delete(ctx, id, allowInProgress); err != nil {
		return err
	}
	r.invalidate(ctx, id)
	return nil
}

func (r *CachedRequestRepository) set(ctx context.Context, key string, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		r.logger.Warn("Failed to marshal cache entry", zap.String("key", key), zap.Error(err))
		return
	}
	if err := r.redis.Set(ctx, key, b, r.ttl).Err(); err != nil {
		r.logger.Debug("Failed to write cache entry", zap.String("key", key), zap.Error(err))
	}
}

// invalidate bumps the request's version before dropping its detail entry,
// then bumps the list version.
func (r *CachedRequestRepository) invalidate(ctx context.Context, id string) {
	if id != "" {
		verKey := RequestVersionPrefix + id
		_, err := r.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Incr(ctx, verKey)
			p.Expire(ctx, verKey, requestVersionTTL)
			p.Del(ctx, RequestCachePrefix+id)
			return nil
		})
		if err != nil {
			r.logger.Error("Failed to invalidate request cache", zap.String("request_id", id), zap.Error(err))
		}
	}
	if err := r.redis.Incr(ctx, RequestCacheVersionKey).Err(); err != nil {
		r.logger.Error("Failed to invalidate request list cache", zap.Error(err))
	}
}

func listCacheKey(version int64, f RequestFilter, p PageQuery) string {
	return fmt.Sprintf("%s%d:s=%s:r=%s:b=%s:d=%s:sd=%s:p=%d:n=%d:asc=%t",
		RequestListCachePrefix, version,
		f.Status, f.RequesterEmail, f.BloodGroup, f.District, f.SubDistrict,
		p.Page, p.Size, p.Ascending)
}
