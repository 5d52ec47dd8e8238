package middleware

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	awspkg "github.com/mamun007molla/blood-donation-server/pkg/aws"
)

// MetricsSink accepts a batch of data points.
type MetricsSink interface {
	Put(ctx context.Context, data ...awspkg.Datum) error
}

// MetricsMiddleware publishes one batch per request: count, latency and, for
// 4xx and 5xx responses, the error counters. Routes are reported by template
// so ids do not become dimensions. A nil sink disables the middleware.
func MetricsMiddleware(sink MetricsSink, serviceName string) gin.HandlerFunc {
	if sink == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		data := httpMetrics(serviceName, c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(start))
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = sink.Put(ctx, data...)
		}()
	}
}

func httpMetrics(service, method, route string, status int, elapsed time.Duration) []awspkg.Datum {
	if route == "" {
		route = "unmatched"
	}
	dims := map[string]string{
		"Service": service,
		"Method":  method,
		"Route":   route,
		"Status":  statusClass(status),
	}

	data := []awspkg.Datum{
		awspkg.Count(awspkg.MetricHTTPRequests, dims),
		awspkg.Latency(awspkg.MetricHTTPLatency, elapsed, dims),
	}
	switch {
	case status >= 500:
		data = append(data, awspkg.Count(awspkg.MetricHTTPErrors, dims), awspkg.Count(awspkg.MetricHTTP5xx, dims))
	case status >= 400:
		data = append(data, awspkg.Count(awspkg.MetricHTTPErrors, dims), awspkg.Count(awspkg.MetricHTTP4xx, dims))
	}
	return data
}

func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return string(rune('0'+status/100)) + "xx"
}
