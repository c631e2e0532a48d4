package apikeys

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/caseworks/authcore/pkg/observability"
)

// RateLimiter enforces each key's declared per-minute limit with a fixed
// window counter in Redis, shared across instances. When Redis is down it
// falls back to an in-process window cache so a single instance still
// throttles roughly; limiter infrastructure failure is never a reason to
// reject a request.
type RateLimiter struct {
	redis   *redis.Client
	logger  *observability.Logger
	metrics *observability.Metrics

	fallback *expirable.LRU[string, *int64]
}

const rateLimitWindow = time.Minute

func NewRateLimiter(redisClient *redis.Client, logger *observability.Logger, metrics *observability.Metrics) *RateLimiter {
	return &RateLimiter{
		redis:    redisClient,
		logger:   logger,
		metrics:  metrics,
		fallback: expirable.NewLRU[string, *int64](4096, nil, rateLimitWindow),
	}
}

// Allow reports whether the key may proceed in the current window
func (r *RateLimiter) Allow(ctx context.Context, key *Key) bool {
	if key.RateLimitPerMinute <= 0 {
		return true
	}

	window := time.Now().Unix() / int64(rateLimitWindow.Seconds())
	counterKey := fmt.Sprintf("ratelimit:key:%d:%d", key.ID, window)

	count, err := r.redis.Incr(ctx, counterKey).Result()
	if err != nil {
		return r.allowLocal(key, counterKey)
	}
	if count == 1 {
		if err := r.redis.Expire(ctx, counterKey, rateLimitWindow).Err(); err != nil {
			r.logger.WithError(err).Warn("Failed to set rate limit window expiry")
		}
	}
	if count > int64(key.RateLimitPerMinute) {
		return r.reject(key)
	}
	return true
}

// allowLocal is the degraded path when Redis is unreachable. Counting is
// per-instance, so a fleet under-throttles until Redis returns.
func (r *RateLimiter) allowLocal(key *Key, counterKey string) bool {
	counter, ok := r.fallback.Get(counterKey)
	if !ok {
		counter = new(int64)
		r.fallback.Add(counterKey, counter)
	}
	if atomic.AddInt64(counter, 1) > int64(key.RateLimitPerMinute) {
		return r.reject(key)
	}
	return true
}

func (r *RateLimiter) reject(key *Key) bool {
	if r.metrics != nil {
		r.metrics.RateLimitRejections.WithLabelValues(key.TenantCode).Inc()
	}
	return false
}
