package apikeys

import (
	"context"
	"io"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseworks/authcore/pkg/observability"
)

func newTestLimiter(t *testing.T) (*RateLimiter, *miniredis.Miniredis) {
	t.Helper()
	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	return NewRateLimiter(client, logger, nil), server
}

func TestRateLimiterEnforcesWindow(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	key := &Key{ID: 1, TenantCode: "acme", RateLimitPerMinute: 3}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		assert.True(t, limiter.Allow(ctx, key), "request %d should pass", i+1)
	}
	assert.False(t, limiter.Allow(ctx, key), "request over the limit must be rejected")
}

func TestRateLimiterIsolatesKeys(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	busy := &Key{ID: 1, TenantCode: "acme", RateLimitPerMinute: 1}
	quiet := &Key{ID: 2, TenantCode: "acme", RateLimitPerMinute: 1}

	assert.True(t, limiter.Allow(ctx, busy))
	assert.False(t, limiter.Allow(ctx, busy))
	assert.True(t, limiter.Allow(ctx, quiet))
}

func TestRateLimiterZeroLimitMeansUnlimited(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	key := &Key{ID: 3, TenantCode: "acme"}

	for i := 0; i < 50; i++ {
		assert.True(t, limiter.Allow(context.Background(), key))
	}
}

func TestRateLimiterFallsBackWhenRedisDown(t *testing.T) {
	limiter, server := newTestLimiter(t)
	server.Close()

	// With Redis gone the in-process window still throttles this instance
	key := &Key{ID: 4, TenantCode: "acme", RateLimitPerMinute: 2}
	ctx := context.Background()

	assert.True(t, limiter.Allow(ctx, key))
	assert.True(t, limiter.Allow(ctx, key))
	assert.False(t, limiter.Allow(ctx, key))
}
