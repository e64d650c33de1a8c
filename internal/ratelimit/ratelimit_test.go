package ratelimit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// TestLimiter_AllowsUpToLimitThenRejects exercises the sliding window
// against a real Redis instance. Skipped unless INGEST_REDIS_ADDR is set.
func TestLimiter_AllowsUpToLimitThenRejects(t *testing.T) {
	addr := os.Getenv("INGEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("INGEST_REDIS_ADDR not set, skipping Redis-backed ratelimit test")
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()

	limiter := New(rdb, 3, time.Minute)
	scope := "test-scope"
	defer rdb.Del(context.Background(), "ratelimit:"+scope)

	now := time.Now()
	for i := 0; i < 3; i++ {
		ok, err := limiter.Allow(context.Background(), scope, now)
		require.NoError(t, err)
		require.True(t, ok, "request %d should be within the limit", i)
	}

	ok, err := limiter.Allow(context.Background(), scope, now)
	require.NoError(t, err)
	require.False(t, ok, "fourth request should exceed the limit of 3")
}

func TestLimiter_WindowExpiryAllowsRequestsAgain(t *testing.T) {
	addr := os.Getenv("INGEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("INGEST_REDIS_ADDR not set, skipping Redis-backed ratelimit test")
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()

	limiter := New(rdb, 1, 10*time.Millisecond)
	scope := "test-scope-expiry"
	defer rdb.Del(context.Background(), "ratelimit:"+scope)

	now := time.Now()
	ok, err := limiter.Allow(context.Background(), scope, now)
	require.NoError(t, err)
	require.True(t, ok)

	later := now.Add(50 * time.Millisecond)
	ok, err = limiter.Allow(context.Background(), scope, later)
	require.NoError(t, err)
	require.True(t, ok, "request outside the prior window should be allowed")
}
