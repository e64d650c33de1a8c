// Package ratelimit bounds request throughput per scope key using a
// Redis-backed sliding window, grounded on the
// teacher's go-redis v9 adapter (internal/infra/redis_adapter.go).
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Limiter enforces a sliding-window rate limit keyed by an arbitrary
// scope string (e.g. "tenant:<id>" or "tenant:<id>:sender:<addr>").
type Limiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
}

// New wires a Limiter against an existing Redis client. limit and window
// default to 300 requests per minute (spec ambient rate-limit default).
func New(rdb *redis.Client, limit int, window time.Duration) *Limiter {
	if limit <= 0 {
		limit = 300
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{rdb: rdb, limit: limit, window: window}
}

// Allow records one request against scope's window and reports whether
// it is within the limit. It uses a Redis sorted set keyed by scope, with
// entry scores set to the request's arrival time so expired entries can
// be trimmed without a separate TTL sweep process.
func (l *Limiter) Allow(ctx context.Context, scope string, now time.Time) (bool, error) {
	key := "ratelimit:" + scope
	windowStart := now.Add(-l.window).UnixNano()

	pipe := l.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStart))
	countCmd := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: uuid.NewString()})
	pipe.Expire(ctx, key, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("ratelimit: pipeline: %w", err)
	}

	count, err := countCmd.Result()
	if err != nil {
		return false, fmt.Errorf("ratelimit: read count: %w", err)
	}
	return int(count) < l.limit, nil
}
