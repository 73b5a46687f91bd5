package vault

import (
	"context"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	dErrors "phivault/pkg/domain-errors"
)

// RateLimiter bounds decrypt attempts per actor. Allow returns a coded error
// when the actor exceeded its window; any infrastructure failure fails open
// so a limiter outage cannot block compliance work.
type RateLimiter interface {
	Allow(ctx context.Context, actorID string) error
}

// NopLimiter allows everything. Used when rate limiting is disabled.
type NopLimiter struct{}

func (NopLimiter) Allow(ctx context.Context, actorID string) error { return nil }

var errRateExceeded = dErrors.New(dErrors.CodeUnavailable, "decrypt rate limit exceeded, retry later")

// WindowLimiter is an in-process fixed-window limiter. Single-instance
// deployments and tests use it; distributed deployments use RedisLimiter.
type WindowLimiter struct {
	limit  int
	window time.Duration

	mu      sync.Mutex
	counts  map[string]int
	resetAt time.Time
}

func NewWindowLimiter(limit int, window time.Duration) *WindowLimiter {
	return &WindowLimiter{
		limit:  limit,
		window: window,
		counts: make(map[string]int),
	}
}

func (l *WindowLimiter) Allow(ctx context.Context, actorID string) error {
	if l.limit <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.After(l.resetAt) {
		l.counts = make(map[string]int)
		l.resetAt = now.Add(l.window)
	}
	l.counts[actorID]++
	if l.counts[actorID] > l.limit {
		return errRateExceeded
	}
	return nil
}

// RedisLimiter is a fixed-window limiter shared across instances, using
// INCR with expiry on first increment.
type RedisLimiter struct {
	client *goredis.Client
	limit  int
	window time.Duration
}

func NewRedisLimiter(client *goredis.Client, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, limit: limit, window: window}
}

func (l *RedisLimiter) Allow(ctx context.Context, actorID string) error {
	if l.limit <= 0 {
		return nil
	}
	key := fmt.Sprintf("phivault:decrypt:%s:%d", actorID, time.Now().Unix()/int64(l.window.Seconds()))

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		// Fail open: the audit trail still records every decrypt.
		return nil
	}
	if count == 1 {
		l.client.Expire(ctx, key, l.window)
	}
	if count > int64(l.limit) {
		return errRateExceeded
	}
	return nil
}
