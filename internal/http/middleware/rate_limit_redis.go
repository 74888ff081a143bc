package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisFixedWindowLimiter struct {
	client *redis.Client
	prefix string
}

// NewRedisFixedWindowLimiter shares fixed-window counters through redis.
// The count lives as a plain INCR'd key with the window as its TTL.
func NewRedisFixedWindowLimiter(client *redis.Client, prefix string) Limiter {
	return &redisFixedWindowLimiter{client: client, prefix: prefix}
}

func (l *redisFixedWindowLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	redisKey := fmt.Sprintf("%s:ratelimit:%s", l.prefix, key)
	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("increment rate limit counter: %w", err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, redisKey, window).Err(); err != nil {
			return Decision{}, fmt.Errorf("set rate limit window: %w", err)
		}
	}
	if count > int64(limit) {
		ttl, err := l.client.PTTL(ctx, redisKey).Result()
		if err != nil || ttl < 0 {
			ttl = window
		}
		return Decision{Allowed: false, RetryAfter: ttl}, nil
	}
	return Decision{Allowed: true}, nil
}
