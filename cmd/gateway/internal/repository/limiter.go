package repository

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const limiterPrefix = "connlimit:"

// Compile-time check to ensure RedisRateLimiter implements RateLimiter
var _ RateLimiter = (*RedisRateLimiter)(nil)

// RedisRateLimiter is a fixed-window counter per IP. Fails open on Redis
// errors so a cache outage cannot take the gateway down with it.
type RedisRateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

func NewRedisRateLimiter(client *redis.Client, limit int, window time.Duration) *RedisRateLimiter {
	return &RedisRateLimiter{client: client, limit: int64(limit), window: window}
}

func (l *RedisRateLimiter) Allow(ctx context.Context, ip string) (bool, error) {
	key := limiterPrefix + ip

	pipe := l.client.TxPipeline()
	count := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, err
	}

	return count.Val() <= l.limit, nil
}
