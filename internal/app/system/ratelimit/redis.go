package ratelimit

import (
	"context"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
)

// RedisLimiter counts attempts in Redis (GCRA via redis_rate), so every
// instance of the service shares the same budget per key.
type RedisLimiter struct {
	limiter *redis_rate.Limiter
	limit   redis_rate.Limit
	prefix  string
}

// NewRedis allows limit attempts per window for each key. Keys are stored
// under prefix.
func NewRedis(rdb *redis.Client, limit int, window time.Duration, prefix string) *RedisLimiter {
	return &RedisLimiter{
		limiter: redis_rate.NewLimiter(rdb),
		limit:   redis_rate.Limit{Rate: limit, Burst: limit, Period: window},
		prefix:  prefix,
	}
}

// Attempt implements Attempts.
func (l *RedisLimiter) Attempt(ctx context.Context, key string) (bool, error) {
	res, err := l.limiter.Allow(ctx, l.prefix+key, l.limit)
	if err != nil {
		return false, err
	}
	return res.Allowed > 0, nil
}

// Reset clears the budget for key.
func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	return l.limiter.Reset(ctx, l.prefix+key)
}
