package guard

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCounters backs the guard with a shared Redis instance, the swap-in
// for load-balanced deployments where per-instance memory counters could be
// bypassed by spreading attempts across instances.
type RedisCounters struct {
	client redis.UniversalClient
}

// NewRedisCounters wraps an existing client.
func NewRedisCounters(client redis.UniversalClient) *RedisCounters {
	return &RedisCounters{client: client}
}

// Increment runs INCR and stamps the window TTL when the key is fresh.
// INCR is atomic server-side, so racing failures never undercount.
func (s *RedisCounters) Increment(ctx context.Context, key string, window time.Duration) (int, error) {
	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 && window > 0 {
		if err := s.client.Expire(ctx, key, window).Err(); err != nil {
			return int(n), err
		}
	}
	return int(n), nil
}

// Get returns the current count, zero for missing keys.
func (s *RedisCounters) Get(ctx context.Context, key string) (int, error) {
	n, err := s.client.Get(ctx, key).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}

// TTL reports the key's remaining life via PTTL. Missing keys and keys
// without an expiry read as zero.
func (s *RedisCounters) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, nil
	}
	return d, nil
}

// Reset removes the key.
func (s *RedisCounters) Reset(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}
