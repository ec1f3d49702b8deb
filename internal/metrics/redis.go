package metrics

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisMetrics wraps a Redis client and instruments the operations the
// snapshot cache uses.
type RedisMetrics struct {
	client *redis.Client
	hits   atomic.Int64
	misses atomic.Int64
}

// NewRedisMetrics creates an instrumented Redis client.
func NewRedisMetrics(client *redis.Client) *RedisMetrics {
	return &RedisMetrics{client: client}
}

// Get performs a GET, counting redis.Nil as a miss.
func (rm *RedisMetrics) Get(ctx context.Context, key string) (string, error) {
	RecordRedisOperation("get")

	val, err := rm.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		rm.misses.Add(1)
		rm.updateHitRate()
		return "", err
	} else if err != nil {
		return "", err
	}

	rm.hits.Add(1)
	rm.updateHitRate()
	return val, nil
}

// Set performs a SET with expiration.
func (rm *RedisMetrics) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	RecordRedisOperation("set")
	return rm.client.Set(ctx, key, value, expiration).Err()
}

// SAdd adds members to a set.
func (rm *RedisMetrics) SAdd(ctx context.Context, key string, members ...interface{}) error {
	RecordRedisOperation("sadd")
	return rm.client.SAdd(ctx, key, members...).Err()
}

// SMembers lists a set.
func (rm *RedisMetrics) SMembers(ctx context.Context, key string) ([]string, error) {
	RecordRedisOperation("smembers")
	return rm.client.SMembers(ctx, key).Result()
}

// Del deletes keys.
func (rm *RedisMetrics) Del(ctx context.Context, keys ...string) error {
	RecordRedisOperation("del")
	return rm.client.Del(ctx, keys...).Err()
}

// Ping checks connectivity.
func (rm *RedisMetrics) Ping(ctx context.Context) error {
	RecordRedisOperation("ping")
	return rm.client.Ping(ctx).Err()
}

// Client returns the underlying Redis client.
func (rm *RedisMetrics) Client() *redis.Client {
	return rm.client
}

// HitRate returns hits / (hits + misses), or 0 before any lookup.
func (rm *RedisMetrics) HitRate() float64 {
	hits, misses := rm.hits.Load(), rm.misses.Load()
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}

func (rm *RedisMetrics) updateHitRate() {
	RedisCacheHitRate.Set(rm.HitRate())
}

// ResetStats resets hit/miss statistics.
func (rm *RedisMetrics) ResetStats() {
	rm.hits.Store(0)
	rm.misses.Store(0)
	RedisCacheHitRate.Set(0)
}
