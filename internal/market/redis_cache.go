package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/femasgate/internal/metrics"
)

const (
	snapshotKeyPrefix = "femasgate:md:"
	instrumentSetKey  = "femasgate:md:instruments"
	redisOpTimeout    = 500 * time.Millisecond
)

var errCacheNotInitialized = errors.New("cache not initialized")

// RedisSnapshotCache mirrors snapshots into Redis so they survive restarts
// and can be read by other processes.
type RedisSnapshotCache struct {
	redis *metrics.RedisMetrics
	ttl   time.Duration
}

// NewRedisSnapshotCache creates a Redis-backed snapshot cache.
// If rm is nil, returns nil (Redis is optional)
func NewRedisSnapshotCache(rm *metrics.RedisMetrics, ttl time.Duration) *RedisSnapshotCache {
	if rm == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisSnapshotCache{redis: rm, ttl: ttl}
}

// Get returns the stored snapshot of one instrument. Errors count as a miss.
func (c *RedisSnapshotCache) Get(ctx context.Context, instrumentID string) (Snapshot, bool) {
	if c == nil {
		return Snapshot{}, false
	}

	cacheCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	key := snapshotKey(instrumentID)
	cached, err := c.redis.Get(cacheCtx, key)
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Debug().Err(err).Str("key", key).Msg("Redis get error - treating as cache miss")
		}
		return Snapshot{}, false
	}

	var snap Snapshot
	if err := json.Unmarshal([]byte(cached), &snap); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to unmarshal cached snapshot")
		return Snapshot{}, false
	}
	return snap, true
}

// Set stores a snapshot with the configured TTL and records its instrument.
func (c *RedisSnapshotCache) Set(ctx context.Context, snap Snapshot) error {
	if c == nil {
		return errCacheNotInitialized
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	cacheCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	if err := c.redis.Set(cacheCtx, snapshotKey(snap.InstrumentID), data, c.ttl); err != nil {
		return fmt.Errorf("failed to cache snapshot: %w", err)
	}
	if err := c.redis.SAdd(cacheCtx, instrumentSetKey, snap.InstrumentID); err != nil {
		return fmt.Errorf("failed to record instrument: %w", err)
	}
	return nil
}

// Delete removes the snapshot of one instrument.
func (c *RedisSnapshotCache) Delete(ctx context.Context, instrumentID string) error {
	if c == nil {
		return errCacheNotInitialized
	}

	cacheCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	if err := c.redis.Del(cacheCtx, snapshotKey(instrumentID)); err != nil {
		return fmt.Errorf("failed to delete cache key: %w", err)
	}
	return nil
}

// Instruments lists the instruments ever stored, in order. Their snapshots
// may have expired.
func (c *RedisSnapshotCache) Instruments(ctx context.Context) ([]string, error) {
	if c == nil {
		return nil, errCacheNotInitialized
	}

	cacheCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	ids, err := c.redis.SMembers(cacheCtx, instrumentSetKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list instruments: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// Health checks if the Redis connection is healthy
func (c *RedisSnapshotCache) Health(ctx context.Context) error {
	if c == nil {
		return errCacheNotInitialized
	}

	cacheCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := c.redis.Ping(cacheCtx); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

func snapshotKey(instrumentID string) string {
	return snapshotKeyPrefix + instrumentID
}
