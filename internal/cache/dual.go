package cache

import (
	"context"
	"time"
)

// DualCache layers an in-memory cache over Redis.
// Read: memory first, Redis on miss (with memory backfill).
// Write/Delete: both layers.
type DualCache struct {
	memory *MemoryCache
	redis  *RedisCache
}

// NewDualCache creates a new dual-layer cache.
func NewDualCache(memory *MemoryCache, redisCache *RedisCache) *DualCache {
	return &DualCache{memory: memory, redis: redisCache}
}

func (d *DualCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := d.memory.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		return val, nil
	}

	if d.redis == nil {
		return nil, nil
	}
	val, err = d.redis.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		_ = d.memory.Set(ctx, key, val, 5*time.Minute)
	}
	return val, nil
}

func (d *DualCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := d.memory.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	if d.redis != nil {
		return d.redis.Set(ctx, key, value, ttl)
	}
	return nil
}

func (d *DualCache) Delete(ctx context.Context, key string) error {
	if err := d.memory.Delete(ctx, key); err != nil {
		return err
	}
	if d.redis != nil {
		return d.redis.Delete(ctx, key)
	}
	return nil
}
