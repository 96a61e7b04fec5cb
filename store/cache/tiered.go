package cache

import (
	"context"
	"time"
)

// TieredCache implements a two-tier caching strategy:
// - L1: in-memory cache (fast, per-process, DEFAULT)
// - L2: Redis cache (shared across instances, OPTIONAL)
type TieredCache struct {
	l1 *Cache
	l2 *RedisCache
}

var (
	_ Layer = (*Cache)(nil)
	_ Layer = (*RedisCache)(nil)
	_ Layer = (*TieredCache)(nil)
)

// NewTiered creates a tiered cache with a memory L1 and a Redis L2.
func NewTiered(config Config, redisConfig RedisConfig) *TieredCache {
	return &TieredCache{
		l1: New(config),
		l2: NewRedis(redisConfig),
	}
}

func (t *TieredCache) Set(ctx context.Context, key string, value any) {
	t.l1.Set(ctx, key, value)
	t.l2.Set(ctx, key, value)
}

func (t *TieredCache) SetWithTTL(ctx context.Context, key string, value any, ttl time.Duration) {
	t.l1.SetWithTTL(ctx, key, value, ttl)
	t.l2.SetWithTTL(ctx, key, value, ttl)
}

func (t *TieredCache) Get(ctx context.Context, key string) (any, bool) {
	if value, ok := t.l1.Get(ctx, key); ok {
		return value, true
	}
	if value, ok := t.l2.Get(ctx, key); ok {
		// Backfill L1 so the next read stays local.
		t.l1.Set(ctx, key, value)
		return value, true
	}
	return nil, false
}

func (t *TieredCache) Delete(ctx context.Context, key string) {
	t.l1.Delete(ctx, key)
	t.l2.Delete(ctx, key)
}

func (t *TieredCache) Clear(ctx context.Context) {
	t.l1.Clear(ctx)
	t.l2.Clear(ctx)
}

func (t *TieredCache) Close() error {
	if err := t.l1.Close(); err != nil {
		return err
	}
	return t.l2.Close()
}
