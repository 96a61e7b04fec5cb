package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds the configuration for the Redis cache tier.
// Redis is OPTIONAL and only needed for multi-instance deployments or
// cache survival across restarts.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
	// KeyPrefix namespaces keys so several services can share one Redis.
	KeyPrefix string
	// Decode turns stored JSON back into the typed value. When nil, Get
	// returns the raw decoded JSON (map/slice/primitive).
	Decode func([]byte) (any, error)
}

// RedisCache is a Redis-backed cache tier. Values are stored as JSON.
type RedisCache struct {
	client *redis.Client
	config RedisConfig
}

// NewRedis creates a Redis cache tier.
func NewRedis(config RedisConfig) *RedisCache {
	if config.TTL <= 0 {
		config.TTL = 10 * time.Minute
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "acstracker:cache:"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
	return &RedisCache{client: client, config: config}
}

func (r *RedisCache) key(key string) string {
	return r.config.KeyPrefix + key
}

func (r *RedisCache) Set(ctx context.Context, key string, value any) {
	r.SetWithTTL(ctx, key, value, r.config.TTL)
}

func (r *RedisCache) SetWithTTL(ctx context.Context, key string, value any, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		slog.Warn("failed to marshal cache value", "key", key, "error", err)
		return
	}
	if err := r.client.Set(ctx, r.key(key), data, ttl).Err(); err != nil {
		slog.Warn("failed to set redis cache", "key", key, "error", err)
	}
}

func (r *RedisCache) Get(ctx context.Context, key string) (any, bool) {
	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if err != redis.Nil {
			slog.Warn("failed to get redis cache", "key", key, "error", err)
		}
		return nil, false
	}
	if r.config.Decode != nil {
		value, err := r.config.Decode(data)
		if err != nil {
			slog.Warn("failed to decode redis cache value", "key", key, "error", err)
			return nil, false
		}
		return value, true
	}
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, false
	}
	return value, true
}

func (r *RedisCache) Delete(ctx context.Context, key string) {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		slog.Warn("failed to delete redis cache", "key", key, "error", err)
	}
}

func (r *RedisCache) Clear(ctx context.Context) {
	iter := r.client.Scan(ctx, 0, r.config.KeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			slog.Warn("failed to delete redis cache key", "key", iter.Val(), "error", err)
		}
	}
	if err := iter.Err(); err != nil {
		slog.Warn("failed to scan redis cache keys", "error", err)
	}
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}
