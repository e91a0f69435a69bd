package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Store backed by a shared Redis instance, so fallback
// results survive process restarts and are shared across client instances.
type RedisStore struct {
	client *redis.Client
	logger *slog.Logger
	ttl    time.Duration
}

// NewRedisStore connects to Redis and verifies connectivity before use.
func NewRedisStore(ctx context.Context, addr, password string, ttl time.Duration) (*RedisStore, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis address missing")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	// Fail fast on startup
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	logger := slog.Default().With("component", "cache")
	logger.Info("redis fallback store connected", "addr", addr)

	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &RedisStore{client: client, logger: logger, ttl: ttl}, nil
}

// Get retrieves a cached value by key and unmarshals into target.
// Returns false on miss; a miss is not an error.
func (r *RedisStore) Get(ctx context.Context, key string, target any) (bool, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		r.logger.Debug("cache miss", "key", key)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get failed for key %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(val), target); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached value for key %s: %w", key, err)
	}
	r.logger.Debug("cache hit", "key", key)
	return true, nil
}

// Set marshals and stores a value with the store's TTL.
func (r *RedisStore) Set(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value for key %s: %w", key, err)
	}
	if err := r.client.Set(ctx, key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed for key %s: %w", key, err)
	}
	r.logger.Debug("cache set", "key", key, "ttl", r.ttl)
	return nil
}

// Close closes the Redis client.
func (r *RedisStore) Close() error {
	if err := r.client.Close(); err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}
	return nil
}

// FallbackKey builds the cache key for an operation's last good result.
func FallbackKey(operation string) string {
	return fmt.Sprintf("graphlink:fallback:%s", operation)
}
