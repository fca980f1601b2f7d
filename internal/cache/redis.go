// Package cache provides the redis-backed read cache used in front of the
// health score store. Cache failures degrade to the underlying store; they
// are never surfaced to callers.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v9"
	"github.com/rs/zerolog"
)

// Config holds redis connection settings
type Config struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// RedisCache is a JSON-over-redis cache with a key prefix and default TTL
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger zerolog.Logger
}

// NewRedisCache connects a cache client for the given settings
func NewRedisCache(cfg Config, logger zerolog.Logger) *RedisCache {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "lifecycle"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,

		PoolSize:        100,
		MinIdleConns:    10,
		ConnMaxLifetime: 30 * time.Minute,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,

		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
	})

	return &RedisCache{
		client: client,
		prefix: prefix,
		ttl:    5 * time.Minute,
		logger: logger.With().Str("component", "cache").Logger(),
	}
}

// Get loads key into target, reporting whether it was present
func (rc *RedisCache) Get(ctx context.Context, key string, target any) (bool, error) {
	fullKey := rc.prefix + ":" + key

	data, err := rc.client.Get(ctx, fullKey).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get: %w", err)
	}

	if err := json.Unmarshal(data, target); err != nil {
		return false, fmt.Errorf("unmarshal cached %s: %w", key, err)
	}
	return true, nil
}

// Set stores value under key; a zero ttl uses the cache default
func (rc *RedisCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	fullKey := rc.prefix + ":" + key

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if ttl == 0 {
		ttl = rc.ttl
	}
	if err := rc.client.Set(ctx, fullKey, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes key
func (rc *RedisCache) Delete(ctx context.Context, key string) error {
	return rc.client.Del(ctx, rc.prefix+":"+key).Err()
}

// Ping verifies the connection
func (rc *RedisCache) Ping(ctx context.Context) error {
	return rc.client.Ping(ctx).Err()
}

// Close releases the client
func (rc *RedisCache) Close() error {
	return rc.client.Close()
}
