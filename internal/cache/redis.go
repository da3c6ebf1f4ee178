package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"familysite/internal/config"

	"github.com/redis/go-redis/v9"
)

// RedisCache implements Store on top of a Redis server, for deployments that
// run more than one site process behind a proxy.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache connects to Redis and verifies the connection with a ping
func NewRedisCache(ctx context.Context, cfg config.CacheConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.RedisAddr, err)
	}

	return &RedisCache{client: client, prefix: cfg.KeyPrefix}, nil
}

// Get retrieves a value; a missing key is not an error
func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return value, true, nil
}

// Set stores a value with the given expiration
func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete removes a value
func (r *RedisCache) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Close closes the Redis connection pool
func (r *RedisCache) Close() error {
	return r.client.Close()
}

// New builds the store selected by the cache configuration
func New(ctx context.Context, cfg config.CacheConfig) (Store, error) {
	switch cfg.Backend {
	case "redis":
		return NewRedisCache(ctx, cfg)
	default:
		return NewMemoryCache(5 * time.Minute), nil
	}
}
