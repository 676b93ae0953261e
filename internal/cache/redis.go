package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stackwatch/stackwatch/pkg/config"
	"github.com/stackwatch/stackwatch/pkg/errors"
)

// RedisBackend is a cache backend on a shared Redis store. TTL semantics
// are delegated to Redis; DeletePattern relies on server-side key matching.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend creates a Redis cache backend and verifies connectivity
func NewRedisBackend(cfg *config.RedisConfig) (*RedisBackend, error) {
	if cfg == nil {
		return nil, errors.NewValidationError("Redis configuration is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,

		PoolTimeout:     4 * time.Second,
		ConnMaxIdleTime: 5 * time.Minute,

		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.NewConnectionError("redis").WithCause(err)
	}

	return &RedisBackend{client: client}, nil
}

// NewRedisBackendFromClient wraps an existing client, used by tests
func NewRedisBackendFromClient(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

// Get returns the value for key
func (b *RedisBackend) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := b.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", false, nil
		}
		return "", false, errors.NewInternalError("failed to get cache key").WithCause(err)
	}
	return val, true, nil
}

// Set stores a value under key with the given TTL
func (b *RedisBackend) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := b.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return errors.NewInternalError("failed to set cache key").WithCause(err)
	}
	return nil
}

// Delete removes a key, reporting whether it existed
func (b *RedisBackend) Delete(ctx context.Context, key string) (bool, error) {
	count, err := b.client.Del(ctx, key).Result()
	if err != nil {
		return false, errors.NewInternalError("failed to delete cache key").WithCause(err)
	}
	return count > 0, nil
}

// DeletePattern removes every key containing the substring
func (b *RedisBackend) DeletePattern(ctx context.Context, substring string) (int, error) {
	keys, err := b.client.Keys(ctx, "*"+substring+"*").Result()
	if err != nil {
		return 0, errors.NewInternalError("failed to list cache keys").WithCause(err)
	}

	if len(keys) == 0 {
		return 0, nil
	}

	count, err := b.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, errors.NewInternalError("failed to delete cache keys").WithCause(err)
	}
	return int(count), nil
}

// Ping checks Redis reachability
func (b *RedisBackend) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return errors.NewConnectionError("redis").WithCause(err)
	}
	return nil
}

// Close closes the Redis connection
func (b *RedisBackend) Close() error {
	return b.client.Close()
}

// Name identifies the backend
func (b *RedisBackend) Name() string {
	return "redis"
}
