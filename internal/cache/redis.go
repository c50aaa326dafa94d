package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisClient implements the content cache on Redis. Entries are stored
// without a TTL: they are content-addressed results of pure functions.
type RedisClient struct {
	client *redis.Client
}

// NewRedisClient creates a cache client on top of an existing Redis
// connection.
func NewRedisClient(client *redis.Client) *RedisClient {
	return &RedisClient{client: client}
}

// Get retrieves a value from the cache.
func (c *RedisClient) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return val, nil
}

// Set stores a value in the cache.
func (c *RedisClient) Set(ctx context.Context, key string, value []byte) error {
	if err := c.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *RedisClient) Close() error {
	return c.client.Close()
}
