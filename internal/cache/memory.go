package cache

import (
	"context"
	"sync"
)

// MemoryClient implements an in-memory cache for development and tests.
type MemoryClient struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryClient creates a new in-memory cache client.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{data: make(map[string][]byte)}
}

// Get retrieves a value from the cache.
func (c *MemoryClient) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	val, ok := c.data[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	return val, nil
}

// Set stores a value in the cache.
func (c *MemoryClient) Set(ctx context.Context, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data[key] = value
	return nil
}

// Close is a no-op for the memory cache.
func (c *MemoryClient) Close() error {
	return nil
}
