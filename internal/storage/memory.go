package storage

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// memoryClient implementa Client sobre patrickmn/go-cache.
// Útil para desarrollo y testing.
type memoryClient struct {
	prefix string
	cache  *gocache.Cache
}

// NewMemory crea un cliente de storage en memoria.
func NewMemory(prefix string) Client {
	return &memoryClient{
		prefix: prefix,
		cache:  gocache.New(gocache.NoExpiration, 5*time.Minute),
	}
}

func (c *memoryClient) key(k string) string {
	if c.prefix == "" {
		return k
	}
	return c.prefix + ":" + k
}

func (c *memoryClient) Get(ctx context.Context, key string) (string, error) {
	v, ok := c.cache.Get(c.key(key))
	if !ok {
		return "", ErrNotFound
	}
	s, ok := v.(string)
	if !ok {
		return "", ErrNotFound
	}
	return s, nil
}

func (c *memoryClient) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	c.cache.Set(c.key(key), value, ttl)
	return nil
}

func (c *memoryClient) Remove(ctx context.Context, key string) error {
	c.cache.Delete(c.key(key))
	return nil
}

func (c *memoryClient) Close() error {
	c.cache.Flush()
	return nil
}
