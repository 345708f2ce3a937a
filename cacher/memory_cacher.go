package cacher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// MemoryCacher keeps values in process memory. Concurrent misses on one key
// share a single fetch.
type MemoryCacher[T any] struct {
	cache *cache.Cache
	group singleflight.Group
}

// NewMemoryCacher creates an in-memory cache whose entries expire after ttl.
// Expired entries are purged every 2*ttl.
func NewMemoryCacher[T any](ttl time.Duration) *MemoryCacher[T] {
	return &MemoryCacher[T]{cache: cache.New(ttl, 2*ttl)}
}

// GetOrFetch implements Cacher.
func (c *MemoryCacher[T]) GetOrFetch(ctx context.Context, key string, fetchFn FetchFunc[T]) (T, error) {
	var zero T

	if val, found := c.cache.Get(key); found {
		if typed, ok := val.(T); ok {
			return typed, nil
		}
	}

	val, err, _ := c.group.Do(key, func() (any, error) {
		if cached, found := c.cache.Get(key); found {
			return cached, nil
		}

		fetched, err := fetchFn(ctx)
		if err != nil {
			return nil, err
		}
		c.cache.SetDefault(key, fetched)

		return fetched, nil
	})
	if err != nil {
		return zero, err
	}

	typed, ok := val.(T)
	if !ok {
		return zero, fmt.Errorf("cacher: unexpected type %T for key %s", val, key)
	}

	return typed, nil
}

// DeleteByPrefix implements Cacher.
func (c *MemoryCacher[T]) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	deleted := 0
	for key := range c.cache.Items() {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}

		if strings.HasPrefix(key, prefix) {
			c.cache.Delete(key)
			deleted++
		}
	}

	return deleted, nil
}

// ItemCount implements Cacher. Expired but not yet purged entries count.
func (c *MemoryCacher[T]) ItemCount(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	return c.cache.ItemCount(), nil
}

// Close implements Cacher.
func (c *MemoryCacher[T]) Close() error {
	c.cache.Flush()
	return nil
}
