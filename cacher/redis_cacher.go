package cacher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// RedisCacher stores JSON-encoded values in Redis so several processes (or
// an operator) can inspect them. Keys are namespaced under a prefix.
type RedisCacher[T any] struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	group  singleflight.Group
}

// NewRedisCacher wraps client. Every key is stored as prefix+key with the
// given ttl. The cacher owns client and closes it on Close.
//
// Example:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	c := NewRedisCacher[[]frame.Peer](client, "lobby:", 30*time.Second)
func NewRedisCacher[T any](client *redis.Client, prefix string, ttl time.Duration) *RedisCacher[T] {
	return &RedisCacher[T]{client: client, prefix: prefix, ttl: ttl}
}

// GetOrFetch implements Cacher.
func (c *RedisCacher[T]) GetOrFetch(ctx context.Context, key string, fetchFn FetchFunc[T]) (T, error) {
	var zero T
	full := c.prefix + key

	val, err, _ := c.group.Do(full, func() (any, error) {
		cached, err := c.client.Get(ctx, full).Bytes()
		if err == nil {
			var result T
			if err := json.Unmarshal(cached, &result); err != nil {
				return nil, fmt.Errorf("cacher: decode %s: %w", full, err)
			}
			return result, nil
		}
		if !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("cacher: redis get %s: %w", full, err)
		}

		fetched, err := fetchFn(ctx)
		if err != nil {
			return nil, err
		}

		data, err := json.Marshal(fetched)
		if err != nil {
			return nil, fmt.Errorf("cacher: encode %s: %w", full, err)
		}

		if err := c.client.Set(ctx, full, data, c.ttl).Err(); err != nil {
			return nil, fmt.Errorf("cacher: redis set %s: %w", full, err)
		}

		return fetched, nil
	})
	if err != nil {
		return zero, err
	}

	return val.(T), nil
}

// DeleteByPrefix implements Cacher. It scans with SCAN rather than KEYS so a
// large keyspace does not block the server.
func (c *RedisCacher[T]) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	var keys []string
	iter := c.client.Scan(ctx, 0, c.prefix+prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("cacher: redis scan: %w", err)
	}

	if len(keys) == 0 {
		return 0, nil
	}

	deleted, err := c.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("cacher: redis del: %w", err)
	}

	return int(deleted), nil
}

// ItemCount implements Cacher by counting keys under the namespace.
func (c *RedisCacher[T]) ItemCount(ctx context.Context) (int, error) {
	count := 0
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("cacher: redis scan: %w", err)
	}

	return count, nil
}

// Close implements Cacher.
func (c *RedisCacher[T]) Close() error {
	return c.client.Close()
}
