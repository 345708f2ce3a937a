// Package cacher caches computed values, such as roster snapshots, behind a
// fetch-on-miss interface with stampede protection.
package cacher

import (
	"context"
)

// FetchFunc produces the value for a key on a cache miss.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Cacher stores values under string keys with a backend-defined TTL.
// Implementations are safe for concurrent use and run at most one fetch per
// key at a time within a process.
type Cacher[T any] interface {
	// GetOrFetch returns the cached value for key, or calls fetchFn and caches
	// its result.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - key: The cache key
	//   - fetchFn: Function producing the value on a miss
	//
	// Returns:
	//   - The cached or fetched value
	//   - The fetch error, or a backend error
	GetOrFetch(ctx context.Context, key string, fetchFn FetchFunc[T]) (T, error)

	// DeleteByPrefix removes every key starting with prefix.
	//
	// Returns:
	//   - The number of keys removed
	DeleteByPrefix(ctx context.Context, prefix string) (int, error)

	// ItemCount returns the number of stored keys.
	ItemCount(ctx context.Context) (int, error)

	// Close releases backend resources.
	Close() error
}

// nopCacher calls fetchFn on every lookup.
type nopCacher[T any] struct{}

// NewNop returns a Cacher that never stores anything.
func NewNop[T any]() Cacher[T] {
	return nopCacher[T]{}
}

func (nopCacher[T]) GetOrFetch(ctx context.Context, _ string, fetchFn FetchFunc[T]) (T, error) {
	return fetchFn(ctx)
}

func (nopCacher[T]) DeleteByPrefix(context.Context, string) (int, error) { return 0, nil }
func (nopCacher[T]) ItemCount(context.Context) (int, error)              { return 0, nil }
func (nopCacher[T]) Close() error                                        { return nil }
