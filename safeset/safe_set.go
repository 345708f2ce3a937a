// Package safeset provides a generic set for sharing a small group of keys,
// such as the sockets with unsent bytes, between an owning goroutine and
// observers.
package safeset

import "sync"

// SafeSet is a set of comparable elements guarded by a RWMutex.
type SafeSet[T comparable] struct {
	mu    sync.RWMutex
	items map[T]struct{}
}

// NewSafeSet creates an empty SafeSet.
func NewSafeSet[T comparable]() *SafeSet[T] {
	return &SafeSet[T]{items: make(map[T]struct{})}
}

// Add inserts value and reports whether it was absent.
func (s *SafeSet[T]) Add(value T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.items)
	s.items[value] = struct{}{}
	return len(s.items) > n
}

// Remove deletes value and reports whether it was present.
func (s *SafeSet[T]) Remove(value T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.items)
	delete(s.items, value)
	return len(s.items) < n
}

// Contains reports whether value is in the set.
func (s *SafeSet[T]) Contains(value T) bool {
	s.mu.RLock()
	_, ok := s.items[value]
	s.mu.RUnlock()
	return ok
}

// Size returns the number of elements.
func (s *SafeSet[T]) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Items returns a snapshot of the elements in unspecified order. The set may
// be modified while the snapshot is walked.
func (s *SafeSet[T]) Items() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(nil)
}

// Drain empties the set and returns what it held.
func (s *SafeSet[T]) Drain() []T {
	return s.DrainFunc(func(T) bool { return true })
}

// DrainFunc removes and returns every element for which match is true.
//
// Parameters:
//   - match: Called with the set locked; it must not use the set
//
// Returns:
//   - The removed elements, in unspecified order
func (s *SafeSet[T]) DrainFunc(match func(T) bool) []T {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.collect(match)
	for _, v := range out {
		delete(s.items, v)
	}
	return out
}

func (s *SafeSet[T]) collect(match func(T) bool) []T {
	out := make([]T, 0, len(s.items))
	for v := range s.items {
		if match == nil || match(v) {
			out = append(out, v)
		}
	}
	return out
}
