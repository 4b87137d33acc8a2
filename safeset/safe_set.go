// Package safeset provides a mutex-guarded generic set.
package safeset

import "sync"

// SafeSet is a set of comparable values, safe for concurrent use.
type SafeSet[T comparable] struct {
	mu sync.RWMutex
	m  map[T]struct{}
}

// NewSafeSet returns an empty set.
func NewSafeSet[T comparable]() *SafeSet[T] {
	return &SafeSet[T]{m: make(map[T]struct{})}
}

// Add inserts value.
func (s *SafeSet[T]) Add(value T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[value] = struct{}{}
}

// AddIfAbsent inserts value unless it is already present. The check and the
// insert happen under one lock, so concurrent callers racing on the same
// value see exactly one success.
//
// Parameters:
//   - value: The element to insert
//
// Returns:
//   - true if value was inserted, false if it was already present
func (s *SafeSet[T]) AddIfAbsent(value T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.m[value]; ok {
		return false
	}

	s.m[value] = struct{}{}
	return true
}

// Remove deletes value.
//
// Returns:
//   - true if value was present
func (s *SafeSet[T]) Remove(value T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.m[value]
	delete(s.m, value)
	return ok
}

// Contains reports whether value is present.
func (s *SafeSet[T]) Contains(value T) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.m[value]
	return ok
}

// Size returns the number of elements.
func (s *SafeSet[T]) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}
