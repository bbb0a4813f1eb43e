package store

import "sync"

// TypedStore is a generic, concurrency-safe, in-memory key-value store.
// The memory-backed Store builds one per record kind so access to
// different kinds does not contend on a single lock.
type TypedStore[T any] struct {
	mu    sync.RWMutex
	items map[string]T
}

// NewTypedStore creates a new, empty TypedStore.
func NewTypedStore[T any]() *TypedStore[T] {
	return &TypedStore[T]{
		items: make(map[string]T),
	}
}

// Set inserts or updates a value for the given key.
func (s *TypedStore[T]) Set(key string, value T) {
	s.mu.Lock()
	s.items[key] = value
	s.mu.Unlock()
}

// Delete removes a key from the store. No-op if the key doesn't exist.
func (s *TypedStore[T]) Delete(key string) {
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
}

// Get retrieves a value by key. Returns the value and true if found,
// or the zero value and false if not.
func (s *TypedStore[T]) Get(key string) (T, bool) {
	s.mu.RLock()
	v, ok := s.items[key]
	s.mu.RUnlock()
	return v, ok
}

// Len returns the number of items in the store.
func (s *TypedStore[T]) Len() int {
	s.mu.RLock()
	n := len(s.items)
	s.mu.RUnlock()
	return n
}

// Snapshot returns a shallow copy of all items. Mutations to the returned
// map do not affect the store.
func (s *TypedStore[T]) Snapshot() map[string]T {
	s.mu.RLock()
	cp := make(map[string]T, len(s.items))
	for k, v := range s.items {
		cp[k] = v
	}
	s.mu.RUnlock()
	return cp
}

// Clear removes all items from the store.
func (s *TypedStore[T]) Clear() {
	s.mu.Lock()
	s.items = make(map[string]T)
	s.mu.Unlock()
}
