// Package stdmap implements the memory pools on top of a mutex-guarded Go
// map. Multi-step updates run as closures under the pool lock, so every
// operation is atomic, synchronous, and in-memory.
package stdmap

import (
	"sync"
)

// Backend is a generic memory pool backed by a Go map.
type Backend[K comparable, V any] struct {
	sync.RWMutex
	entities map[K]V
}

// NewBackend creates a new memory pool backend.
func NewBackend[K comparable, V any]() *Backend[K, V] {
	return &Backend[K, V]{
		entities: make(map[K]V),
	}
}

// Has checks if a value is stored under the given key.
func (b *Backend[K, V]) Has(key K) bool {
	b.RLock()
	defer b.RUnlock()
	_, ok := b.entities[key]
	return ok
}

// Add adds the given value, aborting if a value already exists for the key.
func (b *Backend[K, V]) Add(key K, value V) bool {
	b.Lock()
	defer b.Unlock()
	_, ok := b.entities[key]
	if ok {
		return false
	}
	b.entities[key] = value
	return true
}

// Rem removes the value with the given key.
func (b *Backend[K, V]) Rem(key K) bool {
	b.Lock()
	defer b.Unlock()
	_, ok := b.entities[key]
	if !ok {
		return false
	}
	delete(b.entities, key)
	return true
}

// Get returns the value for the given key.
func (b *Backend[K, V]) Get(key K) (V, bool) {
	b.RLock()
	defer b.RUnlock()
	value, ok := b.entities[key]
	return value, ok
}

// Run executes the given function atomically against the underlying map.
// The closure must not retain the map beyond the call.
func (b *Backend[K, V]) Run(f func(backdata map[K]V) error) error {
	b.Lock()
	defer b.Unlock()
	return f(b.entities)
}

// View executes the given read-only function under the read lock.
func (b *Backend[K, V]) View(f func(backdata map[K]V)) {
	b.RLock()
	defer b.RUnlock()
	f(b.entities)
}

// Size returns the number of stored values.
func (b *Backend[K, V]) Size() uint {
	b.RLock()
	defer b.RUnlock()
	return uint(len(b.entities))
}
