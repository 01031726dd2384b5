package application

import (
	"sync"
)

// EntityCache holds the single authoritative in-memory instance of each
// entity, keyed by ID, for the lifetime of the process. Entries are only
// inserted by a service's save and load paths and only removed on delete;
// there is no TTL and no size bound.
type EntityCache[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]V
}

// NewEntityCache creates an empty cache. One cache is constructed per entity
// type at process start and injected into the service that owns the type.
func NewEntityCache[K comparable, V any]() *EntityCache[K, V] {
	return &EntityCache[K, V]{
		entries: make(map[K]V),
	}
}

// Get returns the cached instance for id.
func (c *EntityCache[K, V]) Get(id K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[id]
	return v, ok
}

// Put stores v as the instance for id, replacing any previous one.
func (c *EntityCache[K, V]) Put(id K, v V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id] = v
}

// Evict removes id from the cache.
func (c *EntityCache[K, V]) Evict(id K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
}

// Len returns the number of cached entries.
func (c *EntityCache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
