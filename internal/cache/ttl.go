// Package cache provides a small, explicitly-owned TTL cache. It replaces the
// pattern of module-level mutable caches: a component that needs caching
// constructs its own instance, injects it, and invalidates it explicitly.
package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTL is a concurrency-safe cache whose entries expire after a fixed
// duration. Expired entries are treated as absent on Get and dropped lazily.
type TTL[K comparable, V any] struct {
	mu    sync.RWMutex
	ttl   time.Duration
	now   func() time.Time
	items map[K]entry[V]
}

// NewTTL constructs a cache with the given entry lifetime. A non-positive ttl
// disables caching entirely (every Get misses).
func NewTTL[K comparable, V any](ttl time.Duration) *TTL[K, V] {
	return &TTL[K, V]{
		ttl:   ttl,
		now:   func() time.Time { return time.Now().UTC() },
		items: make(map[K]entry[V]),
	}
}

// WithNow overrides the cache's time source, for tests.
func (c *TTL[K, V]) WithNow(now func() time.Time) *TTL[K, V] {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
	return c
}

// Get returns the cached value for k if present and unexpired.
func (c *TTL[K, V]) Get(k K) (V, bool) {
	var zero V
	if c.ttl <= 0 {
		return zero, false
	}
	c.mu.RLock()
	e, ok := c.items[k]
	c.mu.RUnlock()
	if !ok {
		return zero, false
	}
	if !e.expiresAt.After(c.now()) {
		c.mu.Lock()
		delete(c.items, k)
		c.mu.Unlock()
		return zero, false
	}
	return e.value, true
}

// Set stores v under k, restarting its lifetime.
func (c *TTL[K, V]) Set(k K, v V) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[k] = entry[V]{value: v, expiresAt: c.now().Add(c.ttl)}
}

// Invalidate removes k immediately.
func (c *TTL[K, V]) Invalidate(k K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, k)
}

// Purge removes all entries.
func (c *TTL[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[K]entry[V])
}

// Len reports the number of stored entries, including any not yet swept.
func (c *TTL[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
