package cache

import (
	"sync"
	"time"
)

// CacheItem represents a cached item with expiration
type CacheItem[V any] struct {
	value      V
	expiration time.Time
}

// IsExpired checks if the cache item has expired at now
func (item *CacheItem[V]) IsExpired(now time.Time) bool {
	return !item.expiration.IsZero() && now.After(item.expiration)
}

// TTLCache is an in-memory cache whose entries expire lazily on read.
type TTLCache[K comparable, V any] struct {
	items map[K]*CacheItem[V]
	ttl   time.Duration
	now   func() time.Time
	mu    sync.RWMutex
}

// NewTTLCache creates a cache with a default TTL. A zero TTL never expires.
func NewTTLCache[K comparable, V any](ttl time.Duration) *TTLCache[K, V] {
	return &TTLCache[K, V]{
		items: make(map[K]*CacheItem[V]),
		ttl:   ttl,
		now:   time.Now,
	}
}

// WithClock replaces the time source, for tests.
func (c *TTLCache[K, V]) WithClock(now func() time.Time) *TTLCache[K, V] {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
	return c
}

// Get retrieves a value from cache
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var zero V
	item, found := c.items[key]
	if !found || item.IsExpired(c.now()) {
		return zero, false
	}
	return item.value, true
}

// Set stores a value with the cache's default TTL
func (c *TTLCache[K, V]) Set(key K, value V) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL stores a value with an explicit TTL
func (c *TTLCache[K, V]) SetWithTTL(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiration time.Time
	if ttl > 0 {
		expiration = c.now().Add(ttl)
	}
	c.items[key] = &CacheItem[V]{value: value, expiration: expiration}
}

// Delete removes a value from cache
func (c *TTLCache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Clear removes all items from cache
func (c *TTLCache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[K]*CacheItem[V])
}

// Cleanup removes expired items and returns how many were evicted
func (c *TTLCache[K, V]) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	evicted := 0
	for key, item := range c.items {
		if item.IsExpired(now) {
			delete(c.items, key)
			evicted++
		}
	}
	return evicted
}

// Len counts live entries
func (c *TTLCache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	n := 0
	for _, item := range c.items {
		if !item.IsExpired(now) {
			n++
		}
	}
	return n
}
