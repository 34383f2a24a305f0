package facts

import (
	lru "github.com/hashicorp/golang-lru"
)

// DefaultCacheSize matches spec §4.2's "a few hundred thousand entries"
// guidance for the bounded node-fact cache.
const DefaultCacheSize = 250000

// Cache is a bounded, coherent-by-construction cache of node facts: since
// facts are write-once and content-addressed, a cached entry never needs
// invalidation, only eventual eviction under size pressure.
type Cache struct {
	lru *lru.Cache
}

// NewCache creates a Cache holding up to size entries. size <= 0 defaults
// to DefaultCacheSize.
func NewCache(size int) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c, err := lru.New(size)
	if err != nil {
		// lru.New only fails for size <= 0, which cannot happen here.
		panic(err)
	}
	return &Cache{lru: c}
}

// Get returns the cached value for key, if present.
func (c *Cache) Get(key string) ([]byte, bool) {
	v, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	return v.([]byte), true
}

// Add inserts or refreshes key in the cache.
func (c *Cache) Add(key string, value []byte) {
	c.lru.Add(key, value)
}
