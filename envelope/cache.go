// Package envelope builds the canonical event envelope and suppresses
// duplicate logical events within one page lifetime.
package envelope

import "sync"

// Cache is the page-lifetime dedup set. It is never persisted.
type Cache struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{seen: make(map[string]struct{})}
}

// Claim records key and reports whether it was new. The empty key is never
// recorded and always claims.
func (c *Cache) Claim(key string) bool {
	if key == "" {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.seen[key]; ok {
		return false
	}
	c.seen[key] = struct{}{}
	return true
}

// Seen reports whether key was already claimed.
func (c *Cache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.seen[key]
	return ok
}

// Len returns the number of claimed keys.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}
