// Package cache provides the caching layer for tenant configuration lookups
// (business calendars, rule sets). Lookups are cached explicitly with an
// invalidation hook; nothing in the engine reads ambient cached state.
package cache

import (
	"sync"
	"time"
)

// Local is an in-memory cache with per-entry TTL.
type Local struct {
	mu    sync.RWMutex
	items map[string]localItem
	ttl   time.Duration
}

type localItem struct {
	value     any
	expiresAt time.Time
}

// NewLocal creates a local cache with the given default TTL.
func NewLocal(ttl time.Duration) *Local {
	return &Local{
		items: make(map[string]localItem),
		ttl:   ttl,
	}
}

// Get retrieves a value; the second return is false on miss or expiry.
func (c *Local) Get(key string) (any, bool) {
	c.mu.RLock()
	item, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Now().After(item.expiresAt) {
		c.Delete(key)
		return nil, false
	}
	return item.value, true
}

// Set stores a value under the default TTL.
func (c *Local) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = localItem{value: value, expiresAt: time.Now().Add(c.ttl)}
}

// Delete removes a key. Missing keys are a no-op.
func (c *Local) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Len returns the number of entries, including not-yet-swept expired ones.
func (c *Local) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
