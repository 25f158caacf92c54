// Package cache implements the bounded LRU+TTL cache described in
// spec §4.6: used both for ODP segment lookups and as the CMAB
// prediction cache.
package cache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// KeySeparator joins the (userKey, userValue) pair ODP uses as a cache
// key, per spec §4.6.
const KeySeparator = "-$-"

// MakeKey builds the composite cache key ODP's segment manager uses.
func MakeKey(userKey, userValue string) string {
	return userKey + KeySeparator + userValue
}

type entry struct {
	value   interface{}
	savedAt time.Time
}

// Cache is a fixed-capacity, TTL-bounded, thread-safe cache. A
// capacity <= 0 disables the cache entirely (every op is a no-op
// returning a miss); a timeout <= 0 means entries never expire.
//
// Staleness is enforced lazily and per-entry: a stale entry is removed
// the moment it's looked up, not by resetting the whole cache (see
// DESIGN.md open question 3).
type Cache struct {
	mu      sync.Mutex
	lru     *lru.Cache[string, entry]
	timeout time.Duration
}

// New constructs a Cache with the given capacity and TTL in seconds.
func New(capacity int, timeoutSeconds int) *Cache {
	c := &Cache{timeout: time.Duration(timeoutSeconds) * time.Second}
	if capacity > 0 {
		backing, err := lru.New[string, entry](capacity)
		if err == nil {
			c.lru = backing
		}
	}
	return c
}

func (c *Cache) disabled() bool {
	return c.lru == nil
}

func (c *Cache) stale(e entry) bool {
	if c.timeout <= 0 {
		return false
	}
	return time.Since(e.savedAt) > c.timeout
}

// Lookup returns the cached value for key, moving it to the
// most-recently-used position. A stale entry is removed (and only
// that entry) before reporting a miss.
func (c *Cache) Lookup(key string) (interface{}, bool) {
	if c.disabled() {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Peek(key)
	if !ok {
		return nil, false
	}
	if c.stale(e) {
		c.lru.Remove(key)
		return nil, false
	}
	// re-fetch through Get to promote recency.
	e, _ = c.lru.Get(key)
	return e.value, true
}

// Save inserts or updates key, moving it to the most-recently-used
// position; if this pushes the cache over capacity, the
// least-recently-used entry is evicted.
func (c *Cache) Save(key string, value interface{}) {
	if c.disabled() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, entry{value: value, savedAt: time.Now()})
}

// Peek returns the cached value without affecting recency or
// triggering stale-entry removal.
func (c *Cache) Peek(key string) (interface{}, bool) {
	if c.disabled() {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lru.Peek(key)
	if !ok {
		return nil, false
	}
	if c.stale(e) {
		return nil, false
	}
	return e.value, true
}

// Reset clears every entry from the cache.
func (c *Cache) Reset() {
	if c.disabled() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}
