package ratelimit

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// cacheEntry is one response cache slot.
type cacheEntry struct {
	value     any
	expiresAt time.Time
	storedAt  time.Time
	hits      int64
}

// ResponseCache is a process-wide, mutex-protected cache keyed by a
// caller-supplied string. On hit it increments the entry's hit counter and
// returns without the caller needing to go through bucket admission.
//
// Eviction: when the map exceeds maxSize entries, the oldest 30% by
// storedAt timestamp are dropped in one pass, a bulk LRU approximation.
type ResponseCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	maxSize int
}

// NewResponseCache builds a cache with the documented default capacity.
func NewResponseCache(maxSize int) *ResponseCache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &ResponseCache{entries: make(map[string]*cacheEntry), maxSize: maxSize}
}

// Get returns the cached value and true on a live hit, incrementing its hit
// counter. Expired entries are treated as misses and removed.
func (c *ResponseCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	e.hits++
	return e.value, true
}

// Set stores value under key with the given TTL, evicting if the cache has
// grown past maxSize.
func (c *ResponseCache) Set(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	c.entries[key] = &cacheEntry{value: value, expiresAt: now.Add(ttl), storedAt: now}

	if len(c.entries) > c.maxSize {
		c.evictOldestLocked()
	}
}

// Invalidate removes every key matching pattern (a plain substring match,
// mirroring the "pattern" semantics of POST /cache/invalidate) and returns
// the count removed.
func (c *ResponseCache) Invalidate(pattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k := range c.entries {
		if pattern == "" || strings.Contains(k, pattern) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// InvalidateAll clears the entire cache. The orchestrator calls this at
// the start of every full refresh so the fetch stage never serves stale data.
func (c *ResponseCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry)
}

// evictOldestLocked drops the oldest 30% of entries by storedAt. Caller
// must hold c.mu.
func (c *ResponseCache) evictOldestLocked() {
	type kv struct {
		key      string
		storedAt time.Time
	}
	all := make([]kv, 0, len(c.entries))
	for k, e := range c.entries {
		all = append(all, kv{k, e.storedAt})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].storedAt.Before(all[j].storedAt) })

	dropCount := (len(all) * 30) / 100
	for i := 0; i < dropCount; i++ {
		delete(c.entries, all[i].key)
	}
}
