// Package cache is the optional bounded document cache described in
// spec.md §4.3: a per-collection, per-primary-key cache of the last
// encoded (BSON) document bytes, invalidated synchronously on every write. No
// teacher equivalent exists (FiloDB has no caching layer at all); this is
// new code built around the ecosystem's own expirable LRU rather than a
// hand-rolled one, per the "never fall back to stdlib where the corpus
// shows a library" rule.
package cache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"mongolite/internal/metrics"
	"mongolite/internal/oid"
)

// Options configures a Cache. MaxEntries and MaxBytes are both enforced;
// whichever limit is hit first evicts. A zero TTL disables time-based
// expiry (entries then live until evicted for space or invalidated).
type Options struct {
	MaxEntries int
	MaxBytes   int64
	TTL        time.Duration
	Metrics    *metrics.Collectors
}

// Cache holds encoded document bytes keyed by primary key, bounded by
// both an entry-count and a byte-size budget.
type Cache struct {
	mu       sync.Mutex
	lru      *lru.LRU[oid.ID, []byte]
	maxBytes int64
	curBytes int64
	metrics  *metrics.Collectors
}

// New builds a Cache per opts. A MaxEntries of 0 disables the cache
// entirely: Get always misses and Put is a no-op, so callers don't need
// a separate "cache enabled" branch.
func New(opts Options) *Cache {
	c := &Cache{maxBytes: opts.MaxBytes, metrics: opts.Metrics}
	if opts.MaxEntries <= 0 {
		return c
	}
	c.lru = lru.NewLRU[oid.ID, []byte](opts.MaxEntries, c.onEvict, opts.TTL)
	return c
}

func (c *Cache) onEvict(_ oid.ID, value []byte) {
	// Invoked synchronously from within the underlying LRU's own locked
	// section (Add/RemoveOldest), so curBytes is always consistent with
	// the set of keys actually present once the call returns.
	c.curBytes -= int64(len(value))
}

// Get returns the cached bytes for id, if present and unexpired.
func (c *Cache) Get(id oid.ID) ([]byte, bool) {
	if c.lru == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.lru.Get(id)
	if ok {
		c.metrics.CacheHit()
	} else {
		c.metrics.CacheMiss()
	}
	return v, ok
}

// Put inserts or replaces the cached bytes for id, evicting the least
// recently used entries (by the underlying LRU's own count/TTL policy,
// and then by byte budget) until both limits are satisfied.
func (c *Cache) Put(id oid.ID, value []byte) {
	if c.lru == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.lru.Peek(id); ok {
		c.curBytes -= int64(len(old))
	}
	c.lru.Add(id, value)
	c.curBytes += int64(len(value))

	for c.maxBytes > 0 && c.curBytes > c.maxBytes {
		if _, _, ok := c.lru.RemoveOldest(); !ok {
			break
		}
	}
}

// Invalidate drops id's cached entry, if any. Called on every update,
// replace and delete path (inserts Put the new bytes instead) so the cache
// never serves a stale document.
func (c *Cache) Invalidate(id oid.ID) {
	if c.lru == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(id)
}

// Purge drops every cached entry.
func (c *Cache) Purge() {
	if c.lru == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
	c.curBytes = 0
}

// Len reports the number of entries currently cached.
func (c *Cache) Len() int {
	if c.lru == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Bytes reports the current total size of cached values.
func (c *Cache) Bytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.curBytes
}
