// Package cache implements the response cache: a capacity-bounded LRU
// mapping cache keys to previously computed retrieval results.
//
// The cache is an optimization, never a source of truth. All operations
// are safe on a nil receiver and degrade to "always miss", so a cache
// malfunction can never fail a request.
package cache

import (
	"sync"
	"time"

	simplelru "github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/mnemo-ai/mnemo/internal/cachekey"
	"github.com/mnemo-ai/mnemo/pkg/types"
)

// DefaultCapacity is the default maximum entry count.
const DefaultCapacity = 10000

// Stats is a consistent snapshot of cache counters. Hits and misses are
// read under the same lock that guards mutations, so a snapshot never
// mixes counters from different points in time.
type Stats struct {
	Hits     uint64 `json:"hits"`
	Misses   uint64 `json:"misses"`
	Size     int    `json:"size"`
	Capacity int    `json:"capacity"`
}

type entry struct {
	result         types.QueryResult
	createdAt      time.Time
	lastAccessedAt time.Time
}

// ResponseCache is a concurrency-safe LRU over retrieval results.
// Exceeding capacity silently evicts the least-recently-used entry.
type ResponseCache struct {
	mu       sync.Mutex
	lru      *simplelru.LRU[cachekey.Key, *entry]
	capacity int
	hits     uint64
	misses   uint64

	// now is swappable for tests.
	now func() time.Time
}

// New creates a response cache bounded to capacity entries.
// A capacity below 1 falls back to DefaultCapacity.
func New(capacity int) *ResponseCache {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	// NewLRU only errors on a non-positive size, which is excluded above.
	lru, _ := simplelru.NewLRU[cachekey.Key, *entry](capacity, nil)
	return &ResponseCache{
		lru:      lru,
		capacity: capacity,
		now:      time.Now,
	}
}

// Get returns the cached result for key and whether it was present.
// A hit refreshes the entry's recency and last-accessed timestamp.
func (c *ResponseCache) Get(key cachekey.Key) (types.QueryResult, bool) {
	if c == nil {
		return types.QueryResult{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Get(key)
	if !ok {
		c.misses++
		return types.QueryResult{}, false
	}
	c.hits++
	e.lastAccessedAt = c.now()
	return e.result, true
}

// Put inserts or replaces the result for key, evicting the
// least-recently-used entry when at capacity. The stored result must not
// be modified by the caller afterwards.
func (c *ResponseCache) Put(key cachekey.Key, result types.QueryResult) {
	if c == nil {
		return
	}
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, &entry{
		result:         result,
		createdAt:      now,
		lastAccessedAt: now,
	})
}

// InvalidateOwner removes every entry belonging to owner and returns the
// number removed. Called by the learner whenever the owner's memory set
// changes, since any cached retrieval for that owner may now be stale.
func (c *ResponseCache) InvalidateOwner(owner string) int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, key := range c.lru.Keys() {
		if key.Owner == owner {
			c.lru.Remove(key)
			removed++
		}
	}
	return removed
}

// InvalidateKey removes a single entry, reporting whether it was present.
func (c *ResponseCache) InvalidateKey(key cachekey.Key) bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Remove(key)
}

// Stats returns a consistent snapshot of the cache counters.
func (c *ResponseCache) Stats() Stats {
	if c == nil {
		return Stats{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:     c.hits,
		Misses:   c.misses,
		Size:     c.lru.Len(),
		Capacity: c.capacity,
	}
}

// Purge drops every entry and is used on shutdown and in tests.
func (c *ResponseCache) Purge() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}
