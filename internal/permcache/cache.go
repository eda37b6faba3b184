// Package permcache is a small TTL cache for permission-check outcomes.
//
// TTL is outcome-dependent: approved results live longer than denials,
// which are re-checked sooner because an admin fixing a denial should
// take effect quickly. Entries past their TTL are evicted lazily on the
// next lookup.
package permcache

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	hitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agion", Subsystem: "permcache", Name: "hits_total",
		Help: "Permission cache hits.",
	}, []string{"cache"})
	missesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agion", Subsystem: "permcache", Name: "misses_total",
		Help: "Permission cache misses (absent or expired).",
	}, []string{"cache"})
)

type entry[V any] struct {
	value   V
	addedAt time.Time
	ttl     time.Duration
}

// Cache is a bounded TTL cache with FIFO eviction. All operations are
// O(1) and guarded by a single short-lived mutex; no lock is ever held
// across I/O.
type Cache[V any] struct {
	mu      sync.Mutex
	name    string
	entries map[string]entry[V]
	order   []string // insertion order, kept in step with entries
	maxSize int

	hits   uint64
	misses uint64
}

// New creates a cache. name labels the metrics; maxSize bounds growth
// (10000 if <= 0).
func New[V any](name string, maxSize int) *Cache[V] {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &Cache[V]{
		name:    name,
		entries: make(map[string]entry[V]),
		maxSize: maxSize,
	}
}

// Get returns the cached value if present and within its TTL. Expired
// entries are removed and reported as misses.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.miss()
		var zero V
		return zero, false
	}
	if time.Since(e.addedAt) >= e.ttl {
		c.remove(key)
		c.miss()
		var zero V
		return zero, false
	}
	c.hits++
	hitsTotal.WithLabelValues(c.name).Inc()
	return e.value, true
}

// Put stores a value with the given TTL, evicting the oldest entries
// when the cache is full.
func (c *Cache[V]) Put(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for len(c.entries) >= c.maxSize && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}

	if _, exists := c.entries[key]; !exists {
		c.order = append(c.order, key)
	}
	c.entries[key] = entry[V]{value: value, addedAt: time.Now(), ttl: ttl}
}

// Delete removes a single entry, if present.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remove(key)
}

// remove drops a key from both the map and the insertion order, so a
// re-Put of the same key cannot leave a duplicate in order that would
// evict the fresh entry ahead of FIFO. Caller holds the lock.
func (c *Cache[V]) remove(key string) {
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

// Clear drops all entries.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry[V])
	c.order = nil
}

func (c *Cache[V]) miss() {
	c.misses++
	missesTotal.WithLabelValues(c.name).Inc()
}

// Stats reports cache size and hit/miss counters.
type Stats struct {
	Entries int    `json:"entries"`
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
}

// Stats returns a snapshot of cache counters.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Entries: len(c.entries), Hits: c.hits, Misses: c.misses}
}
