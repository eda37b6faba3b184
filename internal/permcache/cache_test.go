package permcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetPutExpiry(t *testing.T) {
	c := New[string]("test-expiry", 10)

	c.Put("k", "v", 20*time.Millisecond)
	got, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v", got)

	time.Sleep(30 * time.Millisecond)
	_, ok = c.Get("k")
	assert.False(t, ok, "expired entry should miss")
}

func TestFIFOEviction(t *testing.T) {
	c := New[int]("test-fifo", 3)

	c.Put("a", 1, time.Minute)
	c.Put("b", 2, time.Minute)
	c.Put("c", 3, time.Minute)
	c.Put("d", 4, time.Minute)

	_, ok := c.Get("a")
	assert.False(t, ok, "oldest entry should be evicted")

	for _, k := range []string{"b", "c", "d"} {
		_, ok := c.Get(k)
		assert.True(t, ok, "entry %s should survive", k)
	}
}

func TestOverwriteDoesNotGrow(t *testing.T) {
	c := New[int]("test-overwrite", 2)

	c.Put("a", 1, time.Minute)
	c.Put("a", 2, time.Minute)
	c.Put("b", 3, time.Minute)

	got, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 2, got)
	_, ok = c.Get("b")
	assert.True(t, ok)
}

func TestExpiredReputKeepsFIFOOrder(t *testing.T) {
	c := New[int]("test-reput", 2)

	c.Put("a", 1, 10*time.Millisecond)
	c.Put("b", 2, time.Minute)

	time.Sleep(20 * time.Millisecond)
	_, ok := c.Get("a")
	assert.False(t, ok)

	// Re-inserting an expired key must not leave a stale slot that
	// evicts the fresh entry ahead of FIFO.
	c.Put("a", 3, time.Minute)
	c.Put("c", 4, time.Minute)

	got, ok := c.Get("a")
	assert.True(t, ok, "re-inserted entry should survive")
	assert.Equal(t, 3, got)
	_, ok = c.Get("b")
	assert.False(t, ok, "oldest entry should be evicted")
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestDeleteAndClear(t *testing.T) {
	c := New[int]("test-delete", 10)

	c.Put("a", 1, time.Minute)
	c.Put("b", 2, time.Minute)

	c.Delete("a")
	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Clear()
	_, ok = c.Get("b")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Stats().Entries)
}

func TestStatsCounters(t *testing.T) {
	c := New[int]("test-stats", 10)

	c.Put("a", 1, time.Minute)
	c.Get("a")
	c.Get("a")
	c.Get("missing")

	stats := c.Stats()
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, 1, stats.Entries)
}
