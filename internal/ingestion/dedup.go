package ingestion

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultDedupCapacity is the number of signatures remembered by default.
const DefaultDedupCapacity = 5000

// DedupCache is a bounded set of seen transaction signatures. Entries are
// never promoted on lookup, so eviction drops the oldest inserted signature.
// A signature evicted from the window can be processed again; the window is
// best-effort, not an exactly-once ledger.
type DedupCache struct {
	capacity int
	entries  *lru.Cache[string, struct{}]
}

// NewDedupCache creates a cache holding at most capacity signatures.
// Capacity <= 0 uses DefaultDedupCapacity.
func NewDedupCache(capacity int) *DedupCache {
	if capacity <= 0 {
		capacity = DefaultDedupCapacity
	}
	// lru.New only fails for a non-positive size.
	entries, _ := lru.New[string, struct{}](capacity)
	return &DedupCache{capacity: capacity, entries: entries}
}

// Seen reports whether id is in the window.
func (c *DedupCache) Seen(id string) bool {
	return c.entries.Contains(id)
}

// Record inserts id. Recording a resident id keeps its original position.
func (c *DedupCache) Record(id string) {
	c.entries.ContainsOrAdd(id, struct{}{})
}

// CheckAndRecord inserts id and reports whether it was new. The check and
// the insert happen under one lock, so concurrent callers with the same id
// see exactly one true.
func (c *DedupCache) CheckAndRecord(id string) bool {
	present, _ := c.entries.ContainsOrAdd(id, struct{}{})
	return !present
}

// Len returns the number of resident signatures.
func (c *DedupCache) Len() int {
	return c.entries.Len()
}

// Capacity returns the maximum number of resident signatures.
func (c *DedupCache) Capacity() int {
	return c.capacity
}

// Keys returns resident signatures from oldest to newest.
func (c *DedupCache) Keys() []string {
	return c.entries.Keys()
}
