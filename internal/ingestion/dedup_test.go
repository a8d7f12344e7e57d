package ingestion

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupCache_SeenRecord(t *testing.T) {
	c := NewDedupCache(3)

	assert.False(t, c.Seen("a"))
	c.Record("a")
	assert.True(t, c.Seen("a"))
	assert.Equal(t, 1, c.Len())

	// Recording again does not grow the window.
	c.Record("a")
	assert.Equal(t, 1, c.Len())
}

func TestDedupCache_DefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultDedupCapacity, NewDedupCache(0).Capacity())
	assert.Equal(t, DefaultDedupCapacity, NewDedupCache(-1).Capacity())
	assert.Equal(t, 10, NewDedupCache(10).Capacity())
}

func TestDedupCache_EvictsOldest(t *testing.T) {
	const capacity = 5
	c := NewDedupCache(capacity)

	for i := 0; i < 12; i++ {
		c.Record(fmt.Sprintf("sig-%d", i))
		assert.LessOrEqual(t, c.Len(), capacity)
	}

	assert.Equal(t, capacity, c.Len())
	assert.Equal(t, []string{"sig-7", "sig-8", "sig-9", "sig-10", "sig-11"}, c.Keys())
	assert.False(t, c.Seen("sig-6"))
	assert.True(t, c.Seen("sig-7"))
}

func TestDedupCache_LookupDoesNotPromote(t *testing.T) {
	c := NewDedupCache(2)
	c.Record("a")
	c.Record("b")

	// Touching "a" must not save it from eviction.
	assert.True(t, c.Seen("a"))
	assert.False(t, c.CheckAndRecord("a"))
	c.Record("c")

	assert.False(t, c.Seen("a"))
	assert.Equal(t, []string{"b", "c"}, c.Keys())
}

func TestDedupCache_CheckAndRecordConcurrent(t *testing.T) {
	c := NewDedupCache(100)

	var fresh atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.CheckAndRecord("same-signature") {
				fresh.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), fresh.Load())
}

func TestDedupCache_LateDuplicateAfterEviction(t *testing.T) {
	c := NewDedupCache(2)
	assert.True(t, c.CheckAndRecord("a"))
	assert.True(t, c.CheckAndRecord("b"))
	assert.True(t, c.CheckAndRecord("c"))

	// "a" fell out of the window and is accepted again.
	assert.True(t, c.CheckAndRecord("a"))
}
