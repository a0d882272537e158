package arena

import (
	"sync"
	"sync/atomic"
	"unsafe"
)

// Cache is the bounded FIFO of same-sized blocks fronting a context. Freed
// chunk-sized blocks are parked here and handed back on the next allocation
// of that size, skipping the host allocator entirely.
type Cache struct {
	mu       sync.Mutex
	slots    []unsafe.Pointer
	head     int
	tail     int
	count    int
	capacity int
	chunk    uint64

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewCache builds a cache of capacity slots serving chunk-sized blocks. A
// zero capacity or chunk size yields a cache that never stores.
func NewCache(chunk uint64, capacity int) *Cache {
	if capacity < 0 {
		capacity = 0
	}
	return &Cache{
		slots:    make([]unsafe.Pointer, capacity),
		capacity: capacity,
		chunk:    chunk,
	}
}

// ChunkSize returns the block size this cache serves.
func (c *Cache) ChunkSize() uint64 {
	if c == nil {
		return 0
	}
	return c.chunk
}

// pop removes the oldest cached block, counting a hit or miss.
func (c *Cache) pop() unsafe.Pointer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.count == 0 {
		c.misses.Add(1)
		return nil
	}
	p := c.slots[c.head]
	c.slots[c.head] = nil
	c.head = (c.head + 1) % c.capacity
	c.count--
	c.hits.Add(1)
	return p
}

// popOldest removes the oldest cached block without touching the counters;
// used by eviction and draining.
func (c *Cache) popOldest() unsafe.Pointer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.count == 0 {
		return nil
	}
	p := c.slots[c.head]
	c.slots[c.head] = nil
	c.head = (c.head + 1) % c.capacity
	c.count--
	return p
}

// push stores a block, reporting false when the cache is full or disabled.
func (c *Cache) push(p unsafe.Pointer) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.capacity == 0 || c.chunk == 0 || c.count == c.capacity {
		return false
	}
	c.slots[c.tail] = p
	c.tail = (c.tail + 1) % c.capacity
	c.count++
	return true
}

// Len returns the number of cached blocks.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// Stats returns the hit and miss counters.
func (c *Cache) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}
