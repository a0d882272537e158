// Package arena provides detachable, generationally reclaimed allocation
// contexts over the host allocator: a row matrix of owned pointers flushed
// a generation at a time (through epoch-based reclamation when enabled),
// fronted by a bounded FIFO cache of same-sized small blocks with an
// optional urgent-eviction policy. A signal-driven hard-kill helper drains
// every live context before exiting.
package arena

import (
	"sync"
	"time"
	"unsafe"

	"github.com/joeycumines/go-ttak/epoch"
	"github.com/joeycumines/go-ttak/mem"
	"github.com/joeycumines/go-ttak/tick"
)

// Context construction defaults.
const (
	defaultRows       = 8
	defaultRowCap     = 256
	defaultEpochDelay = 1
	defaultChunkSize  = 128
	defaultCacheSlots = 16
)

// Config carries context construction options. The zero value (or nil)
// selects the defaults and the process-wide allocator, without EBR.
type Config struct {
	// Allocator is the host allocator. Defaults to mem.Default().
	Allocator *mem.Allocator

	// EBR, when non-nil, routes row flushes and cache evictions through
	// epoch-based reclamation instead of immediate frees.
	EBR *epoch.EBR

	// Rows is the generation count of the row matrix. Defaults to 8.
	Rows int

	// RowCapacity is the fill level at which the active row is flushed.
	// Defaults to 256. A row filled only through an epoch hint is not
	// flushed until it becomes the active row.
	RowCapacity int

	// EpochDelay is the row-advance stride on flush. Defaults to 1.
	EpochDelay int

	// ChunkSize is the block size served by the small-object cache.
	// Defaults to 128; zero selects the default.
	ChunkSize uint64

	// CacheSlots bounds the cache FIFO. Defaults to 16.
	CacheSlots int

	// Urgent makes a full cache evict its oldest block on Free instead of
	// spilling the incoming block to the epoch/free path.
	Urgent bool

	// Graceful marks this context for cache-drain-then-flush handling by
	// the hard-kill signal helper; otherwise only the rows are flushed.
	Graceful bool
}

// Context is a detachable arena. All operations are safe for concurrent use;
// the context serializes internally.
type Context struct {
	mu    sync.Mutex
	alloc *mem.Allocator
	ebr   *epoch.EBR
	th    *epoch.Thread

	rows       [][]unsafe.Pointer
	activeRow  int
	rowCap     int
	epochDelay int

	cache *Cache

	urgent   bool
	graceful bool
	closed   bool
}

// NewContext builds a detachable arena and registers it with the hard-kill
// helper's live set. cfg may be nil.
func NewContext(cfg *Config) *Context {
	c := &Context{
		rowCap:     defaultRowCap,
		epochDelay: defaultEpochDelay,
	}
	rows := defaultRows
	chunk := uint64(defaultChunkSize)
	slots := defaultCacheSlots
	if cfg != nil {
		c.alloc = cfg.Allocator
		c.ebr = cfg.EBR
		c.urgent = cfg.Urgent
		c.graceful = cfg.Graceful
		if cfg.Rows > 0 {
			rows = cfg.Rows
		}
		if cfg.RowCapacity > 0 {
			c.rowCap = cfg.RowCapacity
		}
		if cfg.EpochDelay > 0 {
			c.epochDelay = cfg.EpochDelay
		}
		if cfg.ChunkSize > 0 {
			chunk = cfg.ChunkSize
		}
		if cfg.CacheSlots > 0 {
			slots = cfg.CacheSlots
		}
	}
	if c.alloc == nil {
		c.alloc = mem.Default()
	}
	if c.ebr != nil {
		c.th = c.ebr.RegisterThread()
	}
	c.rows = make([][]unsafe.Pointer, rows)
	for i := range c.rows {
		c.rows[i] = make([]unsafe.Pointer, 0, c.rowCap)
	}
	c.cache = NewCache(chunk, slots)
	registerContext(c)
	return c
}

var (
	defaultContext     *Context
	defaultContextOnce sync.Once
)

// DefaultContext returns the process-wide arena, lazily initialized without
// EBR over the default allocator.
func DefaultContext() *Context {
	defaultContextOnce.Do(func() {
		defaultContext = NewContext(nil)
	})
	return defaultContext
}

// Alloc obtains size bytes from the context. Cache-sized requests are served
// from the small-object cache when it has stock; everything else goes
// through the host allocator inside an epoch critical section (when EBR is
// enabled) and joins the active row. epochHint biases which row the pointer
// lands in; pass 0 for the active generation.
func (c *Context) Alloc(size uint64, epochHint int) unsafe.Pointer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || size == 0 {
		return nil
	}
	if size <= c.cache.ChunkSize() {
		if p := c.cache.pop(); p != nil {
			return p
		}
	}
	if c.th != nil {
		c.th.Enter()
	}
	p := c.alloc.Alloc(size, -1, tick.Now(), mem.Options{})
	if c.th != nil {
		c.th.Exit()
	}
	if p == nil {
		return nil
	}
	row := c.activeRow
	if epochHint != 0 {
		row = (c.activeRow + epochHint) % len(c.rows)
		if row < 0 {
			row += len(c.rows)
		}
	}
	c.rows[row] = append(c.rows[row], p)
	if len(c.rows[c.activeRow]) >= c.rowCap {
		c.flushRowLocked(c.activeRow)
		c.activeRow = (c.activeRow + c.epochDelay) % len(c.rows)
	}
	return p
}

// Free returns a block to the context. Cache-sized blocks are stored in the
// cache; when the cache is full an urgent context evicts the oldest cached
// block to make room, and a non-urgent one routes the incoming block to the
// epoch/free path directly.
func (c *Context) Free(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	size := c.alloc.SizeOf(ptr)
	if size == 0 {
		return
	}
	if size <= c.cache.ChunkSize() {
		if c.cache.push(ptr) {
			c.forgetLocked(ptr)
			return
		}
		if c.urgent {
			if old := c.cache.popOldest(); old != nil {
				c.retireLocked(old)
			}
			if c.cache.push(ptr) {
				c.forgetLocked(ptr)
				return
			}
		}
	}
	c.forgetLocked(ptr)
	c.retireLocked(ptr)
}

// forgetLocked removes ptr from whichever row holds it, so a row flush can
// not free it a second time.
func (c *Context) forgetLocked(ptr unsafe.Pointer) {
	for ri := range c.rows {
		row := c.rows[ri]
		for i, p := range row {
			if p == ptr {
				row[i] = row[len(row)-1]
				c.rows[ri] = row[:len(row)-1]
				return
			}
		}
	}
}

// retireLocked hands a pointer to EBR when enabled, else frees immediately.
func (c *Context) retireLocked(ptr unsafe.Pointer) {
	if c.th != nil {
		a := c.alloc
		c.th.Retire(ptr, func(p unsafe.Pointer) { a.Free(p) })
		return
	}
	c.alloc.Free(ptr)
}

// flushRowLocked retires every pointer in a row and empties it.
func (c *Context) flushRowLocked(ri int) {
	row := c.rows[ri]
	for _, p := range row {
		c.retireLocked(p)
	}
	c.rows[ri] = row[:0]
}

// Flush retires every row's pointers immediately.
func (c *Context) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	for ri := range c.rows {
		c.flushRowLocked(ri)
	}
}

// DrainCache frees every cached block back to the host allocator.
func (c *Context) DrainCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.drainCacheLocked()
}

func (c *Context) drainCacheLocked() {
	for {
		p := c.cache.popOldest()
		if p == nil {
			return
		}
		c.retireLocked(p)
	}
}

// Destroy shuts the context down: the cache is drained first, then all rows
// are flushed, then the context leaves the hard-kill live set. Idempotent.
func (c *Context) Destroy() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.drainCacheLocked()
	for ri := range c.rows {
		c.flushRowLocked(ri)
	}
	c.closed = true
	th := c.th
	c.th = nil
	c.mu.Unlock()
	if th != nil {
		c.ebr.DeregisterThread(th)
		// give retired rows a chance to drain promptly
		for i := 0; i < 3; i++ {
			if c.ebr.Reclaim() {
				break
			}
			time.Sleep(time.Millisecond)
		}
	}
	unregisterContext(c)
}

// CacheStats reports the cache's hit and miss counters.
func (c *Context) CacheStats() (hits, misses uint64) {
	return c.cache.Stats()
}

// Graceful reports whether the hard-kill helper drains this context's cache
// before flushing rows.
func (c *Context) Graceful() bool { return c.graceful }
