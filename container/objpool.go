// Package container holds the toolkit's data structures: a generic object
// pool, an allocator-backed block pool, a bounded ring buffer, a set, an
// open-addressed hash table, and B-tree / B+-tree ordered maps. They are
// deliberately thin; the interesting lifetimes live in the allocator and
// epoch packages.
package container

import (
	"sync"
	"unsafe"

	"github.com/joeycumines/go-ttak/mem"
	"github.com/joeycumines/go-ttak/tick"
)

// Pool is a bounded free list of reusable objects. Get constructs when the
// list is empty; Put resets and parks, dropping the object when the list is
// full.
type Pool[T any] struct {
	mu    sync.Mutex
	free  []*T
	cap   int
	alloc func() *T
	reset func(*T)
}

// NewPool builds a pool holding at most capacity spare objects. alloc must
// be non-nil; reset may be nil.
func NewPool[T any](capacity int, alloc func() *T, reset func(*T)) *Pool[T] {
	if alloc == nil {
		panic(`container: nil alloc`)
	}
	if capacity <= 0 {
		capacity = 64
	}
	return &Pool[T]{cap: capacity, alloc: alloc, reset: reset}
}

// Get returns a pooled or freshly constructed object.
func (p *Pool[T]) Get() *T {
	p.mu.Lock()
	if n := len(p.free); n > 0 {
		v := p.free[n-1]
		p.free[n-1] = nil
		p.free = p.free[:n-1]
		p.mu.Unlock()
		return v
	}
	p.mu.Unlock()
	return p.alloc()
}

// Put parks an object for reuse.
func (p *Pool[T]) Put(v *T) {
	if v == nil {
		return
	}
	if p.reset != nil {
		p.reset(v)
	}
	p.mu.Lock()
	if len(p.free) < p.cap {
		p.free = append(p.free, v)
	}
	p.mu.Unlock()
}

// Spare returns the number of parked objects.
func (p *Pool[T]) Spare() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// BlockPool is the raw variant: a bounded free list of fixed-size blocks
// from the host allocator.
type BlockPool struct {
	mu    sync.Mutex
	free  []unsafe.Pointer
	cap   int
	size  uint64
	alloc *mem.Allocator
}

// NewBlockPool builds a pool of size-byte blocks over a (defaulted)
// allocator, parking at most capacity spares.
func NewBlockPool(a *mem.Allocator, size uint64, capacity int) *BlockPool {
	if a == nil {
		a = mem.Default()
	}
	if capacity <= 0 {
		capacity = 64
	}
	if size == 0 {
		size = 64
	}
	return &BlockPool{cap: capacity, size: size, alloc: a}
}

// Get returns a block, allocating when the pool is empty. Returns nil on
// exhaustion.
func (p *BlockPool) Get() unsafe.Pointer {
	p.mu.Lock()
	if n := len(p.free); n > 0 {
		v := p.free[n-1]
		p.free[n-1] = nil
		p.free = p.free[:n-1]
		p.mu.Unlock()
		return v
	}
	p.mu.Unlock()
	return p.alloc.Alloc(p.size, -1, tick.Now(), mem.Options{})
}

// Put parks a block, freeing it when the pool is full.
func (p *BlockPool) Put(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}
	p.mu.Lock()
	if len(p.free) < p.cap {
		p.free = append(p.free, ptr)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	p.alloc.Free(ptr)
}

// Drain frees every parked block.
func (p *BlockPool) Drain() {
	p.mu.Lock()
	free := p.free
	p.free = nil
	p.mu.Unlock()
	for _, ptr := range free {
		p.alloc.Free(ptr)
	}
}
