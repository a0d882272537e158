package mem

import (
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/joeycumines/go-ttak/tick"
)

// hotAccessThreshold marks a pointer dirty once its access count passes it.
const hotAccessThreshold = 1_000_000

// Options select per-allocation behavior. The zero value is a plain,
// directly accessible, untracked allocation.
type Options struct {
	// Const marks the block's contents immutable by convention.
	Const bool

	// Volatile marks the block as touched by agents outside this runtime's
	// happens-before graph; owner policies may refuse such memory.
	Volatile bool

	// NoDirect withholds direct access: Access always returns nil, and the
	// block is reachable only through collaborators holding the pointer.
	NoDirect bool

	// Root registers the block in the pointer registry and tracking tree so
	// the sweeper and dirty inspection can see it.
	Root bool

	// Strict enables the start/end canary sentinels, verified on every
	// header validation.
	Strict bool

	// Huge requests a huge-page backing for general-tier blocks.
	Huge bool

	// Trace enables JSON event emission for this block even when global
	// tracing is off.
	Trace bool
}

func (o Options) flags() uint32 {
	var f uint32
	if o.Const {
		f |= flagConst
	}
	if o.Volatile {
		f |= flagVolatile
	}
	if o.NoDirect {
		f |= flagNoDirect
	}
	if o.Huge {
		f |= flagHuge
	}
	if o.Strict {
		f |= flagStrict
	}
	if o.Root {
		f |= flagRoot
	}
	if o.Trace {
		f |= flagTrace
	}
	return f
}

// Config carries allocator construction options. The zero value (or nil)
// selects the documented defaults.
type Config struct {
	// Logger receives trace events and diagnostics. Defaults to nil (no
	// output).
	Logger *Logger

	// BumpBytes is the size of the pre-reserved bump region.
	// Defaults to 64 MiB.
	BumpBytes uint64

	// HighWatermark is the usage above which PressureHigh reports true.
	// Defaults to 256 MiB.
	HighWatermark int64

	// SweepMin, SweepMax bound the tracking sweeper's pacing.
	// Default to 10ms and 1s.
	SweepMin, SweepMax time.Duration

	// PressureThreshold is forwarded to the tracking tree.
	// Defaults to 1 MiB.
	PressureThreshold int64
}

// Allocator is the tiered, lifecycle-tracked allocator. It is safe for
// concurrent use.
type Allocator struct {
	logger *Logger
	reg    *registry
	tree   *Tree
	small  smallPool
	bump   bumpArena

	// general-tier mappings are kept until teardown so a double free can
	// never touch unmapped memory
	genMu  sync.Mutex
	genLen map[*header]uint64

	usage     atomic.Int64
	highWater atomic.Int64
	trace     atomic.Bool
	closed    atomic.Bool
}

// New constructs an allocator. cfg may be nil.
func New(cfg *Config) *Allocator {
	a := &Allocator{genLen: make(map[*header]uint64)}
	a.highWater.Store(256 << 20)
	if cfg != nil {
		a.logger = cfg.Logger
		a.bump.size = cfg.BumpBytes
		if cfg.HighWatermark > 0 {
			a.highWater.Store(cfg.HighWatermark)
		}
	}
	setCorruptLogger(a.logger)
	a.reg = newRegistry()
	a.tree = NewTree(a.freeForSweep, a.logger)
	if cfg != nil {
		if cfg.SweepMin > 0 || cfg.SweepMax > 0 {
			a.tree.SetCleaningIntervals(cfg.SweepMin, cfg.SweepMax)
		}
		if cfg.PressureThreshold > 0 {
			a.tree.SetPressureThreshold(cfg.PressureThreshold)
		}
	}
	return a
}

var (
	defaultAllocator     *Allocator
	defaultAllocatorOnce sync.Once
	defaultAllocatorUp   atomic.Bool
)

// Default returns the process-wide allocator, lazily initialized on first
// use.
func Default() *Allocator {
	defaultAllocatorOnce.Do(func() {
		defaultAllocator = New(nil)
		defaultAllocatorUp.Store(true)
	})
	return defaultAllocator
}

// CloseDefault closes the process-wide allocator if it was ever
// initialized. Part of the documented teardown order (after EBR; the
// registry dies with the allocator).
func CloseDefault() {
	if defaultAllocatorUp.Load() {
		defaultAllocator.Close()
	}
}

// Tree exposes the allocator's tracking tree for collaborators (the epoch GC
// wrapper, tests).
func (a *Allocator) Tree() *Tree { return a.tree }

// Alloc obtains size bytes with the given lifetime. A negative lifetime
// means the block never expires. Returns nil on exhaustion, after one
// in-thread retry following Autoclean.
func (a *Allocator) Alloc(size uint64, lifetime time.Duration, now tick.Tick, opt Options) unsafe.Pointer {
	if size == 0 || a.closed.Load() {
		return nil
	}
	expires := tick.FromDuration(now, lifetime)
	h := a.obtain(size, opt)
	if h == nil {
		a.Autoclean(now)
		if h = a.obtain(size, opt); h == nil {
			return nil
		}
	}
	initHeader(h, h.tier, h.class, size, now, expires, opt.flags())
	ptr := h.user()
	a.usage.Add(int64(size))
	if opt.Root {
		a.reg.put(keyOf(ptr), h)
		a.tree.Add(ptr, size, expires, true)
	}
	a.traceEvent("alloc", h, ptr)
	return ptr
}

// obtain picks a tier and returns a raw header, or nil. The header's tier
// and class fields are set; everything else is stamped by the caller.
func (a *Allocator) obtain(size uint64, opt Options) *header {
	if class, ok := classFor(size); ok && !opt.Huge {
		if h := a.small.alloc(class); h != nil {
			h.tier = TierSmall
			h.class = class
			return h
		}
		// the small pool only fails when the host is out of pages; fall
		// through rather than give up
	}
	total := blockBytes(size)
	if size <= bumpMax && !opt.Huge {
		if h := a.bump.alloc(total); h != nil {
			h.tier = TierBump
			h.class = 0
			return h
		}
	}
	mapped := pageRound(total)
	p, err := osMap(mapped, opt.Huge || size >= 2<<20)
	if err != nil {
		return nil
	}
	h := (*header)(p)
	h.tier = TierGeneral
	h.class = 0
	a.genMu.Lock()
	a.genLen[h] = mapped
	a.genMu.Unlock()
	return h
}

// Realloc resizes a block, preserving min(old, new) bytes. The old block is
// freed; the result is a fresh block (nil on exhaustion, in which case the
// old block is left intact).
func (a *Allocator) Realloc(ptr unsafe.Pointer, newSize uint64, lifetime time.Duration, now tick.Tick, opt Options) unsafe.Pointer {
	if ptr == nil {
		return a.Alloc(newSize, lifetime, now, opt)
	}
	if newSize == 0 {
		a.Free(ptr)
		return nil
	}
	h := headerOf(ptr)
	h.verify(ptr)
	if h.freed() {
		return nil
	}
	np := a.Alloc(newSize, lifetime, now, opt)
	if np == nil {
		return nil
	}
	n := h.size
	if newSize < n {
		n = newSize
	}
	copy(unsafe.Slice((*byte)(np), n), unsafe.Slice((*byte)(ptr), n))
	a.Free(ptr)
	return np
}

// Dup allocates a copy of the first size bytes of src.
func (a *Allocator) Dup(src unsafe.Pointer, size uint64, lifetime time.Duration, now tick.Tick, opt Options) unsafe.Pointer {
	if src == nil || size == 0 {
		return nil
	}
	p := a.Alloc(size, lifetime, now, opt)
	if p == nil {
		return nil
	}
	copy(unsafe.Slice((*byte)(p), size), unsafe.Slice((*byte)(src), size))
	return p
}

// Free releases a block. Freeing an already freed block is a no-op; freeing
// nil is a no-op. Corruption aborts.
func (a *Allocator) Free(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}
	h := headerOf(ptr)
	h.verify(ptr)
	if !h.markFreed() {
		return
	}
	if h.flags.Load()&flagRoot != 0 {
		a.reg.delete(keyOf(ptr))
		if n := a.tree.FindNode(ptr); n != nil {
			a.tree.Remove(n)
		}
	}
	a.traceEvent("free", h, ptr)
	a.usage.Add(-int64(h.size))
	a.release(h)
}

// release returns the block's memory to its tier. The header stays mapped in
// every tier, so the double-free guard always has something to read.
func (a *Allocator) release(h *header) {
	switch h.tier {
	case TierSmall:
		a.small.free(h)
	case TierBump:
		// bump blocks are reclaimed with the region at teardown
	case TierGeneral:
		// the mapping is retained until teardown; the payload pages stay
		// resident but the usage counter no longer charges them
	default:
		fatalf("bad tier %d for %p", h.tier, h.user())
	}
}

// freeForSweep adapts Free for the tracking sweeper, which already removed
// the node it is freeing.
func (a *Allocator) freeForSweep(ptr unsafe.Pointer) {
	h := headerOf(ptr)
	h.verify(ptr)
	if !h.markFreed() {
		return
	}
	if h.flags.Load()&flagRoot != 0 {
		a.reg.delete(keyOf(ptr))
	}
	a.traceEvent("sweep", h, ptr)
	a.usage.Add(-int64(h.size))
	a.release(h)
}

// Access is the validated fast path: on success it bumps the access counter
// and returns ptr; a freed, expired, or access-withheld block yields nil;
// corruption aborts.
func (a *Allocator) Access(ptr unsafe.Pointer, now tick.Tick) unsafe.Pointer {
	if ptr == nil {
		return nil
	}
	h := headerOf(ptr)
	h.verify(ptr)
	f := h.flags.Load()
	if f&flagFreed != 0 || f&flagNoDirect != 0 {
		return nil
	}
	if h.expiresTick.Expired(now) {
		return nil
	}
	h.accessCount.Add(1)
	a.traceEvent("access", h, ptr)
	return ptr
}

// Pin increments the block's pin counter; Unpin decrements it. Pinned
// counts are advisory state for collaborators and never go negative.
func (a *Allocator) Pin(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}
	h := headerOf(ptr)
	h.verify(ptr)
	h.pinCount.Add(1)
}

// Unpin decrements the pin counter, saturating at zero.
func (a *Allocator) Unpin(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}
	h := headerOf(ptr)
	h.verify(ptr)
	for {
		v := h.pinCount.Load()
		if v <= 0 {
			return
		}
		if h.pinCount.CompareAndSwap(v, v-1) {
			return
		}
	}
}

// SizeOf returns the user size recorded for a live block, or 0 for nil and
// freed pointers. Corruption aborts.
func (a *Allocator) SizeOf(ptr unsafe.Pointer) uint64 {
	if ptr == nil {
		return 0
	}
	h := headerOf(ptr)
	h.verify(ptr)
	if h.freed() {
		return 0
	}
	return h.size
}

// DirtyEntry is one registry entry flagged by InspectDirty.
type DirtyEntry struct {
	Ptr         unsafe.Pointer
	Size        uint64
	Expires     tick.Tick
	AccessCount uint64
}

// InspectDirty snapshots the registry entries that are expired at now or
// whose access count crossed the hot-pointer threshold.
func (a *Allocator) InspectDirty(now tick.Tick) []DirtyEntry {
	var out []DirtyEntry
	for _, h := range a.reg.snapshot() {
		if h.freed() {
			continue
		}
		hot := h.accessCount.Load() > hotAccessThreshold
		if h.expiresTick.Expired(now) || hot {
			out = append(out, DirtyEntry{
				Ptr:         h.user(),
				Size:        h.size,
				Expires:     h.expiresTick,
				AccessCount: h.accessCount.Load(),
			})
		}
	}
	return out
}

// Autoclean frees every entry InspectDirty reports.
func (a *Allocator) Autoclean(now tick.Tick) {
	for _, e := range a.InspectDirty(now) {
		a.Free(e.Ptr)
	}
}

// SetTrace toggles JSON event emission globally and on every registered
// block.
func (a *Allocator) SetTrace(on bool) {
	a.trace.Store(on)
	for _, h := range a.reg.snapshot() {
		h.setFlag(flagTrace, on)
	}
}

// ConfigureGC forwards sweeper pacing and the pressure threshold to the
// tracking tree.
func (a *Allocator) ConfigureGC(min, max time.Duration, pressureThreshold int64) {
	a.tree.SetCleaningIntervals(min, max)
	if pressureThreshold > 0 {
		a.tree.SetPressureThreshold(pressureThreshold)
	}
}

// UsageBytes returns the live user byte count.
func (a *Allocator) UsageBytes() int64 { return a.usage.Load() }

// PressureHigh reports whether usage exceeds the configured high watermark.
func (a *Allocator) PressureHigh() bool {
	return a.usage.Load() > a.highWater.Load()
}

// RegisteredCount returns the number of live registry entries.
func (a *Allocator) RegisteredCount() int { return a.reg.len() }

// Close tears the allocator down: the sweeper stops, then every tier's
// memory is released. No pointer obtained from the allocator may be used
// afterwards. Close is idempotent.
func (a *Allocator) Close() {
	if a.closed.Swap(true) {
		return
	}
	a.tree.Close()
	a.genMu.Lock()
	for h, length := range a.genLen {
		_ = osUnmap(unsafe.Pointer(h), length)
	}
	a.genLen = map[*header]uint64{}
	a.genMu.Unlock()
	a.bump.teardown()
	a.small.teardown()
}
