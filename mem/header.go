package mem

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/joeycumines/go-ttak/tick"
)

// Tier identifies which allocation tier a block came from.
type Tier uint8

const (
	// TierSmall blocks come from the slab-backed small pool.
	TierSmall Tier = iota + 1

	// TierBump blocks come from the bump arena and are only reclaimed as a
	// whole region at teardown.
	TierBump

	// TierGeneral blocks are individual OS mappings.
	TierGeneral
)

func (t Tier) String() string {
	switch t {
	case TierSmall:
		return "small"
	case TierBump:
		return "bump"
	case TierGeneral:
		return "general"
	default:
		return "?"
	}
}

// Header flag bits. flagFreed transitions exactly once, false -> true, under
// the header mutex.
const (
	flagFreed uint32 = 1 << iota
	flagConst
	flagVolatile
	flagNoDirect
	flagHuge
	flagStrict
	flagRoot
	flagTrace
)

const (
	headerMagic uint32 = 0x7a71ac1d

	// headerSize is the distance from the block base to the user bytes; one
	// full cache line pair keeps the header off the user data's lines.
	headerSize = 128

	// canarySize is reserved past the user bytes for the end sentinel.
	canarySize = 8

	canaryStartValue uint64 = 0xbadc0ffee0ddf00d
	canaryEndValue   uint64 = 0xfeedfacecafebeef
)

// header sits immediately before the user bytes of every block, whatever the
// tier. Fields covered by the checksum are immutable after initialization;
// mutable state (flags, counters, trace) is excluded and ordered by mu or by
// its own atomicity.
type header struct {
	magic       uint32
	tier        Tier
	class       uint8 // small-pool size class index; 0 otherwise
	_           [2]byte
	flags       atomic.Uint32
	checksum    uint64
	createdTick tick.Tick
	expiresTick tick.Tick
	size        uint64
	accessCount atomic.Uint64
	pinCount    atomic.Int64
	canaryStart uint64
	mu          sync.Mutex
}

// compile-time bound: the header must fit the reserved prefix
var _ [headerSize - unsafe.Sizeof(header{})]byte

// headerOf maps a user pointer back to its block header.
func headerOf(ptr unsafe.Pointer) *header {
	return (*header)(unsafe.Add(ptr, -headerSize))
}

func (h *header) user() unsafe.Pointer {
	return unsafe.Add(unsafe.Pointer(h), headerSize)
}

// fold XOR-folds the immutable metadata fields. The canary start value is
// included so a strict block's checksum differs from a lax one of identical
// shape.
func (h *header) fold() uint64 {
	x := uint64(h.magic)
	x ^= uint64(h.tier) << 32
	x ^= uint64(h.class) << 40
	x ^= uint64(h.createdTick)
	x ^= rotl(uint64(h.expiresTick), 17)
	x ^= rotl(h.size, 31)
	x ^= h.canaryStart
	return x
}

func rotl(v uint64, k uint) uint64 { return v<<k | v>>(64-k) }

// initHeader stamps a fresh header and, for strict blocks, both canaries.
func initHeader(h *header, tier Tier, class uint8, size uint64, created, expires tick.Tick, flags uint32) {
	h.magic = headerMagic
	h.tier = tier
	h.class = class
	h.createdTick = created
	h.expiresTick = expires
	h.size = size
	h.accessCount.Store(0)
	h.pinCount.Store(0)
	if flags&flagStrict != 0 {
		h.canaryStart = canaryStartValue
		*(*uint64)(unsafe.Add(h.user(), size)) = canaryEndValue
	} else {
		h.canaryStart = 0
	}
	h.flags.Store(flags)
	h.checksum = h.fold()
}

// verify validates the header against corruption, aborting the process on
// any mismatch. Callers pass the user pointer purely for the diagnostic.
func (h *header) verify(ptr unsafe.Pointer) {
	if h.magic != headerMagic {
		fatalf("bad magic %#x at %p", h.magic, ptr)
	}
	if h.checksum != h.fold() {
		fatalf("checksum mismatch at %p", ptr)
	}
	if h.flags.Load()&flagStrict != 0 {
		if h.canaryStart != canaryStartValue {
			fatalf("start canary clobbered at %p", ptr)
		}
		if end := *(*uint64)(unsafe.Add(h.user(), h.size)); end != canaryEndValue {
			fatalf("end canary clobbered at %p (wrote past %d bytes?)", ptr, h.size)
		}
	}
}

func (h *header) freed() bool {
	return h.flags.Load()&flagFreed != 0
}

// markFreed transitions the freed flag under mu. Reports false when the
// block was already freed (the idempotent double-free guard).
func (h *header) markFreed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	f := h.flags.Load()
	if f&flagFreed != 0 {
		return false
	}
	h.flags.Store(f | flagFreed)
	return true
}

func (h *header) setFlag(bit uint32, on bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	f := h.flags.Load()
	if on {
		h.flags.Store(f | bit)
	} else {
		h.flags.Store(f &^ bit)
	}
}

// blockBytes is the full footprint of a block with the given user size:
// header, user bytes, and the always-reserved end canary slot.
func blockBytes(size uint64) uint64 {
	return headerSize + size + canarySize
}
