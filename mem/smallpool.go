package mem

import (
	"unsafe"

	"github.com/joeycumines/go-ttak/syncutil"
)

// The small pool serves user sizes up to smallMax from slabs carved into
// fixed-size slots. The class table is explicit; the slab page header stores
// a magic word and the class index as separate fields.
var classTable = [...]uint64{16, 32, 48, 64, 96, 128}

const (
	smallMax = 128

	slabBytes      = 64 << 10
	slabHeaderSize = 64
	slabMagic      uint32 = 0x51ab7a71
)

// classFor returns the index of the smallest class holding size.
func classFor(size uint64) (uint8, bool) {
	if size > smallMax {
		return 0, false
	}
	for i, c := range classTable {
		if size <= c {
			return uint8(i), true
		}
	}
	return 0, false
}

// classStride is the slot footprint for a class: header, class bytes, canary
// slot, rounded up to a cache line so headers stay line-aligned.
func classStride(class uint8) uint64 {
	return (headerSize + classTable[class] + canarySize + 63) &^ 63
}

type slabHeader struct {
	magic uint32
	class uint8
}

// classList is one size class: a LIFO free list of slots threaded through
// the (dead) user area of each free slot, plus the slabs backing them.
type classList struct {
	lock  syncutil.Spinlock
	head  uintptr // slot base (header address) of the first free slot
	slabs []unsafe.Pointer
}

type smallPool struct {
	classes [len(classTable)]classList
}

// alloc pops a free slot for the class, carving a fresh slab when the list
// is empty. Returns the header address, or nil when the host is out of
// memory.
func (p *smallPool) alloc(class uint8) *header {
	cl := &p.classes[class]
	cl.lock.Lock()
	if cl.head == 0 {
		if !p.carve(cl, class) {
			cl.lock.Unlock()
			return nil
		}
	}
	slot := cl.head
	h := (*header)(unsafe.Pointer(slot))
	cl.head = *(*uintptr)(h.user())
	cl.lock.Unlock()
	return h
}

// free pushes a slot back on its class list. The header is left intact (the
// freed flag is the double-free guard); only the first word of the user area
// is reused for the list link.
func (p *smallPool) free(h *header) {
	if int(h.class) >= len(classTable) {
		fatalf("bad size class %d for %p", h.class, h.user())
	}
	cl := &p.classes[h.class]
	cl.lock.Lock()
	addr := uintptr(unsafe.Pointer(h))
	for _, s := range cl.slabs {
		base := uintptr(s)
		if addr >= base+slabHeaderSize && addr < base+slabBytes {
			sh := (*slabHeader)(s)
			if sh.magic != slabMagic || sh.class != h.class {
				cl.lock.Unlock()
				fatalf("slab header clobbered for %p (magic %#x class %d)", h.user(), sh.magic, sh.class)
			}
			break
		}
	}
	*(*uintptr)(h.user()) = cl.head
	cl.head = addr
	cl.lock.Unlock()
}

// carve maps a new slab, stamps its page header, and threads every slot
// onto the free list. Called with the class lock held.
func (p *smallPool) carve(cl *classList, class uint8) bool {
	base, err := osMap(slabBytes, false)
	if err != nil {
		return false
	}
	sh := (*slabHeader)(base)
	sh.magic = slabMagic
	sh.class = class

	stride := classStride(class)
	n := uint64(slabBytes-slabHeaderSize) / stride
	for i := uint64(0); i < n; i++ {
		slot := unsafe.Add(base, slabHeaderSize+uintptr(i*stride))
		h := (*header)(slot)
		h.class = class
		*(*uintptr)(h.user()) = cl.head
		cl.head = uintptr(slot)
	}
	cl.slabs = append(cl.slabs, base)
	return true
}

// teardown unmaps every slab. Only safe once no slots are live.
func (p *smallPool) teardown() {
	for i := range p.classes {
		cl := &p.classes[i]
		cl.lock.Lock()
		for _, s := range cl.slabs {
			_ = osUnmap(s, slabBytes)
		}
		cl.slabs = nil
		cl.head = 0
		cl.lock.Unlock()
	}
}
