package mem

import (
	crand "crypto/rand"
	"encoding/binary"
	"sync"
	"unsafe"
)

// registry is the open-addressed map from live root user pointers to their
// headers. Cells are Empty, Deleted (tombstone), or Occupied, encoded in the
// key word: user pointers are always header-aligned, so the two low sentinel
// values can never collide with a real key.
const (
	cellEmpty   uintptr = 0
	cellDeleted uintptr = 1

	registryInitial = 1024
	// resize when occupied+tombstones exceed 3/4 of capacity
	registryLoadNum = 3
	registryLoadDen = 4
)

// hashKey is the process-local 128-bit key seeding the pointer mixer.
var hashKey = func() (k [2]uint64) {
	var b [16]byte
	if _, err := crand.Read(b[:]); err != nil {
		// fall back to a fixed key; the mixer still avalanches
		copy(b[:], "ttak-registry-k0")
	}
	k[0] = binary.LittleEndian.Uint64(b[0:8])
	k[1] = binary.LittleEndian.Uint64(b[8:16]) | 1
	return
}()

// mixPointer is a keyed finalizer-style mixer over the pointer bits.
func mixPointer(p uintptr) uint64 {
	h := uint64(p) ^ hashKey[0]
	h ^= h >> 33
	h *= 0xff51afd7ed558ccd
	h ^= h >> 29
	h *= hashKey[1]
	h ^= h >> 32
	return h
}

type registry struct {
	mu   sync.Mutex
	keys []uintptr
	vals []*header
	live int // occupied cells
	used int // occupied + tombstones
}

func newRegistry() *registry {
	return &registry{
		keys: make([]uintptr, registryInitial),
		vals: make([]*header, registryInitial),
	}
}

// All mutations hold mu for their full duration, growth included, and no
// registry code path calls back into the allocator, so the re-entrant
// insert-during-grow hazard cannot arise here; there is deliberately no
// separate in-progress flag.
func (r *registry) put(key uintptr, h *header) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if (r.used+1)*registryLoadDen > len(r.keys)*registryLoadNum {
		r.grow()
	}
	i, existing := r.probe(key)
	if !existing {
		if r.keys[i] == cellEmpty {
			r.used++
		}
		r.live++
	}
	r.keys[i] = key
	r.vals[i] = h
}

func (r *registry) get(key uintptr) (*header, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, existing := r.probe(key)
	if !existing {
		return nil, false
	}
	return r.vals[i], true
}

func (r *registry) delete(key uintptr) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, existing := r.probe(key)
	if !existing {
		return false
	}
	r.keys[i] = cellDeleted
	r.vals[i] = nil
	r.live--
	return true
}

// snapshot returns every live entry, for dirty inspection. The caller gets
// copies; headers stay owned by the allocator.
func (r *registry) snapshot() []*header {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*header, 0, r.live)
	for i, k := range r.keys {
		if k != cellEmpty && k != cellDeleted {
			out = append(out, r.vals[i])
		}
	}
	return out
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.live
}

// probe walks the table from the key's home slot. Returns the cell holding
// the key (existing true), or the first insertable cell (existing false).
// Called with mu held.
func (r *registry) probe(key uintptr) (int, bool) {
	mask := uintptr(len(r.keys) - 1)
	i := uintptr(mixPointer(key)) & mask
	firstFree := -1
	for {
		switch r.keys[i] {
		case cellEmpty:
			if firstFree >= 0 {
				return firstFree, false
			}
			return int(i), false
		case cellDeleted:
			if firstFree < 0 {
				firstFree = int(i)
			}
		case key:
			return int(i), true
		}
		i = (i + 1) & mask
	}
}

// grow doubles capacity and rehashes, dropping tombstones. Called with mu
// held.
func (r *registry) grow() {
	oldKeys, oldVals := r.keys, r.vals
	r.keys = make([]uintptr, len(oldKeys)*2)
	r.vals = make([]*header, len(oldVals)*2)
	r.used = 0
	mask := uintptr(len(r.keys) - 1)
	for j, k := range oldKeys {
		if k == cellEmpty || k == cellDeleted {
			continue
		}
		i := uintptr(mixPointer(k)) & mask
		for r.keys[i] != cellEmpty {
			i = (i + 1) & mask
		}
		r.keys[i] = k
		r.vals[i] = oldVals[j]
		r.used++
	}
}

func keyOf(ptr unsafe.Pointer) uintptr { return uintptr(ptr) }
