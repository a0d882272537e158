// Package ttak ties the toolkit's process-wide singletons together: the
// default allocator (with its pointer registry and tracking tree), the
// default epoch-reclamation domain, and the default detachable arena, all
// lazily initialized on first use by their packages.
//
// Teardown order is load-bearing and fixed: detachable arenas are destroyed
// first (draining caches and flushing rows, which may retire into EBR), the
// EBR domain is then drained, and the allocator — tracking tree, pointer
// registry, and all three memory tiers — goes last.
package ttak

import (
	"sync"

	"github.com/joeycumines/go-ttak/arena"
	"github.com/joeycumines/go-ttak/epoch"
	"github.com/joeycumines/go-ttak/mem"
)

var teardownOnce sync.Once

// Teardown shuts the process-wide singletons down in dependency order.
// Only singletons that were actually initialized are touched. Idempotent;
// no toolkit API may be used afterwards.
func Teardown() {
	teardownOnce.Do(func() {
		arena.DestroyLive()
		epoch.DrainDefault(16)
		mem.CloseDefault()
	})
}

// Allocator returns the process-wide allocator.
func Allocator() *mem.Allocator { return mem.Default() }

// EBR returns the process-wide reclamation domain.
func EBR() *epoch.EBR { return epoch.Default() }

// Arena returns the process-wide detachable arena.
func Arena() *arena.Context { return arena.DefaultContext() }
