package epoch

import (
	"sync/atomic"
	"unsafe"

	"github.com/joeycumines/go-ttak/mem"
	"github.com/joeycumines/go-ttak/tick"
)

// GC is the generational wrapper coordinating user-driven epoch rotation
// with a tracking tree. Detachable arenas and generational allocation
// patterns register pointers as roots; Rotate advances the generation and
// triggers a tree cleanup pass.
type GC struct {
	tree   *mem.Tree
	epoch  atomic.Uint32
	manual atomic.Bool
	closed atomic.Bool
}

// NewGC wraps a tracking tree. The tree stays owned by its allocator; Close
// detaches without stopping it.
func NewGC(tree *mem.Tree) *GC {
	if tree == nil {
		panic(`epoch: nil tree`)
	}
	return &GC{tree: tree}
}

// Register adds ptr to the tree as a root of the current generation. The
// node starts expired so it becomes reclaimable as soon as its references
// are released. Returns nil when the tree or wrapper is shut down.
func (g *GC) Register(ptr unsafe.Pointer, size uint64) *mem.TreeNode {
	if g.closed.Load() {
		return nil
	}
	return g.tree.Add(ptr, size, tick.Now(), true)
}

// Release drops a registered node's reference, making it sweepable.
func (g *GC) Release(n *mem.TreeNode) {
	if n == nil {
		return
	}
	g.tree.Release(n)
}

// Rotate advances the generation and triggers a cleanup pass.
func (g *GC) Rotate() uint32 {
	e := g.epoch.Add(1)
	g.tree.PerformCleanup(tick.Now())
	return e
}

// ManualRotate toggles manual mode: the tree's embedded sweeper parks, and
// generations only advance through explicit Rotate calls.
func (g *GC) ManualRotate(on bool) {
	g.manual.Store(on)
	g.tree.SetManualCleanup(on)
}

// Generation returns the current generation counter.
func (g *GC) Generation() uint32 { return g.epoch.Load() }

// Close detaches the wrapper. Registered nodes stay in the tree.
func (g *GC) Close() {
	g.closed.Store(true)
}
