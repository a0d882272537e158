package mem

import (
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/joeycumines/go-ttak/tick"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Tracking-tree defaults; ConfigureGC / the setters below adjust them.
const (
	defaultSweepMin  = 10 * time.Millisecond
	defaultSweepMax  = time.Second
	defaultThreshold = 1 << 20
)

// TreeNode is one tracked root allocation. Nodes are linked doubly so
// removal is O(1) from a held reference; a node whose refs have dropped to
// zero and whose expiry has passed is reclaimed by the next sweep.
type TreeNode struct {
	ptr     unsafe.Pointer
	size    uint64
	expires tick.Tick
	refs    int64
	isRoot  bool
	prev    *TreeNode
	next    *TreeNode
	tree    *Tree
}

// Ptr returns the tracked user pointer.
func (n *TreeNode) Ptr() unsafe.Pointer { return n.ptr }

// Size returns the tracked allocation size in bytes.
func (n *TreeNode) Size() uint64 { return n.size }

// Tree is the bookkeeping structure for root allocations, swept by one
// background goroutine per tree. All list mutations are serialized on the
// tree lock; the sweeper frees unlinked nodes outside it.
type Tree struct {
	mu   sync.Mutex
	head *TreeNode

	pressure  atomic.Int64
	threshold atomic.Int64
	sweepMin  atomic.Int64 // ns
	sweepMax  atomic.Int64 // ns
	manual    atomic.Bool

	wake    chan struct{}
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once

	freeFn func(unsafe.Pointer)
	logger *logiface.Logger[*stumpy.Event]

	passes atomic.Uint64
	nodes  int
}

// NewTree starts a tracking tree whose sweeper frees eligible pointers via
// freeFn. logger may be nil.
func NewTree(freeFn func(unsafe.Pointer), logger *logiface.Logger[*stumpy.Event]) *Tree {
	if freeFn == nil {
		panic(`mem: nil freeFn`)
	}
	t := &Tree{
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		freeFn:  freeFn,
		logger:  logger,
	}
	t.threshold.Store(defaultThreshold)
	t.sweepMin.Store(int64(defaultSweepMin))
	t.sweepMax.Store(int64(defaultSweepMax))
	go t.sweeper()
	return t
}

// Add inserts a tracked node with an initial reference. Returns nil when the
// tree is shut down.
func (t *Tree) Add(ptr unsafe.Pointer, size uint64, expires tick.Tick, isRoot bool) *TreeNode {
	select {
	case <-t.done:
		return nil
	default:
	}
	n := &TreeNode{ptr: ptr, size: size, expires: expires, refs: 1, isRoot: isRoot, tree: t}
	t.mu.Lock()
	n.next = t.head
	if t.head != nil {
		t.head.prev = n
	}
	t.head = n
	t.nodes++
	t.mu.Unlock()
	return n
}

// Remove unlinks a node without freeing its pointer.
func (t *Tree) Remove(n *TreeNode) {
	if n == nil || n.tree != t {
		return
	}
	t.mu.Lock()
	t.unlink(n)
	t.mu.Unlock()
}

// unlink detaches n from the list. Called with mu held; idempotent.
func (t *Tree) unlink(n *TreeNode) {
	if n.tree == nil {
		return
	}
	if n.prev != nil {
		n.prev.next = n.next
	} else if t.head == n {
		t.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	}
	n.prev, n.next, n.tree = nil, nil, nil
	t.nodes--
}

// Acquire takes an additional reference on a node.
func (t *Tree) Acquire(n *TreeNode) {
	t.mu.Lock()
	n.refs++
	t.mu.Unlock()
}

// Release drops a reference. When the count reaches zero the node's size is
// reported as pressure, waking the sweeper.
func (t *Tree) Release(n *TreeNode) {
	t.mu.Lock()
	n.refs--
	last := n.refs == 0
	size := n.size
	t.mu.Unlock()
	if last {
		t.ReportPressure(int64(size))
	}
}

// FindNode locates the node tracking ptr, or nil.
func (t *Tree) FindNode(ptr unsafe.Pointer) *TreeNode {
	t.mu.Lock()
	defer t.mu.Unlock()
	for n := t.head; n != nil; n = n.next {
		if n.ptr == ptr {
			return n
		}
	}
	return nil
}

// ReportPressure adds bytes to the pressure counter and wakes the sweeper.
func (t *Tree) ReportPressure(bytes int64) {
	if bytes <= 0 {
		return
	}
	t.pressure.Add(bytes)
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// Pressure returns the accumulated unreclaimed byte count.
func (t *Tree) Pressure() int64 { return t.pressure.Load() }

// SetCleaningIntervals bounds the sweeper's sleep between passes.
func (t *Tree) SetCleaningIntervals(min, max time.Duration) {
	if min <= 0 {
		min = defaultSweepMin
	}
	if max < min {
		max = min
	}
	t.sweepMin.Store(int64(min))
	t.sweepMax.Store(int64(max))
}

// SetPressureThreshold sets the byte count above which collaborators should
// consider pressure high.
func (t *Tree) SetPressureThreshold(bytes int64) {
	t.threshold.Store(bytes)
}

// Threshold returns the configured pressure threshold.
func (t *Tree) Threshold() int64 { return t.threshold.Load() }

// SetManualCleanup toggles manual mode: the sweeper parks until an external
// signal (ReportPressure or Close) instead of pacing itself.
func (t *Tree) SetManualCleanup(on bool) {
	t.manual.Store(on)
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// PerformCleanup runs one sweep at now: unlink every node with no references
// and a passed expiry under the lock, then free the batch outside it. A
// no-op when there is no pressure and manual mode is off.
func (t *Tree) PerformCleanup(now tick.Tick) {
	if t.pressure.Load() == 0 && !t.manual.Load() {
		return
	}
	t.sweep(now)
}

func (t *Tree) sweep(now tick.Tick) {
	var batch []*TreeNode
	t.mu.Lock()
	for n := t.head; n != nil; {
		next := n.next
		if n.refs <= 0 && n.expires.Expired(now) {
			t.unlink(n)
			batch = append(batch, n)
		}
		n = next
	}
	t.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	var freed int64
	for _, n := range batch {
		t.freeFn(n.ptr)
		freed += int64(n.size)
	}
	for {
		cur := t.pressure.Load()
		next := cur - freed
		if next < 0 {
			next = 0
		}
		if t.pressure.CompareAndSwap(cur, next) {
			break
		}
	}
	t.passes.Add(1)
	if t.logger != nil {
		t.logger.Debug().
			Int("reclaimed", len(batch)).
			Int64("bytes", freed).
			Log(`tracking sweep`)
	}
}

// Passes returns the number of sweeps that reclaimed at least one node.
func (t *Tree) Passes() uint64 { return t.passes.Load() }

// Len returns the number of tracked nodes.
func (t *Tree) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nodes
}

// sweeper is the background loop: in manual mode it parks on the wake
// channel; otherwise it doubles its sleep up to the max while idle and
// resets to the min whenever pressure shows up.
func (t *Tree) sweeper() {
	defer close(t.stopped)
	interval := time.Duration(t.sweepMin.Load())
	timer := time.NewTimer(interval)
	defer timer.Stop()
	for {
		if t.manual.Load() {
			select {
			case <-t.done:
				return
			case <-t.wake:
				continue
			}
		}
		select {
		case <-t.done:
			return
		case <-t.wake:
		case <-timer.C:
		}
		if t.pressure.Load() == 0 {
			interval *= 2
			if max := time.Duration(t.sweepMax.Load()); interval > max {
				interval = max
			}
		} else {
			t.sweep(tick.Now())
			interval = time.Duration(t.sweepMin.Load())
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(interval)
	}
}

// Close stops the sweeper and drops all nodes without freeing them; the
// allocator owns teardown of the memory itself.
func (t *Tree) Close() {
	t.once.Do(func() {
		close(t.done)
	})
	<-t.stopped
	t.mu.Lock()
	for n := t.head; n != nil; {
		next := n.next
		t.unlink(n)
		n = next
	}
	t.mu.Unlock()
}
