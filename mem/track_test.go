package mem

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-ttak/tick"
)

func testTree(t *testing.T, freed *atomic.Int64) *Tree {
	t.Helper()
	tr := NewTree(func(unsafe.Pointer) {
		if freed != nil {
			freed.Add(1)
		}
	}, nil)
	t.Cleanup(tr.Close)
	return tr
}

func fakePtr(i int) unsafe.Pointer {
	return unsafe.Pointer(uintptr(i * 64))
}

func TestTree_addFindRemove(t *testing.T) {
	tr := testTree(t, nil)
	n := tr.Add(fakePtr(1), 128, tick.Never, true)
	require.NotNil(t, n)
	assert.Equal(t, 1, tr.Len())
	assert.Same(t, n, tr.FindNode(fakePtr(1)))
	assert.Nil(t, tr.FindNode(fakePtr(2)))
	tr.Remove(n)
	assert.Equal(t, 0, tr.Len())
	assert.Nil(t, tr.FindNode(fakePtr(1)))
	tr.Remove(n) // idempotent
}

func TestTree_cleanupRespectsRefsAndExpiry(t *testing.T) {
	var freed atomic.Int64
	tr := testTree(t, &freed)

	held := tr.Add(fakePtr(1), 100, tick.Tick(1), true)    // expired but referenced
	expired := tr.Add(fakePtr(2), 100, tick.Tick(1), true) // expired, released
	forever := tr.Add(fakePtr(3), 100, tick.Never, true)   // never expires
	require.NotNil(t, held)
	require.NotNil(t, expired)
	require.NotNil(t, forever)

	tr.Release(expired)
	tr.Release(forever)
	tr.PerformCleanup(tick.Tick(10))

	assert.Equal(t, int64(1), freed.Load())
	assert.Equal(t, 2, tr.Len())
	assert.Nil(t, tr.FindNode(fakePtr(2)))
}

func TestTree_cleanupNoOpWithoutPressure(t *testing.T) {
	var freed atomic.Int64
	tr := testTree(t, &freed)
	n := tr.Add(fakePtr(1), 100, tick.Tick(1), true)
	tr.mu.Lock()
	n.refs = 0 // eligible, but nothing reported pressure
	tr.mu.Unlock()
	tr.PerformCleanup(tick.Tick(10))
	assert.Equal(t, int64(0), freed.Load())
}

func TestTree_sweeperLiveness(t *testing.T) {
	var freed atomic.Int64
	tr := testTree(t, &freed)
	tr.SetCleaningIntervals(time.Millisecond, 10*time.Millisecond)

	n := tr.Add(fakePtr(1), 1<<20, tick.Tick(1), true)
	require.NotNil(t, n)
	tr.Release(n) // drops to zero: reports pressure, wakes the sweeper

	deadline := time.Now().Add(2 * time.Second)
	for freed.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, int64(1), freed.Load(), "sweeper did not run within bounded time")
	assert.Equal(t, int64(0), tr.Pressure())
}

func TestTree_manualModeParksSweeper(t *testing.T) {
	var freed atomic.Int64
	tr := testTree(t, &freed)
	tr.SetCleaningIntervals(time.Millisecond, 2*time.Millisecond)
	tr.SetManualCleanup(true)

	n := tr.Add(fakePtr(1), 1<<20, tick.Tick(1), true)
	tr.Release(n)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(0), freed.Load(), "parked sweeper must not free")

	// manual cleanup still works
	tr.PerformCleanup(tick.Tick(10))
	assert.Equal(t, int64(1), freed.Load())
}

func TestTree_acquireBlocksCleanup(t *testing.T) {
	var freed atomic.Int64
	tr := testTree(t, &freed)
	n := tr.Add(fakePtr(1), 64, tick.Tick(1), true)
	tr.Acquire(n)
	tr.Release(n)
	tr.ReportPressure(64)
	tr.PerformCleanup(tick.Tick(10))
	assert.Equal(t, int64(0), freed.Load())

	tr.Release(n)
	tr.PerformCleanup(tick.Tick(10))
	assert.Equal(t, int64(1), freed.Load())
}

func TestTree_pressureSaturatesAtZero(t *testing.T) {
	var freed atomic.Int64
	tr := testTree(t, &freed)
	n := tr.Add(fakePtr(1), 1000, tick.Tick(1), true)
	tr.Release(n) // pressure 1000
	tr.PerformCleanup(tick.Tick(10))
	assert.Equal(t, int64(0), tr.Pressure())
}

func TestTree_addAfterClose(t *testing.T) {
	tr := NewTree(func(unsafe.Pointer) {}, nil)
	tr.Close()
	assert.Nil(t, tr.Add(fakePtr(1), 1, tick.Never, true))
}

func TestTree_concurrentAddRemove(t *testing.T) {
	tr := testTree(t, nil)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				n := tr.Add(fakePtr(w*1000+i+1), 64, tick.Never, true)
				if n == nil {
					t.Error("add failed")
					return
				}
				tr.Acquire(n)
				tr.Release(n)
				tr.Remove(n)
			}
		}(w)
	}
	wg.Wait()
	assert.Equal(t, 0, tr.Len())
}
