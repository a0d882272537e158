package sched

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-ttak/epoch"
)

func TestAsync_schedulesOntoPool(t *testing.T) {
	p := NewPool(&PoolConfig{Workers: 2})
	a := NewAsync(p, nil)
	defer a.Shutdown()

	f := a.Schedule(func(arg any) any { return arg.(string) + "!" }, "hi", 1)
	require.NotNil(t, f)
	assert.Equal(t, "hi!", f.Get(nil))
}

func TestAsync_inlineFallbackWithoutPool(t *testing.T) {
	a := NewAsync(nil, nil)
	f := a.Schedule(func(arg any) any { return arg.(int) + 1 }, 1, 5)
	require.NotNil(t, f)
	// inline execution settles before Schedule returns
	v, ok := f.TryGet()
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestAsync_inlineRunsInsideEpoch(t *testing.T) {
	e := epoch.New()
	a := NewAsync(nil, e)
	epochWasHeld := false
	f := a.Schedule(func(any) any {
		// the domain sees one active thread: the first reclaim advances the
		// global epoch past it, so a second one must defer mid-task
		advanced := e.Reclaim()
		epochWasHeld = advanced && !e.Reclaim()
		return nil
	}, nil, 1)
	f.Get(nil)
	assert.True(t, epochWasHeld)
	// after the inline task, nothing holds the epoch
	assert.True(t, e.Reclaim())
}

func TestAsync_shutdownFallsBackInline(t *testing.T) {
	p := NewPool(&PoolConfig{Workers: 1})
	a := NewAsync(p, nil)
	a.Shutdown()
	f := a.Schedule(func(any) any { return 9 }, nil, 1)
	v, ok := f.TryGet()
	require.True(t, ok)
	assert.Equal(t, 9, v)
}

func TestAsync_yield(t *testing.T) {
	a := NewAsync(nil, nil)
	a.Yield() // must simply not block
}

func TestTask_basics(t *testing.T) {
	tk := NewTask(func(arg any) any { return arg.(int) * 3 }, 5, 2)
	assert.Equal(t, 2, tk.Priority())
	assert.Equal(t, 15, tk.Execute())
	assert.GreaterOrEqual(t, int64(tk.Cost()), int64(0))
	tk.SetHash(11)
	assert.Equal(t, uint64(11), tk.Hash())

	cl := tk.Clone()
	assert.Equal(t, uint64(11), cl.Hash())
	assert.Equal(t, int64(0), cl.cost.Load(), "clone does not inherit recorded cost")
	assert.Equal(t, 15, cl.Execute())

	tk.Destroy()
	assert.Nil(t, tk.fn)
}

func TestTask_nilFnPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	NewTask(nil, nil, 0)
}
