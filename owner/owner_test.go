package owner

import (
	"sync"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-ttak/mem"
	"github.com/joeycumines/go-ttak/tick"
)

func TestOwner_executeDispatches(t *testing.T) {
	o := New(0)
	t.Cleanup(o.Destroy)
	require.NoError(t, o.RegisterResource("ledger", map[string]int{}, nil))
	require.NoError(t, o.RegisterFunc("record", func(res any, args any) (any, error) {
		m := res.(map[string]int)
		m[args.(string)]++
		return m[args.(string)], nil
	}, 0))

	out, err := o.Execute("record", "ledger", "k")
	require.NoError(t, err)
	assert.Equal(t, 1, out)
	out, err = o.Execute("record", "ledger", "k")
	require.NoError(t, err)
	assert.Equal(t, 2, out)
}

func TestOwner_unknownNames(t *testing.T) {
	o := New(0)
	t.Cleanup(o.Destroy)
	require.NoError(t, o.RegisterResource("r", 1, nil))
	require.NoError(t, o.RegisterFunc("f", func(any, any) (any, error) { return nil, nil }, 0))

	_, err := o.Execute("missing", "r", nil)
	assert.ErrorIs(t, err, ErrUnknown)
	_, err = o.Execute("f", "missing", nil)
	assert.ErrorIs(t, err, ErrUnknown)
}

func TestOwner_duplicateNames(t *testing.T) {
	o := New(0)
	t.Cleanup(o.Destroy)
	require.NoError(t, o.RegisterResource("r", 1, nil))
	assert.ErrorIs(t, o.RegisterResource("r", 2, nil), ErrDuplicate)
	require.NoError(t, o.RegisterFunc("f", func(any, any) (any, error) { return nil, nil }, 0))
	assert.ErrorIs(t, o.RegisterFunc("f", func(any, any) (any, error) { return nil, nil }, 0), ErrDuplicate)
}

// An owner created with DenyThreading still runs functions that allocate;
// a function declaring the threading need is refused by policy.
func TestOwner_denyThreadingPolicy(t *testing.T) {
	a := mem.New(nil)
	t.Cleanup(a.Close)
	o := New(DenyThreading)
	t.Cleanup(o.Destroy)
	require.NoError(t, o.RegisterResource("buf", a, nil))

	require.NoError(t, o.RegisterFunc("allocate", func(res any, _ any) (any, error) {
		al := res.(*mem.Allocator)
		p := al.Alloc(64, -1, tick.Now(), mem.Options{})
		if p == nil {
			return nil, mem.ErrExhausted
		}
		al.Free(p)
		return unsafe.Pointer(p), nil
	}, 0))
	require.NoError(t, o.RegisterFunc("spawn", func(any, any) (any, error) {
		done := make(chan struct{})
		go close(done)
		<-done
		return nil, nil
	}, DenyThreading))

	out, err := o.Execute("allocate", "buf", nil)
	require.NoError(t, err)
	assert.NotNil(t, out)

	_, err = o.Execute("spawn", "buf", nil)
	assert.ErrorIs(t, err, ErrDenied)
}

func TestOwner_destroyRunsCleanupsOnce(t *testing.T) {
	o := New(0)
	var cleaned int
	require.NoError(t, o.RegisterResource("r", "v", func(v any) {
		assert.Equal(t, "v", v)
		cleaned++
	}))
	o.Destroy()
	o.Destroy()
	assert.Equal(t, 1, cleaned)

	_, err := o.Execute("f", "r", nil)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, o.RegisterResource("x", 1, nil), ErrClosed)
	assert.ErrorIs(t, o.RegisterFunc("x", func(any, any) (any, error) { return nil, nil }, 0), ErrClosed)
}

func TestOwner_createdTick(t *testing.T) {
	before := tick.Now()
	o := New(0)
	t.Cleanup(o.Destroy)
	time.Sleep(time.Millisecond)
	assert.GreaterOrEqual(t, int64(o.CreatedTick()), int64(before))
	assert.Less(t, int64(o.CreatedTick()), int64(tick.Now()))
}

func TestOwner_concurrentDispatch(t *testing.T) {
	o := New(0)
	t.Cleanup(o.Destroy)
	var mu sync.Mutex
	total := 0
	require.NoError(t, o.RegisterResource("counter", &total, nil))
	require.NoError(t, o.RegisterFunc("incr", func(res any, _ any) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		n := res.(*int)
		*n++
		return *n, nil
	}, 0))

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				if _, err := o.Execute("incr", "counter", nil); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 2000, total)
}
