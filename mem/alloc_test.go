package mem

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"unsafe"

	"github.com/joeycumines/logiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-ttak/tick"
)

func ms(n int64) tick.Tick { return tick.Tick(time.Duration(n) * time.Millisecond) }

func testAllocator(t *testing.T) *Allocator {
	t.Helper()
	a := New(nil)
	t.Cleanup(a.Close)
	return a
}

// withAbortHook replaces the fatal-corruption handler with a panic the test
// can recover, restoring it afterwards.
func withAbortHook(t *testing.T) *int {
	t.Helper()
	var hits int
	prev := abortFunc
	abortFunc = func(format string, args ...any) {
		hits++
		panic(fmt.Sprintf("abort: "+format, args...))
	}
	t.Cleanup(func() { abortFunc = prev })
	return &hits
}

func fill(p unsafe.Pointer, n uint64, b byte) {
	s := unsafe.Slice((*byte)(p), n)
	for i := range s {
		s[i] = b
	}
}

func TestAlloc_lifecycle(t *testing.T) {
	a := testAllocator(t)

	p := a.Alloc(64, 100*time.Millisecond, 0, Options{Strict: true, Root: true})
	require.NotNil(t, p)
	assert.Equal(t, int64(64), a.UsageBytes())
	assert.Equal(t, 1, a.RegisteredCount())

	// before expiry: access succeeds and counts
	got := a.Access(p, ms(50))
	assert.Equal(t, p, got)
	assert.Equal(t, uint64(64), a.SizeOf(p))

	// after expiry: access yields nil
	assert.Nil(t, a.Access(p, ms(150)))

	// autoclean removes the expired entry from the registry
	a.Autoclean(ms(200))
	assert.Equal(t, 0, a.RegisteredCount())
	assert.Equal(t, int64(0), a.UsageBytes())

	// any later access observes the free
	assert.Nil(t, a.Access(p, ms(50)))
}

func TestAlloc_accessCountIncrements(t *testing.T) {
	a := testAllocator(t)
	p := a.Alloc(32, -1, 0, Options{Root: true})
	require.NotNil(t, p)
	for i := 0; i < 5; i++ {
		require.Equal(t, p, a.Access(p, ms(1)))
	}
	h := headerOf(p)
	assert.Equal(t, uint64(5), h.accessCount.Load())
}

func TestAlloc_zeroSize(t *testing.T) {
	a := testAllocator(t)
	assert.Nil(t, a.Alloc(0, -1, 0, Options{}))
}

func TestAlloc_tiers(t *testing.T) {
	a := testAllocator(t)
	small := a.Alloc(100, -1, 0, Options{})
	bump := a.Alloc(4096, -1, 0, Options{})
	general := a.Alloc(64<<10, -1, 0, Options{})
	require.NotNil(t, small)
	require.NotNil(t, bump)
	require.NotNil(t, general)
	assert.Equal(t, TierSmall, headerOf(small).tier)
	assert.Equal(t, TierBump, headerOf(bump).tier)
	assert.Equal(t, TierGeneral, headerOf(general).tier)
	for _, p := range []unsafe.Pointer{small, bump, general} {
		a.Free(p)
	}
	assert.Equal(t, int64(0), a.UsageBytes())
}

func TestAlloc_hugeGoesGeneral(t *testing.T) {
	a := testAllocator(t)
	p := a.Alloc(64, -1, 0, Options{Huge: true})
	require.NotNil(t, p)
	assert.Equal(t, TierGeneral, headerOf(p).tier)
	a.Free(p)
}

func TestFree_idempotent(t *testing.T) {
	a := testAllocator(t)
	p := a.Alloc(200, -1, 0, Options{Root: true})
	require.NotNil(t, p)
	a.Free(p)
	usage := a.UsageBytes()
	a.Free(p) // must not fault, must not double-count
	assert.Equal(t, usage, a.UsageBytes())
	assert.Nil(t, a.Access(p, ms(0)))
}

func TestFree_nil(t *testing.T) {
	a := testAllocator(t)
	a.Free(nil)
}

func TestDup_roundTrip(t *testing.T) {
	a := testAllocator(t)
	src := a.Alloc(48, -1, 0, Options{})
	require.NotNil(t, src)
	fill(src, 48, 0xa7)

	dup := a.Dup(src, 48, -1, 0, Options{})
	require.NotNil(t, dup)
	assert.True(t, bytes.Equal(
		unsafe.Slice((*byte)(src), 48),
		unsafe.Slice((*byte)(dup), 48),
	))
	a.Free(src)
	a.Free(dup)
}

func TestDup_invalidArgs(t *testing.T) {
	a := testAllocator(t)
	assert.Nil(t, a.Dup(nil, 16, -1, 0, Options{}))
	p := a.Alloc(16, -1, 0, Options{})
	assert.Nil(t, a.Dup(p, 0, -1, 0, Options{}))
	a.Free(p)
}

func TestRealloc_preservesPrefix(t *testing.T) {
	a := testAllocator(t)
	p := a.Alloc(64, -1, 0, Options{})
	require.NotNil(t, p)
	fill(p, 64, 0x5c)

	// grow: first 64 bytes preserved
	q := a.Realloc(p, 4096, -1, 0, Options{})
	require.NotNil(t, q)
	for _, b := range unsafe.Slice((*byte)(q), 64) {
		require.Equal(t, byte(0x5c), b)
	}

	// shrink: first 16 bytes preserved
	r := a.Realloc(q, 16, -1, 0, Options{})
	require.NotNil(t, r)
	for _, b := range unsafe.Slice((*byte)(r), 16) {
		require.Equal(t, byte(0x5c), b)
	}
	a.Free(r)
	assert.Equal(t, int64(0), a.UsageBytes())
}

func TestRealloc_nilIsAlloc(t *testing.T) {
	a := testAllocator(t)
	p := a.Realloc(nil, 32, -1, 0, Options{})
	require.NotNil(t, p)
	a.Free(p)
}

func TestRealloc_zeroIsFree(t *testing.T) {
	a := testAllocator(t)
	p := a.Alloc(32, -1, 0, Options{})
	assert.Nil(t, a.Realloc(p, 0, -1, 0, Options{}))
	assert.Equal(t, int64(0), a.UsageBytes())
}

func TestAccess_noDirect(t *testing.T) {
	a := testAllocator(t)
	p := a.Alloc(32, -1, 0, Options{NoDirect: true})
	require.NotNil(t, p)
	assert.Nil(t, a.Access(p, ms(0)))
	a.Free(p)
}

func TestStrict_endCanaryAbortsOnOverwrite(t *testing.T) {
	hits := withAbortHook(t)
	a := testAllocator(t)
	p := a.Alloc(64, -1, 0, Options{Strict: true})
	require.NotNil(t, p)

	// write one byte past user_ptr + size
	*(*byte)(unsafe.Add(p, 64)) = 0xff

	func() {
		defer func() { require.NotNil(t, recover()) }()
		a.Access(p, ms(0))
	}()
	assert.Equal(t, 1, *hits)
}

func TestStrict_startCanaryAbort(t *testing.T) {
	hits := withAbortHook(t)
	a := testAllocator(t)
	p := a.Alloc(64, -1, 0, Options{Strict: true})
	require.NotNil(t, p)

	headerOf(p).canaryStart = 0

	func() {
		defer func() { require.NotNil(t, recover()) }()
		a.Free(p)
	}()
	assert.Equal(t, 1, *hits)
}

func TestHeader_checksumAbort(t *testing.T) {
	hits := withAbortHook(t)
	a := testAllocator(t)
	p := a.Alloc(300, -1, 0, Options{})
	require.NotNil(t, p)

	headerOf(p).size = 301 // covered by the fold

	func() {
		defer func() { require.NotNil(t, recover()) }()
		a.Access(p, ms(0))
	}()
	assert.Equal(t, 1, *hits)
}

func TestHeader_magicAbort(t *testing.T) {
	hits := withAbortHook(t)
	a := testAllocator(t)
	p := a.Alloc(300, -1, 0, Options{})
	require.NotNil(t, p)

	headerOf(p).magic = 0xdeadbeef

	func() {
		defer func() { require.NotNil(t, recover()) }()
		a.Access(p, ms(0))
	}()
	assert.Equal(t, 1, *hits)
}

func TestInspectDirty_expiredAndHot(t *testing.T) {
	a := testAllocator(t)
	expired := a.Alloc(16, 10*time.Millisecond, 0, Options{Root: true})
	fresh := a.Alloc(16, -1, 0, Options{Root: true})
	hot := a.Alloc(16, -1, 0, Options{Root: true})
	require.NotNil(t, expired)
	require.NotNil(t, fresh)
	require.NotNil(t, hot)
	headerOf(hot).accessCount.Store(hotAccessThreshold + 1)

	dirty := a.InspectDirty(ms(20))
	require.Len(t, dirty, 2)
	seen := map[unsafe.Pointer]bool{}
	for _, e := range dirty {
		seen[e.Ptr] = true
	}
	assert.True(t, seen[expired])
	assert.True(t, seen[hot])
	assert.False(t, seen[fresh])
}

func TestSmallPool_reusesSlots(t *testing.T) {
	a := testAllocator(t)
	p := a.Alloc(64, -1, 0, Options{})
	require.NotNil(t, p)
	a.Free(p)
	q := a.Alloc(64, -1, 0, Options{})
	require.NotNil(t, q)
	// LIFO free list hands the same slot back
	assert.Equal(t, p, q)
	a.Free(q)
}

func TestSetTrace_emitsJSON(t *testing.T) {
	var buf bytes.Buffer
	var mu sync.Mutex
	w := writerFunc(func(p []byte) (int, error) {
		mu.Lock()
		defer mu.Unlock()
		return buf.Write(p)
	})
	a := New(&Config{Logger: NewLogger(w, logiface.LevelDebug)})
	t.Cleanup(a.Close)
	a.SetTrace(true)

	p := a.Alloc(32, -1, 0, Options{})
	require.NotNil(t, p)
	a.Free(p)

	mu.Lock()
	out := buf.String()
	mu.Unlock()
	assert.Contains(t, out, `"event":"alloc"`)
	assert.Contains(t, out, `"event":"free"`)
	assert.Contains(t, out, `"tier":"small"`)
}

type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

func TestAlloc_concurrent(t *testing.T) {
	a := testAllocator(t)
	var wg sync.WaitGroup
	const workers = 8
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				size := uint64(16 + (i%4)*100)
				p := a.Alloc(size, -1, tick.Now(), Options{Root: i%3 == 0})
				if p == nil {
					t.Error("unexpected alloc failure")
					return
				}
				fill(p, size, byte(w))
				if a.Access(p, tick.Now()) == nil {
					t.Error("access on live block failed")
					return
				}
				a.Free(p)
			}
		}(w)
	}
	wg.Wait()
	assert.Equal(t, int64(0), a.UsageBytes())
	assert.Equal(t, 0, a.RegisteredCount())
}

func TestPressureHigh(t *testing.T) {
	a := New(&Config{HighWatermark: 1024})
	t.Cleanup(a.Close)
	assert.False(t, a.PressureHigh())
	p := a.Alloc(4096, -1, 0, Options{})
	require.NotNil(t, p)
	assert.True(t, a.PressureHigh())
	a.Free(p)
	assert.False(t, a.PressureHigh())
}

// A corruption abort emits exactly one Alert-level line, naming the pointer
// and reason, through the allocator's logger before the abort hook fires.
func TestCorruption_logsAlertBeforeAbort(t *testing.T) {
	hits := withAbortHook(t)
	var buf bytes.Buffer
	var mu sync.Mutex
	w := writerFunc(func(p []byte) (int, error) {
		mu.Lock()
		defer mu.Unlock()
		return buf.Write(p)
	})
	a := New(&Config{Logger: NewLogger(w, logiface.LevelDebug)})
	t.Cleanup(a.Close)
	t.Cleanup(func() { corruptLogger.Store(nil) })

	p := a.Alloc(300, -1, 0, Options{})
	require.NotNil(t, p)
	headerOf(p).magic = 0xdeadbeef

	func() {
		defer func() { require.NotNil(t, recover()) }()
		a.Access(p, ms(0))
	}()
	require.Equal(t, 1, *hits)

	mu.Lock()
	out := buf.String()
	mu.Unlock()
	assert.Contains(t, out, `"lvl":"alert"`)
	assert.Contains(t, out, "bad magic")
	assert.Equal(t, 1, strings.Count(out, `"lvl":"alert"`), "single diagnostic line")
}

func TestPinUnpin(t *testing.T) {
	a := testAllocator(t)
	p := a.Alloc(32, -1, 0, Options{})
	a.Pin(p)
	a.Pin(p)
	assert.Equal(t, int64(2), headerOf(p).pinCount.Load())
	a.Unpin(p)
	a.Unpin(p)
	a.Unpin(p) // saturates at zero
	assert.Equal(t, int64(0), headerOf(p).pinCount.Load())
	a.Free(p)
}
