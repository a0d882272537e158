package container

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intHash(k int) uint64 {
	h := uint64(k) * 0x9e3779b97f4a7c15
	return h ^ h>>32
}

func TestTable_putGetDelete(t *testing.T) {
	tb := NewTable[int, string](intHash)
	_, ok := tb.Get(1)
	assert.False(t, ok)

	tb.Put(1, "a")
	tb.Put(2, "b")
	v, ok := tb.Get(1)
	require.True(t, ok)
	assert.Equal(t, "a", v)
	assert.Equal(t, 2, tb.Len())

	tb.Put(1, "a2")
	v, _ = tb.Get(1)
	assert.Equal(t, "a2", v)
	assert.Equal(t, 2, tb.Len())

	assert.True(t, tb.Delete(1))
	assert.False(t, tb.Delete(1))
	_, ok = tb.Get(1)
	assert.False(t, ok)
	assert.Equal(t, 1, tb.Len())
}

func TestTable_growAndTombstones(t *testing.T) {
	tb := NewTable[int, int](intHash)
	const n = 5000
	for i := 0; i < n; i++ {
		tb.Put(i, i*i)
	}
	for i := 0; i < n; i += 2 {
		require.True(t, tb.Delete(i))
	}
	for i := 1; i < n; i += 2 {
		v, ok := tb.Get(i)
		require.True(t, ok, "key %d", i)
		require.Equal(t, i*i, v)
	}
	// reinsert over tombstones, forcing probe reuse
	for i := 0; i < n; i += 2 {
		tb.Put(i, -i)
	}
	assert.Equal(t, n, tb.Len())
	v, _ := tb.Get(4)
	assert.Equal(t, -4, v)
}

func TestTable_range(t *testing.T) {
	tb := NewTable[int, int](intHash)
	for i := 0; i < 10; i++ {
		tb.Put(i, i)
	}
	sum := 0
	tb.Range(func(_, v int) bool {
		sum += v
		return true
	})
	assert.Equal(t, 45, sum)
}

func TestTable_nilHashPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	NewTable[int, int](nil)
}
