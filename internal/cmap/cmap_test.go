package cmap

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBasicOps(t *testing.T) {
	m := New[int]()
	assert.True(t, m.IsEmpty())

	m.Insert(1, 100)
	m.Insert(1, 101) // same hash, different value
	m.Insert(2, 200)
	assert.Equal(t, 3, m.Len())

	v, ok := m.Find(1, func(v int) bool { return v == 101 })
	require.True(t, ok)
	assert.Equal(t, 101, v)

	_, ok = m.Find(1, func(v int) bool { return v == 999 })
	assert.False(t, ok)
	_, ok = m.Find(3, func(int) bool { return true })
	assert.False(t, ok)

	assert.True(t, m.Remove(1, 100))
	assert.False(t, m.Remove(1, 100))
	assert.Equal(t, 2, m.Len())

	_, ok = m.Find(1, func(v int) bool { return v == 101 })
	assert.True(t, ok)
}

func TestReplace(t *testing.T) {
	m := New[string]()
	m.Insert(7, "old")

	assert.True(t, m.Replace(7, "old", "new"))
	assert.Equal(t, 1, m.Len())

	v, ok := m.Find(7, func(string) bool { return true })
	require.True(t, ok)
	assert.Equal(t, "new", v)

	assert.False(t, m.Replace(7, "old", "newer"))
	assert.False(t, m.Replace(8, "x", "y"))
}

func TestForEachWithHash(t *testing.T) {
	m := New[int]()
	for i := 0; i < 4; i++ {
		m.Insert(5, i)
	}
	m.Insert(6, 99)

	var got []int
	m.ForEachWithHash(5, func(v int) bool {
		got = append(got, v)
		return true
	})
	assert.Len(t, got, 4)
	assert.NotContains(t, got, 99)

	// Early stop.
	n := 0
	m.ForEachWithHash(5, func(int) bool {
		n++
		return n < 2
	})
	assert.Equal(t, 2, n)
}

func TestRange(t *testing.T) {
	m := New[int]()
	want := map[int]bool{}
	for i := 0; i < 300; i++ {
		m.Insert(uint32(i*2654435761), i)
		want[i] = true
	}
	assert.Equal(t, 300, m.Len())

	got := map[int]bool{}
	m.Range(func(_ uint32, v int) bool {
		got[v] = true
		return true
	})
	assert.Equal(t, want, got)
}

func TestGrowKeepsEntries(t *testing.T) {
	m := New[int]()
	const n = 10000
	for i := 0; i < n; i++ {
		m.Insert(uint32(i), i)
	}
	require.Equal(t, n, m.Len())
	for i := 0; i < n; i++ {
		v, ok := m.Find(uint32(i), func(v int) bool { return v == i })
		require.True(t, ok, "missing %d", i)
		require.Equal(t, i, v)
	}
}

func TestConcurrentReadDuringWrites(t *testing.T) {
	m := New[int]()
	m.Insert(0, -1) // sentinel present throughout

	var stop atomic.Bool
	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for !stop.Load() {
				if _, ok := m.Find(0, func(v int) bool { return v == -1 }); !ok {
					t.Error("sentinel disappeared")
					return
				}
				m.Range(func(uint32, int) bool { return true })
			}
		}()
	}

	for i := 1; i < 5000; i++ {
		m.Insert(uint32(i%64), i)
		if i%3 == 0 {
			m.Remove(uint32(i%64), i)
		}
	}
	stop.Store(true)
	wg.Wait()
}
