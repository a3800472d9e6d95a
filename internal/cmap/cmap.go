// Package cmap provides a hash map safe for any number of lock-free readers
// concurrent with a single writer. Buckets are immutable snapshots published
// through atomic pointers: the writer copies a bucket to mutate it, readers
// always observe a coherent bucket slice. Multiple values may share one
// 32-bit hash.
package cmap

import "sync/atomic"

const (
	minBuckets = 16
	// Grow when entries exceed loadFactor times the bucket count.
	loadFactor = 4
)

type entry[V comparable] struct {
	hash uint32
	v    V
}

type bucket[V comparable] struct {
	p atomic.Pointer[[]entry[V]]
}

type table[V comparable] struct {
	mask    uint32
	buckets []bucket[V]
}

// Map is the concurrent hash map. The zero value is not usable; call New.
type Map[V comparable] struct {
	t atomic.Pointer[table[V]]
	n int // writer-only
}

// New creates an empty map.
func New[V comparable]() *Map[V] {
	m := &Map[V]{}
	m.t.Store(newTable[V](minBuckets))
	return m
}

func newTable[V comparable](n int) *table[V] {
	return &table[V]{mask: uint32(n - 1), buckets: make([]bucket[V], n)}
}

// Len returns the number of entries. Writer-side accurate; readers may see a
// slightly stale value.
func (m *Map[V]) Len() int { return m.n }

// IsEmpty reports whether the map has no entries.
func (m *Map[V]) IsEmpty() bool { return m.n == 0 }

// Find returns the first value with the given hash satisfying pred.
func (m *Map[V]) Find(hash uint32, pred func(V) bool) (V, bool) {
	t := m.t.Load()
	if es := t.buckets[hash&t.mask].p.Load(); es != nil {
		for _, e := range *es {
			if e.hash == hash && pred(e.v) {
				return e.v, true
			}
		}
	}
	var zero V
	return zero, false
}

// ForEachWithHash calls fn for every value stored under hash until fn
// returns false.
func (m *Map[V]) ForEachWithHash(hash uint32, fn func(V) bool) {
	t := m.t.Load()
	if es := t.buckets[hash&t.mask].p.Load(); es != nil {
		for _, e := range *es {
			if e.hash == hash && !fn(e.v) {
				return
			}
		}
	}
}

// Insert adds a value under hash. Writer only.
func (m *Map[V]) Insert(hash uint32, v V) {
	t := m.t.Load()
	b := &t.buckets[hash&t.mask]
	old := b.p.Load()
	var next []entry[V]
	if old != nil {
		next = make([]entry[V], len(*old), len(*old)+1)
		copy(next, *old)
	}
	next = append(next, entry[V]{hash: hash, v: v})
	b.p.Store(&next)
	m.n++
	if m.n > loadFactor*len(t.buckets) {
		m.grow(t)
	}
}

// Remove deletes the entry holding v under hash. Writer only. Returns false
// when no such entry exists.
func (m *Map[V]) Remove(hash uint32, v V) bool {
	t := m.t.Load()
	b := &t.buckets[hash&t.mask]
	old := b.p.Load()
	if old == nil {
		return false
	}
	for i, e := range *old {
		if e.hash == hash && e.v == v {
			next := make([]entry[V], 0, len(*old)-1)
			next = append(next, (*old)[:i]...)
			next = append(next, (*old)[i+1:]...)
			b.p.Store(&next)
			m.n--
			return true
		}
	}
	return false
}

// Replace swaps the entry holding old for new under the same hash, in place,
// so readers never observe the hash without a value. Writer only.
func (m *Map[V]) Replace(hash uint32, oldV, newV V) bool {
	t := m.t.Load()
	b := &t.buckets[hash&t.mask]
	es := b.p.Load()
	if es == nil {
		return false
	}
	for i, e := range *es {
		if e.hash == hash && e.v == oldV {
			next := make([]entry[V], len(*es))
			copy(next, *es)
			next[i].v = newV
			b.p.Store(&next)
			return true
		}
	}
	return false
}

// Range calls fn over a snapshot of the map until fn returns false. Entries
// inserted or removed concurrently may or may not be visited.
func (m *Map[V]) Range(fn func(hash uint32, v V) bool) {
	t := m.t.Load()
	for i := range t.buckets {
		if es := t.buckets[i].p.Load(); es != nil {
			for _, e := range *es {
				if !fn(e.hash, e.v) {
					return
				}
			}
		}
	}
}

func (m *Map[V]) grow(old *table[V]) {
	nt := newTable[V](2 * len(old.buckets))
	for i := range old.buckets {
		if es := old.buckets[i].p.Load(); es != nil {
			for _, e := range *es {
				b := &nt.buckets[e.hash&nt.mask]
				var next []entry[V]
				if cur := b.p.Load(); cur != nil {
					next = append(next, *cur...)
				}
				next = append(next, e)
				b.p.Store(&next)
			}
		}
	}
	m.t.Store(nt)
}
