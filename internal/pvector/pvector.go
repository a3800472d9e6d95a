// Package pvector provides a priority-ordered vector of pointers with
// deferred publication. A single writer batches insertions, removals and
// priority changes into a private working copy; Publish sorts the copy in
// descending priority order and swaps it in atomically. Readers iterate the
// published snapshot without locks.
package pvector

import (
	"slices"
	"sync/atomic"
)

// Entry pairs a value with its priority.
type Entry[T any] struct {
	Priority int
	Value    *T
}

// Vector is the priority vector. The zero value is not usable; call New.
type Vector[T any] struct {
	impl atomic.Pointer[[]Entry[T]]
	temp []Entry[T] // pending modifications; nil when none
}

// New creates an empty vector.
func New[T any]() *Vector[T] {
	v := &Vector[T]{}
	empty := []Entry[T]{}
	v.impl.Store(&empty)
	return v
}

// Load returns the published snapshot, sorted by descending priority.
func (v *Vector[T]) Load() []Entry[T] { return *v.impl.Load() }

// Size returns the published entry count.
func (v *Vector[T]) Size() int { return len(*v.impl.Load()) }

func (v *Vector[T]) modify() []Entry[T] {
	if v.temp == nil {
		pub := *v.impl.Load()
		v.temp = make([]Entry[T], len(pub), len(pub)+1)
		copy(v.temp, pub)
	}
	return v.temp
}

// Insert schedules the addition of value at the given priority. Writer only;
// not visible until Publish.
func (v *Vector[T]) Insert(value *T, priority int) {
	v.temp = append(v.modify(), Entry[T]{Priority: priority, Value: value})
}

// Remove schedules the removal of value. Writer only.
func (v *Vector[T]) Remove(value *T) {
	temp := v.modify()
	for i := range temp {
		if temp[i].Value == value {
			v.temp = append(temp[:i], temp[i+1:]...)
			return
		}
	}
}

// ChangePriority schedules a priority change for value. Writer only.
func (v *Vector[T]) ChangePriority(value *T, priority int) {
	temp := v.modify()
	for i := range temp {
		if temp[i].Value == value {
			temp[i].Priority = priority
			return
		}
	}
}

// Publish sorts pending modifications and makes them visible to readers in
// one swap. A no-op when nothing is pending.
func (v *Vector[T]) Publish() {
	if v.temp == nil {
		return
	}
	temp := v.temp
	slices.SortStableFunc(temp, func(a, b Entry[T]) int {
		// Descending priority.
		switch {
		case a.Priority > b.Priority:
			return -1
		case a.Priority < b.Priority:
			return 1
		default:
			return 0
		}
	})
	v.temp = nil
	v.impl.Store(&temp)
}
