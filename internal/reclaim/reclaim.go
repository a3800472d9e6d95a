// Package reclaim provides a quiescence domain for single-writer, many-reader
// structures. Readers bracket their critical sections with Enter/Exit guards;
// Postpone schedules a callback to run once every guard open at the time of
// the call has closed. Memory itself is reclaimed by the garbage collector;
// the domain exists to order user-visible callbacks, such as rule destructors,
// behind in-flight lookups.
//
// The implementation is a two-epoch scheme: readers count themselves into the
// slot of the epoch they observed, callbacks accumulate in the current slot,
// and the epoch flips once the previous slot has drained. Callbacks posted
// from a callback (double postponement) land in the new epoch and therefore
// wait one further round.
package reclaim

import (
	"sync"
	"sync/atomic"
)

// Domain is a quiescence domain. The zero value is ready to use.
type Domain struct {
	epoch   atomic.Uint64
	readers [2]atomic.Int64

	mu      sync.Mutex
	pending [2][]func()
}

// Guard marks an open read-side critical section.
type Guard struct {
	d    *Domain
	slot uint32
}

// Enter opens a read-side critical section. Lock-free.
func (d *Domain) Enter() Guard {
	for {
		e := d.epoch.Load()
		slot := uint32(e & 1)
		d.readers[slot].Add(1)
		if d.epoch.Load() == e {
			return Guard{d: d, slot: slot}
		}
		// The epoch flipped while registering; back out and retry so the
		// count never lands in a slot already declared drained.
		d.readers[slot].Add(-1)
	}
}

// Exit closes the critical section.
func (g Guard) Exit() {
	if g.d.readers[g.slot].Add(-1) == 0 {
		g.d.advance()
	}
}

// Postpone schedules fn to run after every currently open guard has closed.
// With no guards open, fn may run before Postpone returns, on the calling
// goroutine.
func (d *Domain) Postpone(fn func()) {
	d.mu.Lock()
	slot := d.epoch.Load() & 1
	d.pending[slot] = append(d.pending[slot], fn)
	d.mu.Unlock()
	d.advance()
}

// advance flips the epoch while the previous slot is drained, collecting the
// callbacks that became safe. Callbacks run outside the lock because they may
// postpone further work.
func (d *Domain) advance() {
	var ready []func()
	d.mu.Lock()
	for {
		e := d.epoch.Load()
		cur := e & 1
		prev := cur ^ 1
		if d.readers[prev].Load() != 0 {
			break
		}
		if len(d.pending[prev]) == 0 && len(d.pending[cur]) == 0 {
			break
		}
		ready = append(ready, d.pending[prev]...)
		d.pending[prev] = nil
		// Readers counted in the current slot keep blocking the next flip;
		// their epoch's callbacks sit in what is now the previous slot.
		d.epoch.Store(e + 1)
	}
	d.mu.Unlock()
	for _, fn := range ready {
		fn()
	}
}
