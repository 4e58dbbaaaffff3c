// Package busy implements a reference-counted busy indicator.
//
// Overlapping operations collapse into one visible busy period: the listener
// hears LoadingStarted when the count leaves zero and LoadingEnded when it
// returns to zero.
package busy

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrUnbalanced is returned by End when no operation is in flight.
var ErrUnbalanced = errors.New("busy: end without matching begin")

// Listener receives busy period boundaries.
type Listener interface {
	LoadingStarted()
	LoadingEnded()
}

// ListenerFuncs adapts a pair of functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	Started func()
	Ended   func()
}

// LoadingStarted implements Listener.
func (l ListenerFuncs) LoadingStarted() {
	if l.Started != nil {
		l.Started()
	}
}

// LoadingEnded implements Listener.
func (l ListenerFuncs) LoadingEnded() {
	if l.Ended != nil {
		l.Ended()
	}
}

// Stats counts busy period edges since creation.
type Stats struct {
	Started uint64 `json:"started"`
	Ended   uint64 `json:"ended"`
	Current int    `json:"current"`
}

// Tracker counts in-flight operations. It is safe for concurrent use.
// Listener callbacks may call Count and Busy but not Begin or End.
type Tracker struct {
	mu       sync.Mutex
	count    int
	listener Listener
	started  uint64
	ended    uint64

	// current mirrors count for lock-free reads.
	current atomic.Int64
}

// New creates a tracker that notifies l. l may be nil.
func New(l Listener) *Tracker {
	return &Tracker{listener: l}
}

// Begin opens a busy scope.
func (t *Tracker) Begin() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.count++
	t.current.Store(int64(t.count))
	if t.count == 1 {
		t.started++
		// Notified under the lock so edges are never observed out of order.
		if t.listener != nil {
			t.listener.LoadingStarted()
		}
	}
}

// End closes a busy scope. Calling End with no open scope leaves the
// count at zero and returns ErrUnbalanced.
func (t *Tracker) End() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.count == 0 {
		return ErrUnbalanced
	}
	t.count--
	t.current.Store(int64(t.count))
	if t.count == 0 {
		t.ended++
		if t.listener != nil {
			t.listener.LoadingEnded()
		}
	}
	return nil
}

// Count returns the number of open scopes.
func (t *Tracker) Count() int {
	return int(t.current.Load())
}

// Busy reports whether any scope is open.
func (t *Tracker) Busy() bool { return t.Count() > 0 }

// Stats returns a snapshot of the edge counters.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Stats{Started: t.started, Ended: t.ended, Current: t.count}
}
