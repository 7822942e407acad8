// Package park provides an idempotent wake signal shared between a worker
// goroutine and whoever feeds it data: a single notify() call is enough to
// wake a parked worker regardless of how many times it was called while
// the worker was already running, and a parked worker always wakes on its
// own after a bounded safety-net timeout even if a notification is missed.
package park

import "time"

// Handle is a single-slot wake signal. Multiple Notify calls that land
// before the worker parks collapse into one wake-up; Park never blocks
// longer than its timeout.
type Handle struct {
	ch chan struct{}
}

// New returns a ready-to-use Handle.
func New() *Handle {
	return &Handle{ch: make(chan struct{}, 1)}
}

// Notify wakes a parked worker. It never blocks: if a wake is already
// pending, this is a no-op.
func (h *Handle) Notify() {
	select {
	case h.ch <- struct{}{}:
	default:
	}
}

// Park blocks until Notify is called or timeout elapses, whichever comes
// first.
func (h *Handle) Park(timeout time.Duration) {
	select {
	case <-h.ch:
	case <-time.After(timeout):
	}
}
