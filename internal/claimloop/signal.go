package claimloop

import "sync"

// RunSignal is the shared level-triggered wake-up signal consumed by
// workers and set by the notification listener, the periodic waker, the
// supervisor's pre-start sweep, and the supervisor on shutdown.
//
// Set never blocks. A racing Clear-then-Set is harmless: the store is
// consulted authoritatively on every wake-up, so an extra wake costs one
// empty claim query, and a dropped wake is recovered by the periodic waker
// or the next notification. Implemented as a one-slot coalescing channel
// rather than a condition variable.
type RunSignal struct {
	ch chan struct{}
}

// NewRunSignal returns a RunSignal. If set is true it starts in the set
// state, matching the supervisor's requirement that workers sweep any
// already-queued work on start-up without waiting for a notification.
func NewRunSignal(set bool) *RunSignal {
	s := &RunSignal{ch: make(chan struct{}, 1)}
	if set {
		s.Set()
	}
	return s
}

// Set raises the signal. Safe to call from any number of goroutines
// concurrently; never blocks.
func (s *RunSignal) Set() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// Wait returns the channel a set signal is delivered on. It does not block
// itself; receiving from the channel blocks until the signal is set and
// consumes it.
func (s *RunSignal) Wait() <-chan struct{} {
	return s.ch
}

// Clear drops the signal if it is currently set. Multiple workers may race
// to clear; at most one observes the pending wake-up, which is correct
// because the loop that clears has already drained its view of the queue.
func (s *RunSignal) Clear() {
	select {
	case <-s.ch:
	default:
	}
}

// ExitSignal is the monotonic shutdown signal observed by every background
// goroutine. Once set it is never cleared within a run.
type ExitSignal struct {
	once sync.Once
	ch   chan struct{}
}

// NewExitSignal returns an unset ExitSignal.
func NewExitSignal() *ExitSignal {
	return &ExitSignal{ch: make(chan struct{})}
}

// Set raises the signal exactly once; subsequent calls are no-ops.
func (e *ExitSignal) Set() {
	e.once.Do(func() { close(e.ch) })
}

// Done returns a channel closed once Set has been called.
func (e *ExitSignal) Done() <-chan struct{} {
	return e.ch
}

// IsSet reports whether Set has already been called, without blocking.
func (e *ExitSignal) IsSet() bool {
	select {
	case <-e.ch:
		return true
	default:
		return false
	}
}
