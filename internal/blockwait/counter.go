package blockwait

import (
	"context"
	"sync"
)

// CounterWaiter is an in-memory Waiter. The owner calls Bump once per
// block event; waiters observe the counter through the usual handshake.
// It backs the session tests and any host that reports reader-block events
// through a channel other than the pipe ioctls.
type CounterWaiter struct {
	mu      sync.Mutex
	counter uint64
	changed chan struct{}
	closed  bool
}

// NewCounterWaiter creates a CounterWaiter with the counter at zero.
func NewCounterWaiter() *CounterWaiter {
	return &CounterWaiter{changed: make(chan struct{})}
}

// Bump records one block event and wakes all pending waiters.
func (w *CounterWaiter) Bump() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.counter++
	close(w.changed)
	w.changed = make(chan struct{})
}

// Snapshot returns the current counter value.
func (w *CounterWaiter) Snapshot() (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, ErrClosed
	}
	return w.counter, nil
}

// WaitForChange blocks until the counter differs from token. A wakeup that
// finds the counter unchanged goes back to waiting.
func (w *CounterWaiter) WaitForChange(ctx context.Context, token uint64) error {
	for {
		w.mu.Lock()
		if w.closed {
			w.mu.Unlock()
			return ErrClosed
		}
		if w.counter != token {
			w.mu.Unlock()
			return nil
		}
		ch := w.changed
		w.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// Close wakes all pending waiters and invalidates the waiter.
func (w *CounterWaiter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	close(w.changed)
	return nil
}
