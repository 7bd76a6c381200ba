// Package blockwait abstracts the host's "reader blocked on pipe" primitive.
//
// The host maintains a monotonic counter per pipe, incremented exactly once
// each time some reader begins blocking on a read from that pipe. A Waiter
// exposes the two-step handshake built on it: Snapshot reads the counter,
// WaitForChange suspends until the counter moves past the snapshot. Callers
// must snapshot before writing input; any blocking event triggered by that
// input is then guaranteed to be observed, with no window for it to slip
// between "write" and "wait".
//
// Three implementations are provided: PipeWaiter drives the host pipe ioctls,
// PollWaiter approximates the contract by polling pipe occupancy, and
// CounterWaiter is an in-memory counter for tests and for hosts that deliver
// block events out-of-band.
package blockwait

import (
	"context"
	"errors"
)

// ErrClosed is returned by Snapshot and WaitForChange after Close.
var ErrClosed = errors.New("blockwait: waiter closed")

// Waiter is the wait-for-block capability bound to one pipe.
//
// Spurious wakeups (counter unchanged) are handled inside WaitForChange and
// never surface to the caller. Close wakes pending waiters.
type Waiter interface {
	// Snapshot returns the current value of the block-event counter.
	Snapshot() (uint64, error)

	// WaitForChange suspends until the counter differs from token, the
	// context is cancelled, or the waiter is closed.
	WaitForChange(ctx context.Context, token uint64) error

	// Close releases the waiter and wakes any pending WaitForChange.
	Close() error
}
