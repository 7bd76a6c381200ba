package blockwait

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

const (
	pollInterval = 25 * time.Millisecond
	// settlePolls is how many consecutive empty polls count as "the reader
	// has drained its input and blocked".
	settlePolls = 2
)

// PollWaiter approximates the wait-for-block contract on hosts without the
// pipe ioctls. It watches the write end of the shell's input pipe with
// TIOCINQ: once the pipe drains and stays drained, the reader must be
// blocked on its next read, so a synthetic block event is recorded.
//
// This is a degraded fallback: it cannot see blocking reads that happen
// without pending input (it synthesizes those on the same drained-pipe
// evidence), and detection latency is bounded by the poll interval.
type PollWaiter struct {
	fd int

	mu      sync.Mutex
	counter uint64
	closed  bool
	done    chan struct{}
}

// NewPollWaiter binds a polling waiter to the write end of a pipe.
func NewPollWaiter(fd int) *PollWaiter {
	return &PollWaiter{fd: fd, done: make(chan struct{})}
}

// Snapshot returns the synthetic block-event counter.
func (w *PollWaiter) Snapshot() (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, ErrClosed
	}
	return w.counter, nil
}

// WaitForChange polls the pipe until a synthetic block event moves the
// counter past token.
func (w *PollWaiter) WaitForChange(ctx context.Context, token uint64) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	empty := 0
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
		w.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.done:
			return ErrClosed
		case <-ticker.C:
		}

		// TIOCINQ is Linux's FIONREAD: bytes sitting unread in the pipe.
		pending, err := unix.IoctlGetInt(w.fd, unix.TIOCINQ)
		if err != nil {
			return fmt.Errorf("poll pipe occupancy: %w", err)
		}
		if pending > 0 {
			empty = 0
			continue
		}
		empty++
		if empty >= settlePolls {
			w.mu.Lock()
			w.counter++
			w.mu.Unlock()
			return nil
		}
	}
}

// Close invalidates the waiter and wakes pending waits.
func (w *PollWaiter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	close(w.done)
	return nil
}
