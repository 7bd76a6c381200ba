//go:build linux

package blockwait

import (
	"context"
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Host-assigned ioctl request codes for the patched pipe driver. The first
// reads the pipe's block-event counter; the second suspends the caller until
// the counter passes the supplied baseline. The driver wakes all waiters
// when the pipe is closed.
const (
	ioctlGetBlockCount = 0x800852E9
	ioctlWaitBlockFrom = 0x400852EA
)

// PipeWaiter implements Waiter over the host pipe ioctls. It is bound to the
// fd of the pipe whose reader is the shell; it does not own the fd, which
// stays with the session that owns the pipe.
type PipeWaiter struct {
	fd int

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewPipeWaiter binds a waiter to a pipe file descriptor.
func NewPipeWaiter(fd int) *PipeWaiter {
	return &PipeWaiter{fd: fd, done: make(chan struct{})}
}

// Snapshot reads the pipe's current block-event counter.
func (w *PipeWaiter) Snapshot() (uint64, error) {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return 0, ErrClosed
	}

	var counter uint64
	if err := w.ioctl(ioctlGetBlockCount, &counter); err != nil {
		return 0, fmt.Errorf("read block counter: %w", err)
	}
	return counter, nil
}

// WaitForChange issues the blocking wait ioctl on its own goroutine so the
// call stays cancellable. A wakeup that finds the counter still at token is
// spurious and re-awaited.
func (w *PipeWaiter) WaitForChange(ctx context.Context, token uint64) error {
	for {
		w.mu.Lock()
		closed := w.closed
		w.mu.Unlock()
		if closed {
			return ErrClosed
		}

		errCh := make(chan error, 1)
		go func() {
			baseline := token
			errCh <- w.ioctl(ioctlWaitBlockFrom, &baseline)
		}()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.done:
			return ErrClosed
		case err := <-errCh:
			if err == unix.EINTR {
				continue
			}
			if err != nil {
				return fmt.Errorf("wait for block event: %w", err)
			}
		}

		current, err := w.Snapshot()
		if err != nil {
			return err
		}
		if current != token {
			return nil
		}
		// Counter unchanged: the wakeup was spurious.
	}
}

// Close invalidates the waiter and releases pending waits on our side. The
// blocked ioctl itself is woken by the host when the session closes its
// pipe, which the owning session does before calling Close.
func (w *PipeWaiter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	close(w.done)
	return nil
}

func (w *PipeWaiter) ioctl(req uint, arg *uint64) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(w.fd), uintptr(req), uintptr(unsafe.Pointer(arg)))
	if errno != 0 {
		return errno
	}
	return nil
}
