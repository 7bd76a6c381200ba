// Package shell drives interactive bash children over plain pipes.
//
// Completion is detected with a per-invocation sentinel: the submitted
// command and an echo of a collision-resistant marker are written as a
// single shell line, so the shell parses the marker emission before any
// child process gets a chance to read stdin. When the marker shows up on
// stdout the command has finished; when a reader blocks on the session's
// input pipe without the marker having appeared, something downstream is
// waiting for input and the session pauses in the awaiting-input state.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/blockwait/toolhost/internal/blockwait"
	"github.com/blockwait/toolhost/internal/config"
	"github.com/blockwait/toolhost/internal/logging"
	"github.com/blockwait/toolhost/internal/toolerr"
)

// State is a session's position in its lifecycle.
type State string

const (
	// StateIdle means no command is in flight; Run may be called.
	StateIdle State = "idle"
	// StateRunning means a command was submitted and has not settled.
	StateRunning State = "running"
	// StateAwaitingInput means the in-flight command is blocked reading
	// stdin; Reply may be called.
	StateAwaitingInput State = "awaiting_input"
	// StateClosed means the shell child is gone.
	StateClosed State = "closed"
)

// drainInterval bounds how long output can sit in the pipes before being
// drained. Without a periodic drain a command writing more than the pipe
// capacity would fill its stdout and stall with no block event ever firing
// on the input pipe.
const drainInterval = 100 * time.Millisecond

// Result is what a settled or paused command produced. When AwaitingInput
// is set the output covers everything since the submission (or since the
// previous reply) and the caller is expected to follow up with Reply.
type Result struct {
	Stdout        string `json:"stdout"`
	Stderr        string `json:"stderr"`
	AwaitingInput bool   `json:"awaiting_input"`
}

// Session is one shell child plus the bookkeeping to run commands through
// it. Run, Reply and Close must not be called concurrently; the caller
// serializes tool calls per session.
type Session struct {
	stdin  *os.File
	stdout *os.File
	stderr *os.File

	stdoutFD int
	stderrFD int

	waiter blockwait.Waiter
	log    *logging.Logger

	mu        sync.Mutex
	state     State
	marker    string
	stdoutBuf bytes.Buffer
	stderrBuf bytes.Buffer
	observers map[chan []byte]struct{}

	exited  chan struct{}
	exitErr error
	exitMu  sync.Mutex

	closeOnce sync.Once
	proc      *os.Process
}

// NewSession launches the configured shell and binds a block waiter to its
// input pipe.
func NewSession(cfg config.ShellConfig, log *logging.Logger) (*Session, error) {
	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, &toolerr.ProcessError{Op: "spawn", Err: err}
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		return nil, &toolerr.ProcessError{Op: "spawn", Err: err}
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		stdoutR.Close()
		stdoutW.Close()
		return nil, &toolerr.ProcessError{Op: "spawn", Err: err}
	}

	cmd := exec.Command(cfg.Command)
	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		stdinR.Close()
		stdinW.Close()
		stdoutR.Close()
		stdoutW.Close()
		stderrR.Close()
		stderrW.Close()
		return nil, &toolerr.ProcessError{Op: "spawn", Err: err}
	}
	// Child ends belong to the child now.
	stdinR.Close()
	stdoutW.Close()
	stderrW.Close()

	var waiter blockwait.Waiter
	switch cfg.WaitMode {
	case "poll":
		waiter = blockwait.NewPollWaiter(int(stdinW.Fd()))
	default:
		waiter = blockwait.NewPipeWaiter(int(stdinW.Fd()))
	}

	s, err := NewPipeSession(stdinW, stdoutR, stderrR, waiter, log)
	if err != nil {
		cmd.Process.Kill()
		stdinW.Close()
		stdoutR.Close()
		stderrR.Close()
		return nil, err
	}
	s.proc = cmd.Process

	go func() {
		err := cmd.Wait()
		s.markExited(err)
	}()

	log.Info("shell session started",
		zap.String("command", cfg.Command),
		zap.String("wait_mode", cfg.WaitMode),
	)
	return s, nil
}

// NewPipeSession assembles a session around already-open pipe ends. The
// stdout and stderr read ends are switched to non-blocking mode so drains
// can stop at EAGAIN instead of stalling. NewSession uses this after
// spawning a shell; tests use it to script the child side directly.
func NewPipeSession(stdin, stdout, stderr *os.File, waiter blockwait.Waiter, log *logging.Logger) (*Session, error) {
	stdoutFD := int(stdout.Fd())
	stderrFD := int(stderr.Fd())
	if err := unix.SetNonblock(stdoutFD, true); err != nil {
		return nil, &toolerr.ProcessError{Op: "spawn", Err: err}
	}
	if err := unix.SetNonblock(stderrFD, true); err != nil {
		return nil, &toolerr.ProcessError{Op: "spawn", Err: err}
	}
	return &Session{
		stdin:     stdin,
		stdout:    stdout,
		stderr:    stderr,
		stdoutFD:  stdoutFD,
		stderrFD:  stderrFD,
		waiter:    waiter,
		log:       log,
		state:     StateIdle,
		observers: make(map[chan []byte]struct{}),
		exited:    make(chan struct{}),
	}, nil
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Run submits a command and blocks until it settles: either the command
// finishes (marker seen, session back to idle) or something downstream
// blocks on stdin (session pauses awaiting input).
func (s *Session) Run(ctx context.Context, command string) (*Result, error) {
	s.mu.Lock()
	if s.state != StateIdle {
		state := s.state
		s.mu.Unlock()
		return nil, &toolerr.ProcessError{Op: "run", Err: fmt.Errorf("session is %s, not idle", state)}
	}
	s.state = StateRunning
	s.marker = "__TOOLHOST_DONE_" + uuid.NewString() + "__"
	s.stdoutBuf.Reset()
	s.stderrBuf.Reset()
	line := command + "; echo " + s.marker + "\n"
	s.mu.Unlock()

	// The baseline token is taken before the write so any block event the
	// submission causes is observable.
	token, err := s.waiter.Snapshot()
	if err != nil {
		return nil, s.exitedError(err)
	}
	if err := s.writeStdin(line); err != nil {
		return nil, err
	}
	return s.await(ctx, token)
}

// Reply feeds one line of input to a command that paused awaiting it, then
// blocks until the command settles again.
func (s *Session) Reply(ctx context.Context, input string) (*Result, error) {
	s.mu.Lock()
	if s.state != StateAwaitingInput {
		state := s.state
		s.mu.Unlock()
		return nil, &toolerr.ProcessError{Op: "reply", Err: fmt.Errorf("session is %s, not awaiting input", state)}
	}
	s.state = StateRunning
	s.stdoutBuf.Reset()
	s.stderrBuf.Reset()
	s.mu.Unlock()

	token, err := s.waiter.Snapshot()
	if err != nil {
		return nil, s.exitedError(err)
	}
	if err := s.writeStdin(input + "\n"); err != nil {
		return nil, err
	}
	return s.await(ctx, token)
}

// await is the settle loop shared by Run and Reply. token is the waiter
// snapshot taken before the triggering write; holding on to it across
// passes means no block event after the write can be lost, however early it
// fires.
func (s *Session) await(ctx context.Context, token uint64) (*Result, error) {
	for {
		if err := s.drain(); err != nil {
			return nil, s.exitedError(err)
		}
		if res := s.completed(); res != nil {
			// The marker surfaced on a drain pass, so the block event the
			// shell raised when it went back to reading commands is still
			// pending. Absorb it here; left behind, it would wake the next
			// invocation's wait and misreport a running command as paused.
			// The result is already settled, so a wait failure is not
			// surfaced; waiter close on child exit wakes it.
			_ = s.waiter.WaitForChange(ctx, token)
			return res, nil
		}

		waitCtx, cancel := context.WithTimeout(ctx, drainInterval)
		err := s.waiter.WaitForChange(waitCtx, token)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				// The caller gave up on a command that is still in
				// flight; the shell's stdin stream can no longer be
				// reconciled, so tear the session down.
				s.Close()
				return nil, &toolerr.ProcessError{Op: "wait", Err: ctx.Err()}
			}
			if errors.Is(err, context.DeadlineExceeded) {
				continue // periodic drain pass
			}
			return nil, s.exitedError(err)
		}

		// A reader blocked on the input pipe. Either the shell finished
		// the line and is back reading commands (marker present), or a
		// child wants input.
		if err := s.drain(); err != nil {
			return nil, s.exitedError(err)
		}
		if res := s.completed(); res != nil {
			return res, nil
		}
		return s.pause(), nil
	}
}

// completed strips the sentinel from the buffered stdout and returns the
// settled result, or nil if the marker has not appeared yet.
func (s *Session) completed() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.marker == "" {
		return nil
	}
	out := s.stdoutBuf.String()
	idx := strings.Index(out, s.marker)
	if idx < 0 {
		return nil
	}
	rest := strings.TrimPrefix(out[idx+len(s.marker):], "\n")

	s.state = StateIdle
	s.marker = ""
	res := &Result{
		Stdout: out[:idx] + rest,
		Stderr: s.stderrBuf.String(),
	}
	s.stdoutBuf.Reset()
	s.stderrBuf.Reset()
	return res
}

// pause flips the session to awaiting-input and hands back everything
// drained so far. The buffers reset so a later Reply reports only the
// output it caused.
func (s *Session) pause() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = StateAwaitingInput
	res := &Result{
		Stdout:        s.stdoutBuf.String(),
		Stderr:        s.stderrBuf.String(),
		AwaitingInput: true,
	}
	s.stdoutBuf.Reset()
	s.stderrBuf.Reset()
	return res
}

// drain moves everything currently readable from the output pipes into the
// session buffers, stopping at EAGAIN.
func (s *Session) drain() error {
	if err := s.drainFD(s.stdoutFD, &s.stdoutBuf); err != nil {
		return err
	}
	return s.drainFD(s.stderrFD, &s.stderrBuf)
}

func (s *Session) drainFD(fd int, buf *bytes.Buffer) error {
	tmp := make([]byte, 4096)
	for {
		n, err := unix.Read(fd, tmp)
		if n > 0 {
			s.mu.Lock()
			buf.Write(tmp[:n])
			s.publish(tmp[:n])
			s.mu.Unlock()
		}
		if err != nil {
			if err == unix.EAGAIN {
				return nil
			}
			if err == unix.EINTR {
				continue
			}
			return err
		}
		if n == 0 {
			// EOF: the child closed its end.
			return nil
		}
	}
}

func (s *Session) writeStdin(line string) error {
	if _, err := s.stdin.Write([]byte(line)); err != nil {
		return s.exitedError(err)
	}
	return nil
}

// exitedError folds pipe and waiter failures into a process error, using
// the child's exit status when it is already known.
func (s *Session) exitedError(cause error) error {
	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()

	select {
	case <-s.exited:
		s.exitMu.Lock()
		exitErr := s.exitErr
		s.exitMu.Unlock()
		if exitErr != nil {
			return &toolerr.ProcessError{Op: "wait", Err: fmt.Errorf("shell exited: %w", exitErr)}
		}
		return &toolerr.ProcessError{Op: "wait", Err: errors.New("shell exited")}
	default:
		return &toolerr.ProcessError{Op: "read", Err: cause}
	}
}

// markExited records the child's exit and wakes anything blocked in await.
func (s *Session) markExited(err error) {
	s.exitMu.Lock()
	select {
	case <-s.exited:
		s.exitMu.Unlock()
		return
	default:
	}
	s.exitErr = err
	close(s.exited)
	s.exitMu.Unlock()

	s.waiter.Close()
}

// Subscribe registers an observer that receives raw drained output. Slow
// observers miss chunks rather than stalling the drain.
func (s *Session) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, 64)
	s.mu.Lock()
	s.observers[ch] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.observers[ch]; ok {
			delete(s.observers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// publish fans a drained chunk out to observers. Callers hold s.mu.
func (s *Session) publish(chunk []byte) {
	if len(s.observers) == 0 {
		return
	}
	out := make([]byte, len(chunk))
	copy(out, chunk)
	for ch := range s.observers {
		select {
		case ch <- out:
		default:
		}
	}
}

// Close tears the session down: the child is killed, the pipes are closed
// and any blocked waiter wakes up.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		for ch := range s.observers {
			delete(s.observers, ch)
			close(ch)
		}
		s.mu.Unlock()

		if s.proc != nil {
			s.proc.Kill()
		}
		s.waiter.Close()
		s.stdin.Close()
		s.stdout.Close()
		s.stderr.Close()
	})
	return nil
}
