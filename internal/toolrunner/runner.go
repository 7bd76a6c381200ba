// Package toolrunner composes the shell sessions and the editor behind one
// tool-call surface and enforces the single-flight rule: one bash command
// per session at a time.
package toolrunner

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/blockwait/toolhost/internal/editor"
	"github.com/blockwait/toolhost/internal/logging"
	"github.com/blockwait/toolhost/internal/shared/id"
	"github.com/blockwait/toolhost/internal/shell"
	"github.com/blockwait/toolhost/internal/toolerr"
)

// Runner dispatches tool calls to the session manager and the editor.
type Runner struct {
	sessions *shell.Manager
	editor   *editor.Editor
	log      *logging.Logger

	mu      sync.Mutex
	flights map[id.SessionID]*sync.Mutex
}

// New creates a runner over a session manager and an editor.
func New(sessions *shell.Manager, ed *editor.Editor, log *logging.Logger) *Runner {
	return &Runner{
		sessions: sessions,
		editor:   ed,
		log:      log.Named("toolrunner"),
		flights:  make(map[id.SessionID]*sync.Mutex),
	}
}

// flightLock returns the per-session single-flight mutex.
func (r *Runner) flightLock(sid id.SessionID) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.flights[sid]
	if !ok {
		l = &sync.Mutex{}
		r.flights[sid] = l
	}
	return l
}

// RunBash runs a command in the session's shell, creating the session on
// first use. A call that arrives while another bash call is in flight on
// the same session fails fast with ErrBusy instead of queueing.
func (r *Runner) RunBash(ctx context.Context, sid id.SessionID, command string) (*shell.Result, error) {
	lock := r.flightLock(sid)
	if !lock.TryLock() {
		return nil, toolerr.ErrBusy
	}
	defer lock.Unlock()

	s, err := r.sessions.Acquire(sid)
	if err != nil {
		return nil, err
	}
	res, err := s.Run(ctx, command)
	if err != nil {
		r.log.Warn("bash command failed",
			zap.String("session_id", string(sid)),
			zap.Error(err),
		)
		return nil, err
	}
	return res, nil
}

// ReplyBash feeds input to a session whose command paused awaiting it. The
// session must already exist; replying to an unknown session is an error,
// not a spawn.
func (r *Runner) ReplyBash(ctx context.Context, sid id.SessionID, input string) (*shell.Result, error) {
	lock := r.flightLock(sid)
	if !lock.TryLock() {
		return nil, toolerr.ErrBusy
	}
	defer lock.Unlock()

	s, ok := r.sessions.Get(sid)
	if !ok {
		return nil, &toolerr.ProcessError{Op: "reply", Err: errors.New("no such session")}
	}
	return s.Reply(ctx, input)
}

// View returns a file's lines or a directory's entries.
func (r *Runner) View(path string, viewRange *editor.Range) (*editor.Snippet, error) {
	return r.editor.View(path, viewRange)
}

// Create writes a file's entire content.
func (r *Runner) Create(path, fileText string) error {
	return r.editor.Create(path, fileText)
}

// StrReplace replaces a unique occurrence of oldStr in a file.
func (r *Runner) StrReplace(path, oldStr, newStr string) (*editor.Snippet, error) {
	return r.editor.StrReplace(path, oldStr, newStr)
}

// Insert inserts a line after the given 1-based line number.
func (r *Runner) Insert(path string, insertLine int, text string) (*editor.Snippet, error) {
	return r.editor.Insert(path, insertLine, text)
}

// UndoEdit reverts the most recent edit to path.
func (r *Runner) UndoEdit(path string) (*editor.Snippet, bool, error) {
	return r.editor.UndoEdit(path)
}

// CloseSession tears down a session's shell. Reports false for unknown IDs.
func (r *Runner) CloseSession(sid id.SessionID) bool {
	closed := r.sessions.Close(sid)
	r.mu.Lock()
	delete(r.flights, sid)
	r.mu.Unlock()
	return closed
}

// Session returns the live session for sid, if any. Used by the streaming
// surface to attach observers.
func (r *Runner) Session(sid id.SessionID) (*shell.Session, bool) {
	return r.sessions.Get(sid)
}

// SessionCount reports the number of live shell sessions.
func (r *Runner) SessionCount() int {
	return r.sessions.Count()
}

// Shutdown closes every session.
func (r *Runner) Shutdown() {
	r.sessions.CloseAll()
}
