// Package toolerr defines the structured failure taxonomy surfaced by the
// tool-call boundary.
//
// Every failure a tool operation can produce falls into one of four families:
//   - ProcessError: the shell child could not be spawned, died mid-command,
//     or its pipes failed
//   - PathError: a path could not be resolved (missing, wrong type, permission)
//   - EditConflict: an edit precondition failed (NoMatch, AmbiguousMatch,
//     InvalidRange, NoHistory); the file is left byte-identical
//   - Busy: a second bash call arrived while one was already in flight
//
// Handlers map each family to an HTTP status via Status.
package toolerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Conflict identifies the precise edit precondition that failed.
type Conflict string

const (
	NoMatch        Conflict = "no_match"
	AmbiguousMatch Conflict = "ambiguous_match"
	InvalidRange   Conflict = "invalid_range"
	NoHistory      Conflict = "no_history"
)

// ProcessError reports a shell child spawn or IO failure.
type ProcessError struct {
	Op  string // "spawn", "write", "read", "wait"
	Err error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("process %s: %v", e.Op, e.Err)
}

func (e *ProcessError) Unwrap() error { return e.Err }

// PathError reports a path that could not be used: not absolute, not found,
// wrong type, or permission denied.
type PathError struct {
	Path   string
	Reason string
	Err    error
}

func (e *PathError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("path %q: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("path %q: %s", e.Path, e.Reason)
}

func (e *PathError) Unwrap() error { return e.Err }

// EditConflict reports a failed edit precondition. The target file is
// untouched when one of these is returned.
type EditConflict struct {
	Kind   Conflict
	Path   string
	Detail string
}

func (e *EditConflict) Error() string {
	return fmt.Sprintf("%s on %q: %s", e.Kind, e.Path, e.Detail)
}

// ErrBusy rejects a concurrent bash call on a session that already has one
// in flight. Callers must retry after the current command settles.
var ErrBusy = errors.New("session busy: a bash command is already in flight")

// Status maps an error to the HTTP status code the handlers respond with.
func Status(err error) int {
	var pathErr *PathError
	var conflict *EditConflict

	switch {
	case errors.Is(err, ErrBusy):
		return http.StatusConflict
	case errors.As(err, &conflict):
		switch conflict.Kind {
		case NoMatch, NoHistory:
			return http.StatusNotFound
		default:
			return http.StatusBadRequest
		}
	case errors.As(err, &pathErr):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Kind returns the wire identifier for an error, used in JSON error bodies.
func Kind(err error) string {
	var procErr *ProcessError
	var pathErr *PathError
	var conflict *EditConflict

	switch {
	case errors.Is(err, ErrBusy):
		return "busy"
	case errors.As(err, &conflict):
		return string(conflict.Kind)
	case errors.As(err, &pathErr):
		return "path_error"
	case errors.As(err, &procErr):
		return "process_error"
	default:
		return "internal"
	}
}
