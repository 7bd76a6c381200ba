// Package editor implements line-exact file mutations with per-path undo
// history: view, create, str_replace, insert and undo_edit.
//
// Every mutating operation pushes the file's prior content (or a
// did-not-exist marker) onto that path's history stack before touching the
// file, and a failed operation leaves the file byte-identical to before the
// call. Operations on a single path are serialized by a per-path lock;
// different paths proceed in parallel. The history map lives for the process
// lifetime.
package editor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blockwait/toolhost/internal/toolerr"
)

// revision is one history entry: the file content before a mutation, or the
// fact that the file did not exist.
type revision struct {
	content string
	existed bool
}

// Range selects lines start through end, 1-based inclusive. End == -1 means
// through the end of the file.
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Editor performs file operations and keeps the undo history.
type Editor struct {
	mu      sync.Mutex
	history map[string][]revision
	locks   map[string]*sync.Mutex
}

// New creates an Editor with empty history.
func New() *Editor {
	return &Editor{
		history: make(map[string][]revision),
		locks:   make(map[string]*sync.Mutex),
	}
}

// pathLock returns the mutex serializing operations on path.
func (e *Editor) pathLock(path string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[path]
	if !ok {
		l = &sync.Mutex{}
		e.locks[path] = l
	}
	return l
}

// resolvePath validates that path is absolute and cleans it.
func resolvePath(path string) (string, error) {
	if !filepath.IsAbs(path) {
		return "", &toolerr.PathError{Path: path, Reason: "must be absolute"}
	}
	return filepath.Clean(path), nil
}

// readFile loads path, translating OS errors into PathError.
func readFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", &toolerr.PathError{Path: path, Reason: "no such file", Err: err}
		}
		return "", &toolerr.PathError{Path: path, Reason: "cannot read", Err: err}
	}
	return string(data), nil
}

// View returns a directory's entries (one level, sorted) or a file's lines.
// A nil viewRange means the whole file.
func (e *Editor) View(path string, viewRange *Range) (*Snippet, error) {
	path, err := resolvePath(path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &toolerr.PathError{Path: path, Reason: "no such file or directory", Err: err}
		}
		return nil, &toolerr.PathError{Path: path, Reason: "cannot stat", Err: err}
	}

	if info.IsDir() {
		if viewRange != nil {
			return nil, &toolerr.EditConflict{
				Kind: toolerr.InvalidRange, Path: path,
				Detail: "view_range is not allowed on directories",
			}
		}
		return e.viewDir(path)
	}

	content, err := readFile(path)
	if err != nil {
		return nil, err
	}
	if viewRange == nil {
		return wholeSnippet(content), nil
	}

	lines := splitLines(content)
	start, end := viewRange.Start, viewRange.End
	switch {
	case start < 1:
		return nil, invalidRange(path, "start line %d is before the first line", start)
	case start > len(lines):
		return nil, invalidRange(path, "start line %d is past the last line (%d)", start, len(lines))
	case end != -1 && end < start:
		return nil, invalidRange(path, "end line %d is before start line %d", end, start)
	}
	if end == -1 || end > len(lines) {
		end = len(lines)
	}
	return &Snippet{Start: start, Lines: lines[start-1 : end]}, nil
}

func (e *Editor) viewDir(path string) (*Snippet, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, &toolerr.PathError{Path: path, Reason: "cannot list directory", Err: err}
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return &Snippet{Start: 1, Lines: names}, nil
}

// Create writes fileText as the file's entire content, creating or
// overwriting it, and records the prior state for undo.
func (e *Editor) Create(path, fileText string) error {
	path, err := resolvePath(path)
	if err != nil {
		return err
	}

	lock := e.pathLock(path)
	lock.Lock()
	defer lock.Unlock()

	prior := revision{existed: false}
	if info, err := os.Stat(path); err == nil {
		if info.IsDir() {
			return &toolerr.PathError{Path: path, Reason: "is a directory"}
		}
		content, err := readFile(path)
		if err != nil {
			return err
		}
		prior = revision{content: content, existed: true}
	}

	if err := os.WriteFile(path, []byte(fileText), 0o644); err != nil {
		return &toolerr.PathError{Path: path, Reason: "cannot write", Err: err}
	}
	e.push(path, prior)
	return nil
}

// StrReplace replaces a unique occurrence of oldStr with newStr and returns
// a context snippet around the change. Zero occurrences fail with NoMatch,
// two or more with AmbiguousMatch; the file is untouched in both cases.
func (e *Editor) StrReplace(path, oldStr, newStr string) (*Snippet, error) {
	path, err := resolvePath(path)
	if err != nil {
		return nil, err
	}

	lock := e.pathLock(path)
	lock.Lock()
	defer lock.Unlock()

	content, err := readFile(path)
	if err != nil {
		return nil, err
	}

	if oldStr == "" {
		return nil, &toolerr.EditConflict{
			Kind: toolerr.NoMatch, Path: path,
			Detail: "old_str must not be empty",
		}
	}
	switch n := strings.Count(content, oldStr); {
	case n == 0:
		return nil, &toolerr.EditConflict{
			Kind: toolerr.NoMatch, Path: path,
			Detail: "old_str was not found in the file",
		}
	case n > 1:
		return nil, &toolerr.EditConflict{
			Kind: toolerr.AmbiguousMatch, Path: path,
			Detail: fmt.Sprintf("old_str occurs %d times; include more surrounding context to make it unique", n),
		}
	}

	idx := strings.Index(content, oldStr)
	updated := content[:idx] + newStr + content[idx+len(oldStr):]

	first := lineOfIndex(updated, idx)
	last := first + strings.Count(newStr, "\n")

	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		return nil, &toolerr.PathError{Path: path, Reason: "cannot write", Err: err}
	}
	e.push(path, revision{content: content, existed: true})
	return contextSnippet(updated, first, last), nil
}

// Insert inserts text as a new line immediately after the 1-based
// lineNumber; zero inserts before the first line. Returns a context snippet
// around the insertion.
func (e *Editor) Insert(path string, lineNumber int, text string) (*Snippet, error) {
	path, err := resolvePath(path)
	if err != nil {
		return nil, err
	}

	lock := e.pathLock(path)
	lock.Lock()
	defer lock.Unlock()

	content, err := readFile(path)
	if err != nil {
		return nil, err
	}

	lines := splitLines(content)
	count := len(lines)
	if count > 1 && lines[count-1] == "" {
		// Trailing newline: the empty tail is not an insertable position.
		count--
	}
	if lineNumber < 0 {
		return nil, invalidRange(path, "insert_line %d is negative", lineNumber)
	}
	if lineNumber > count {
		return nil, invalidRange(path, "insert_line %d is past the last line (%d)", lineNumber, count)
	}

	inserted := make([]string, 0, len(lines)+1)
	inserted = append(inserted, lines[:lineNumber]...)
	inserted = append(inserted, text)
	inserted = append(inserted, lines[lineNumber:]...)
	updated := strings.Join(inserted, "\n")

	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		return nil, &toolerr.PathError{Path: path, Reason: "cannot write", Err: err}
	}
	e.push(path, revision{content: content, existed: true})

	first := lineNumber + 1
	last := first + strings.Count(text, "\n")
	return contextSnippet(updated, first, last), nil
}

// UndoEdit pops the most recent history entry for path and restores it.
// deleted reports that the popped entry was the did-not-exist marker and
// the file was removed.
func (e *Editor) UndoEdit(path string) (snippet *Snippet, deleted bool, err error) {
	path, err = resolvePath(path)
	if err != nil {
		return nil, false, err
	}

	lock := e.pathLock(path)
	lock.Lock()
	defer lock.Unlock()

	prior, ok := e.pop(path)
	if !ok {
		return nil, false, &toolerr.EditConflict{
			Kind: toolerr.NoHistory, Path: path,
			Detail: "no edit history for this path",
		}
	}

	if !prior.existed {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			e.push(path, prior)
			return nil, false, &toolerr.PathError{Path: path, Reason: "cannot remove", Err: err}
		}
		return nil, true, nil
	}

	if err := os.WriteFile(path, []byte(prior.content), 0o644); err != nil {
		// Keep the entry so a later undo can still restore it.
		e.push(path, prior)
		return nil, false, &toolerr.PathError{Path: path, Reason: "cannot write", Err: err}
	}
	return wholeSnippet(prior.content), false, nil
}

// HistoryDepth returns the number of undoable operations recorded for path.
func (e *Editor) HistoryDepth(path string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.history[filepath.Clean(path)])
}

func (e *Editor) push(path string, rev revision) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history[path] = append(e.history[path], rev)
}

func (e *Editor) pop(path string) (revision, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	stack := e.history[path]
	if len(stack) == 0 {
		return revision{}, false
	}
	rev := stack[len(stack)-1]
	e.history[path] = stack[:len(stack)-1]
	return rev, true
}

func invalidRange(path, format string, args ...interface{}) error {
	return &toolerr.EditConflict{
		Kind: toolerr.InvalidRange, Path: path,
		Detail: fmt.Sprintf(format, args...),
	}
}
