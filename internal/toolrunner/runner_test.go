package toolrunner

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockwait/toolhost/internal/blockwait"
	"github.com/blockwait/toolhost/internal/editor"
	"github.com/blockwait/toolhost/internal/logging"
	"github.com/blockwait/toolhost/internal/shell"
	"github.com/blockwait/toolhost/internal/toolerr"
)

// scriptedShell is the child side of a piped session: it reads submitted
// lines and answers according to the test's script.
type scriptedShell struct {
	stdin  *bufio.Reader
	stdout *os.File
	waiter *blockwait.CounterWaiter
}

func (f *scriptedShell) finishNext() {
	line, err := f.stdin.ReadString('\n')
	if err != nil {
		return
	}
	line = strings.TrimSuffix(line, "\n")
	marker := line[strings.LastIndex(line, "; echo ")+len("; echo "):]
	f.stdout.WriteString("ok\n" + marker + "\n")
	f.waiter.Bump()
}

func newScriptedRunner(t *testing.T) (*Runner, chan *scriptedShell) {
	t.Helper()

	shells := make(chan *scriptedShell, 8)
	factory := func() (*shell.Session, error) {
		stdinR, stdinW, err := os.Pipe()
		require.NoError(t, err)
		stdoutR, stdoutW, err := os.Pipe()
		require.NoError(t, err)
		stderrR, stderrW, err := os.Pipe()
		require.NoError(t, err)

		waiter := blockwait.NewCounterWaiter()
		s, err := shell.NewPipeSession(stdinW, stdoutR, stderrR, waiter, logging.Nop())
		require.NoError(t, err)
		t.Cleanup(func() {
			s.Close()
			stdinR.Close()
			stdoutW.Close()
			stderrW.Close()
		})
		shells <- &scriptedShell{
			stdin:  bufio.NewReader(stdinR),
			stdout: stdoutW,
			waiter: waiter,
		}
		return s, nil
	}

	manager := shell.NewManagerWithFactory(factory, logging.Nop())
	r := New(manager, editor.New(), logging.Nop())
	t.Cleanup(r.Shutdown)
	return r, shells
}

func TestRunBashCreatesSessionAndRuns(t *testing.T) {
	r, shells := newScriptedRunner(t)

	go func() {
		f := <-shells
		f.finishNext()
	}()

	res, err := r.RunBash(context.Background(), "sess_a", "echo ok")
	require.NoError(t, err)
	assert.Equal(t, "ok\n", res.Stdout)
	assert.Equal(t, 1, r.SessionCount())
}

func TestSecondBashCallOnBusySessionIsRejected(t *testing.T) {
	r, shells := newScriptedRunner(t)

	submitted := make(chan *scriptedShell)
	go func() {
		f := <-shells
		// Hold the command in flight until the test saw the rejection.
		line, err := f.stdin.ReadString('\n')
		if err != nil {
			return
		}
		marker := strings.TrimSuffix(line[strings.LastIndex(line, "; echo ")+len("; echo "):], "\n")
		submitted <- f
		<-submitted
		f.stdout.WriteString(marker + "\n")
		f.waiter.Bump()
	}()

	firstDone := make(chan error, 1)
	go func() {
		_, err := r.RunBash(context.Background(), "sess_a", "sleep 60")
		firstDone <- err
	}()

	f := <-submitted

	_, err := r.RunBash(context.Background(), "sess_a", "echo nope")
	assert.ErrorIs(t, err, toolerr.ErrBusy)

	submitted <- f
	require.NoError(t, <-firstDone)

	// The flight settled, so the session accepts commands again.
	go func() { f.finishNext() }()
	_, err = r.RunBash(context.Background(), "sess_a", "echo again")
	require.NoError(t, err)
}

func TestBusyIsPerSession(t *testing.T) {
	r, shells := newScriptedRunner(t)

	go func() {
		for f := range shells {
			go f.finishNext()
		}
	}()

	_, err := r.RunBash(context.Background(), "sess_a", "true")
	require.NoError(t, err)
	_, err = r.RunBash(context.Background(), "sess_b", "true")
	require.NoError(t, err)
	assert.Equal(t, 2, r.SessionCount())
}

func TestReplyToUnknownSessionFails(t *testing.T) {
	r, _ := newScriptedRunner(t)

	_, err := r.ReplyBash(context.Background(), "sess_missing", "y")
	var procErr *toolerr.ProcessError
	require.ErrorAs(t, err, &procErr)
	assert.Equal(t, 0, r.SessionCount())
}

func TestCloseSession(t *testing.T) {
	r, shells := newScriptedRunner(t)

	go func() {
		f := <-shells
		f.finishNext()
	}()

	_, err := r.RunBash(context.Background(), "sess_a", "true")
	require.NoError(t, err)

	assert.True(t, r.CloseSession("sess_a"))
	assert.False(t, r.CloseSession("sess_a"))
	assert.Equal(t, 0, r.SessionCount())
}

func TestEditorRoundTripThroughRunner(t *testing.T) {
	r, _ := newScriptedRunner(t)
	path := filepath.Join(t.TempDir(), "file.txt")

	require.NoError(t, r.Create(path, "alpha\nbeta"))

	snippet, err := r.View(path, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, snippet.Lines)

	snippet, err = r.StrReplace(path, "beta", "gamma")
	require.NoError(t, err)
	assert.Contains(t, snippet.Lines, "gamma")

	_, err = r.Insert(path, 0, "zero")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, _, err = r.UndoEdit(path)
		require.NoError(t, err)
	}
	snippet, err = r.View(path, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, snippet.Lines)
}

func TestServicesCatalog(t *testing.T) {
	services := Services()
	require.Len(t, services, 1)

	toolIDs := make([]string, 0, 2)
	for _, tool := range services[0].Tools {
		toolIDs = append(toolIDs, tool.ID)
	}
	assert.ElementsMatch(t, []string{"bash", "text_editor"}, toolIDs)

	for _, tool := range services[0].Tools {
		if tool.ID != "text_editor" {
			continue
		}
		for _, p := range tool.Parameters {
			if p.Name == "command" {
				assert.ElementsMatch(t,
					[]string{"view", "create", "str_replace", "insert", "undo_edit"},
					p.Enum,
				)
			}
		}
	}
}

// Guard against the editor path ever taking the bash flight lock.
func TestEditorCallsDoNotContendWithBash(t *testing.T) {
	r, shells := newScriptedRunner(t)

	started := make(chan struct{})
	go func() {
		f := <-shells
		if _, err := f.stdin.ReadString('\n'); err != nil {
			return
		}
		close(started)
		// Never settle; the cleanup closes the session.
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go r.RunBash(ctx, "sess_a", "sleep 60")
	<-started

	path := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, r.Create(path, "content"))
}
