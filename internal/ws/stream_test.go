package ws

import (
	"bufio"
	"context"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockwait/toolhost/internal/blockwait"
	"github.com/blockwait/toolhost/internal/editor"
	"github.com/blockwait/toolhost/internal/logging"
	"github.com/blockwait/toolhost/internal/shell"
	"github.com/blockwait/toolhost/internal/toolrunner"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestStreamRelaysSessionOutput(t *testing.T) {
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

		go func() {
			reader := bufio.NewReader(stdinR)
			for {
				line, err := reader.ReadString('\n')
				if err != nil {
					return
				}
				line = strings.TrimSuffix(line, "\n")
				marker := line[strings.LastIndex(line, "; echo ")+len("; echo "):]
				stdoutW.WriteString("observed\n" + marker + "\n")
				waiter.Bump()
			}
		}()
		return s, nil
	}

	manager := shell.NewManagerWithFactory(factory, logging.Nop())
	runner := toolrunner.New(manager, editor.New(), logging.Nop())
	t.Cleanup(runner.Shutdown)

	router := gin.New()
	handler := NewHandler(runner, logging.Nop())
	router.GET("/sessions/:id/stream", handler.Stream)

	// The session must exist before an observer can attach.
	_, err := runner.RunBash(context.Background(), "sess_a", "true")
	require.NoError(t, err)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/sessions/sess_a/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	go runner.RunBash(context.Background(), "sess_a", "echo observed")

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), "observed")
}
