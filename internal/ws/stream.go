// Package ws streams live session output to WebSocket observers.
package ws

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/blockwait/toolhost/internal/logging"
	"github.com/blockwait/toolhost/internal/shared/id"
	"github.com/blockwait/toolhost/internal/toolrunner"
)

const writeTimeout = 10 * time.Second

// Handler upgrades observers onto session output streams.
type Handler struct {
	runner   *toolrunner.Runner
	log      *logging.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a stream handler.
func NewHandler(runner *toolrunner.Runner, log *logging.Logger) *Handler {
	return &Handler{
		runner: runner,
		log:    log.Named("ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Stream attaches the caller to a session's raw output. Observation is
// best-effort: a slow client misses chunks rather than stalling the
// session.
func (h *Handler) Stream(c *gin.Context) {
	sid := id.SessionID(c.Param("id"))
	session, ok := h.runner.Session(sid)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error": gin.H{
				"kind":    "not_found",
				"message": "no such session: " + string(sid),
			},
		})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	chunks, cancel := session.Subscribe()
	defer cancel()

	// Reader goroutine notices the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	h.log.Info("observer attached", zap.String("session_id", string(sid)))
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				// Session closed.
				conn.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"),
					time.Now().Add(writeTimeout),
				)
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}
