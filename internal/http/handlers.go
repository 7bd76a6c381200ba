// Package http exposes the tool-call surface over JSON endpoints.
package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/blockwait/toolhost/internal/editor"
	"github.com/blockwait/toolhost/internal/logging"
	"github.com/blockwait/toolhost/internal/monitoring"
	"github.com/blockwait/toolhost/internal/shared/id"
	"github.com/blockwait/toolhost/internal/toolerr"
	"github.com/blockwait/toolhost/internal/toolrunner"
)

// Handlers contains all HTTP handlers.
type Handlers struct {
	runner  *toolrunner.Runner
	metrics *monitoring.Metrics
	log     *logging.Logger
}

// NewHandlers creates a new handler set. metrics may be nil in tests.
func NewHandlers(runner *toolrunner.Runner, metrics *monitoring.Metrics, log *logging.Logger) *Handlers {
	return &Handlers{runner: runner, metrics: metrics, log: log.Named("http")}
}

// observe records one tool call outcome.
func (h *Handlers) observe(tool string, start time.Time, err error) {
	if h.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = toolerr.Kind(err)
	}
	h.metrics.ObserveTool(tool, outcome, time.Since(start))
	h.metrics.SessionsActive.Set(float64(h.runner.SessionCount()))
}

type bashRequest struct {
	SessionID string `json:"session_id" binding:"required"`
	Command   string `json:"command" binding:"required"`
}

type replyRequest struct {
	SessionID string `json:"session_id" binding:"required"`
	Input     string `json:"input"`
}

type editorRequest struct {
	Command    string  `json:"command" binding:"required"`
	Path       string  `json:"path" binding:"required"`
	FileText   *string `json:"file_text"`
	OldStr     *string `json:"old_str"`
	NewStr     *string `json:"new_str"`
	InsertLine *int    `json:"insert_line"`
	ViewRange  []int   `json:"view_range"`
}

// Root handles the banner endpoint.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "toolhost",
	})
}

// Health handles the health check.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"sessions": h.runner.SessionCount(),
	})
}

// ListTools serves the agent-facing tool catalog.
func (h *Handlers) ListTools(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"services": toolrunner.Services()})
}

// RunBash runs a bash command in a session, spawning the shell on first
// use.
func (h *Handlers) RunBash(c *gin.Context) {
	var req bashRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	start := time.Now()
	res, err := h.runner.RunBash(c.Request.Context(), id.SessionID(req.SessionID), req.Command)
	h.observe("bash", start, err)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id":     req.SessionID,
		"stdout":         res.Stdout,
		"stderr":         res.Stderr,
		"awaiting_input": res.AwaitingInput,
	})
}

// ReplyBash feeds input to a session whose command paused awaiting it.
func (h *Handlers) ReplyBash(c *gin.Context) {
	var req replyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	start := time.Now()
	res, err := h.runner.ReplyBash(c.Request.Context(), id.SessionID(req.SessionID), req.Input)
	h.observe("bash", start, err)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id":     req.SessionID,
		"stdout":         res.Stdout,
		"stderr":         res.Stderr,
		"awaiting_input": res.AwaitingInput,
	})
}

// RunEditor dispatches a text editor call on its command field.
func (h *Handlers) RunEditor(c *gin.Context) {
	var req editorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	switch req.Command {
	case "view":
		h.editorView(c, req)
	case "create":
		h.editorCreate(c, req)
	case "str_replace":
		h.editorStrReplace(c, req)
	case "insert":
		h.editorInsert(c, req)
	case "undo_edit":
		h.editorUndo(c, req)
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"kind":    "invalid_request",
				"message": "unknown editor command: " + req.Command,
			},
		})
	}
}

func (h *Handlers) editorView(c *gin.Context, req editorRequest) {
	var viewRange *editor.Range
	switch len(req.ViewRange) {
	case 0:
	case 2:
		viewRange = &editor.Range{Start: req.ViewRange[0], End: req.ViewRange[1]}
	default:
		h.fail(c, &toolerr.EditConflict{
			Kind: toolerr.InvalidRange, Path: req.Path,
			Detail: "view_range must be [start, end]",
		})
		return
	}

	start := time.Now()
	snippet, err := h.runner.View(req.Path, viewRange)
	h.observe("text_editor", start, err)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"snippet": snippet})
}

func (h *Handlers) editorCreate(c *gin.Context, req editorRequest) {
	if req.FileText == nil {
		h.missingParam(c, "file_text")
		return
	}
	start := time.Now()
	err := h.runner.Create(req.Path, *req.FileText)
	h.observe("text_editor", start, err)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"created": req.Path})
}

func (h *Handlers) editorStrReplace(c *gin.Context, req editorRequest) {
	if req.OldStr == nil {
		h.missingParam(c, "old_str")
		return
	}
	newStr := ""
	if req.NewStr != nil {
		newStr = *req.NewStr
	}
	start := time.Now()
	snippet, err := h.runner.StrReplace(req.Path, *req.OldStr, newStr)
	h.observe("text_editor", start, err)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"snippet": snippet})
}

func (h *Handlers) editorInsert(c *gin.Context, req editorRequest) {
	if req.InsertLine == nil {
		h.missingParam(c, "insert_line")
		return
	}
	if req.NewStr == nil {
		h.missingParam(c, "new_str")
		return
	}
	start := time.Now()
	snippet, err := h.runner.Insert(req.Path, *req.InsertLine, *req.NewStr)
	h.observe("text_editor", start, err)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"snippet": snippet})
}

func (h *Handlers) editorUndo(c *gin.Context, req editorRequest) {
	start := time.Now()
	snippet, deleted, err := h.runner.UndoEdit(req.Path)
	h.observe("text_editor", start, err)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"snippet": snippet, "deleted": deleted})
}

// CloseSession tears down a session's shell.
func (h *Handlers) CloseSession(c *gin.Context) {
	sid := c.Param("id")
	if !h.runner.CloseSession(id.SessionID(sid)) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": gin.H{
				"kind":    "not_found",
				"message": "no such session: " + sid,
			},
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"closed": sid})
}

func (h *Handlers) badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error": gin.H{
			"kind":    "invalid_request",
			"message": err.Error(),
		},
	})
}

func (h *Handlers) missingParam(c *gin.Context, name string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error": gin.H{
			"kind":    "invalid_request",
			"message": "missing required parameter: " + name,
		},
	})
}

// fail maps a tool error onto its HTTP status and wire kind.
func (h *Handlers) fail(c *gin.Context, err error) {
	c.JSON(toolerr.Status(err), gin.H{
		"error": gin.H{
			"kind":    toolerr.Kind(err),
			"message": err.Error(),
		},
	})
}
