// Package server wires the tool runner, handlers and middleware into one
// HTTP server.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/blockwait/toolhost/internal/api/middleware"
	"github.com/blockwait/toolhost/internal/config"
	"github.com/blockwait/toolhost/internal/editor"
	toolhttp "github.com/blockwait/toolhost/internal/http"
	"github.com/blockwait/toolhost/internal/logging"
	"github.com/blockwait/toolhost/internal/monitoring"
	"github.com/blockwait/toolhost/internal/shell"
	"github.com/blockwait/toolhost/internal/toolrunner"
	"github.com/blockwait/toolhost/internal/ws"
)

// Server bundles the router and the components behind it.
type Server struct {
	router  *gin.Engine
	runner  *toolrunner.Runner
	metrics *monitoring.Metrics
	log     *logging.Logger
	httpSrv *http.Server
}

// New assembles a server from configuration.
func New(cfg *config.Config, log *logging.Logger) *Server {
	sessions := shell.NewManager(cfg.Shell, log)
	runner := toolrunner.New(sessions, editor.New(), log)
	metrics := monitoring.NewMetrics()

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.CORS())
	router.Use(metrics.Middleware())
	if cfg.RateLimit.Enabled {
		router.Use(middleware.RateLimit(cfg.RateLimit))
	}

	handlers := toolhttp.NewHandlers(runner, metrics, log)
	stream := ws.NewHandler(runner, log)

	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	router.GET("/tools", handlers.ListTools)
	router.POST("/tools/bash", handlers.RunBash)
	router.POST("/tools/bash/reply", handlers.ReplyBash)
	router.POST("/tools/editor", handlers.RunEditor)

	router.DELETE("/sessions/:id", handlers.CloseSession)
	router.GET("/sessions/:id/stream", stream.Stream)

	return &Server{
		router:  router,
		runner:  runner,
		metrics: metrics,
		log:     log.Named("server"),
		httpSrv: &http.Server{
			Addr:    cfg.Server.Host + ":" + cfg.Server.Port,
			Handler: router,
		},
	}
}

// Router exposes the gin engine. Used by tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	s.log.Info("listening", zap.String("addr", s.httpSrv.Addr))
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and closes every shell session.
func (s *Server) Shutdown(ctx context.Context) error {
	drainCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	err := s.httpSrv.Shutdown(drainCtx)
	s.runner.Shutdown()
	return err
}
