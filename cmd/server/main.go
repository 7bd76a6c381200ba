package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/blockwait/toolhost/internal/config"
	"github.com/blockwait/toolhost/internal/logging"
	"github.com/blockwait/toolhost/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		cfg = config.Default()
	}

	log := logging.New(logging.Options{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	defer log.Sync()

	srv := server.New(cfg, log)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			log.Error("server failed", zap.Error(err))
			os.Exit(1)
		}
		return
	}

	if err := srv.Shutdown(context.Background()); err != nil {
		log.Error("shutdown incomplete", zap.Error(err))
		os.Exit(1)
	}
	log.Info("goodbye")
}
