// ffbatch/main.go
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ffbatch/api"
	"ffbatch/config"
	"ffbatch/ffmpeg"
	"ffbatch/store"
	"ffbatch/task"

	"github.com/hashicorp/go-hclog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		hclog.Default().Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:       "ffbatch",
		Level:      hclog.LevelFromString(cfg.LogLevel),
		JSONFormat: cfg.LogJSON,
	})

	runner, err := ffmpeg.NewRunner(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize ffmpeg runner", "error", err)
		os.Exit(1)
	}

	manager, err := task.NewManager(cfg, runner, logger)
	if err != nil {
		logger.Error("failed to initialize batch manager", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// An empty DB_PATH disables the history store.
	var history api.HistoryReader
	if cfg.DBPath != "" {
		st, err := store.Open(cfg.DBPath, logger)
		if err != nil {
			logger.Error("failed to open history store", "path", cfg.DBPath, "error", err)
			os.Exit(1)
		}
		defer st.Close()

		manager.Events().Subscribe(st)
		go st.RunCleanup(ctx, cfg.HistoryLifetime)
		history = st
	}

	manager.Start(ctx)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: api.SetupRouter(manager, history, cfg, logger),
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port, "max_concurrency", cfg.MaxConcurrency)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	stop()
	logger.Info("shutting down gracefully, press Ctrl+C again to force")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced to shutdown", "error", err)
	}
	if err := manager.CancelActive(shutdownCtx); err != nil && err != task.ErrNoActiveBatch {
		logger.Warn("active batch did not drain", "error", err)
	}

	logger.Info("server exiting")
}
