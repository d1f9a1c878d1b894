// Package main is the entrypoint for the long-running lifecycle worker.
//
// Startup:
//  1. Load and validate configuration (env, then .env).
//  2. Build the structured logger.
//  3. Connect to Postgres (and Redis when LOCK_BACKEND=redis).
//  4. Build upstream clients, the notifier and the lifecycle jobs.
//  5. Start the ops HTTP server and the cron scheduler.
//
// SIGINT/SIGTERM stops the scheduler, waits for in-flight runs, then drains
// the ops server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"feedbackgate/internal/app"
	"feedbackgate/internal/config"
	"feedbackgate/internal/core"
	"feedbackgate/internal/logging"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "lifecycle-worker:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	logger := logging.New(cfg.LogLevel, cfg.Service, cfg.Build.Version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("lifecycle worker starting",
		"env", cfg.Environment,
		"commit", cfg.Build.Commit,
		"lock_backend", cfg.Lock.Backend,
		"metrics_backend", cfg.Observability.MetricsBackend,
		"email_provider", cfg.Email.Provider,
	)

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("building worker: %w", err)
	}
	defer a.Close()

	srv, err := core.NewServer(a.Scheduler, a.Store, logger)
	if err != nil {
		return err
	}
	srv.HealthProbes = a.Probes
	srv.MetricsHandler = a.MetricsHandler
	srv.Build = cfg.Build.Version
	srv.MountRoutes()
	httpServer := srv.HTTPServer(cfg.Observability.OpsAddr)

	if err := supervise(ctx, logger, httpServer, a.Scheduler); err != nil {
		return err
	}
	logger.Info("lifecycle worker stopped")
	return nil
}

// jobRunner is the part of the scheduler supervise drives.
type jobRunner interface {
	Start(ctx context.Context) error
}

// supervise runs the ops server and the scheduler until ctx is done or the
// server fails, then stops the scheduler and drains the server. A server
// that cannot listen or serve is returned as an error so the process exits
// non-zero.
func supervise(ctx context.Context, logger *slog.Logger, httpServer *http.Server, sched jobRunner) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("ops server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	schedDone := make(chan error, 1)
	go func() { schedDone <- sched.Start(ctx) }()

	var failed error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			logger.Error("ops server failed", "error", err)
			failed = fmt.Errorf("ops server: %w", err)
		}
		stop()
	}

	if err := <-schedDone; err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("scheduler stopped with error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("ops server shutdown failed", "error", err)
	}
	return failed
}
