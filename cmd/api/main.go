package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"salesops-backend/internal/bootstrap"
	"salesops-backend/internal/shared/config"
	"salesops-backend/internal/shared/server"
	"salesops-backend/internal/shared/telemetry"
)

func main() {
	cfg := config.Load()
	if err := telemetry.Setup(telemetry.Options{LogFile: cfg.LogFile, Level: cfg.LogLevel}); err != nil {
		log.Fatalf("telemetry setup: %v", err)
	}
	defer telemetry.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Build(ctx, cfg)
	if err != nil {
		log.Fatalf("bootstrap build: %v", err)
	}

	srv := &http.Server{
		Addr:              server.Addr(cfg.Port),
		Handler:           app.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		telemetry.Info("api.started", map[string]any{"addr": srv.Addr, "env": cfg.Env})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			telemetry.Error("api.listen_failed", map[string]any{"error": err.Error()})
		}
	}

	telemetry.Info("api.shutdown", map[string]any{"timeout": cfg.ShutdownTimeout.String()})
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		telemetry.Warn("api.shutdown_failed", map[string]any{"error": err.Error()})
	}

	// In-process jobs keep running after the listener closes.
	done := make(chan struct{})
	go func() {
		if err := app.Close(); err != nil {
			telemetry.Warn("api.close_failed", map[string]any{"error": err.Error()})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		telemetry.Warn("api.jobs_still_running", map[string]any{"timeout": cfg.ShutdownTimeout.String()})
	}
}
