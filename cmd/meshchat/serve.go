package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hupe1980/meshchat/config"
	"github.com/hupe1980/meshchat/httpapi"
	"github.com/hupe1980/meshchat/internal/telemetry"
	"github.com/hupe1980/meshchat/logging"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the chat HTTP and WebSocket server",
	Long: `Start the chat API.

Routes:
  POST /chat                     send a message
  GET  /chat/ws                  chat over WebSocket
  GET  /sessions                 list your conversations
  GET  /sessions/{id}            one conversation with its timeline
  GET  /messages/search?q=       search your messages
  GET  /health                   liveness and agent counts
  GET  /metrics                  Prometheus metrics

The log level is reloaded when the config file changes.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	loader := config.NewLoader(configPath)

	cfg, err := loader.Load()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log, cmd.ErrOrStderr())

	a, err := buildApp(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	defer func() {
		if err := a.close(); err != nil {
			logger.Error("failed to close resources", "error", err)
		}
	}()

	shutdownTracing, err := telemetry.Init(telemetry.Options{
		ServiceName: "meshchat",
		Version:     version,
		Exporter:    cfg.Tracing.Exporter,
		SampleRatio: cfg.Tracing.SampleRatio,
		Output:      cmd.ErrOrStderr(),
	})
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}

	if loader.File() != "" {
		loader.Watch(logger, config.ApplyLogLevel(logger))
	}

	summary := a.mesh.Registry().Summary()
	logger.Info("agents registered", "total", summary.Total, "general", summary.General)

	handler := a.mesh.Handler(func(o *httpapi.Options) {
		o.Logger = logging.WithComponent(logger, "http")
		o.AllowedOrigins = cfg.Server.AllowedOrigins
		o.MaxBodyBytes = cfg.Server.MaxBodyBytes
		o.DisableWebSocket = !cfg.Server.WebSocket
		o.Features = map[string]bool{
			"websocket": cfg.Server.WebSocket,
			"metrics":   cfg.Metrics.Enabled,
			"retention": cfg.Memory.Retention.Enabled,
			"sqlite":    cfg.Memory.Store == config.StoreSQLite,
			"redis":     cfg.Memory.History == config.HistoryRedis,
		}
		if a.metrics != nil {
			o.Gatherer = a.metrics
		}
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if a.archiver != nil {
		a.archiver.Start()
		logger.Info("retention archiver started", "schedule", cfg.Memory.Retention.Schedule, "period", cfg.Memory.Retention.Period)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}

	if a.archiver != nil {
		a.archiver.Stop()
	}

	if err := a.mesh.Close(shutdownCtx); err != nil {
		logger.Warn("pending conversation writes were not flushed", "error", err)
	}

	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("trace flush failed", "error", err)
	}

	return nil
}
