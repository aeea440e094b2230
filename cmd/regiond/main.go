// Package main is the entry point for the data region server.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pitabwire/dataregion/internal/config"
	"github.com/pitabwire/dataregion/internal/invoker"
	"github.com/pitabwire/dataregion/internal/metadata"
	"github.com/pitabwire/dataregion/internal/observability"
	"github.com/pitabwire/dataregion/internal/region"
	"github.com/pitabwire/dataregion/internal/selection"
	"github.com/pitabwire/dataregion/internal/transport"
	"github.com/pitabwire/dataregion/model"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Step 1: Parse CLI flags.
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	// Step 2: Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	// Step 3: Initialize telemetry (logger, tracer, metrics).
	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "regiond", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Step 4: Build the remote client and its services.
	client, err := invoker.NewClient(cfg.Remote, invoker.WithRecorder(metrics))
	if err != nil {
		logger.Error("remote client initialization failed", zap.Error(err))
		return 1
	}

	selectionSvc, selectionHealth := buildSelectionStore(cfg.Regions, client, logger)
	metaCache := metadata.NewCache(
		invoker.NewQueryClient(client),
		cfg.Metadata.Cache.TTL,
		cfg.Metadata.Cache.MaxEntries,
		metrics,
	)

	// Step 5: Build the region registry.
	registry := region.NewRegistry(region.Options{
		ReloadTimeout: cfg.Regions.ReloadTimeout,
		PageSize:      cfg.Regions.DefaultPageSize,
		Content:       invoker.NewContentClient(client),
		Logger:        logger,
		Recorder:      metrics,
	})

	// Step 6: Build HTTP router.
	readinessChecks := observability.ReadinessChecks{
		RegistryReady:  func() bool { return registry != nil },
		Remote:         client,
		SelectionStore: selectionHealth,
	}

	deps := transport.Dependencies{
		Config:        cfg,
		Registry:      registry,
		Selection:     selectionSvc,
		Metadata:      metaCache,
		Logger:        logger,
		Metrics:       metrics,
		HealthHandler: observability.HandleHealth(),
		ReadyHandler:  observability.HandleReady(readinessChecks),
	}
	if cfg.Observability.Metrics.Enabled {
		deps.MetricsHandler = observability.Handler()
	}
	router := transport.NewRouter(deps)

	// Wrap router with metrics middleware.
	handler := metrics.MetricsMiddleware(observability.TracingMiddleware(router))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Step 7: Start HTTP server.
	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("remote", cfg.Remote.BaseURL),
		zap.String("selection_store", cfg.Regions.SelectionStore),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	// Graceful shutdown sequence.
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections and drain in-flight requests.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Flush telemetry.
	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// buildSelectionStore picks the selection service named by config. The
// in-memory store has no row source, so "select all" is rejected there.
func buildSelectionStore(cfg config.RegionsConfig, client *invoker.Client, logger *zap.Logger) (model.SelectionService, observability.HealthChecker) {
	switch cfg.SelectionStore {
	case "memory":
		logger.Info("using in-memory selection store")
		return selection.NewMemoryStore(nil), nil
	default:
		sc := invoker.NewSelectionClient(client)
		return sc, sc
	}
}
