package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/support-copilot/cmd/mainconfig"
	"github.com/wolfman30/support-copilot/internal/api/router"
	"github.com/wolfman30/support-copilot/internal/app/bootstrap"
	appconfig "github.com/wolfman30/support-copilot/internal/config"
	"github.com/wolfman30/support-copilot/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/support-copilot/internal/http/middleware"
	"github.com/wolfman30/support-copilot/internal/pipeline"
	"github.com/wolfman30/support-copilot/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	// Load configuration
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting support-copilot API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"offline_mode", cfg.OfflineMode,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	metricsHandler, reg := setupMetrics()
	rt, err := bootstrap.BuildRuntime(ctx, cfg, awsCfg, reg, logger)
	if err != nil {
		logger.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	worker := setupInlineWorker(ctx, cfg, rt, logger)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router.New(routerConfig(cfg, rt, metricsHandler, logger)),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	cancel()
	waitForInlineWorker(worker, logger)

	logger.Info("server stopped")
}

// setupMetrics builds a dedicated registry with runtime collectors.
func setupMetrics() (http.Handler, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}), reg
}

func routerConfig(cfg *appconfig.Config, rt *bootstrap.Runtime, metricsHandler http.Handler, logger *logging.Logger) *router.Config {
	rc := &router.Config{
		Logger:            logger,
		Health:            handlers.NewHealthHandler(rt.Health, rt.OfflineQueue, logger),
		Ingest:            handlers.NewIngestHandler(rt.Publisher, cfg.MaxIngestBytes, logger),
		QueueAdmin:        handlers.NewQueueAdminHandler(rt.OfflineQueue, rt.Archive, rt.Pipeline, rt.Health, cfg.MaxIngestBytes, logger),
		MetricsHandler:    metricsHandler,
		AdminAuthSecret:   cfg.AdminJWTSecret,
		AdminAuthAudience: cfg.AdminJWTAudience,
	}
	if cfg.IngestRatePerSec > 0 {
		rc.IngestLimiter = httpmiddleware.NewRateLimiter(cfg.IngestRatePerSec, cfg.IngestBurst, nil)
	}
	if rt.JobStore != nil {
		rc.Status = handlers.NewStatusHandler(rt.JobStore, logger)
	}
	if rt.Drafts != nil {
		rc.Drafts = handlers.NewDraftsHandler(rt.Drafts, logger)
	}
	return rc
}

// setupInlineWorker runs the worker pool and the periodic drain inside the API
// process when the intake queue is in-memory.
func setupInlineWorker(ctx context.Context, cfg *appconfig.Config, rt *bootstrap.Runtime, logger *logging.Logger) *pipeline.Worker {
	if !cfg.UseMemoryQueue {
		return nil
	}
	worker := pipeline.NewWorker(rt.Pipeline, rt.IntakeQueue, logger,
		pipeline.WithWorkerCount(cfg.WorkerCount),
		pipeline.WithHealthSource(rt.Health),
	)
	worker.Start(ctx)
	go rt.Pipeline.DrainEvery(ctx, cfg.DrainInterval, rt.Health)
	logger.Info("inline pipeline workers started", "count", cfg.WorkerCount)
	return worker
}

func waitForInlineWorker(worker *pipeline.Worker, logger *logging.Logger) {
	if worker == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		worker.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("inline pipeline workers stopped")
	case <-time.After(30 * time.Second):
		logger.Error("inline pipeline workers shutdown timed out")
	}
}
