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
	"github.com/wolfman30/support-copilot/internal/pipeline"
	"github.com/wolfman30/support-copilot/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	if cfg.UseMemoryQueue {
		logger.Error("pipeline worker needs the SQS intake queue; USE_MEMORY_QUEUE runs workers inside the API")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	awsConfig, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	rt, err := bootstrap.BuildRuntime(ctx, cfg, awsConfig, reg, logger)
	if err != nil {
		logger.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	worker := pipeline.NewWorker(
		rt.Pipeline,
		rt.IntakeQueue,
		logger,
		pipeline.WithWorkerCount(cfg.WorkerCount),
		pipeline.WithReceiveWaitSeconds(20),
		pipeline.WithReceiveBatchSize(10),
		pipeline.WithHealthSource(rt.Health),
	)
	worker.Start(ctx)
	go rt.Pipeline.DrainEvery(ctx, cfg.DrainInterval, rt.Health)

	// Health and metrics only; intake and queue admin live on the API.
	srv := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: router.New(&router.Config{
			Logger:         logger,
			Health:         handlers.NewHealthHandler(rt.Health, rt.OfflineQueue, logger),
			MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		}),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("health server error", "error", err)
		}
	}()
	logger.Info("pipeline worker started", "workers", cfg.WorkerCount, "addr", srv.Addr)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down pipeline worker...")
	cancel()

	doneCtx, doneCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer doneCancel()

	_ = srv.Shutdown(doneCtx)

	waitCh := make(chan struct{})
	go func() {
		worker.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Info("pipeline worker stopped")
	case <-doneCtx.Done():
		logger.Error("pipeline worker shutdown timed out", "error", doneCtx.Err())
	}
}
