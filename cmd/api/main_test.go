package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/wolfman30/support-copilot/internal/app/bootstrap"
	appconfig "github.com/wolfman30/support-copilot/internal/config"
	"github.com/wolfman30/support-copilot/internal/observability/metrics"
	"github.com/wolfman30/support-copilot/internal/offlinequeue"
	"github.com/wolfman30/support-copilot/internal/pipeline"
	"github.com/wolfman30/support-copilot/pkg/logging"
)

func TestSetupMetricsExposesPipelineMetrics(t *testing.T) {
	handler, reg := setupMetrics()
	if handler == nil || reg == nil {
		t.Fatalf("expected non-nil handler and registry")
	}

	m := metrics.NewPipelineMetrics(reg)
	m.ObserveOutcome("drafted", "")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "support_pipeline_outcomes_total") {
		t.Fatalf("expected outcome counter to be exported")
	}
	if !strings.Contains(rr.Body.String(), "go_goroutines") {
		t.Fatalf("expected runtime collectors to be registered")
	}
}

func testRuntime() *bootstrap.Runtime {
	return &bootstrap.Runtime{
		Health:       pipeline.NewHealthChecker(nil),
		OfflineQueue: offlinequeue.NewMemoryQueue(),
		IntakeQueue:  pipeline.NewMemoryQueue(4),
		Publisher:    pipeline.NewPublisher(pipeline.NewMemoryQueue(4), nil),
		Archive:      offlinequeue.NewS3Archive(nil, "", nil),
	}
}

func TestRouterConfigOptionalHandlers(t *testing.T) {
	logger := logging.NewWithWriter(io.Discard, "error")
	cfg := &appconfig.Config{MaxIngestBytes: 1 << 20, IngestRatePerSec: 5, IngestBurst: 10, AdminJWTSecret: "s"}

	rc := routerConfig(cfg, testRuntime(), http.NotFoundHandler(), logger)
	if rc.Status != nil || rc.Drafts != nil {
		t.Fatalf("expected status and drafts routes disabled without their stores")
	}
	if rc.Ingest == nil || rc.QueueAdmin == nil || rc.Health == nil {
		t.Fatalf("expected core handlers")
	}
	if rc.IngestLimiter == nil {
		t.Fatalf("expected ingest limiter")
	}
	if rc.AdminAuthSecret != "s" {
		t.Fatalf("expected admin secret passed through")
	}

	cfg.IngestRatePerSec = 0
	if rc := routerConfig(cfg, testRuntime(), nil, logger); rc.IngestLimiter != nil {
		t.Fatalf("expected no limiter when rate is zero")
	}
}

func TestSetupInlineWorkerDisabled(t *testing.T) {
	logger := logging.NewWithWriter(io.Discard, "error")
	cfg := &appconfig.Config{UseMemoryQueue: false}

	if worker := setupInlineWorker(t.Context(), cfg, testRuntime(), logger); worker != nil {
		t.Fatalf("expected no worker when memory queue is disabled")
	}
	waitForInlineWorker(nil, logger)
}
