package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestHealthChecker_AllProbesHealthy(t *testing.T) {
	h := NewHealthChecker([]Probe{
		{Name: "redis", Check: func(ctx context.Context) error { return nil }},
		{Name: "postgres", Check: func(ctx context.Context) error { return nil }},
	})
	health := h.Check(context.Background())
	if !health.Online || health.Offline() || health.Reason() != "" {
		t.Fatalf("expected online, got %+v", health)
	}
}

func TestHealthChecker_FailingProbeReportsOffline(t *testing.T) {
	h := NewHealthChecker([]Probe{
		{Name: "redis", Check: func(ctx context.Context) error { return errors.New("connection refused") }},
		{Name: "reasoning", Check: func(ctx context.Context) error { return nil }},
		{Name: "embedding", Check: func(ctx context.Context) error { return errors.New("quota") }},
	})
	health := h.Check(context.Background())
	if health.Online {
		t.Fatal("expected offline")
	}
	if health.Failures["redis"] != "connection refused" || len(health.Failures) != 2 {
		t.Fatalf("unexpected failures %v", health.Failures)
	}
	if got := health.Reason(); got != "embedding, redis unavailable" {
		t.Fatalf("unexpected reason %q", got)
	}
}

func TestHealthChecker_ProbeTimeout(t *testing.T) {
	h := NewHealthChecker([]Probe{{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}}, WithProbeTimeout(20*time.Millisecond))

	start := time.Now()
	health := h.Check(context.Background())
	if health.Online {
		t.Fatal("expected timed-out probe to report offline")
	}
	if time.Since(start) > time.Second {
		t.Fatal("probe timeout not applied")
	}
}

func TestHealthChecker_ForcedOfflineSkipsProbes(t *testing.T) {
	called := false
	h := NewHealthChecker([]Probe{{Name: "redis", Check: func(ctx context.Context) error {
		called = true
		return nil
	}}}, WithForcedOffline(true))

	health := h.Check(context.Background())
	if health.Online || !health.Forced || called {
		t.Fatalf("expected forced offline without probing, got %+v called=%v", health, called)
	}
}
