package pipeline

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const defaultProbeTimeout = 2 * time.Second

// Health is a point-in-time view of upstream availability. It is checked once
// per batch and passed to Process and Drain.
type Health struct {
	Online    bool              `json:"online"`
	Forced    bool              `json:"forced,omitempty"`
	Failures  map[string]string `json:"failures,omitempty"`
	CheckedAt time.Time         `json:"checked_at"`
}

// Online is a healthy snapshot, for callers that skip probing.
func Online() Health {
	return Health{Online: true, CheckedAt: time.Now().UTC()}
}

// Offline reports whether messages should go straight to the offline queue.
func (h Health) Offline() bool {
	return !h.Online
}

// Reason summarizes why the snapshot is offline.
func (h Health) Reason() string {
	switch {
	case h.Online:
		return ""
	case h.Forced:
		return "offline mode enabled"
	case len(h.Failures) == 0:
		return "offline"
	}
	names := make([]string, 0, len(h.Failures))
	for name := range h.Failures {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ") + " unavailable"
}

// Probe checks one upstream dependency.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthChecker runs every probe concurrently with a per-probe timeout.
type HealthChecker struct {
	probes  []Probe
	forced  bool
	timeout time.Duration
	now     func() time.Time
}

type HealthOption func(*HealthChecker)

// WithForcedOffline reports offline without probing, as OFFLINE_MODE does.
func WithForcedOffline(offline bool) HealthOption {
	return func(h *HealthChecker) {
		h.forced = offline
	}
}

func WithProbeTimeout(d time.Duration) HealthOption {
	return func(h *HealthChecker) {
		if d > 0 {
			h.timeout = d
		}
	}
}

func NewHealthChecker(probes []Probe, opts ...HealthOption) *HealthChecker {
	h := &HealthChecker{
		probes:  probes,
		timeout: defaultProbeTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *HealthChecker) Check(ctx context.Context) Health {
	health := Health{Online: true, CheckedAt: h.now().UTC()}
	if h.forced {
		health.Online = false
		health.Forced = true
		return health
	}

	var (
		mu       sync.Mutex
		failures = make(map[string]string)
		g        errgroup.Group
	)
	for _, probe := range h.probes {
		if probe.Check == nil {
			continue
		}
		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(ctx, h.timeout)
			defer cancel()
			if err := probe.Check(probeCtx); err != nil {
				mu.Lock()
				failures[probe.Name] = err.Error()
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(failures) > 0 {
		health.Online = false
		health.Failures = failures
	}
	return health
}
