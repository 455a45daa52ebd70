package handlers

import (
	"context"
	"net/http"

	"github.com/wolfman30/support-copilot/internal/pipeline"
	"github.com/wolfman30/support-copilot/pkg/logging"
)

// QueueDepth reports how many items wait in the offline queue.
type QueueDepth interface {
	Len(ctx context.Context) (int, error)
}

// HealthHandler reports liveness plus upstream availability. The endpoint
// answers 200 while upstreams are down because messages still queue.
type HealthHandler struct {
	health pipeline.HealthSource
	queue  QueueDepth
	logger *logging.Logger
}

func NewHealthHandler(health pipeline.HealthSource, queue QueueDepth, logger *logging.Logger) *HealthHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &HealthHandler{health: health, queue: queue, logger: logger}
}

type healthResponse struct {
	Status     string            `json:"status"`
	Upstream   pipeline.Health   `json:"upstream"`
	Reason     string            `json:"reason,omitempty"`
	QueueDepth *int              `json:"queue_depth,omitempty"`
	Errors     map[string]string `json:"errors,omitempty"`
}

// Health handles GET /health.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	snapshot := pipeline.Online()
	if h.health != nil {
		snapshot = h.health.Check(r.Context())
	}
	resp := healthResponse{Status: "ok", Upstream: snapshot}
	if snapshot.Offline() {
		resp.Status = "degraded"
		resp.Reason = snapshot.Reason()
	}
	if h.queue != nil {
		n, err := h.queue.Len(r.Context())
		if err != nil {
			h.logger.Warn("health: offline queue length unavailable", "error", err)
			resp.Status = "degraded"
			resp.Errors = map[string]string{"offline_queue": err.Error()}
		} else {
			resp.QueueDepth = &n
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
