package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/wolfman30/support-copilot/internal/pipeline"
	"github.com/wolfman30/support-copilot/pkg/logging"
)

// StatusReader looks up a message's status record. *pipeline.JobStore
// implements it.
type StatusReader interface {
	Get(ctx context.Context, messageID string) (*pipeline.StatusRecord, error)
}

// StatusHandler serves message status records.
type StatusHandler struct {
	store  StatusReader
	logger *logging.Logger
}

func NewStatusHandler(store StatusReader, logger *logging.Logger) *StatusHandler {
	if store == nil {
		panic("handlers: status store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &StatusHandler{store: store, logger: logger}
}

// GetStatus handles GET /v1/messages/{messageID}/status.
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	messageID := strings.TrimSpace(chi.URLParam(r, "messageID"))
	if messageID == "" {
		jsonError(w, "missing message id", http.StatusBadRequest)
		return
	}

	record, err := h.store.Get(r.Context(), messageID)
	if errors.Is(err, pipeline.ErrStatusNotFound) {
		jsonError(w, "status not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("failed to load message status", "error", err, "message_id", messageID)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, record)
}
