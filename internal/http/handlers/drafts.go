package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/wolfman30/support-copilot/internal/drafts"
	"github.com/wolfman30/support-copilot/internal/inbox"
	"github.com/wolfman30/support-copilot/pkg/logging"
)

// DraftReader reads persisted drafts. *drafts.PostgresRepository implements it.
type DraftReader interface {
	Get(ctx context.Context, id string) (inbox.Draft, error)
	ListRanked(ctx context.Context, limit int) ([]inbox.Draft, error)
}

// DraftsHandler lists drafts awaiting agent review.
type DraftsHandler struct {
	repo   DraftReader
	logger *logging.Logger
}

func NewDraftsHandler(repo DraftReader, logger *logging.Logger) *DraftsHandler {
	if repo == nil {
		panic("handlers: draft repository cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &DraftsHandler{repo: repo, logger: logger}
}

// List handles GET /v1/drafts?limit=N, highest priority first.
func (h *DraftsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			jsonError(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	list, err := h.repo.ListRanked(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list drafts", "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []inbox.Draft{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":  len(list),
		"drafts": list,
	})
}

// Get handles GET /v1/drafts/{draftID}.
func (h *DraftsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "draftID"))
	if id == "" {
		jsonError(w, "missing draft id", http.StatusBadRequest)
		return
	}
	d, err := h.repo.Get(r.Context(), id)
	if errors.Is(err, drafts.ErrNotFound) {
		jsonError(w, "draft not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("failed to load draft", "error", err, "draft_id", id)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, d)
}
