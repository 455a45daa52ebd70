package handlers

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/wolfman30/support-copilot/internal/inbox"
	"github.com/wolfman30/support-copilot/internal/offlinequeue"
	"github.com/wolfman30/support-copilot/internal/pipeline"
	"github.com/wolfman30/support-copilot/pkg/logging"
)

// QueueDrainer reprocesses the offline queue. *pipeline.Pipeline implements it.
type QueueDrainer interface {
	Drain(ctx context.Context, health pipeline.Health) (pipeline.DrainReport, error)
}

// BatchArchive stores exported batches. *offlinequeue.S3Archive implements it.
type BatchArchive interface {
	Enabled() bool
	Put(ctx context.Context, batch []byte) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
}

// QueueAdminHandler exposes offline queue administration to operators.
type QueueAdminHandler struct {
	queue    offlinequeue.Queue
	archive  BatchArchive
	drainer  QueueDrainer
	health   pipeline.HealthSource
	maxBytes int64
	logger   *logging.Logger
}

// NewQueueAdminHandler wires the admin endpoints. archive may be nil.
func NewQueueAdminHandler(queue offlinequeue.Queue, archive BatchArchive, drainer QueueDrainer, health pipeline.HealthSource, maxBytes int64, logger *logging.Logger) *QueueAdminHandler {
	if queue == nil {
		panic("handlers: queue cannot be nil")
	}
	if drainer == nil {
		panic("handlers: drainer cannot be nil")
	}
	if health == nil {
		panic("handlers: health source cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &QueueAdminHandler{
		queue:    queue,
		archive:  archive,
		drainer:  drainer,
		health:   health,
		maxBytes: maxBytes,
		logger:   logger,
	}
}

type queuedItemView struct {
	ThreadID    string    `json:"thread_id"`
	MessageID   string    `json:"message_id"`
	Sender      string    `json:"sender"`
	Subject     string    `json:"subject"`
	Attachments int       `json:"attachments"`
	Tone        string    `json:"tone,omitempty"`
	Pending     int       `json:"pending"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
	RetryCount  int       `json:"retry_count"`
	LastError   string    `json:"last_error"`
}

func newQueuedItemView(item inbox.QueuedItem) queuedItemView {
	return queuedItemView{
		ThreadID:    item.Message.ThreadID,
		MessageID:   item.Message.ID,
		Sender:      item.Message.Sender,
		Subject:     item.Message.Subject,
		Attachments: len(item.Message.Attachments),
		Tone:        string(item.Tone),
		Pending:     len(item.Pending),
		EnqueuedAt:  item.EnqueuedAt,
		RetryCount:  item.RetryCount,
		LastError:   item.LastError,
	}
}

// List handles GET /v1/queue. Attachment payloads are omitted.
func (h *QueueAdminHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.queue.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list offline queue", "error", err)
		jsonError(w, "failed to list queue", http.StatusInternalServerError)
		return
	}
	views := make([]queuedItemView, 0, len(items))
	for _, item := range items {
		views = append(views, newQueuedItemView(item))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count": len(views),
		"items": views,
	})
}

// Export handles POST /v1/queue/export. The queue is emptied and the batch is
// returned as JSON lines. When an archive is configured the batch is also
// stored there and its key is returned in X-Archive-Key.
func (h *QueueAdminHandler) Export(w http.ResponseWriter, r *http.Request) {
	batch, err := h.queue.ExportAll(r.Context())
	if err != nil {
		h.logger.Error("failed to export offline queue", "error", err)
		jsonError(w, "failed to export queue", http.StatusInternalServerError)
		return
	}

	if h.archive != nil && h.archive.Enabled() && len(batch) > 0 {
		// The items are already out of the queue, so the caller still gets
		// the batch when archiving fails.
		key, err := h.archive.Put(context.WithoutCancel(r.Context()), batch)
		if err != nil {
			h.logger.Error("failed to archive exported batch", "error", err, "bytes", len(batch))
			w.Header().Set("X-Archive-Error", "archive upload failed")
		} else {
			w.Header().Set("X-Archive-Key", key)
		}
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(batch)
}

type importErrorView struct {
	Line     int    `json:"line"`
	ThreadID string `json:"thread_id,omitempty"`
	Error    string `json:"error"`
}

type importResponse struct {
	Imported int               `json:"imported"`
	Rejected int               `json:"rejected"`
	Errors   []importErrorView `json:"errors"`
}

// Import handles POST /v1/queue/import. The batch is the request body, or
// the archived object named by ?archive_key=.
func (h *QueueAdminHandler) Import(w http.ResponseWriter, r *http.Request) {
	batch, status, err := h.importBatch(r)
	if err != nil {
		jsonError(w, err.Error(), status)
		return
	}
	if len(strings.TrimSpace(string(batch))) == 0 {
		jsonError(w, "empty batch", http.StatusBadRequest)
		return
	}

	report, err := h.queue.ImportBatch(r.Context(), batch)
	if err != nil {
		h.logger.Error("failed to import offline queue batch", "error", err)
		jsonError(w, "failed to import batch", http.StatusInternalServerError)
		return
	}

	resp := importResponse{
		Imported: report.Imported,
		Rejected: len(report.Errors),
		Errors:   make([]importErrorView, 0, len(report.Errors)),
	}
	for _, itemErr := range report.Errors {
		resp.Errors = append(resp.Errors, importErrorView{
			Line:     itemErr.Line,
			ThreadID: itemErr.ThreadID,
			Error:    itemErr.Err.Error(),
		})
	}
	if resp.Rejected > 0 {
		h.logger.Warn("offline queue import rejected items", "imported", resp.Imported, "rejected", resp.Rejected)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *QueueAdminHandler) importBatch(r *http.Request) ([]byte, int, error) {
	if key := strings.TrimSpace(r.URL.Query().Get("archive_key")); key != "" {
		if h.archive == nil || !h.archive.Enabled() {
			return nil, http.StatusBadRequest, errArchiveDisabled
		}
		batch, err := h.archive.Get(r.Context(), key)
		if err != nil {
			h.logger.Error("failed to fetch archived batch", "error", err, "key", key)
			return nil, http.StatusBadGateway, errArchiveFetch
		}
		return batch, 0, nil
	}

	body := io.Reader(r.Body)
	if h.maxBytes > 0 {
		body = io.LimitReader(r.Body, h.maxBytes+1)
	}
	batch, err := io.ReadAll(body)
	if err != nil {
		return nil, http.StatusBadRequest, errUnreadableBody
	}
	if h.maxBytes > 0 && int64(len(batch)) > h.maxBytes {
		return nil, http.StatusRequestEntityTooLarge, errBatchTooLarge
	}
	return batch, 0, nil
}

// Drain handles POST /v1/queue/drain. Health is checked first; while offline
// the report comes back skipped.
func (h *QueueAdminHandler) Drain(w http.ResponseWriter, r *http.Request) {
	report, err := h.drainer.Drain(r.Context(), h.health.Check(r.Context()))
	if err != nil {
		h.logger.Error("offline queue drain failed", "error", err, "drafted", report.Drafted)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":  "drain failed",
			"report": report,
		})
		return
	}
	writeJSON(w, http.StatusOK, report)
}
