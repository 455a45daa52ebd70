package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/wolfman30/support-copilot/internal/inbox"
	"github.com/wolfman30/support-copilot/internal/pipeline"
	"github.com/wolfman30/support-copilot/pkg/logging"
)

// MessagePublisher hands an accepted message to the worker pool.
type MessagePublisher interface {
	Publish(ctx context.Context, msg inbox.InboundMessage, opts ...pipeline.PublishOption) (string, error)
}

// IngestHandler accepts inbound support email over HTTP.
type IngestHandler struct {
	publisher MessagePublisher
	maxBytes  int64
	logger    *logging.Logger
}

// NewIngestHandler creates the intake handler. Bodies larger than maxBytes
// are rejected with 413.
func NewIngestHandler(publisher MessagePublisher, maxBytes int64, logger *logging.Logger) *IngestHandler {
	if publisher == nil {
		panic("handlers: publisher cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &IngestHandler{publisher: publisher, maxBytes: maxBytes, logger: logger}
}

type ingestRequest struct {
	ID          string             `json:"id"`
	ThreadID    string             `json:"thread_id"`
	Sender      string             `json:"sender"`
	SenderName  string             `json:"sender_name"`
	Subject     string             `json:"subject"`
	Body        string             `json:"body"`
	Attachments []inbox.Attachment `json:"attachments"`
	ReceivedAt  time.Time          `json:"received_at"`
	Tone        string             `json:"tone"`
}

type ingestResponse struct {
	Accepted bool   `json:"accepted"`
	JobID    string `json:"job_id,omitempty"`
	ThreadID string `json:"thread_id,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Ingest handles POST /v1/messages. The body is either a JSON message or a
// raw message/rfc822 email; for raw email the tone comes from ?tone=.
func (h *IngestHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	if h.maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var (
		msg     inbox.InboundMessage
		rawTone string
		err     error
	)
	switch mediaType {
	case "message/rfc822":
		msg, err = inbox.ParseRFC822(r.Body)
		rawTone = r.URL.Query().Get("tone")
	case "application/json", "":
		msg, rawTone, err = decodeIngestJSON(r)
	default:
		jsonError(w, "unsupported content type "+mediaType, http.StatusUnsupportedMediaType)
		return
	}
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			jsonError(w, "message too large", http.StatusRequestEntityTooLarge)
			return
		}
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var opts []pipeline.PublishOption
	if strings.TrimSpace(rawTone) != "" {
		tone, ok := inbox.ParseTone(rawTone)
		if !ok {
			jsonError(w, "unknown tone "+rawTone, http.StatusBadRequest)
			return
		}
		opts = append(opts, pipeline.WithTone(tone))
	}

	if !inbox.AcceptSubject(msg.Subject) {
		h.logger.Info("inbound message filtered", "subject", msg.Subject, "sender", msg.Sender)
		writeJSON(w, http.StatusAccepted, ingestResponse{Accepted: false, Reason: "subject is not a support request"})
		return
	}

	jobID, err := h.publisher.Publish(r.Context(), msg, opts...)
	if errors.Is(err, pipeline.ErrBodyTooLarge) {
		h.logger.Warn("inbound message too large for the intake queue", "error", err, "thread_id", msg.ThreadID)
		jsonError(w, "message too large", http.StatusRequestEntityTooLarge)
		return
	}
	if err != nil {
		h.logger.Error("failed to publish inbound message", "error", err, "thread_id", msg.ThreadID)
		jsonError(w, "failed to enqueue message", http.StatusServiceUnavailable)
		return
	}

	threadID := msg.ThreadID
	if threadID == "" {
		threadID = jobID
	}
	writeJSON(w, http.StatusAccepted, ingestResponse{Accepted: true, JobID: jobID, ThreadID: threadID})
}

func decodeIngestJSON(r *http.Request) (inbox.InboundMessage, string, error) {
	var req ingestRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return inbox.InboundMessage{}, "", err
		}
		return inbox.InboundMessage{}, "", errors.New("invalid JSON body")
	}
	if strings.TrimSpace(req.Body) == "" && len(req.Attachments) == 0 {
		return inbox.InboundMessage{}, "", inbox.ErrEmptyMessage
	}

	atts := make([]inbox.Attachment, 0, len(req.Attachments))
	for _, att := range req.Attachments {
		if att.Modality == "" {
			att.Modality = inbox.ModalityFor(att.ContentType, att.Filename)
		}
		if att.ID == "" {
			att.ID = uuid.NewString()
		}
		atts = append(atts, att)
	}

	msg := inbox.InboundMessage{
		ID:          req.ID,
		ThreadID:    req.ThreadID,
		Sender:      strings.TrimSpace(req.Sender),
		SenderName:  strings.TrimSpace(req.SenderName),
		Subject:     req.Subject,
		Body:        req.Body,
		Attachments: atts,
		ReceivedAt:  req.ReceivedAt,
	}
	return msg, req.Tone, nil
}
