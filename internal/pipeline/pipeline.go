// Package pipeline is the entry point of the drafting pipeline. Every inbound
// message ends in exactly one outcome: a Draft handed to the sink, or an item
// parked in the offline queue.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/support-copilot/internal/drafting"
	"github.com/wolfman30/support-copilot/internal/extraction"
	"github.com/wolfman30/support-copilot/internal/inbox"
	"github.com/wolfman30/support-copilot/internal/observability/metrics"
	"github.com/wolfman30/support-copilot/internal/offlinequeue"
	"github.com/wolfman30/support-copilot/internal/retrieval"
	"github.com/wolfman30/support-copilot/pkg/logging"
)

const defaultEnqueueTimeout = 10 * time.Second

// Reasons recorded on queued outcomes.
const (
	ReasonOffline         = "offline"
	ReasonCancelled       = "cancelled"
	ReasonGenerationError = "generation_error"
	ReasonParseError      = "parse_error"
	ReasonSinkError       = "sink_error"
)

type AttachmentExtractor interface {
	ExtractAll(ctx context.Context, atts []inbox.Attachment) []inbox.ExtractedText
}

type SignalExtractor interface {
	Extract(ctx context.Context, threadID, threadText string, sender extraction.Sender) inbox.ExtractedSignals
}

type Retriever interface {
	Retrieve(ctx context.Context, query string, topN int) (inbox.RetrievalResult, error)
}

type Composer interface {
	Compose(ctx context.Context, thread inbox.Thread, signals inbox.ExtractedSignals, retrieval inbox.RetrievalResult, tone inbox.Tone) (drafting.Composition, error)
}

type TrustScorer interface {
	Score(confidence float64, signals inbox.ExtractedSignals, retrieval inbox.RetrievalResult) float64
}

// Stages are the pipeline's processing steps, in order.
type Stages struct {
	Attachments AttachmentExtractor
	Signals     SignalExtractor
	Retriever   Retriever
	Composer    Composer
	Trust       TrustScorer
}

// Outcome is the single terminal result for one message. Exactly one of
// Draft and Item is set.
type Outcome struct {
	MessageID string            `json:"message_id"`
	ThreadID  string            `json:"thread_id"`
	Stage     Stage             `json:"stage"`
	Draft     *inbox.Draft      `json:"draft,omitempty"`
	Item      *inbox.QueuedItem `json:"item,omitempty"`
	Reason    string            `json:"reason,omitempty"`
}

// Pipeline runs extraction, retrieval and drafting for one message at a time.
// It holds no per-message state and is safe for concurrent use.
type Pipeline struct {
	stages         Stages
	queue          offlinequeue.Queue
	history        HistoryStore
	sink           DraftSink
	status         StatusRecorder
	metrics        *metrics.PipelineMetrics
	tracer         trace.Tracer
	logger         *logging.Logger
	topN           int
	enqueueTimeout time.Duration
	now            func() time.Time
}

type Option func(*Pipeline)

func WithHistory(store HistoryStore) Option {
	return func(p *Pipeline) {
		p.history = store
	}
}

func WithSink(sink DraftSink) Option {
	return func(p *Pipeline) {
		p.sink = sink
	}
}

func WithStatusRecorder(status StatusRecorder) Option {
	return func(p *Pipeline) {
		p.status = status
	}
}

func WithMetrics(m *metrics.PipelineMetrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(p *Pipeline) {
		if tracer != nil {
			p.tracer = tracer
		}
	}
}

func WithLogger(logger *logging.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithTopN sets how many knowledge snippets to retrieve. Zero uses the
// retriever's default.
func WithTopN(n int) Option {
	return func(p *Pipeline) {
		if n >= 0 {
			p.topN = n
		}
	}
}

func WithEnqueueTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.enqueueTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

func New(stages Stages, queue offlinequeue.Queue, opts ...Option) *Pipeline {
	switch {
	case stages.Attachments == nil:
		panic("pipeline: attachment extractor cannot be nil")
	case stages.Signals == nil:
		panic("pipeline: signal extractor cannot be nil")
	case stages.Retriever == nil:
		panic("pipeline: retriever cannot be nil")
	case stages.Composer == nil:
		panic("pipeline: composer cannot be nil")
	case stages.Trust == nil:
		panic("pipeline: trust scorer cannot be nil")
	}
	if queue == nil {
		panic("pipeline: offline queue cannot be nil")
	}
	p := &Pipeline{
		stages:         stages,
		queue:          queue,
		tracer:         otel.Tracer("support.internal.pipeline"),
		logger:         logging.Default(),
		enqueueTimeout: defaultEnqueueTimeout,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessOption adjusts a single Process call.
type ProcessOption func(*processConfig)

type processConfig struct {
	tone inbox.Tone
}

// RequestTone asks for a reply tone. Negative sentiment still forces
// empathetic.
func RequestTone(tone inbox.Tone) ProcessOption {
	return func(c *processConfig) {
		c.tone = tone
	}
}

// Process drives msg to a terminal outcome. When health is offline the
// message is queued without calling any backend. An error is returned only
// when the message could not be queued either; the caller must then keep
// its own copy, e.g. by not acknowledging the intake delivery.
func (p *Pipeline) Process(ctx context.Context, msg inbox.InboundMessage, health Health, opts ...ProcessOption) (Outcome, error) {
	var cfg processConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	msg = normalizeMessage(msg)
	logger := p.logger.WithThread(msg.ThreadID)

	ctx, span := p.tracer.Start(ctx, "pipeline.process", trace.WithAttributes(
		attribute.String("support.thread_id", msg.ThreadID),
		attribute.String("support.message_id", msg.ID),
		attribute.Int("support.attachments", len(msg.Attachments)),
	))
	defer span.End()

	p.markReceived(ctx, msg, logger)

	if health.Offline() {
		return p.park(ctx, msg, cfg.tone, ReasonOffline, errors.New(health.Reason()), logger)
	}
	if err := ctx.Err(); err != nil {
		return p.park(ctx, msg, cfg.tone, ReasonCancelled, err, logger)
	}

	extracted := p.extract(ctx, msg)
	threadText := inbox.ThreadText(msg.Body, extracted)
	signals := p.stages.Signals.Extract(ctx, msg.ThreadID, threadText, extraction.Sender{Address: msg.Sender, Name: msg.SenderName})
	if err := ctx.Err(); err != nil {
		return p.park(ctx, msg, cfg.tone, ReasonCancelled, err, logger)
	}

	retrieved := p.retrieve(ctx, msg, threadText, logger)
	if err := ctx.Err(); err != nil {
		return p.park(ctx, msg, cfg.tone, ReasonCancelled, err, logger)
	}

	entry := inbox.ThreadEntry{
		MessageID:  msg.ID,
		Sender:     msg.Sender,
		Subject:    msg.Subject,
		Text:       threadText,
		ReceivedAt: msg.ReceivedAt,
	}
	thread := p.thread(ctx, msg, entry, logger)

	comp, err := p.compose(ctx, msg, thread, signals, retrieved, cfg.tone)
	if err != nil {
		if ctx.Err() != nil {
			return p.park(ctx, msg, cfg.tone, ReasonCancelled, err, logger)
		}
		return p.park(ctx, msg, cfg.tone, failureReason(err), err, logger)
	}

	now := p.now().UTC()
	trust := p.stages.Trust.Score(comp.Confidence, signals, retrieved)
	draft := inbox.Draft{
		ID:             uuid.NewString(),
		ThreadID:       msg.ThreadID,
		MessageID:      msg.ID,
		RequestedTone:  comp.RequestedTone,
		Tone:           comp.Tone,
		ToneOverridden: comp.ToneOverridden,
		Reply:          comp.Reply,
		Justification:  comp.Justification,
		Confidence:     comp.Confidence,
		TrustScore:     trust,
		Sentiment:      signals.Sentiment,
		Urgency:        signals.Urgency,
		Keywords:       signals.Keywords,
		Priority:       inbox.PriorityScore(signals.Sentiment, signals.Urgency, msg.ReceivedAt, now),
		CreatedAt:      now,
	}

	if p.sink != nil {
		if err := p.sink.Deliver(ctx, draft); err != nil {
			return p.park(ctx, msg, cfg.tone, ReasonSinkError, err, logger)
		}
	}

	if p.history != nil {
		if err := p.history.Append(ctx, msg.ThreadID, entry); err != nil {
			logger.Warn("failed to append thread history", "error", err, "message_id", msg.ID)
		}
	}
	p.advance(ctx, msg.ID, StageDrafted, draft.ID, logger)
	p.metrics.ObserveOutcome(string(StageDrafted), "")
	p.metrics.ObserveTrust(trust)
	logger.Info("draft produced",
		"message_id", msg.ID,
		"draft_id", draft.ID,
		"tone", draft.Tone,
		"tone_overridden", draft.ToneOverridden,
		"confidence", draft.Confidence,
		"trust_score", draft.TrustScore,
		"priority", draft.Priority,
	)
	return Outcome{
		MessageID: msg.ID,
		ThreadID:  msg.ThreadID,
		Stage:     StageDrafted,
		Draft:     &draft,
	}, nil
}

func (p *Pipeline) extract(ctx context.Context, msg inbox.InboundMessage) []inbox.ExtractedText {
	ctx, done := p.enter(ctx, msg, StageExtracting)
	defer done()

	if len(msg.Attachments) == 0 {
		return nil
	}
	extracted := p.stages.Attachments.ExtractAll(ctx, msg.Attachments)
	for _, et := range extracted {
		p.metrics.ObserveExtraction(string(et.Modality), string(et.Status))
	}
	return extracted
}

// retrieve never fails: an unavailable knowledge base yields an empty result.
// An embedding dimension mismatch means the index must be rebuilt and is
// logged at error level.
func (p *Pipeline) retrieve(ctx context.Context, msg inbox.InboundMessage, threadText string, logger *logging.Logger) inbox.RetrievalResult {
	ctx, done := p.enter(ctx, msg, StageRetrieving)
	defer done()

	query := strings.TrimSpace(msg.Subject + "\n" + threadText)
	result, err := p.stages.Retriever.Retrieve(ctx, query, p.topN)
	switch {
	case err == nil:
		return result
	case errors.Is(err, retrieval.ErrDimensionMismatch):
		p.metrics.ObserveRetrievalError("dimension_mismatch")
		logger.Error("embedding dimension mismatch; drafting without snippets until the index is rebuilt", "error", err, "message_id", msg.ID)
	default:
		p.metrics.ObserveRetrievalError("unavailable")
		logger.Warn("knowledge retrieval failed; drafting without snippets", "error", err, "message_id", msg.ID)
	}
	return inbox.RetrievalResult{}
}

func (p *Pipeline) compose(ctx context.Context, msg inbox.InboundMessage, thread inbox.Thread, signals inbox.ExtractedSignals, retrieval inbox.RetrievalResult, tone inbox.Tone) (drafting.Composition, error) {
	ctx, done := p.enter(ctx, msg, StageComposing)
	defer done()
	return p.stages.Composer.Compose(ctx, thread, signals, retrieval, tone)
}

// thread returns the stored history with entry appended unless a redelivery
// already stored it.
func (p *Pipeline) thread(ctx context.Context, msg inbox.InboundMessage, entry inbox.ThreadEntry, logger *logging.Logger) inbox.Thread {
	thread := inbox.Thread{ID: msg.ThreadID, Subject: msg.Subject}
	if p.history != nil {
		stored, err := p.history.Load(ctx, msg.ThreadID)
		if err != nil {
			logger.Warn("failed to load thread history", "error", err, "message_id", msg.ID)
		} else {
			thread.Entries = stored.Entries
			if stored.Subject != "" {
				thread.Subject = stored.Subject
			}
		}
	}
	for _, e := range thread.Entries {
		if e.MessageID == entry.MessageID {
			return thread
		}
	}
	thread.Entries = append(thread.Entries, entry)
	return thread
}

// park sends msg to the offline queue. It uses a context detached from ctx so
// that a cancelled message is still persisted.
func (p *Pipeline) park(ctx context.Context, msg inbox.InboundMessage, tone inbox.Tone, kind string, cause error, logger *logging.Logger) (Outcome, error) {
	qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.enqueueTimeout)
	defer cancel()

	reason := kind
	if cause != nil && cause.Error() != kind {
		reason = kind + ": " + cause.Error()
	}
	item, err := p.queue.Enqueue(qctx, msg, reason, offlinequeue.WithTone(tone))
	if err != nil {
		logger.Error("failed to park message in offline queue", "error", err, "message_id", msg.ID, "reason", kind)
		return Outcome{}, fmt.Errorf("pipeline: park %s: %w", msg.ThreadID, err)
	}

	p.advance(qctx, msg.ID, StageQueued, kind, logger)
	p.metrics.ObserveOutcome(string(StageQueued), kind)
	p.refreshDepth(qctx)
	logger.Warn("message queued for later processing",
		"message_id", msg.ID,
		"reason", kind,
		"retry_count", item.RetryCount,
		"error", cause,
	)
	return Outcome{
		MessageID: msg.ID,
		ThreadID:  msg.ThreadID,
		Stage:     StageQueued,
		Item:      &item,
		Reason:    kind,
	}, nil
}

func (p *Pipeline) enter(ctx context.Context, msg inbox.InboundMessage, stage Stage) (context.Context, func()) {
	p.advance(ctx, msg.ID, stage, "", p.logger)
	ctx, span := p.tracer.Start(ctx, "pipeline."+string(stage))
	start := p.now()
	return ctx, func() {
		span.End()
		p.metrics.ObserveStage(string(stage), p.now().Sub(start).Seconds())
	}
}

func (p *Pipeline) markReceived(ctx context.Context, msg inbox.InboundMessage, logger *logging.Logger) {
	if p.status == nil {
		return
	}
	if err := p.status.MarkReceived(ctx, msg); err != nil {
		logger.Warn("failed to record status", "error", err, "message_id", msg.ID, "stage", StageReceived)
	}
}

func (p *Pipeline) advance(ctx context.Context, messageID string, stage Stage, detail string, logger *logging.Logger) {
	if p.status == nil {
		return
	}
	if err := p.status.Advance(ctx, messageID, stage, detail); err != nil {
		logger.Warn("failed to record status", "error", err, "message_id", messageID, "stage", stage)
	}
}

func (p *Pipeline) refreshDepth(ctx context.Context) {
	if p.metrics == nil {
		return
	}
	if n, err := p.queue.Len(ctx); err == nil {
		p.metrics.SetQueueDepth(n)
	}
}

func failureReason(err error) string {
	var perr *drafting.ParseError
	if errors.As(err, &perr) {
		return ReasonParseError
	}
	return ReasonGenerationError
}

// normalizeMessage fills the identifiers a message needs to be tracked and
// queued: a message id, and a thread id that defaults to the message id.
func normalizeMessage(msg inbox.InboundMessage) inbox.InboundMessage {
	msg.ID = strings.TrimSpace(msg.ID)
	msg.ThreadID = strings.TrimSpace(msg.ThreadID)
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.ThreadID == "" {
		msg.ThreadID = msg.ID
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now().UTC()
	}
	return msg
}
