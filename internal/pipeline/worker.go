package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/wolfman30/support-copilot/internal/inbox"
	"github.com/wolfman30/support-copilot/pkg/logging"
)

const (
	defaultWorkerCount   = 2
	defaultWaitSeconds   = 2
	defaultBatchSize     = 5
	maxWaitSeconds       = 20
	maxReceiveBatchSize  = 10
	deleteTimeoutSeconds = 5
)

// Processor is the part of *Pipeline the worker needs.
type Processor interface {
	Process(ctx context.Context, msg inbox.InboundMessage, health Health, opts ...ProcessOption) (Outcome, error)
}

type workerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
	health           HealthSource
}

type WorkerOption func(*workerConfig)

// WithWorkerCount sets how many goroutines pull from the intake queue.
func WithWorkerCount(count int) WorkerOption {
	return func(cfg *workerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the long-poll wait duration.
func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(cfg *workerConfig) {
		if seconds < 0 {
			return
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize controls how many messages one receive returns.
func WithReceiveBatchSize(size int) WorkerOption {
	return func(cfg *workerConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchSize {
			size = maxReceiveBatchSize
		}
		cfg.receiveBatchSize = size
	}
}

// WithHealthSource sets the health check queried once per received batch.
// Without one every batch is treated as online.
func WithHealthSource(health HealthSource) WorkerOption {
	return func(cfg *workerConfig) {
		cfg.health = health
	}
}

// Worker pulls inbound messages from the intake queue and runs them through
// the pipeline.
type Worker struct {
	processor Processor
	queue     IntakeQueue
	logger    *logging.Logger
	cfg       workerConfig
	wg        sync.WaitGroup
}

func NewWorker(processor Processor, queue IntakeQueue, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if processor == nil {
		panic("pipeline: processor cannot be nil")
	}
	if queue == nil {
		panic("pipeline: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	cfg := workerConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Worker{
		processor: processor,
		queue:     queue,
		logger:    logger,
		cfg:       cfg,
	}
}

// Start launches worker goroutines until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until all worker goroutines exit.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("pipeline worker started", "worker_id", workerID)

	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("pipeline worker stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.logger.Error("failed to receive inbound messages", "error", err, "worker_id", workerID)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
		if len(messages) == 0 {
			continue
		}

		health := w.checkHealth(ctx)
		for _, msg := range messages {
			w.handleMessage(ctx, msg, health)
		}
	}
}

func (w *Worker) checkHealth(ctx context.Context) Health {
	if w.cfg.health == nil {
		return Online()
	}
	return w.cfg.health.Check(ctx)
}

// handleMessage acknowledges the delivery once the message reached a terminal
// outcome. If it could be neither drafted nor queued the delivery is left for
// redelivery.
func (w *Worker) handleMessage(ctx context.Context, msg queueMessage, health Health) {
	var payload queuePayload
	if err := json.Unmarshal([]byte(msg.Body), &payload); err != nil {
		w.logger.Error("failed to decode inbound message", "error", err, "msg_id", msg.ID)
		w.deleteMessage(context.Background(), msg.ReceiptHandle)
		return
	}

	w.logger.Info("worker processing message",
		"job_id", payload.ID,
		"thread_id", payload.Message.ThreadID,
		"attachments", len(payload.Message.Attachments),
		"msg_id", msg.ID,
	)

	var opts []ProcessOption
	if payload.Tone != "" {
		opts = append(opts, RequestTone(payload.Tone))
	}
	outcome, err := w.processor.Process(ctx, payload.Message, health, opts...)
	if err != nil {
		w.logger.Error("inbound message left for redelivery", "error", err, "job_id", payload.ID)
		return
	}

	w.logger.Debug("inbound message processed", "job_id", payload.ID, "stage", outcome.Stage, "reason", outcome.Reason)
	w.deleteMessage(context.Background(), msg.ReceiptHandle)
}

func (w *Worker) deleteMessage(ctx context.Context, receiptHandle string) {
	if receiptHandle == "" {
		return
	}

	deleteCtx, cancel := context.WithTimeout(ctx, deleteTimeoutSeconds*time.Second)
	defer cancel()

	if err := w.queue.Delete(deleteCtx, receiptHandle); err != nil {
		w.logger.Error("failed to delete inbound message", "error", err)
	}
}
