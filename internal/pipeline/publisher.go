package pipeline

import (
	"context"
	"fmt"

	"github.com/wolfman30/support-copilot/internal/inbox"
	"github.com/wolfman30/support-copilot/pkg/logging"
)

// Publisher hands inbound messages to the worker pool through the intake queue.
type Publisher struct {
	queue  IntakeQueue
	logger *logging.Logger
}

// NewPublisher creates a queue-backed publisher.
func NewPublisher(queue IntakeQueue, logger *logging.Logger) *Publisher {
	if queue == nil {
		panic("pipeline: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{
		queue:  queue,
		logger: logger,
	}
}

// Publish enqueues msg for processing and returns the job id, which is the
// message id.
func (p *Publisher) Publish(ctx context.Context, msg inbox.InboundMessage, opts ...PublishOption) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	msg = normalizeMessage(msg)

	payload := queuePayload{ID: msg.ID, Message: msg}
	for _, opt := range opts {
		opt(&payload)
	}
	payload, body, err := encodePayload(payload)
	if err != nil {
		return "", err
	}

	if err := p.queue.Send(ctx, body); err != nil {
		return "", fmt.Errorf("pipeline: failed to enqueue message: %w", err)
	}

	p.logger.Debug("inbound message published", "job_id", payload.ID, "thread_id", msg.ThreadID, "attachments", len(msg.Attachments))
	return payload.ID, nil
}
