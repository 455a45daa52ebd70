package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/wolfman30/support-copilot/internal/inbox"
)

// IntakeQueue is the contract the job scheduler offers: at-least-once
// delivery of opaque bodies, acknowledged by receipt handle.
type IntakeQueue interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

type queueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
}

type queuePayload struct {
	ID      string               `json:"id"`
	Message inbox.InboundMessage `json:"message"`
	Tone    inbox.Tone           `json:"tone,omitempty"`
}

type PublishOption func(*queuePayload)

// WithTone requests a reply tone for the published message.
func WithTone(tone inbox.Tone) PublishOption {
	return func(p *queuePayload) {
		p.Tone = tone
	}
}

func encodePayload(payload queuePayload) (queuePayload, string, error) {
	if payload.ID == "" {
		payload.ID = uuid.NewString()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return queuePayload{}, "", fmt.Errorf("pipeline: failed to encode payload: %w", err)
	}

	return payload, string(body), nil
}
