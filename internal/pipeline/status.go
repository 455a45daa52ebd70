package pipeline

import (
	"context"

	"github.com/wolfman30/support-copilot/internal/inbox"
)

// Stage is a step of the per-message state machine:
// Received → Extracting → Retrieving → Composing → Drafted | Queued.
type Stage string

const (
	StageReceived   Stage = "received"
	StageExtracting Stage = "extracting"
	StageRetrieving Stage = "retrieving"
	StageComposing  Stage = "composing"
	StageDrafted    Stage = "drafted"
	StageQueued     Stage = "queued"
)

// Terminal reports whether the stage ends processing.
func (s Stage) Terminal() bool {
	return s == StageDrafted || s == StageQueued
}

// StatusRecorder persists state transitions. Recording is best effort.
type StatusRecorder interface {
	MarkReceived(ctx context.Context, msg inbox.InboundMessage) error
	Advance(ctx context.Context, messageID string, stage Stage, detail string) error
}
