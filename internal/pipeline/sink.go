package pipeline

import (
	"context"

	"github.com/wolfman30/support-copilot/internal/inbox"
)

// DraftSink receives finished drafts. A failed delivery sends the message to
// the offline queue instead.
type DraftSink interface {
	Deliver(ctx context.Context, draft inbox.Draft) error
}

// DraftSinkFunc adapts a function to DraftSink.
type DraftSinkFunc func(ctx context.Context, draft inbox.Draft) error

func (f DraftSinkFunc) Deliver(ctx context.Context, draft inbox.Draft) error {
	return f(ctx, draft)
}
