// Package offlinequeue parks inbound messages that could not be drafted so
// they can be reprocessed, exported or imported later.
package offlinequeue

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/wolfman30/support-copilot/internal/inbox"
)

// DefaultRetention is how long a queued thread absorbs re-enqueues.
const DefaultRetention = 72 * time.Hour

var (
	ErrMissingThreadID = errors.New("offlinequeue: message has no thread id")
	ErrDuplicate       = errors.New("offlinequeue: thread already queued")
)

// Queue is the offline queue. Items are keyed by thread id and drained in
// enqueue order. Implementations are safe for concurrent writers.
type Queue interface {
	// Enqueue parks msg. Re-enqueuing a thread inside the retention window
	// increments its retry count instead of adding a second item. A message
	// with a new id joins the thread's item; earlier messages stay queued.
	Enqueue(ctx context.Context, msg inbox.InboundMessage, reason string, opts ...EnqueueOption) (inbox.QueuedItem, error)
	// Drainable lists items oldest first. Items removed while iterating are
	// skipped; call again to re-list.
	Drainable(ctx context.Context) iter.Seq2[inbox.QueuedItem, error]
	Remove(ctx context.Context, threadID string) error
	// Settle clears messageID from the thread's item and removes the item
	// once no message is left, so a message enqueued during reprocessing is
	// not lost. It reports whether the item was removed.
	Settle(ctx context.Context, threadID, messageID string) (bool, error)
	List(ctx context.Context) ([]inbox.QueuedItem, error)
	Len(ctx context.Context) (int, error)
	// ExportAll serializes every item as JSON lines and removes them.
	ExportAll(ctx context.Context) ([]byte, error)
	// ImportBatch adds the items of a serialized batch. Malformed or
	// duplicate lines are reported and do not stop the rest.
	ImportBatch(ctx context.Context, batch []byte) (ImportReport, error)
}

// EnqueueOption adjusts a single Enqueue call.
type EnqueueOption func(*enqueueConfig)

type enqueueConfig struct {
	tone inbox.Tone
}

// WithTone stores the reply tone requested for the message so a later rerun
// asks for the same one.
func WithTone(tone inbox.Tone) EnqueueOption {
	return func(c *enqueueConfig) {
		c.tone = tone
	}
}

func buildEnqueueConfig(opts []EnqueueOption) enqueueConfig {
	var c enqueueConfig
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// ItemError describes one rejected line of an import batch.
type ItemError struct {
	Line     int    `json:"line"`
	ThreadID string `json:"thread_id,omitempty"`
	Err      error  `json:"-"`
}

func (e *ItemError) Error() string {
	if e.ThreadID != "" {
		return fmt.Sprintf("offlinequeue: line %d (thread %s): %v", e.Line, e.ThreadID, e.Err)
	}
	return fmt.Sprintf("offlinequeue: line %d: %v", e.Line, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}

// ImportReport summarizes an import.
type ImportReport struct {
	Imported int
	Errors   []*ItemError
}

// Err joins the per-item errors, or returns nil when every line imported.
func (r ImportReport) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	errs := make([]error, len(r.Errors))
	for i, e := range r.Errors {
		errs[i] = e
	}
	return errors.Join(errs...)
}

// normalizeTime drops the monotonic reading and location so stored times
// compare equal after a serialization round trip.
func normalizeTime(t time.Time) time.Time {
	return t.UTC().Round(0)
}

func normalizeMessage(msg inbox.InboundMessage) inbox.InboundMessage {
	msg.ReceivedAt = normalizeTime(msg.ReceivedAt)
	if len(msg.Attachments) == 0 {
		msg.Attachments = nil
	} else {
		atts := make([]inbox.Attachment, len(msg.Attachments))
		copy(atts, msg.Attachments)
		msg.Attachments = atts
	}
	return msg
}

// merge applies the enqueue rules to an existing item, or creates a new one.
// A message already queued is replaced in place; any other message becomes
// the head and the previous head moves to Pending. Queued messages survive
// an expired window, which only restarts EnqueuedAt and the retry count.
func merge(existing *inbox.QueuedItem, msg inbox.InboundMessage, tone inbox.Tone, reason string, now time.Time, retention time.Duration) inbox.QueuedItem {
	now = normalizeTime(now)
	msg = normalizeMessage(msg)
	item := inbox.QueuedItem{
		Message:    msg,
		Tone:       tone,
		EnqueuedAt: now,
		LastError:  reason,
	}
	if existing == nil {
		return item
	}
	if now.Sub(existing.EnqueuedAt) < retention {
		item.EnqueuedAt = existing.EnqueuedAt
		item.RetryCount = existing.RetryCount + 1
	}

	pending := clonePending(existing.Pending)
	if existing.Message.ID == msg.ID {
		if tone == "" {
			item.Tone = existing.Tone
		}
		item.Pending = pending
		return item
	}
	for i, pm := range pending {
		if pm.Message.ID != msg.ID {
			continue
		}
		if tone == "" {
			tone = pm.Tone
		}
		pending[i] = inbox.PendingMessage{Message: msg, Tone: tone}
		item.Message = existing.Message
		item.Tone = existing.Tone
		item.Pending = pending
		return item
	}
	item.Pending = append(pending, inbox.PendingMessage{Message: existing.Message, Tone: existing.Tone})
	return item
}

// settle clears messageID from item. found reports whether the message was
// queued and empty whether nothing is left; otherwise next is the item to
// store, with the newest remaining message promoted to head if needed.
func settle(item inbox.QueuedItem, messageID string) (next inbox.QueuedItem, found, empty bool) {
	if item.Message.ID == messageID {
		n := len(item.Pending)
		if n == 0 {
			return item, true, true
		}
		head := item.Pending[n-1]
		item.Message = head.Message
		item.Tone = head.Tone
		item.Pending = clonePending(item.Pending[:n-1])
		return item, true, false
	}
	for i, pm := range item.Pending {
		if pm.Message.ID != messageID {
			continue
		}
		pending := make([]inbox.PendingMessage, 0, len(item.Pending)-1)
		pending = append(pending, item.Pending[:i]...)
		pending = append(pending, item.Pending[i+1:]...)
		item.Pending = clonePending(pending)
		return item, true, false
	}
	return item, false, false
}

func clonePending(pending []inbox.PendingMessage) []inbox.PendingMessage {
	if len(pending) == 0 {
		return nil
	}
	out := make([]inbox.PendingMessage, len(pending))
	copy(out, pending)
	return out
}

func validateMessage(msg inbox.InboundMessage) error {
	if strings.TrimSpace(msg.ThreadID) == "" {
		return ErrMissingThreadID
	}
	return nil
}
