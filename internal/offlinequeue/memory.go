package offlinequeue

import (
	"context"
	"iter"
	"sort"
	"sync"
	"time"

	"github.com/wolfman30/support-copilot/internal/inbox"
)

type memoryEntry struct {
	item inbox.QueuedItem
	seq  uint64
}

// MemoryQueue is an in-process Queue. All operations hold one mutex.
type MemoryQueue struct {
	retention time.Duration
	now       func() time.Time

	mu      sync.Mutex
	entries map[string]*memoryEntry
	nextSeq uint64
}

type Option func(*options)

type options struct {
	retention time.Duration
	now       func() time.Time
	keyPrefix string
}

// WithRetention sets the idempotency window for re-enqueues.
func WithRetention(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.retention = d
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithKeyPrefix namespaces the Redis keys.
func WithKeyPrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.keyPrefix = prefix
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{retention: DefaultRetention, now: time.Now, keyPrefix: "offlineq"}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func NewMemoryQueue(opts ...Option) *MemoryQueue {
	o := buildOptions(opts)
	return &MemoryQueue{
		retention: o.retention,
		now:       o.now,
		entries:   make(map[string]*memoryEntry),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, msg inbox.InboundMessage, reason string, opts ...EnqueueOption) (inbox.QueuedItem, error) {
	if err := validateMessage(msg); err != nil {
		return inbox.QueuedItem{}, err
	}
	cfg := buildEnqueueConfig(opts)
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, ok := q.entries[msg.ThreadID]
	var existing *inbox.QueuedItem
	if ok {
		existing = &entry.item
	}
	item := merge(existing, msg, cfg.tone, reason, q.now(), q.retention)
	if ok && item.EnqueuedAt.Equal(entry.item.EnqueuedAt) {
		entry.item = item
		return item, nil
	}
	q.nextSeq++
	q.entries[msg.ThreadID] = &memoryEntry{item: item, seq: q.nextSeq}
	return item, nil
}

func (q *MemoryQueue) Drainable(ctx context.Context) iter.Seq2[inbox.QueuedItem, error] {
	return func(yield func(inbox.QueuedItem, error) bool) {
		q.mu.Lock()
		ids := q.orderedIDsLocked()
		q.mu.Unlock()

		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				yield(inbox.QueuedItem{}, err)
				return
			}
			q.mu.Lock()
			entry, ok := q.entries[id]
			var item inbox.QueuedItem
			if ok {
				item = entry.item
			}
			q.mu.Unlock()
			if !ok {
				continue
			}
			if !yield(item, nil) {
				return
			}
		}
	}
}

func (q *MemoryQueue) Remove(ctx context.Context, threadID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.entries, threadID)
	return nil
}

func (q *MemoryQueue) Settle(ctx context.Context, threadID, messageID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	entry, ok := q.entries[threadID]
	if !ok {
		return false, nil
	}
	next, found, empty := settle(entry.item, messageID)
	switch {
	case !found:
		return false, nil
	case empty:
		delete(q.entries, threadID)
		return true, nil
	}
	entry.item = next
	return false, nil
}

func (q *MemoryQueue) List(ctx context.Context) ([]inbox.QueuedItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.listLocked(), nil
}

func (q *MemoryQueue) Len(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries), nil
}

func (q *MemoryQueue) ExportAll(ctx context.Context) ([]byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	data, err := EncodeJSONL(q.listLocked())
	if err != nil {
		return nil, err
	}
	q.entries = make(map[string]*memoryEntry)
	return data, nil
}

func (q *MemoryQueue) ImportBatch(ctx context.Context, batch []byte) (ImportReport, error) {
	lines, errs := decodeLines(batch)
	report := ImportReport{Errors: errs}

	q.mu.Lock()
	defer q.mu.Unlock()
	for _, l := range lines {
		item := l.item
		if _, exists := q.entries[item.Message.ThreadID]; exists {
			report.Errors = append(report.Errors, &ItemError{Line: l.line, ThreadID: item.Message.ThreadID, Err: ErrDuplicate})
			continue
		}
		q.nextSeq++
		q.entries[item.Message.ThreadID] = &memoryEntry{item: item, seq: q.nextSeq}
		report.Imported++
	}
	return report, nil
}

func (q *MemoryQueue) orderedIDsLocked() []string {
	entries := make([]*memoryEntry, 0, len(q.entries))
	for _, e := range q.entries {
		entries = append(entries, e)
	}
	sortEntries(entries)
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.item.Message.ThreadID
	}
	return ids
}

func (q *MemoryQueue) listLocked() []inbox.QueuedItem {
	entries := make([]*memoryEntry, 0, len(q.entries))
	for _, e := range q.entries {
		entries = append(entries, e)
	}
	sortEntries(entries)
	out := make([]inbox.QueuedItem, len(entries))
	for i, e := range entries {
		out[i] = e.item
	}
	return out
}

// sortEntries orders by enqueue time, then by arrival.
func sortEntries(entries []*memoryEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].item.EnqueuedAt.Equal(entries[j].item.EnqueuedAt) {
			return entries[i].item.EnqueuedAt.Before(entries[j].item.EnqueuedAt)
		}
		return entries[i].seq < entries[j].seq
	})
}
