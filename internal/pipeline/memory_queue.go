package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue is an in-process intake queue for local runs and tests.
// Received messages stay in flight until deleted; Requeue hands them out again.
type MemoryQueue struct {
	ch chan queueMessage

	mu       sync.Mutex
	inFlight map[string]queueMessage
}

// NewMemoryQueue creates a MemoryQueue with the provided buffer capacity.
func NewMemoryQueue(buffer int) *MemoryQueue {
	if buffer <= 0 {
		buffer = 128
	}
	return &MemoryQueue{
		ch:       make(chan queueMessage, buffer),
		inFlight: make(map[string]queueMessage),
	}
}

// Send enqueues a body or blocks until ctx is done.
func (q *MemoryQueue) Send(ctx context.Context, body string) error {
	return q.push(ctx, queueMessage{ID: uuid.NewString(), Body: body})
}

// Receive blocks until a message is available, ctx is done, or waitSeconds
// elapses. waitSeconds <= 0 waits on ctx alone.
func (q *MemoryQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error) {
	if maxMessages <= 0 {
		maxMessages = 1
	}
	var timeout <-chan time.Time
	if waitSeconds > 0 {
		timer := time.NewTimer(time.Duration(waitSeconds) * time.Second)
		defer timer.Stop()
		timeout = timer.C
	}

	var first queueMessage
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeout:
		return nil, nil
	case first = <-q.ch:
	}

	batch := []queueMessage{q.lease(first)}
	for len(batch) < maxMessages {
		select {
		case msg := <-q.ch:
			batch = append(batch, q.lease(msg))
		default:
			return batch, nil
		}
	}
	return batch, nil
}

// Delete acknowledges a received message.
func (q *MemoryQueue) Delete(_ context.Context, receiptHandle string) error {
	q.mu.Lock()
	delete(q.inFlight, receiptHandle)
	q.mu.Unlock()
	return nil
}

// Requeue returns every unacknowledged message to the queue, as an expired
// visibility timeout would.
func (q *MemoryQueue) Requeue(ctx context.Context) (int, error) {
	q.mu.Lock()
	pending := make([]queueMessage, 0, len(q.inFlight))
	for handle, msg := range q.inFlight {
		pending = append(pending, msg)
		delete(q.inFlight, handle)
	}
	q.mu.Unlock()

	for i, msg := range pending {
		if err := q.push(ctx, msg); err != nil {
			return i, err
		}
	}
	return len(pending), nil
}

// InFlight reports how many received messages are not yet deleted.
func (q *MemoryQueue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inFlight)
}

func (q *MemoryQueue) push(ctx context.Context, msg queueMessage) error {
	msg.ReceiptHandle = ""
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) lease(msg queueMessage) queueMessage {
	msg.ReceiptHandle = uuid.NewString()
	q.mu.Lock()
	q.inFlight[msg.ReceiptHandle] = msg
	q.mu.Unlock()
	return msg
}
