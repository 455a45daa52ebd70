package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryQueue_ReceiveBatches(t *testing.T) {
	q := NewMemoryQueue(4)
	ctx := context.Background()
	for _, body := range []string{"a", "b", "c"} {
		if err := q.Send(ctx, body); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	msgs, err := q.Receive(ctx, 2, 1)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Body != "a" || msgs[1].Body != "b" {
		t.Fatalf("unexpected batch %+v", msgs)
	}
	if msgs[0].ReceiptHandle == "" || msgs[0].ReceiptHandle == msgs[1].ReceiptHandle {
		t.Fatal("expected distinct receipt handles")
	}
	if q.InFlight() != 2 {
		t.Fatalf("expected 2 in flight, got %d", q.InFlight())
	}
	if err := q.Delete(ctx, msgs[0].ReceiptHandle); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if q.InFlight() != 1 {
		t.Fatalf("expected 1 in flight, got %d", q.InFlight())
	}
}

func TestMemoryQueue_ReceiveTimesOut(t *testing.T) {
	q := NewMemoryQueue(1)
	start := time.Now()
	msgs, err := q.Receive(context.Background(), 1, 1)
	if err != nil || msgs != nil {
		t.Fatalf("expected empty receive, got %v err=%v", msgs, err)
	}
	if time.Since(start) < 900*time.Millisecond {
		t.Fatal("receive returned before the wait elapsed")
	}
}

func TestMemoryQueue_ReceiveHonoursContext(t *testing.T) {
	q := NewMemoryQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := q.Receive(ctx, 1, 0); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
