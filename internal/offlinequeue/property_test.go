package offlinequeue

import (
	"context"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"pgregory.net/rapid"
)

type enqueueOp struct {
	thread int
	advance time.Duration
}

func drawOps(rt *rapid.T) []enqueueOp {
	n := rapid.IntRange(1, 20).Draw(rt, "ops")
	ops := make([]enqueueOp, n)
	for i := range ops {
		ops[i] = enqueueOp{
			thread:  rapid.IntRange(0, 4).Draw(rt, "thread"),
			advance: time.Duration(rapid.IntRange(0, 30).Draw(rt, "advance_min")) * time.Minute,
		}
	}
	return ops
}

// expectedCounts models the queue: one item per thread, retry count bumped
// on every re-enqueue inside the one-hour window.
func expectedCounts(ops []enqueueOp) map[string]int {
	type state struct {
		since time.Time
		count int
	}
	now := time.Time{}
	model := map[string]*state{}
	for _, op := range ops {
		id := fmt.Sprintf("thread-%d", op.thread)
		if s, ok := model[id]; ok && now.Sub(s.since) < time.Hour {
			s.count++
		} else {
			model[id] = &state{since: now}
		}
		now = now.Add(op.advance)
	}
	out := make(map[string]int, len(model))
	for id, s := range model {
		out[id] = s.count
	}
	return out
}

func checkIdempotentEnqueue(rt *rapid.T, q Queue, clock *fakeClock, ops []enqueueOp) {
	ctx := context.Background()
	for _, op := range ops {
		if _, err := q.Enqueue(ctx, message(fmt.Sprintf("thread-%d", op.thread)), "timeout"); err != nil {
			rt.Fatalf("enqueue: %v", err)
		}
		clock.Advance(op.advance)
	}
	items, err := q.List(ctx)
	if err != nil {
		rt.Fatalf("list: %v", err)
	}
	got := make(map[string]int, len(items))
	for _, item := range items {
		if _, dup := got[item.Message.ThreadID]; dup {
			rt.Fatalf("thread %s queued twice", item.Message.ThreadID)
		}
		got[item.Message.ThreadID] = item.RetryCount
	}
	if want := expectedCounts(ops); !reflect.DeepEqual(got, want) {
		rt.Fatalf("retry counts %v, want %v", got, want)
	}
}

func checkRoundTrip(rt *rapid.T, src, dst Queue, clock *fakeClock, ops []enqueueOp) {
	ctx := context.Background()
	for _, op := range ops {
		_, _ = src.Enqueue(ctx, message(fmt.Sprintf("thread-%d", op.thread)), "timeout")
		clock.Advance(op.advance + time.Duration(op.thread)*time.Nanosecond)
	}
	before, _ := src.List(ctx)
	batch, err := src.ExportAll(ctx)
	if err != nil {
		rt.Fatalf("export: %v", err)
	}
	report, err := dst.ImportBatch(ctx, batch)
	if err != nil || report.Err() != nil {
		rt.Fatalf("import: %v %v", err, report.Err())
	}
	after, _ := dst.List(ctx)
	if !reflect.DeepEqual(before, after) {
		rt.Fatalf("round trip mismatch:\nbefore %+v\nafter  %+v", before, after)
	}
}

func TestMemoryQueue_Properties(t *testing.T) {
	t.Run("idempotent enqueue", func(t *testing.T) {
		rapid.Check(t, func(rt *rapid.T) {
			clock := newFakeClock()
			q := NewMemoryQueue(WithClock(clock.Now), WithRetention(time.Hour))
			checkIdempotentEnqueue(rt, q, clock, drawOps(rt))
		})
	})
	t.Run("export import round trip", func(t *testing.T) {
		rapid.Check(t, func(rt *rapid.T) {
			clock := newFakeClock()
			src := NewMemoryQueue(WithClock(clock.Now), WithRetention(time.Hour))
			dst := NewMemoryQueue()
			checkRoundTrip(rt, src, dst, clock, drawOps(rt))
		})
	})
}

func TestRedisQueue_Properties(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	newQueue := func(clock *fakeClock) Queue {
		mr.FlushAll()
		return NewRedisQueue(client, WithClock(clock.Now), WithRetention(time.Hour))
	}
	t.Run("idempotent enqueue", func(t *testing.T) {
		rapid.Check(t, func(rt *rapid.T) {
			clock := newFakeClock()
			checkIdempotentEnqueue(rt, newQueue(clock), clock, drawOps(rt))
		})
	})
	t.Run("export import round trip", func(t *testing.T) {
		rapid.Check(t, func(rt *rapid.T) {
			clock := newFakeClock()
			src := newQueue(clock)
			dst := NewRedisQueue(client, WithKeyPrefix("import-target"))
			checkRoundTrip(rt, src, dst, clock, drawOps(rt))
		})
	})
}
