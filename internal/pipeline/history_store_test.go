package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/support-copilot/internal/inbox"
)

func newTestHistory(t *testing.T) (*RedisHistoryStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisHistoryStore(client, nil), mr
}

func TestRedisHistoryStore_AppendAndLoad(t *testing.T) {
	store, mr := newTestHistory(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	for i, id := range []string{"m1", "m2", "m1"} {
		entry := inbox.ThreadEntry{MessageID: id, Subject: "Billing query", Text: "text " + id, ReceivedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := store.Append(ctx, "thread-1", entry); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	thread, err := store.Load(ctx, "thread-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if thread.ID != "thread-1" || thread.Subject != "Billing query" {
		t.Fatalf("unexpected thread header %+v", thread)
	}
	if len(thread.Entries) != 2 || thread.Entries[0].MessageID != "m1" || thread.Entries[1].MessageID != "m2" {
		t.Fatalf("expected redelivered entry to collapse, got %+v", thread.Entries)
	}
	if ttl := mr.TTL(historyKey("thread-1")); ttl <= 0 {
		t.Fatalf("expected ttl on history key, got %v", ttl)
	}
}

func TestRedisHistoryStore_CapsEntries(t *testing.T) {
	store, _ := newTestHistory(t)
	ctx := context.Background()
	for i := 0; i < defaultMaxEntries+5; i++ {
		if err := store.Append(ctx, "t", inbox.ThreadEntry{MessageID: fmt.Sprintf("m%02d", i)}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	thread, err := store.Load(ctx, "t")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(thread.Entries) != defaultMaxEntries || thread.Entries[0].MessageID != "m05" {
		t.Fatalf("expected newest %d entries, got %d starting at %s", defaultMaxEntries, len(thread.Entries), thread.Entries[0].MessageID)
	}
}

func TestRedisHistoryStore_UnknownThreadIsEmpty(t *testing.T) {
	store, _ := newTestHistory(t)
	thread, err := store.Load(context.Background(), "nope")
	if err != nil || len(thread.Entries) != 0 || thread.ID != "nope" {
		t.Fatalf("expected empty thread, got %+v err=%v", thread, err)
	}
}

func TestRedisHistoryStore_CorruptEntry(t *testing.T) {
	store, mr := newTestHistory(t)
	if _, err := mr.Push(historyKey("bad"), "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := store.Load(context.Background(), "bad"); err == nil {
		t.Fatal("expected decode error")
	}
}
