package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/support-copilot/internal/inbox"
)

const (
	historyTTL        = 30 * 24 * time.Hour
	defaultMaxEntries = 20
)

// HistoryStore keeps the processed messages of each thread.
type HistoryStore interface {
	Load(ctx context.Context, threadID string) (inbox.Thread, error)
	Append(ctx context.Context, threadID string, entry inbox.ThreadEntry) error
}

// RedisHistoryStore keeps each thread as a capped Redis list of JSON entries.
type RedisHistoryStore struct {
	redis      *redis.Client
	tracer     trace.Tracer
	maxEntries int64
}

func NewRedisHistoryStore(client *redis.Client, tracer trace.Tracer) *RedisHistoryStore {
	if client == nil {
		panic("pipeline: redis client cannot be nil")
	}
	if tracer == nil {
		tracer = otel.Tracer("support.internal.pipeline.history")
	}
	return &RedisHistoryStore{
		redis:      client,
		tracer:     tracer,
		maxEntries: defaultMaxEntries,
	}
}

// Append adds entry to the thread, keeping the newest entries.
func (s *RedisHistoryStore) Append(ctx context.Context, threadID string, entry inbox.ThreadEntry) error {
	ctx, span := s.tracer.Start(ctx, "pipeline.append_history")
	defer span.End()

	data, err := json.Marshal(entry)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("pipeline: failed to marshal history entry: %w", err)
	}
	key := historyKey(threadID)
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, data)
		pipe.LTrim(ctx, key, -s.maxEntries, -1)
		pipe.Expire(ctx, key, historyTTL)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("pipeline: failed to persist history: %w", err)
	}
	return nil
}

// Load returns the thread's stored entries. An unknown thread is empty, not
// an error. Entries repeated by redelivery collapse to the first copy.
func (s *RedisHistoryStore) Load(ctx context.Context, threadID string) (inbox.Thread, error) {
	ctx, span := s.tracer.Start(ctx, "pipeline.load_history")
	defer span.End()

	thread := inbox.Thread{ID: threadID}
	raw, err := s.redis.LRange(ctx, historyKey(threadID), 0, -1).Result()
	if err != nil {
		span.RecordError(err)
		return thread, fmt.Errorf("pipeline: failed to load history: %w", err)
	}

	seen := make(map[string]bool, len(raw))
	for _, item := range raw {
		var entry inbox.ThreadEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			span.RecordError(err)
			return inbox.Thread{ID: threadID}, fmt.Errorf("pipeline: failed to decode history: %w", err)
		}
		if entry.MessageID != "" && seen[entry.MessageID] {
			continue
		}
		seen[entry.MessageID] = true
		if thread.Subject == "" {
			thread.Subject = entry.Subject
		}
		thread.Entries = append(thread.Entries, entry)
	}
	return thread, nil
}

func historyKey(threadID string) string {
	return fmt.Sprintf("thread:%s", threadID)
}
