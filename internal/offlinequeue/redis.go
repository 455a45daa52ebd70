package offlinequeue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/support-copilot/internal/inbox"
)

const maxTxRetries = 16

// RedisQueue is a Queue shared by every worker process. Items live in a hash
// keyed by thread id; a sorted set scored by enqueue time gives FIFO order,
// and a per-item sequence from an INCR counter breaks ties between equal
// scores. Writes run in WATCH/MULTI transactions.
type RedisQueue struct {
	client    *redis.Client
	retention time.Duration
	now       func() time.Time
	orderKey  string
	itemsKey  string
	seqKey    string
}

// record is the stored form of an item.
type record struct {
	inbox.QueuedItem
	Seq int64 `json:"seq,omitempty"`
}

func NewRedisQueue(client *redis.Client, opts ...Option) *RedisQueue {
	if client == nil {
		panic("offlinequeue: redis client cannot be nil")
	}
	o := buildOptions(opts)
	return &RedisQueue{
		client:    client,
		retention: o.retention,
		now:       o.now,
		orderKey:  o.keyPrefix + ":order",
		itemsKey:  o.keyPrefix + ":items",
		seqKey:    o.keyPrefix + ":seq",
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, msg inbox.InboundMessage, reason string, opts ...EnqueueOption) (inbox.QueuedItem, error) {
	if err := validateMessage(msg); err != nil {
		return inbox.QueuedItem{}, err
	}
	cfg := buildEnqueueConfig(opts)

	var item inbox.QueuedItem
	txf := func(tx *redis.Tx) error {
		rec, err := q.getRecord(ctx, tx, msg.ThreadID)
		if err != nil {
			return err
		}
		var existing *inbox.QueuedItem
		if rec != nil {
			existing = &rec.QueuedItem
		}
		item = merge(existing, msg, cfg.tone, reason, q.now(), q.retention)

		var seq int64
		if rec != nil && item.EnqueuedAt.Equal(rec.EnqueuedAt) {
			seq = rec.Seq
		} else if seq, err = tx.Incr(ctx, q.seqKey).Result(); err != nil {
			return fmt.Errorf("offlinequeue: next sequence: %w", err)
		}
		payload, err := json.Marshal(record{QueuedItem: item, Seq: seq})
		if err != nil {
			return fmt.Errorf("offlinequeue: encode item: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, q.itemsKey, msg.ThreadID, payload)
			pipe.ZAdd(ctx, q.orderKey, redis.Z{Score: orderScore(item.EnqueuedAt), Member: msg.ThreadID})
			return nil
		})
		return err
	}
	if err := q.watch(ctx, txf, q.itemsKey); err != nil {
		return inbox.QueuedItem{}, fmt.Errorf("offlinequeue: enqueue %s: %w", msg.ThreadID, err)
	}
	return item, nil
}

func (q *RedisQueue) Drainable(ctx context.Context) iter.Seq2[inbox.QueuedItem, error] {
	return func(yield func(inbox.QueuedItem, error) bool) {
		entries, err := q.ordered(ctx, q.client)
		if err != nil {
			yield(inbox.QueuedItem{}, err)
			return
		}
		for _, e := range entries {
			if err := ctx.Err(); err != nil {
				yield(inbox.QueuedItem{}, err)
				return
			}
			rec, err := q.getRecord(ctx, q.client, e.id)
			if err != nil {
				if !yield(inbox.QueuedItem{}, err) {
					return
				}
				continue
			}
			if rec == nil {
				continue
			}
			if !yield(rec.QueuedItem, nil) {
				return
			}
		}
	}
}

func (q *RedisQueue) Remove(ctx context.Context, threadID string) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, q.itemsKey, threadID)
		pipe.ZRem(ctx, q.orderKey, threadID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("offlinequeue: remove %s: %w", threadID, err)
	}
	return nil
}

func (q *RedisQueue) Settle(ctx context.Context, threadID, messageID string) (bool, error) {
	var removed bool
	txf := func(tx *redis.Tx) error {
		removed = false
		rec, err := q.getRecord(ctx, tx, threadID)
		if err != nil || rec == nil {
			return err
		}
		next, found, empty := settle(rec.QueuedItem, messageID)
		if !found {
			return nil
		}
		if empty {
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HDel(ctx, q.itemsKey, threadID)
				pipe.ZRem(ctx, q.orderKey, threadID)
				return nil
			})
			removed = err == nil
			return err
		}
		payload, err := json.Marshal(record{QueuedItem: next, Seq: rec.Seq})
		if err != nil {
			return fmt.Errorf("offlinequeue: encode item: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, q.itemsKey, threadID, payload)
			return nil
		})
		return err
	}
	if err := q.watch(ctx, txf, q.itemsKey); err != nil {
		return false, fmt.Errorf("offlinequeue: settle %s: %w", threadID, err)
	}
	return removed, nil
}

func (q *RedisQueue) List(ctx context.Context) ([]inbox.QueuedItem, error) {
	return q.listAll(ctx, q.client)
}

func (q *RedisQueue) Len(ctx context.Context) (int, error) {
	n, err := q.client.ZCard(ctx, q.orderKey).Result()
	if err != nil {
		return 0, fmt.Errorf("offlinequeue: count: %w", err)
	}
	return int(n), nil
}

func (q *RedisQueue) ExportAll(ctx context.Context) ([]byte, error) {
	var data []byte
	txf := func(tx *redis.Tx) error {
		items, err := q.listAll(ctx, tx)
		if err != nil {
			return err
		}
		data, err = EncodeJSONL(items)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, q.itemsKey, q.orderKey)
			return nil
		})
		return err
	}
	if err := q.watch(ctx, txf, q.itemsKey, q.orderKey); err != nil {
		return nil, fmt.Errorf("offlinequeue: export: %w", err)
	}
	return data, nil
}

func (q *RedisQueue) ImportBatch(ctx context.Context, batch []byte) (ImportReport, error) {
	lines, errs := decodeLines(batch)
	report := ImportReport{Errors: errs}

	for _, l := range lines {
		item := l.item
		inserted := false
		txf := func(tx *redis.Tx) error {
			inserted = false
			exists, err := tx.HExists(ctx, q.itemsKey, item.Message.ThreadID).Result()
			if err != nil || exists {
				return err
			}
			seq, err := tx.Incr(ctx, q.seqKey).Result()
			if err != nil {
				return fmt.Errorf("next sequence: %w", err)
			}
			payload, err := json.Marshal(record{QueuedItem: item, Seq: seq})
			if err != nil {
				return fmt.Errorf("encode item: %w", err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, q.itemsKey, item.Message.ThreadID, payload)
				pipe.ZAdd(ctx, q.orderKey, redis.Z{Score: orderScore(item.EnqueuedAt), Member: item.Message.ThreadID})
				return nil
			})
			inserted = err == nil
			return err
		}
		if err := q.watch(ctx, txf, q.itemsKey); err != nil {
			return report, fmt.Errorf("offlinequeue: import %s: %w", item.Message.ThreadID, err)
		}
		if !inserted {
			report.Errors = append(report.Errors, &ItemError{Line: l.line, ThreadID: item.Message.ThreadID, Err: ErrDuplicate})
			continue
		}
		report.Imported++
	}
	return report, nil
}

// watch runs txf under WATCH, retrying when another writer touched the keys.
func (q *RedisQueue) watch(ctx context.Context, txf func(*redis.Tx) error, keys ...string) error {
	for i := 0; i < maxTxRetries; i++ {
		err := q.client.Watch(ctx, txf, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return redis.TxFailedErr
}

func (q *RedisQueue) getRecord(ctx context.Context, c redis.Cmdable, threadID string) (*record, error) {
	raw, err := c.HGet(ctx, q.itemsKey, threadID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("offlinequeue: get %s: %w", threadID, err)
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("offlinequeue: decode %s: %w", threadID, err)
	}
	return &rec, nil
}

type orderedEntry struct {
	id    string
	raw   string
	score float64
	seq   int64
}

// ordered lists stored items by enqueue time, then by sequence. A record
// that does not decode keeps its score order and is reported by the caller
// that decodes it.
func (q *RedisQueue) ordered(ctx context.Context, c redis.Cmdable) ([]orderedEntry, error) {
	zs, err := c.ZRangeWithScores(ctx, q.orderKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("offlinequeue: list order: %w", err)
	}
	if len(zs) == 0 {
		return nil, nil
	}
	ids := make([]string, len(zs))
	for i, z := range zs {
		ids[i], _ = z.Member.(string)
	}
	values, err := c.HMGet(ctx, q.itemsKey, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("offlinequeue: list items: %w", err)
	}
	out := make([]orderedEntry, 0, len(zs))
	for i, z := range zs {
		raw, ok := values[i].(string)
		if !ok {
			continue
		}
		e := orderedEntry{id: ids[i], raw: raw, score: z.Score}
		var rec record
		if json.Unmarshal([]byte(raw), &rec) == nil {
			e.seq = rec.Seq
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score < out[j].score
		}
		return out[i].seq < out[j].seq
	})
	return out, nil
}

func (q *RedisQueue) listAll(ctx context.Context, c redis.Cmdable) ([]inbox.QueuedItem, error) {
	entries, err := q.ordered(ctx, c)
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	out := make([]inbox.QueuedItem, 0, len(entries))
	for _, e := range entries {
		var rec record
		if err := json.Unmarshal([]byte(e.raw), &rec); err != nil {
			return nil, fmt.Errorf("offlinequeue: decode %s: %w", e.id, err)
		}
		out = append(out, rec.QueuedItem)
	}
	return out, nil
}

// orderScore uses microseconds, which a float64 score holds exactly.
func orderScore(t time.Time) float64 {
	return float64(t.UnixMicro())
}
