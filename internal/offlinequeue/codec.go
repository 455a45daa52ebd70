package offlinequeue

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/wolfman30/support-copilot/internal/inbox"
)

// maxLineBytes bounds one serialized item, attachments included.
const maxLineBytes = 64 << 20

// EncodeJSONL writes one JSON object per item, newline terminated.
func EncodeJSONL(items []inbox.QueuedItem) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			return nil, fmt.Errorf("offlinequeue: encode thread %s: %w", item.Message.ThreadID, err)
		}
	}
	return buf.Bytes(), nil
}

// DecodeJSONL reads a batch. Each bad line yields an ItemError with its
// 1-based line number; blank lines are ignored.
func DecodeJSONL(batch []byte) ([]inbox.QueuedItem, []*ItemError) {
	lines, errs := decodeLines(batch)
	items := make([]inbox.QueuedItem, len(lines))
	for i, l := range lines {
		items[i] = l.item
	}
	return items, errs
}

type lineItem struct {
	line int
	item inbox.QueuedItem
}

func decodeLines(batch []byte) ([]lineItem, []*ItemError) {
	var (
		items []lineItem
		errs  []*ItemError
	)
	scanner := bufio.NewScanner(bytes.NewReader(batch))
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var item inbox.QueuedItem
		if err := json.Unmarshal(raw, &item); err != nil {
			errs = append(errs, &ItemError{Line: line, Err: fmt.Errorf("decode: %w", err)})
			continue
		}
		if err := validateItem(item); err != nil {
			errs = append(errs, &ItemError{Line: line, ThreadID: item.Message.ThreadID, Err: err})
			continue
		}
		item.EnqueuedAt = normalizeTime(item.EnqueuedAt)
		item.Message = normalizeMessage(item.Message)
		for i := range item.Pending {
			item.Pending[i].Message = normalizeMessage(item.Pending[i].Message)
		}
		items = append(items, lineItem{line: line, item: item})
	}
	if err := scanner.Err(); err != nil {
		errs = append(errs, &ItemError{Line: line + 1, Err: fmt.Errorf("read: %w", err)})
	}
	return items, errs
}

func validateItem(item inbox.QueuedItem) error {
	if err := validateMessage(item.Message); err != nil {
		return err
	}
	if item.EnqueuedAt.IsZero() {
		return errors.New("offlinequeue: enqueued_at is required")
	}
	for _, pm := range item.Pending {
		if pm.Message.ThreadID != item.Message.ThreadID {
			return fmt.Errorf("offlinequeue: pending message %s belongs to thread %q", pm.Message.ID, pm.Message.ThreadID)
		}
	}
	if item.RetryCount < 0 {
		return errors.New("offlinequeue: retry_count must not be negative")
	}
	return nil
}
