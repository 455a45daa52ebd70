package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/support-copilot/internal/inbox"
	"github.com/wolfman30/support-copilot/internal/offlinequeue"
	"github.com/wolfman30/support-copilot/internal/pipeline"
)

type staticHealth struct {
	health pipeline.Health
}

func (s staticHealth) Check(context.Context) pipeline.Health { return s.health }

type recordingDrainer struct {
	calls  []pipeline.Health
	report pipeline.DrainReport
	err    error
}

func (d *recordingDrainer) Drain(ctx context.Context, health pipeline.Health) (pipeline.DrainReport, error) {
	d.calls = append(d.calls, health)
	if health.Offline() {
		return pipeline.DrainReport{Skipped: true, Reason: health.Reason()}, nil
	}
	return d.report, d.err
}

type memoryArchive struct {
	objects map[string][]byte
	putErr  error
}

func (a *memoryArchive) Enabled() bool { return true }

func (a *memoryArchive) Put(ctx context.Context, batch []byte) (string, error) {
	if a.putErr != nil {
		return "", a.putErr
	}
	if a.objects == nil {
		a.objects = map[string][]byte{}
	}
	key := "exports/batch-1.jsonl"
	a.objects[key] = append([]byte(nil), batch...)
	return key, nil
}

func (a *memoryArchive) Get(ctx context.Context, key string) ([]byte, error) {
	batch, ok := a.objects[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return batch, nil
}

func queuedMessage(threadID string) inbox.InboundMessage {
	return inbox.InboundMessage{
		ID:         "msg-" + threadID,
		ThreadID:   threadID,
		Sender:     "carol@example.com",
		Subject:    "Support: broken invoice",
		Body:       "The invoice PDF is blank.",
		ReceivedAt: time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC),
		Attachments: []inbox.Attachment{
			{ID: "a1", Modality: inbox.ModalityPDF, Filename: "invoice.pdf", Data: []byte("%PDF")},
		},
	}
}

func newAdminHandler(t *testing.T, archive BatchArchive, drainer QueueDrainer) (*QueueAdminHandler, *offlinequeue.MemoryQueue) {
	t.Helper()
	queue := offlinequeue.NewMemoryQueue()
	if drainer == nil {
		drainer = &recordingDrainer{}
	}
	h := NewQueueAdminHandler(queue, archive, drainer, staticHealth{health: pipeline.Online()}, 1<<20, quietLogger())
	return h, queue
}

func TestQueueAdminListOmitsAttachmentData(t *testing.T) {
	h, queue := newAdminHandler(t, nil, nil)
	_, err := queue.Enqueue(context.Background(), queuedMessage("t-1"), "offline")
	require.NoError(t, err)
	followUp := queuedMessage("t-1")
	followUp.ID += "-b"
	_, err = queue.Enqueue(context.Background(), followUp, "generation_error: timeout", offlinequeue.WithTone(inbox.ToneFormal))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/v1/queue", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), `"data"`)

	var resp struct {
		Count int              `json:"count"`
		Items []queuedItemView `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "t-1", resp.Items[0].ThreadID)
	assert.Equal(t, 1, resp.Items[0].Attachments)
	assert.Equal(t, "generation_error: timeout", resp.Items[0].LastError)
	assert.Equal(t, followUp.ID, resp.Items[0].MessageID)
	assert.Equal(t, "formal", resp.Items[0].Tone)
	assert.Equal(t, 1, resp.Items[0].Pending)
}

func TestQueueAdminExportThenImport(t *testing.T) {
	archive := &memoryArchive{}
	h, queue := newAdminHandler(t, archive, nil)
	ctx := context.Background()
	for _, id := range []string{"t-1", "t-2"} {
		_, err := queue.Enqueue(ctx, queuedMessage(id), "offline: offline mode enabled")
		require.NoError(t, err)
	}

	rec := httptest.NewRecorder()
	h.Export(rec, httptest.NewRequest(http.MethodPost, "/v1/queue/export", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))
	key := rec.Header().Get("X-Archive-Key")
	require.NotEmpty(t, key)
	batch := rec.Body.Bytes()
	assert.Equal(t, batch, archive.objects[key])

	n, err := queue.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "export empties the queue")

	rec = httptest.NewRecorder()
	h.Import(rec, httptest.NewRequest(http.MethodPost, "/v1/queue/import?archive_key="+key, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp importResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Imported)
	assert.Zero(t, resp.Rejected)

	items, err := queue.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, []byte("%PDF"), items[0].Message.Attachments[0].Data)
}

func TestQueueAdminExportKeepsBatchWhenArchiveFails(t *testing.T) {
	h, queue := newAdminHandler(t, &memoryArchive{putErr: errors.New("s3 down")}, nil)
	_, err := queue.Enqueue(context.Background(), queuedMessage("t-1"), "offline")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.Export(rec, httptest.NewRequest(http.MethodPost, "/v1/queue/export", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Archive-Error"))
	assert.Contains(t, rec.Body.String(), `"thread_id":"t-1"`)
}

func TestQueueAdminImportReportsBadLines(t *testing.T) {
	h, queue := newAdminHandler(t, nil, nil)
	good, err := offlinequeue.EncodeJSONL([]inbox.QueuedItem{{
		Message:    queuedMessage("t-9"),
		EnqueuedAt: time.Date(2025, 3, 3, 9, 5, 0, 0, time.UTC),
	}})
	require.NoError(t, err)
	batch := append([]byte("{not json}\n"), good...)
	batch = append(batch, good...)

	rec := httptest.NewRecorder()
	h.Import(rec, httptest.NewRequest(http.MethodPost, "/v1/queue/import", bytes.NewReader(batch)))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp importResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Imported)
	assert.Equal(t, 2, resp.Rejected)
	require.Len(t, resp.Errors, 2)
	assert.Equal(t, 1, resp.Errors[0].Line)
	assert.Equal(t, 3, resp.Errors[1].Line)
	assert.Equal(t, "t-9", resp.Errors[1].ThreadID)

	n, err := queue.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestQueueAdminImportValidation(t *testing.T) {
	h, _ := newAdminHandler(t, nil, nil)

	rec := httptest.NewRecorder()
	h.Import(rec, httptest.NewRequest(http.MethodPost, "/v1/queue/import", bytes.NewReader(nil)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.Import(rec, httptest.NewRequest(http.MethodPost, "/v1/queue/import?archive_key=x", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code, "archive key without archive")

	h.maxBytes = 8
	rec = httptest.NewRecorder()
	h.Import(rec, httptest.NewRequest(http.MethodPost, "/v1/queue/import", bytes.NewReader(bytes.Repeat([]byte("x"), 9))))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestQueueAdminDrainUsesCurrentHealth(t *testing.T) {
	drainer := &recordingDrainer{report: pipeline.DrainReport{Attempted: 2, Drafted: 2}}
	h, _ := newAdminHandler(t, nil, drainer)

	rec := httptest.NewRecorder()
	h.Drain(rec, httptest.NewRequest(http.MethodPost, "/v1/queue/drain", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var report pipeline.DrainReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 2, report.Drafted)
	require.Len(t, drainer.calls, 1)
	assert.True(t, drainer.calls[0].Online)

	h.health = staticHealth{health: pipeline.Health{Forced: true}}
	rec = httptest.NewRecorder()
	h.Drain(rec, httptest.NewRequest(http.MethodPost, "/v1/queue/drain", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.True(t, report.Skipped)
	assert.Equal(t, "offline mode enabled", report.Reason)
}

func TestQueueAdminDrainFailure(t *testing.T) {
	h, _ := newAdminHandler(t, nil, &recordingDrainer{err: errors.New("redis gone")})

	rec := httptest.NewRecorder()
	h.Drain(rec, httptest.NewRequest(http.MethodPost, "/v1/queue/drain", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
