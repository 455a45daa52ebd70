package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"pgregory.net/rapid"

	"github.com/wolfman30/support-copilot/internal/drafting"
	"github.com/wolfman30/support-copilot/internal/extraction"
	"github.com/wolfman30/support-copilot/internal/inbox"
	"github.com/wolfman30/support-copilot/internal/llm"
	"github.com/wolfman30/support-copilot/internal/observability/metrics"
	"github.com/wolfman30/support-copilot/internal/offlinequeue"
	"github.com/wolfman30/support-copilot/internal/retrieval"
	"github.com/wolfman30/support-copilot/pkg/logging"
)

type clientFunc func(ctx context.Context, req llm.Request) (llm.Response, error)

func (f clientFunc) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	return f(ctx, req)
}

func replyWith(text string) clientFunc {
	return func(ctx context.Context, req llm.Request) (llm.Response, error) {
		return llm.Response{Text: text}, nil
	}
}

type noAudio struct{}

func (noAudio) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	return "", errors.New("no audio backend")
}

type noPDF struct{}

func (noPDF) Rasterize(ctx context.Context, pdf []byte) ([][]byte, error) {
	return nil, errors.New("no pdf backend")
}

// textAttachments returns each attachment's payload as its text.
type textAttachments struct{}

func (textAttachments) ExtractAll(ctx context.Context, atts []inbox.Attachment) []inbox.ExtractedText {
	out := make([]inbox.ExtractedText, len(atts))
	for i, att := range atts {
		out[i] = inbox.ExtractedText{AttachmentID: att.ID, Modality: att.Modality, Text: string(att.Data), Status: inbox.ExtractionOK}
	}
	return out
}

type fixedSignals struct {
	sentiment inbox.Sentiment
	keywords  []string
	hook      func()
}

func (s fixedSignals) Extract(ctx context.Context, threadID, threadText string, sender extraction.Sender) inbox.ExtractedSignals {
	if s.hook != nil {
		s.hook()
	}
	signals := inbox.NewSignals(threadID)
	if s.sentiment != "" {
		signals.Sentiment = s.sentiment
	}
	signals.Keywords = s.keywords
	return signals
}

type stubRetriever struct {
	result inbox.RetrievalResult
	err    error
}

func (r stubRetriever) Retrieve(ctx context.Context, query string, topN int) (inbox.RetrievalResult, error) {
	return r.result, r.err
}

type composerFunc func(ctx context.Context, thread inbox.Thread) (drafting.Composition, error)

func (f composerFunc) Compose(ctx context.Context, thread inbox.Thread, signals inbox.ExtractedSignals, retrieval inbox.RetrievalResult, tone inbox.Tone) (drafting.Composition, error) {
	return f(ctx, thread)
}

func okComposition() composerFunc {
	return func(ctx context.Context, thread inbox.Thread) (drafting.Composition, error) {
		return drafting.Composition{Reply: "Hello", Justification: "policy", Confidence: 0.7, RequestedTone: inbox.ToneFormal, Tone: inbox.ToneFormal}, nil
	}
}

type memorySink struct {
	mu     sync.Mutex
	drafts []inbox.Draft
	err    error
}

func (s *memorySink) Deliver(ctx context.Context, draft inbox.Draft) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.drafts = append(s.drafts, draft)
	return nil
}

func (s *memorySink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.drafts)
}

type failingQueue struct {
	offlinequeue.Queue
}

func (failingQueue) Enqueue(ctx context.Context, msg inbox.InboundMessage, reason string, opts ...offlinequeue.EnqueueOption) (inbox.QueuedItem, error) {
	return inbox.QueuedItem{}, errors.New("queue down")
}

// recordingComposer records the thread and tone of every call and echoes
// the tone back.
type recordingComposer struct {
	mu      sync.Mutex
	threads []inbox.Thread
	tones   []inbox.Tone
}

func (c *recordingComposer) Compose(ctx context.Context, thread inbox.Thread, signals inbox.ExtractedSignals, retrieval inbox.RetrievalResult, tone inbox.Tone) (drafting.Composition, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.threads = append(c.threads, thread)
	c.tones = append(c.tones, tone)
	return drafting.Composition{Reply: "Hello", Justification: "policy", Confidence: 0.7, RequestedTone: tone, Tone: tone}, nil
}

func quietLogger() *logging.Logger {
	return logging.NewWithWriter(io.Discard, "error")
}

func testStages() Stages {
	return Stages{
		Attachments: textAttachments{},
		Signals:     fixedSignals{},
		Retriever:   stubRetriever{},
		Composer:    okComposition(),
		Trust:       drafting.NewTrustScorer(drafting.DefaultWeights()),
	}
}

func inboundMessage(threadID string) inbox.InboundMessage {
	return inbox.InboundMessage{
		ID:         "msg-" + threadID,
		ThreadID:   threadID,
		Sender:     "dana@example.com",
		Subject:    "Support request",
		Body:       "Please help",
		ReceivedAt: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestProcess_RefundScenario(t *testing.T) {
	vision := replyWith("I want a refund, this is unacceptable")
	signalModel := replyWith(`{"sender_name":"Dana","sentiment":"negative","urgency":"high"}`)
	var prompt string
	draftModel := clientFunc(func(ctx context.Context, req llm.Request) (llm.Response, error) {
		prompt = req.Messages[0].Content
		return llm.Response{Text: `{"reply":"I'm sorry. Your refund is on its way.","justification":"Refund handling follows the 30-day refund policy.","confidence":0.82}`}, nil
	})

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	history := NewRedisHistoryStore(client, nil)

	queue := offlinequeue.NewMemoryQueue()
	sink := &memorySink{}
	p := New(Stages{
		Attachments: extraction.NewExtractor(vision, noAudio{}, noPDF{}, extraction.WithLogger(quietLogger())),
		Signals:     extraction.NewSignalExtractor(signalModel, extraction.WithSignalLogger(quietLogger())),
		Retriever: stubRetriever{result: inbox.RetrievalResult{Snippets: []inbox.ScoredSnippet{{
			Snippet: inbox.KBSnippet{ID: "kb-1", Text: "Refund requests are honoured within 30 days."},
			Score:   0.9,
		}}}},
		Composer: drafting.NewComposer(draftModel, drafting.WithLogger(quietLogger())),
		Trust:    drafting.NewTrustScorer(drafting.DefaultWeights()),
	}, queue, WithSink(sink), WithHistory(history), WithLogger(quietLogger()))

	msg := inboundMessage("thread-1")
	msg.Body = ""
	msg.Attachments = []inbox.Attachment{{ID: "a1", Modality: inbox.ModalityImage, Filename: "shot.png", ContentType: "image/png", Data: []byte("png")}}

	out, err := p.Process(context.Background(), msg, Online(), RequestTone(inbox.ToneConcise))
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if out.Stage != StageDrafted || out.Draft == nil || out.Item != nil {
		t.Fatalf("expected a single draft outcome, got %+v", out)
	}
	d := out.Draft
	if d.Tone != inbox.ToneEmpathetic || !d.ToneOverridden || d.RequestedTone != inbox.ToneConcise {
		t.Fatalf("expected empathetic override of concise, got %s/%v/%s", d.Tone, d.ToneOverridden, d.RequestedTone)
	}
	if d.Sentiment != inbox.SentimentNegative || d.Urgency != inbox.UrgencyHigh {
		t.Fatalf("unexpected signals %s/%s", d.Sentiment, d.Urgency)
	}
	if len(d.Keywords) != 1 || d.Keywords[0] != "refund" {
		t.Fatalf("expected keywords {refund}, got %v", d.Keywords)
	}
	if d.Reply == "" || !strings.Contains(strings.ToLower(d.Justification), "refund") {
		t.Fatalf("unexpected reply/justification %q / %q", d.Reply, d.Justification)
	}
	if d.Confidence < 0 || d.Confidence > 1 || d.TrustScore < 0 || d.TrustScore > 1 {
		t.Fatalf("scores out of range: %v %v", d.Confidence, d.TrustScore)
	}
	if !strings.Contains(prompt, "I want a refund") || !strings.Contains(prompt, "Knowledge base excerpts") {
		t.Fatalf("prompt missing extracted text or snippets:\n%s", prompt)
	}
	if sink.count() != 1 {
		t.Fatalf("expected one delivered draft, got %d", sink.count())
	}
	if n, _ := queue.Len(context.Background()); n != 0 {
		t.Fatalf("expected empty offline queue, got %d", n)
	}
	thread, err := history.Load(context.Background(), "thread-1")
	if err != nil || len(thread.Entries) != 1 || thread.Entries[0].MessageID != msg.ID {
		t.Fatalf("expected history entry, got %+v err=%v", thread, err)
	}
}

func TestProcess_RetrievalFailureDraftsWithoutSnippets(t *testing.T) {
	var prompt string
	model := clientFunc(func(ctx context.Context, req llm.Request) (llm.Response, error) {
		prompt = req.Messages[0].Content
		return llm.Response{Text: `{"reply":"Thanks","justification":"general guidance","confidence":1.7}`}, nil
	})
	stages := testStages()
	stages.Retriever = stubRetriever{err: context.DeadlineExceeded}
	stages.Composer = drafting.NewComposer(model, drafting.WithLogger(quietLogger()))

	p := New(stages, offlinequeue.NewMemoryQueue(), WithLogger(quietLogger()))
	out, err := p.Process(context.Background(), inboundMessage("t-timeout"), Online())
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if out.Draft == nil {
		t.Fatalf("expected draft, got %+v", out)
	}
	if strings.Contains(prompt, "Knowledge base excerpts") {
		t.Fatalf("expected snippet section to be omitted:\n%s", prompt)
	}
	if out.Draft.Confidence != 1 {
		t.Fatalf("expected clamped confidence 1, got %v", out.Draft.Confidence)
	}
}

func TestProcess_DimensionMismatchIsLoggedAsError(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewPipelineMetrics(reg)

	var logs bytes.Buffer
	stages := testStages()
	stages.Retriever = stubRetriever{err: fmt.Errorf("%w: query has 768 dimensions, index expects 1536", retrieval.ErrDimensionMismatch)}
	p := New(stages, offlinequeue.NewMemoryQueue(), WithLogger(logging.NewWithWriter(&logs, "error")), WithMetrics(m))

	out, err := p.Process(context.Background(), inboundMessage("t-dims"), Online())
	if err != nil || out.Draft == nil {
		t.Fatalf("expected a draft without snippets, got %+v err=%v", out, err)
	}
	if !strings.Contains(logs.String(), "embedding dimension mismatch") {
		t.Fatalf("expected an error-level log, got %q", logs.String())
	}

	logs.Reset()
	p = New(testStages(), offlinequeue.NewMemoryQueue(), WithLogger(logging.NewWithWriter(&logs, "error")))
	p.stages.Retriever = stubRetriever{err: context.DeadlineExceeded}
	if _, err := p.Process(context.Background(), inboundMessage("t-slow"), Online()); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if strings.Contains(logs.String(), "knowledge retrieval failed") {
		t.Fatalf("expected a transient failure below error level, got %q", logs.String())
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var mismatches float64
	for _, f := range families {
		if f.GetName() != "support_retrieval_errors_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			mismatches += metric.GetCounter().GetValue()
		}
	}
	if mismatches != 1 {
		t.Fatalf("expected one counted mismatch, got %v", mismatches)
	}
}

func TestProcess_ParseErrorQueuesThenDrainDrafts(t *testing.T) {
	var (
		mu    sync.Mutex
		reply = `{"reply":"We are on it","justification":"outage runbook","confidence":"n/a"}`
	)
	model := clientFunc(func(ctx context.Context, req llm.Request) (llm.Response, error) {
		mu.Lock()
		defer mu.Unlock()
		return llm.Response{Text: reply}, nil
	})
	stages := testStages()
	stages.Composer = drafting.NewComposer(model, drafting.WithLogger(quietLogger()))
	queue := offlinequeue.NewMemoryQueue()
	sink := &memorySink{}
	p := New(stages, queue, WithSink(sink), WithLogger(quietLogger()))

	msg := inboundMessage("t-parse")
	out, err := p.Process(context.Background(), msg, Online())
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if out.Stage != StageQueued || out.Reason != ReasonParseError || out.Item == nil || out.Draft != nil {
		t.Fatalf("expected parse-error queue outcome, got %+v", out)
	}
	if out.Item.RetryCount != 0 {
		t.Fatalf("expected first enqueue retry 0, got %d", out.Item.RetryCount)
	}

	report, err := p.Drain(context.Background(), Online())
	if err != nil {
		t.Fatalf("Drain returned error: %v", err)
	}
	if report.Requeued != 1 || report.Remaining != 1 {
		t.Fatalf("expected failed rerun to stay queued, got %+v", report)
	}
	items, _ := queue.List(context.Background())
	if len(items) != 1 || items[0].RetryCount != 1 {
		t.Fatalf("expected retry count 1 after failed drain, got %+v", items)
	}

	mu.Lock()
	reply = `{"reply":"We are on it","justification":"outage runbook","confidence":0.6}`
	mu.Unlock()

	report, err = p.Drain(context.Background(), Online())
	if err != nil {
		t.Fatalf("Drain returned error: %v", err)
	}
	if report.Drafted != 1 || report.Remaining != 0 {
		t.Fatalf("expected drafted drain, got %+v", report)
	}
	if sink.count() != 1 || sink.drafts[0].MessageID != msg.ID {
		t.Fatalf("expected one draft for the queued message, got %+v", sink.drafts)
	}
}

func TestProcess_OfflineQueuesWithoutBackendCalls(t *testing.T) {
	stages := testStages()
	stages.Composer = composerFunc(func(ctx context.Context, thread inbox.Thread) (drafting.Composition, error) {
		t.Fatal("composer must not be called while offline")
		return drafting.Composition{}, nil
	})
	queue := offlinequeue.NewMemoryQueue()
	p := New(stages, queue, WithLogger(quietLogger()))

	health := NewHealthChecker(nil, WithForcedOffline(true)).Check(context.Background())
	out, err := p.Process(context.Background(), inboundMessage("t-offline"), health)
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if out.Stage != StageQueued || out.Reason != ReasonOffline {
		t.Fatalf("expected offline queue outcome, got %+v", out)
	}
	if out.Item.LastError != "offline: offline mode enabled" {
		t.Fatalf("expected offline reason on item, got %q", out.Item.LastError)
	}

	report, err := p.Drain(context.Background(), health)
	if err != nil || !report.Skipped || report.Remaining != 1 {
		t.Fatalf("expected skipped drain while offline, got %+v err=%v", report, err)
	}
}

func TestProcess_CancelledBetweenStagesIsQueued(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stages := testStages()
	stages.Signals = fixedSignals{hook: cancel}
	stages.Composer = composerFunc(func(ctx context.Context, thread inbox.Thread) (drafting.Composition, error) {
		t.Fatal("composer must not run after cancellation")
		return drafting.Composition{}, nil
	})
	queue := offlinequeue.NewMemoryQueue()
	p := New(stages, queue, WithLogger(quietLogger()))

	out, err := p.Process(ctx, inboundMessage("t-cancel"), Online())
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if out.Stage != StageQueued || out.Reason != ReasonCancelled {
		t.Fatalf("expected cancelled queue outcome, got %+v", out)
	}
	if n, _ := queue.Len(context.Background()); n != 1 {
		t.Fatalf("expected cancelled message in queue, got %d", n)
	}
}

func TestProcess_GenerationErrorAndSinkFailureQueue(t *testing.T) {
	stages := testStages()
	stages.Composer = composerFunc(func(ctx context.Context, thread inbox.Thread) (drafting.Composition, error) {
		return drafting.Composition{}, &drafting.GenerationError{ThreadID: thread.ID, Err: errors.New("quota exceeded")}
	})
	p := New(stages, offlinequeue.NewMemoryQueue(), WithLogger(quietLogger()))
	out, err := p.Process(context.Background(), inboundMessage("t-gen"), Online())
	if err != nil || out.Reason != ReasonGenerationError {
		t.Fatalf("expected generation error outcome, got %+v err=%v", out, err)
	}

	sink := &memorySink{err: errors.New("db down")}
	p = New(testStages(), offlinequeue.NewMemoryQueue(), WithSink(sink), WithLogger(quietLogger()))
	out, err = p.Process(context.Background(), inboundMessage("t-sink"), Online())
	if err != nil || out.Reason != ReasonSinkError || out.Draft != nil {
		t.Fatalf("expected sink failure to queue, got %+v err=%v", out, err)
	}
}

func TestProcess_EnqueueFailureIsReturned(t *testing.T) {
	p := New(testStages(), failingQueue{}, WithLogger(quietLogger()))
	out, err := p.Process(context.Background(), inboundMessage("t-down"), Health{Online: false})
	if err == nil {
		t.Fatal("expected error when the message cannot be queued")
	}
	if out.Draft != nil || out.Item != nil {
		t.Fatalf("expected empty outcome, got %+v", out)
	}
}

func TestProcess_DefaultsIdentifiers(t *testing.T) {
	p := New(testStages(), offlinequeue.NewMemoryQueue(), WithLogger(quietLogger()))
	msg := inboundMessage("")
	msg.ID = ""
	out, err := p.Process(context.Background(), msg, Online())
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if out.MessageID == "" || out.ThreadID != out.MessageID {
		t.Fatalf("expected generated ids, got %+v", out)
	}
}

func TestDrain_KeepsMessageQueuedDuringRerun(t *testing.T) {
	queue := offlinequeue.NewMemoryQueue()
	followUp := inboundMessage("t-race")
	followUp.ID = "msg-t-race-2"

	stages := testStages()
	stages.Composer = composerFunc(func(ctx context.Context, thread inbox.Thread) (drafting.Composition, error) {
		if _, err := queue.Enqueue(ctx, followUp, "offline"); err != nil {
			t.Fatalf("enqueue follow-up: %v", err)
		}
		return okComposition()(ctx, thread)
	})
	p := New(stages, queue, WithLogger(quietLogger()))

	if _, err := queue.Enqueue(context.Background(), inboundMessage("t-race"), "offline"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	report, err := p.Drain(context.Background(), Online())
	if err != nil {
		t.Fatalf("Drain returned error: %v", err)
	}
	if report.Drafted != 1 || report.Superseded != 1 || report.Remaining != 1 {
		t.Fatalf("expected follow-up to stay queued, got %+v", report)
	}
	items, _ := queue.List(context.Background())
	if items[0].Message.ID != followUp.ID {
		t.Fatalf("expected follow-up message in queue, got %s", items[0].Message.ID)
	}
}

func TestDrain_RerunsEveryQueuedMessageOfThread(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	composer := &recordingComposer{}
	stages := testStages()
	stages.Composer = composer
	queue := offlinequeue.NewMemoryQueue()
	sink := &memorySink{}
	p := New(stages, queue, WithSink(sink), WithHistory(NewRedisHistoryStore(client, nil)), WithLogger(quietLogger()))

	first := inboundMessage("t-two")
	first.Body = "my order never arrived"
	second := inboundMessage("t-two")
	second.ID = "msg-t-two-b"
	second.Body = "also my invoice is wrong"
	second.ReceivedAt = first.ReceivedAt.Add(time.Minute)

	offline := Health{Online: false}
	for _, msg := range []inbox.InboundMessage{first, second} {
		out, err := p.Process(context.Background(), msg, offline)
		if err != nil || out.Stage != StageQueued {
			t.Fatalf("expected %s queued, got %+v err=%v", msg.ID, out, err)
		}
	}
	if n, _ := queue.Len(context.Background()); n != 1 {
		t.Fatalf("expected one queued thread, got %d", n)
	}

	report, err := p.Drain(context.Background(), Online())
	if err != nil {
		t.Fatalf("Drain returned error: %v", err)
	}
	if report.Attempted != 2 || report.Drafted != 2 || report.Superseded != 0 || report.Remaining != 0 {
		t.Fatalf("expected both messages drafted, got %+v", report)
	}
	if len(sink.drafts) != 2 || sink.drafts[0].MessageID != first.ID || sink.drafts[1].MessageID != second.ID {
		t.Fatalf("expected drafts for both messages in order, got %+v", sink.drafts)
	}
	if len(composer.threads) != 2 {
		t.Fatalf("expected two compose calls, got %d", len(composer.threads))
	}
	var ids []string
	for _, e := range composer.threads[1].Entries {
		ids = append(ids, e.MessageID)
	}
	if len(ids) != 2 || ids[0] != first.ID || ids[1] != second.ID {
		t.Fatalf("expected the second draft to see the first message, got %v", ids)
	}
}

func TestDrain_KeepsRequestedTone(t *testing.T) {
	composer := &recordingComposer{}
	stages := testStages()
	stages.Composer = composer
	queue := offlinequeue.NewMemoryQueue()
	sink := &memorySink{}
	p := New(stages, queue, WithSink(sink), WithLogger(quietLogger()))

	out, err := p.Process(context.Background(), inboundMessage("t-tone"), Health{Online: false}, RequestTone(inbox.ToneCheerful))
	if err != nil || out.Stage != StageQueued {
		t.Fatalf("expected queued outcome, got %+v err=%v", out, err)
	}
	if out.Item.Tone != inbox.ToneCheerful {
		t.Fatalf("expected queued item to carry the tone, got %q", out.Item.Tone)
	}

	if _, err := p.Drain(context.Background(), Online()); err != nil {
		t.Fatalf("Drain returned error: %v", err)
	}
	if len(sink.drafts) != 1 || sink.drafts[0].RequestedTone != inbox.ToneCheerful {
		t.Fatalf("expected cheerful draft after drain, got %+v", sink.drafts)
	}
	if len(composer.tones) != 1 || composer.tones[0] != inbox.ToneCheerful {
		t.Fatalf("expected composer asked for cheerful, got %v", composer.tones)
	}
}

func TestProcess_ExactlyOneOutcome(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		offline := rapid.Bool().Draw(rt, "offline")
		failure := rapid.SampledFrom([]string{"", "generation", "parse", "sink", "cancel"}).Draw(rt, "failure")
		threadID := rapid.StringMatching(`[a-z]{1,8}`).Draw(rt, "thread")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		stages := testStages()
		stages.Composer = composerFunc(func(ctx context.Context, thread inbox.Thread) (drafting.Composition, error) {
			switch failure {
			case "generation":
				return drafting.Composition{}, &drafting.GenerationError{ThreadID: thread.ID, Err: errors.New("timeout")}
			case "parse":
				return drafting.Composition{}, &drafting.ParseError{ThreadID: thread.ID, Reason: "bad confidence"}
			case "cancel":
				cancel()
				return drafting.Composition{}, &drafting.GenerationError{ThreadID: thread.ID, Err: context.Canceled}
			}
			return okComposition()(ctx, thread)
		})
		sink := &memorySink{}
		if failure == "sink" {
			sink.err = errors.New("sink down")
		}
		queue := offlinequeue.NewMemoryQueue()
		p := New(stages, queue, WithSink(sink), WithLogger(quietLogger()))

		out, err := p.Process(ctx, inboundMessage(threadID), Health{Online: !offline})
		if err != nil {
			rt.Fatalf("Process returned error: %v", err)
		}
		queued, _ := queue.Len(context.Background())
		drafted := sink.count()
		if (out.Draft == nil) == (out.Item == nil) {
			rt.Fatalf("expected exactly one of draft and item, got %+v", out)
		}
		if queued+drafted != 1 {
			rt.Fatalf("expected exactly one record, got %d queued and %d drafted", queued, drafted)
		}
		if (out.Stage == StageDrafted) != (drafted == 1) {
			rt.Fatalf("stage %s disagrees with sink count %d", out.Stage, drafted)
		}
	})
}
