package drafts

import (
	"context"
	"errors"
	"testing"
	"time"

	pgx "github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"

	"github.com/wolfman30/support-copilot/internal/inbox"
)

var columns = []string{"id", "message_id", "thread_id", "requested_tone", "tone", "tone_overridden", "reply", "justification",
	"confidence", "trust_score", "sentiment", "urgency", "keywords", "priority", "created_at"}

func sampleDraft() inbox.Draft {
	return inbox.Draft{
		ID:             "5b0f3c0e-8d0c-4a55-9b1e-0c7b7b2c1a10",
		ThreadID:       "thread-1",
		MessageID:      "msg-1",
		RequestedTone:  inbox.ToneConcise,
		Tone:           inbox.ToneEmpathetic,
		ToneOverridden: true,
		Reply:          "We are sorry. Your refund is on its way.",
		Justification:  "Refund policy, 30 days.",
		Confidence:     0.8,
		TrustScore:     0.74,
		Sentiment:      inbox.SentimentNegative,
		Urgency:        inbox.UrgencyHigh,
		Priority:       70,
		CreatedAt:      time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func draftRow(d inbox.Draft) []any {
	return []any{d.ID, d.MessageID, d.ThreadID, string(d.RequestedTone), string(d.Tone), d.ToneOverridden, d.Reply, d.Justification,
		d.Confidence, d.TrustScore, string(d.Sentiment), string(d.Urgency), d.Keywords, d.Priority, d.CreatedAt}
}

func TestPostgresRepository_SaveIsIdempotent(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()
	repo := newRepositoryWithQuerier(mock)
	d := sampleDraft()

	args := []any{d.ID, d.MessageID, d.ThreadID, "concise", "empathetic", true, d.Reply, d.Justification,
		d.Confidence, d.TrustScore, "negative", "high", []string{}, d.Priority, d.CreatedAt}
	mock.ExpectExec("INSERT INTO drafts").WithArgs(args...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO drafts").WithArgs(args...).WillReturnResult(pgxmock.NewResult("INSERT", 0))

	inserted, err := repo.Save(context.Background(), d)
	if err != nil || !inserted {
		t.Fatalf("expected insert, got %v err=%v", inserted, err)
	}
	if err := repo.Deliver(context.Background(), d); err != nil {
		t.Fatalf("expected redelivery to be ignored, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresRepository_SaveError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()
	repo := newRepositoryWithQuerier(mock)

	mock.ExpectExec("INSERT INTO drafts").WillReturnError(errors.New("connection reset"))
	if err := repo.Deliver(context.Background(), sampleDraft()); err == nil {
		t.Fatal("expected error")
	}
}

func TestPostgresRepository_Get(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()
	repo := newRepositoryWithQuerier(mock)
	d := sampleDraft()
	d.Keywords = []string{"refund"}

	mock.ExpectQuery("SELECT .* FROM drafts WHERE id").WithArgs(d.ID).
		WillReturnRows(pgxmock.NewRows(columns).AddRow(draftRow(d)...))
	mock.ExpectQuery("SELECT .* FROM drafts WHERE id").WithArgs("missing").WillReturnError(pgx.ErrNoRows)

	got, err := repo.Get(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got.Tone != inbox.ToneEmpathetic || got.Urgency != inbox.UrgencyHigh || len(got.Keywords) != 1 {
		t.Fatalf("unexpected draft %+v", got)
	}
	if _, err := repo.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresRepository_ListRanked(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()
	repo := newRepositoryWithQuerier(mock)

	first, second := sampleDraft(), sampleDraft()
	first.Keywords, second.Keywords = []string{"refund"}, []string{"billing"}
	second.ID, second.MessageID, second.Priority = "6c1f4d1f-9e1d-4b66-8c2f-1d8c8c3d2b21", "msg-2", 10
	mock.ExpectQuery("ORDER BY priority DESC").WithArgs(maxListLimit).
		WillReturnRows(pgxmock.NewRows(columns).AddRow(draftRow(first)...).AddRow(draftRow(second)...))

	list, err := repo.ListRanked(context.Background(), 10000)
	if err != nil {
		t.Fatalf("ListRanked returned error: %v", err)
	}
	if len(list) != 2 || list[0].MessageID != "msg-1" || list[1].Priority != 10 {
		t.Fatalf("unexpected list %+v", list)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
