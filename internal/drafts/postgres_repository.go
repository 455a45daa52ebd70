// Package drafts persists finished drafts for the review dashboard.
package drafts

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/support-copilot/internal/inbox"
)

// ErrNotFound indicates no draft exists for the requested id.
var ErrNotFound = errors.New("drafts: not found")

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresRepository stores drafts in the drafts table. A message has at most
// one draft; redelivered drafts are ignored.
type PostgresRepository struct {
	db querier
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	if pool == nil {
		panic("drafts: pgx pool required")
	}
	return &PostgresRepository{db: pool}
}

func newRepositoryWithQuerier(db querier) *PostgresRepository {
	if db == nil {
		panic("drafts: querier required")
	}
	return &PostgresRepository{db: db}
}

const draftColumns = `id, message_id, thread_id, requested_tone, tone, tone_overridden, reply, justification, ` +
	`confidence, trust_score, sentiment, urgency, keywords, priority, created_at`

// Save inserts the draft and reports whether it was new.
func (r *PostgresRepository) Save(ctx context.Context, d inbox.Draft) (bool, error) {
	keywords := d.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	query := `
		INSERT INTO drafts (` + draftColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (message_id) DO NOTHING
	`
	ct, err := r.db.Exec(ctx, query,
		d.ID, d.MessageID, d.ThreadID, string(d.RequestedTone), string(d.Tone), d.ToneOverridden,
		d.Reply, d.Justification, d.Confidence, d.TrustScore, string(d.Sentiment), string(d.Urgency),
		keywords, d.Priority, d.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("drafts: save %s: %w", d.MessageID, err)
	}
	return ct.RowsAffected() > 0, nil
}

// Deliver stores the draft. It lets the repository act as the pipeline sink.
func (r *PostgresRepository) Deliver(ctx context.Context, d inbox.Draft) error {
	_, err := r.Save(ctx, d)
	return err
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (inbox.Draft, error) {
	query := `SELECT ` + draftColumns + ` FROM drafts WHERE id = $1`
	d, err := scanDraft(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return inbox.Draft{}, ErrNotFound
	}
	if err != nil {
		return inbox.Draft{}, fmt.Errorf("drafts: get %s: %w", id, err)
	}
	return d, nil
}

// ListRanked returns drafts by descending priority, then trust score, then age.
func (r *PostgresRepository) ListRanked(ctx context.Context, limit int) ([]inbox.Draft, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	query := `SELECT ` + draftColumns + ` FROM drafts ORDER BY priority DESC, trust_score DESC, created_at ASC LIMIT $1`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("drafts: list: %w", err)
	}
	defer rows.Close()

	var out []inbox.Draft
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			return nil, fmt.Errorf("drafts: list scan: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("drafts: list rows: %w", err)
	}
	return out, nil
}

func scanDraft(row pgx.Row) (inbox.Draft, error) {
	var (
		d                                   inbox.Draft
		requested, tone, sentiment, urgency string
	)
	err := row.Scan(
		&d.ID, &d.MessageID, &d.ThreadID, &requested, &tone, &d.ToneOverridden,
		&d.Reply, &d.Justification, &d.Confidence, &d.TrustScore, &sentiment, &urgency,
		&d.Keywords, &d.Priority, &d.CreatedAt,
	)
	if err != nil {
		return inbox.Draft{}, err
	}
	d.RequestedTone = inbox.Tone(requested)
	d.Tone = inbox.Tone(tone)
	d.Sentiment = inbox.Sentiment(sentiment)
	d.Urgency = inbox.Urgency(urgency)
	return d, nil
}
