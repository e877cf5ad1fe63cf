// Package store implements the relational item store on Postgres: idempotent
// item and sentiment writes, the unscored-backlog query, and the dedup
// ledger. All writes are insert-or-ignore, so redelivery and racing workers
// are safe by construction.
package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/fintrendai/fintrend/engine/news"
)

// Store wraps a Postgres connection pool.
type Store struct {
	db *sqlx.DB
}

// Open connects to Postgres and verifies the connection.
func Open(dsn string) (*Store, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

const insertItemSQL = `
INSERT INTO items (id, source, url, title, body, tickers, ingested_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO NOTHING`

// InsertItem writes an item, ignoring conflicts on id. It reports whether a
// fresh row was created; a duplicate is a normal outcome, not an error.
func (s *Store) InsertItem(ctx context.Context, it news.Item) (bool, error) {
	if err := news.ValidateItem(it); err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, insertItemSQL,
		it.ID, it.Source, it.URL, it.Title, it.Body,
		pq.StringArray(it.Tickers), it.IngestedAt)
	if err != nil {
		return false, fmt.Errorf("insert item %s: %w", it.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

const insertSentimentSQL = `
INSERT INTO sentiments (item_id, model, label, score, confidence)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (item_id, model) DO NOTHING`

// InsertSentiment writes a scoring result, ignoring conflicts on
// (item_id, model). A second write for the same pair is a no-op.
func (s *Store) InsertSentiment(ctx context.Context, r news.SentimentResult) (bool, error) {
	if err := news.ValidateResult(r); err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, insertSentimentSQL,
		r.ItemID, r.Model, string(r.Label), r.Score, r.Confidence)
	if err != nil {
		return false, fmt.Errorf("insert sentiment %s/%s: %w", r.ItemID, r.Model, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

const countUnscoredSQL = `
SELECT COUNT(*)
FROM items i
LEFT JOIN sentiments s ON s.item_id = i.id AND s.model = $1
WHERE s.item_id IS NULL`

// CountUnscored returns the scoring backlog for a model: items with no
// sentiment result yet.
func (s *Store) CountUnscored(ctx context.Context, model string) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, countUnscoredSQL, model); err != nil {
		return 0, fmt.Errorf("count unscored: %w", err)
	}
	return n, nil
}

const listUnscoredSQL = `
SELECT i.id, i.title, i.body
FROM items i
LEFT JOIN sentiments s ON s.item_id = i.id AND s.model = $1
WHERE s.item_id IS NULL
ORDER BY i.ingested_at ASC
LIMIT $2`

// ListUnscored returns up to limit of the oldest unscored items for a model.
func (s *Store) ListUnscored(ctx context.Context, model string, limit int) ([]news.Doc, error) {
	var docs []news.Doc
	rows, err := s.db.QueryxContext(ctx, listUnscoredSQL, model, limit)
	if err != nil {
		return nil, fmt.Errorf("list unscored: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var d news.Doc
		if err := rows.Scan(&d.ID, &d.Title, &d.Body); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

const claimSQL = `
INSERT INTO dedup_ledger (content_id)
VALUES ($1)
ON CONFLICT (content_id) DO NOTHING`

// ClaimContentID atomically adds a content id to the dedup ledger. It
// reports true when the id was newly added, false when it had already been
// claimed. Entries are never removed.
func (s *Store) ClaimContentID(ctx context.Context, contentID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, claimSQL, contentID)
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", contentID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

const getSentimentSQL = `
SELECT item_id, model, label, score, confidence
FROM sentiments
WHERE item_id = $1 AND model = $2`

// GetSentiment fetches one stored result.
func (s *Store) GetSentiment(ctx context.Context, itemID, model string) (news.SentimentResult, error) {
	var (
		r     news.SentimentResult
		label string
	)
	row := s.db.QueryRowxContext(ctx, getSentimentSQL, itemID, model)
	if err := row.Scan(&r.ItemID, &r.Model, &label, &r.Score, &r.Confidence); err != nil {
		return r, fmt.Errorf("get sentiment %s/%s: %w", itemID, model, err)
	}
	r.Label = news.Label(label)
	return r, nil
}
