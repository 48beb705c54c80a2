// Package postgres stores history entries in a PostgreSQL table.
//
// [Open] runs [Migrate], which creates the dictation_history table if it does
// not exist.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/dictum/internal/history"
)

const ddlHistory = `
CREATE TABLE IF NOT EXISTS dictation_history (
    id          UUID         PRIMARY KEY,
    session_id  TEXT         NOT NULL DEFAULT '',
    seq         BIGINT       NOT NULL DEFAULT 0,
    text        TEXT         NOT NULL,
    raw_text    TEXT         NOT NULL DEFAULT '',
    language    TEXT         NOT NULL DEFAULT '',
    reason      TEXT         NOT NULL DEFAULT '',
    audio_ns    BIGINT       NOT NULL DEFAULT 0,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_dictation_history_created
    ON dictation_history (created_at DESC);

CREATE INDEX IF NOT EXISTS idx_dictation_history_session
    ON dictation_history (session_id, seq);
`

// Migrate creates the history table and its indexes. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlHistory); err != nil {
		return fmt.Errorf("history postgres: migrate: %w", err)
	}
	return nil
}

// Store is a [history.Store] backed by PostgreSQL. It is safe for concurrent
// use.
type Store struct {
	pool *pgxpool.Pool
}

var _ history.Store = (*Store)(nil)

// Open connects to dsn, pings the server and runs [Migrate].
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("history postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history postgres: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Append implements [history.Store].
func (s *Store) Append(ctx context.Context, e history.Entry) error {
	const q = `
		INSERT INTO dictation_history
		    (id, session_id, seq, text, raw_text, language, reason, audio_ns, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`

	e = history.EnsureID(e)
	id, err := uuid.Parse(e.ID)
	if err != nil {
		return fmt.Errorf("history postgres: entry id: %w", err)
	}
	created := e.Created
	if created.IsZero() {
		created = time.Now()
	}
	_, err = s.pool.Exec(ctx, q,
		id,
		e.SessionID,
		int64(e.Seq),
		e.Text,
		e.RawText,
		e.Language,
		e.Reason,
		e.Audio.Nanoseconds(),
		created,
	)
	if err != nil {
		return fmt.Errorf("history postgres: append: %w", err)
	}
	return nil
}

// Recent implements [history.Store].
func (s *Store) Recent(ctx context.Context, limit int) ([]history.Entry, error) {
	if limit <= 0 {
		return nil, nil
	}
	const q = `
		SELECT id::text, session_id, seq, text, raw_text, language, reason, audio_ns, created_at
		FROM   dictation_history
		ORDER  BY created_at DESC, id DESC
		LIMIT  $1`

	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("history postgres: recent: %w", err)
	}
	return collectEntries(rows)
}

func collectEntries(rows pgx.Rows) ([]history.Entry, error) {
	defer rows.Close()
	var out []history.Entry
	for rows.Next() {
		var (
			e       history.Entry
			seq     int64
			audioNS int64
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &seq, &e.Text, &e.RawText,
			&e.Language, &e.Reason, &audioNS, &e.Created); err != nil {
			return nil, fmt.Errorf("history postgres: scan: %w", err)
		}
		e.Seq = uint64(seq)
		e.Audio = time.Duration(audioNS)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history postgres: rows: %w", err)
	}
	return out, nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
