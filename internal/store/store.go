// Package store archives completed research runs in Postgres. Archiving is
// optional: when no database is configured the engine runs without it.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/quester-ai/quester/config"
)

// RunRecord is one archived research run: the question, the final answer and
// the sources it cites. Intermediate turns are never persisted.
type RunRecord struct {
	ID        string          `json:"id"`
	Query     string          `json:"query"`
	Answer    string          `json:"answer"`
	Sources   json.RawMessage `json:"sources"`
	FollowUps json.RawMessage `json:"follow_ups"`
	Success   bool            `json:"success"`
	Error     string          `json:"error,omitempty"`
	Duration  time.Duration   `json:"duration"`
	CreatedAt time.Time       `json:"created_at"`
}

// Archive persists completed runs.
type Archive interface {
	SaveRun(ctx context.Context, rec RunRecord) error
	GetRun(ctx context.Context, id string) (RunRecord, error)
	Close() error
}

// NewArchive returns a Postgres archive when configured, otherwise a no-op.
func NewArchive(cfg config.PostgresConfig) (Archive, error) {
	if cfg.URL == "" && cfg.Host == "" {
		return NoopArchive{}, nil
	}
	return NewPostgresArchive(cfg)
}

// NoopArchive discards everything.
type NoopArchive struct{}

func (NoopArchive) SaveRun(ctx context.Context, rec RunRecord) error { return nil }
func (NoopArchive) GetRun(ctx context.Context, id string) (RunRecord, error) {
	return RunRecord{}, sql.ErrNoRows
}
func (NoopArchive) Close() error { return nil }

// PostgresArchive stores run records in a single research_runs table.
type PostgresArchive struct {
	db *sql.DB
}

func NewPostgresArchive(cfg config.PostgresConfig) (*PostgresArchive, error) {
	dsn := cfg.URL
	if dsn == "" {
		host := cfg.Host
		port := cfg.Port
		ssl := cfg.SSLMode
		if host == "" {
			host = "localhost"
		}
		if port == "" {
			port = "5432"
		}
		if ssl == "" {
			ssl = "disable"
		}
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", cfg.User, cfg.Password, host, port, cfg.DBName, ssl)
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	a := &PostgresArchive{db: db}
	if err := a.ensureSchema(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *PostgresArchive) ensureSchema() error {
	_, err := a.db.Exec(`
CREATE TABLE IF NOT EXISTS research_runs (
    id TEXT PRIMARY KEY,
    query TEXT NOT NULL,
    answer TEXT,
    sources JSONB,
    follow_ups JSONB,
    success BOOLEAN NOT NULL DEFAULT FALSE,
    error TEXT,
    duration_ms BIGINT,
    created_at TIMESTAMPTZ DEFAULT NOW()
);
`)
	return err
}

func (a *PostgresArchive) SaveRun(ctx context.Context, rec RunRecord) error {
	_, err := a.db.ExecContext(ctx, `
INSERT INTO research_runs (id, query, answer, sources, follow_ups, success, error, duration_ms)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE SET
    answer = EXCLUDED.answer,
    sources = EXCLUDED.sources,
    follow_ups = EXCLUDED.follow_ups,
    success = EXCLUDED.success,
    error = EXCLUDED.error,
    duration_ms = EXCLUDED.duration_ms
`, rec.ID, rec.Query, rec.Answer, nullableJSON(rec.Sources), nullableJSON(rec.FollowUps),
		rec.Success, rec.Error, rec.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("save run %s: %w", rec.ID, err)
	}
	return nil
}

func (a *PostgresArchive) GetRun(ctx context.Context, id string) (RunRecord, error) {
	var rec RunRecord
	var durationMS int64
	var sources, followUps []byte
	err := a.db.QueryRowContext(ctx, `
SELECT id, query, answer, COALESCE(sources, 'null'), COALESCE(follow_ups, 'null'),
       success, COALESCE(error, ''), duration_ms, created_at
FROM research_runs WHERE id = $1
`, id).Scan(&rec.ID, &rec.Query, &rec.Answer, &sources, &followUps,
		&rec.Success, &rec.Error, &durationMS, &rec.CreatedAt)
	if err != nil {
		return RunRecord{}, err
	}
	rec.Sources = sources
	rec.FollowUps = followUps
	rec.Duration = time.Duration(durationMS) * time.Millisecond
	return rec, nil
}

func (a *PostgresArchive) Close() error { return a.db.Close() }

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
