// Package store persists discovery jobs and candidates through database/sql.
//
// The same queries run on Postgres (pgx stdlib) and SQLite (modernc); only
// the placeholder format differs. Timestamps are stored as unix milliseconds
// and structured fields (platform lists, filters, analysis, history) as JSON
// text.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// Dialect selects the placeholder style.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// Store implements the discovery, pipeline and sweeper persistence contracts.
type Store struct {
	db  *sql.DB
	sb  sq.StatementBuilderType
	now func() time.Time
}

// New wraps an open database.
func New(db *sql.DB, dialect Dialect) *Store {
	var format sq.PlaceholderFormat = sq.Question
	if dialect == Postgres {
		format = sq.Dollar
	}
	return &Store{
		db:  db,
		sb:  sq.StatementBuilder.PlaceholderFormat(format),
		now: time.Now,
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS discovery_jobs (
	id                  TEXT PRIMARY KEY,
	user_id             TEXT NOT NULL,
	platforms           TEXT NOT NULL,
	search_type         TEXT NOT NULL,
	search_query        TEXT NOT NULL DEFAULT '',
	hashtags            TEXT NOT NULL,
	status              TEXT NOT NULL,
	candidates_found    INTEGER NOT NULL DEFAULT 0,
	candidates_analyzed INTEGER NOT NULL DEFAULT 0,
	error_message       TEXT,
	filters             TEXT,
	street_casting_mode BOOLEAN NOT NULL DEFAULT FALSE,
	created_at          BIGINT NOT NULL,
	updated_at          BIGINT NOT NULL,
	completed_at        BIGINT
);
CREATE INDEX IF NOT EXISTS idx_discovery_jobs_user ON discovery_jobs (user_id);
CREATE INDEX IF NOT EXISTS idx_discovery_jobs_status ON discovery_jobs (status, updated_at);

CREATE TABLE IF NOT EXISTS candidates (
	id                         TEXT PRIMARY KEY,
	user_id                    TEXT NOT NULL,
	name                       TEXT NOT NULL,
	handle                     TEXT NOT NULL,
	platform                   TEXT NOT NULL,
	profile_url                TEXT NOT NULL,
	avatar_url                 TEXT NOT NULL DEFAULT '',
	bio                        TEXT NOT NULL DEFAULT '',
	followers                  BIGINT NOT NULL DEFAULT 0,
	following                  BIGINT NOT NULL DEFAULT 0,
	posts                      BIGINT NOT NULL DEFAULT 0,
	engagement_rate            DOUBLE PRECISION NOT NULL DEFAULT 0,
	location                   TEXT,
	external_url               TEXT NOT NULL DEFAULT '',
	email                      TEXT NOT NULL DEFAULT '',
	phone                      TEXT NOT NULL DEFAULT '',
	is_verified                BOOLEAN NOT NULL DEFAULT FALSE,
	is_business_account        BOOLEAN NOT NULL DEFAULT FALSE,
	ai_score                   INTEGER NOT NULL DEFAULT 0,
	ai_analysis                TEXT,
	physical_potential_score   INTEGER NOT NULL DEFAULT 0,
	unsigned_probability_score INTEGER NOT NULL DEFAULT 0,
	reachability_score         INTEGER NOT NULL DEFAULT 0,
	engagement_health_score    INTEGER NOT NULL DEFAULT 0,
	street_casting_score       INTEGER,
	estimated_age              INTEGER,
	status                     TEXT NOT NULL,
	notes                      TEXT,
	history_log                TEXT NOT NULL DEFAULT '[]',
	discovery_job_id           TEXT,
	created_at                 BIGINT NOT NULL,
	updated_at                 BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_candidates_user_handle ON candidates (user_id, handle);
CREATE INDEX IF NOT EXISTS idx_candidates_job ON candidates (discovery_job_id);
`

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	// Statements run one by one; not every driver accepts a multi-statement Exec.
	for _, stmt := range splitStatements(schema) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func splitStatements(script string) []string {
	var out []string
	for _, stmt := range strings.Split(script, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

// exec runs a built statement and returns the affected row count.
func (s *Store) exec(ctx context.Context, b sq.Sqlizer) (int64, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) queryRow(ctx context.Context, b sq.Sqlizer) (*sql.Row, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return s.db.QueryRowContext(ctx, query, args...), nil
}

func (s *Store) query(ctx context.Context, b sq.Sqlizer) (*sql.Rows, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return s.db.QueryContext(ctx, query, args...)
}

func millis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMillis(n.Int64)
	return &t
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func stringPtr(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	s := n.String
	return &s
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

// jsonText marshals v; nil pointers become SQL NULL.
func jsonText(v any) (sql.NullString, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	if string(b) == "null" {
		return sql.NullString{}, nil
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
