package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the SQL DDL for the voice_sessions table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS voice_sessions (
    id             TEXT PRIMARY KEY,
    started_at     TIMESTAMPTZ NOT NULL,
    ended_at       TIMESTAMPTZ NOT NULL,
    outcome        TEXT NOT NULL,
    turns          INTEGER NOT NULL DEFAULT 0,
    stt_retries    INTEGER NOT NULL DEFAULT 0,
    noise_warnings INTEGER NOT NULL DEFAULT 0,
    timeline       JSONB NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_voice_sessions_ended ON voice_sessions(ended_at DESC);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

var _ Store = (*PostgresStore)(nil)

// PostgresStore is a [Store] backed by PostgreSQL. The timeline is stored as
// JSONB.
type PostgresStore struct {
	db DB
}

// NewPostgresStore returns a store using db. Call [PostgresStore.Migrate]
// before the first query.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Connect opens a connection pool for dsn and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("archive: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive: ping: %w", err)
	}
	return pool, nil
}

// Migrate executes [Schema].
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("archive: migrate: %w", err)
	}
	return nil
}

// Save implements Store.
func (s *PostgresStore) Save(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		return errors.New("archive: record id must not be empty")
	}
	timeline := rec.Timeline
	if timeline == nil {
		timeline = []Transition{}
	}
	tlJSON, err := json.Marshal(timeline)
	if err != nil {
		return fmt.Errorf("archive: marshal timeline: %w", err)
	}

	const query = `
		INSERT INTO voice_sessions (
			id, started_at, ended_at, outcome, turns, stt_retries, noise_warnings, timeline
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE SET
			ended_at = EXCLUDED.ended_at,
			outcome = EXCLUDED.outcome,
			turns = EXCLUDED.turns,
			stt_retries = EXCLUDED.stt_retries,
			noise_warnings = EXCLUDED.noise_warnings,
			timeline = EXCLUDED.timeline`

	_, err = s.db.Exec(ctx, query,
		rec.ID, rec.StartedAt, rec.EndedAt, string(rec.Outcome),
		rec.Turns, rec.STTRetries, rec.NoiseWarnings, tlJSON,
	)
	if err != nil {
		return fmt.Errorf("archive: save %q: %w", rec.ID, err)
	}
	return nil
}

const selectColumns = `id, started_at, ended_at, outcome, turns, stt_retries, noise_warnings, timeline`

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Record, error) {
	query := `SELECT ` + selectColumns + ` FROM voice_sessions WHERE id = $1`
	rec, err := scanRecord(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("archive: get %q: %w", id, err)
	}
	return rec, nil
}

// Recent implements Store.
func (s *PostgresStore) Recent(ctx context.Context, n int) ([]Record, error) {
	if n <= 0 {
		n = DefaultMemCapacity
	}
	query := `SELECT ` + selectColumns + ` FROM voice_sessions ORDER BY ended_at DESC LIMIT $1`
	rows, err := s.db.Query(ctx, query, n)
	if err != nil {
		return nil, fmt.Errorf("archive: recent: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("archive: recent: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("archive: recent: %w", err)
	}
	return out, nil
}

func scanRecord(row pgx.Row) (*Record, error) {
	var (
		rec     Record
		outcome string
		tlJSON  []byte
	)
	err := row.Scan(&rec.ID, &rec.StartedAt, &rec.EndedAt, &outcome,
		&rec.Turns, &rec.STTRetries, &rec.NoiseWarnings, &tlJSON)
	if err != nil {
		return nil, err
	}
	rec.Outcome = Outcome(outcome)
	if len(tlJSON) > 0 {
		if err := json.Unmarshal(tlJSON, &rec.Timeline); err != nil {
			return nil, fmt.Errorf("unmarshal timeline: %w", err)
		}
	}
	return &rec, nil
}
