// Package postgres implements store.Store on PostgreSQL using pgx.
//
// Transcript and summary are stored as columns of the calls row, so a single
// table holds everything written for a call.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/callagent/pkg/store"
)

// Schema is the SQL DDL for the calls table. Execute it via [Store.Migrate]
// or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS calls (
    call_id          TEXT PRIMARY KEY,
    session_id       TEXT NOT NULL DEFAULT '',
    start_time       TIMESTAMPTZ NOT NULL,
    end_time         TIMESTAMPTZ NOT NULL,
    duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
    turns            JSONB NOT NULL DEFAULT '[]',
    summary          TEXT NOT NULL DEFAULT '',
    stages_completed INTEGER NOT NULL DEFAULT 0,
    total_exchanges  INTEGER NOT NULL DEFAULT 0,
    end_reason       TEXT NOT NULL DEFAULT '',
    flags            JSONB NOT NULL DEFAULT '{}',
    transcript       TEXT,
    summary_detail   JSONB
);
CREATE INDEX IF NOT EXISTS idx_calls_start_time ON calls(start_time);
`

// maxIDAttempts bounds retries when a generated call id collides.
const maxIDAttempts = 5

// DB is the database interface used by [Store]. Both *pgxpool.Pool and
// *pgx.Conn satisfy it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
}

// Store is a PostgreSQL-backed store.Store.
type Store struct {
	db   DB
	pool *pgxpool.Pool // non-nil when Store owns the pool
	now  func() time.Time
}

var _ store.Store = (*Store)(nil)

// New wraps an existing connection or pool. The caller keeps ownership of db
// and must run [Store.Migrate] before use.
func New(db DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Open connects a pool to dsn, verifies it and applies the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	s := &Store{db: pool, pool: pool, now: time.Now}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate executes [Schema].
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("postgres store: migrate: %w", err)
	}
	return nil
}

// SaveCall implements store.Store. A colliding id is regenerated.
func (s *Store) SaveCall(ctx context.Context, rec *store.CallRecord) (string, error) {
	turns, err := json.Marshal(emptyTurns(rec.Turns))
	if err != nil {
		return "", fmt.Errorf("postgres store: marshal turns: %w", err)
	}
	flags, err := json.Marshal(emptyFlags(rec.Flags))
	if err != nil {
		return "", fmt.Errorf("postgres store: marshal flags: %w", err)
	}

	const query = `
		INSERT INTO calls (
			call_id, session_id, start_time, end_time, duration_seconds,
			turns, summary, stages_completed, total_exchanges, end_reason, flags
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`

	for range maxIDAttempts {
		id := store.NewCallID(s.now())
		_, err = s.db.Exec(ctx, query,
			id, rec.SessionID, rec.StartTime, rec.EndTime, rec.DurationSeconds,
			turns, rec.Summary, rec.StagesCompleted, rec.TotalExchanges, string(rec.EndReason), flags,
		)
		if err == nil {
			rec.CallID = id
			return id, nil
		}
		if !isDuplicateKeyError(err) {
			return "", fmt.Errorf("postgres store: save call: %w", err)
		}
	}
	return "", fmt.Errorf("postgres store: save call: no free id after %d attempts: %w", maxIDAttempts, err)
}

// SaveTranscript implements store.Store.
func (s *Store) SaveTranscript(ctx context.Context, callID, transcript string) error {
	tag, err := s.db.Exec(ctx, `UPDATE calls SET transcript = $2 WHERE call_id = $1`, callID, transcript)
	if err != nil {
		return fmt.Errorf("postgres store: save transcript %s: %w", callID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres store: save transcript %s: %w", callID, store.ErrNotFound)
	}
	return nil
}

// SaveSummary implements store.Store.
func (s *Store) SaveSummary(ctx context.Context, callID string, summary store.Summary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("postgres store: marshal summary: %w", err)
	}
	tag, err := s.db.Exec(ctx, `UPDATE calls SET summary_detail = $2 WHERE call_id = $1`, callID, data)
	if err != nil {
		return fmt.Errorf("postgres store: save summary %s: %w", callID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres store: save summary %s: %w", callID, store.ErrNotFound)
	}
	return nil
}

const selectColumns = `
	SELECT call_id, session_id, start_time, end_time, duration_seconds,
	       turns, summary, stages_completed, total_exchanges, end_reason, flags
	FROM calls`

// GetCall implements store.Store.
func (s *Store) GetCall(ctx context.Context, callID string) (*store.CallRecord, error) {
	rec, err := scanCall(s.db.QueryRow(ctx, selectColumns+` WHERE call_id = $1`, callID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres store: get %q: %w", callID, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: get %q: %w", callID, err)
	}
	return rec, nil
}

// ListCalls implements store.Store.
func (s *Store) ListCalls(ctx context.Context, limit int) ([]store.CallRecord, error) {
	query := selectColumns + ` ORDER BY call_id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list: %w", err)
	}
	defer rows.Close()

	var out []store.CallRecord
	for rows.Next() {
		rec, err := scanCall(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres store: list scan: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres store: list: %w", err)
	}
	return out, nil
}

// Stats implements store.Store with a single aggregate query.
func (s *Store) Stats(ctx context.Context) (store.Stats, error) {
	const query = `SELECT COUNT(*), COALESCE(SUM(duration_seconds), 0), MAX(start_time) FROM calls`
	var (
		st    store.Stats
		count int64
		last  *time.Time
	)
	if err := s.db.QueryRow(ctx, query).Scan(&count, &st.TotalDurationSeconds, &last); err != nil {
		return store.Stats{}, fmt.Errorf("postgres store: stats: %w", err)
	}
	st.TotalCalls = int(count)
	st.LastCall = last
	if count > 0 {
		st.AverageDurationSeconds = st.TotalDurationSeconds / float64(count)
	}
	return st, nil
}

// Ping implements store.Store.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("postgres store: ping: %w", err)
	}
	return nil
}

// Close implements store.Store. It closes the pool only when Open created it.
func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// ── helpers ──────────────────────────────────────────────────────────────────

func scanCall(row pgx.Row) (*store.CallRecord, error) {
	var (
		rec              store.CallRecord
		turns, flags     []byte
		endReason        string
		stages, exchange int32
	)
	err := row.Scan(
		&rec.CallID, &rec.SessionID, &rec.StartTime, &rec.EndTime, &rec.DurationSeconds,
		&turns, &rec.Summary, &stages, &exchange, &endReason, &flags,
	)
	if err != nil {
		return nil, err
	}
	rec.StagesCompleted = int(stages)
	rec.TotalExchanges = int(exchange)
	rec.EndReason = store.EndReason(endReason)
	if err := json.Unmarshal(turns, &rec.Turns); err != nil {
		return nil, fmt.Errorf("decode turns: %w", err)
	}
	if err := json.Unmarshal(flags, &rec.Flags); err != nil {
		return nil, fmt.Errorf("decode flags: %w", err)
	}
	if len(rec.Flags) == 0 {
		rec.Flags = nil
	}
	return &rec, nil
}

// isDuplicateKeyError checks whether a PostgreSQL error is a unique-violation
// (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func emptyTurns(t []store.Turn) []store.Turn {
	if t == nil {
		return []store.Turn{}
	}
	return t
}

func emptyFlags(m map[string]bool) map[string]bool {
	if m == nil {
		return map[string]bool{}
	}
	return m
}
