// Package store persists scenario run reports to PostgreSQL.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/gatecheck/internal/scenario"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id           UUID PRIMARY KEY,
    plan         TEXT NOT NULL,
    started_at   TIMESTAMPTZ NOT NULL,
    finished_at  TIMESTAMPTZ NOT NULL,
    row_count    INTEGER NOT NULL,
    passed       INTEGER NOT NULL,
    failed       INTEGER NOT NULL,
    truncated    BOOLEAN NOT NULL,
    truncated_at INTEGER,
    cause        TEXT
);
CREATE TABLE IF NOT EXISTS verdicts (
    run_id       UUID NOT NULL REFERENCES runs (id) ON DELETE CASCADE,
    position     INTEGER NOT NULL,
    label        TEXT NOT NULL,
    expected     TEXT NOT NULL,
    actual       TEXT,
    passed       BOOLEAN NOT NULL,
    artifact_ref TEXT,
    error        TEXT,
    duration_ms  BIGINT NOT NULL,
    PRIMARY KEY (run_id, position)
);
CREATE INDEX IF NOT EXISTS runs_plan_started_at_idx ON runs (plan, started_at DESC);
`

const insertRun = `
INSERT INTO runs (id, plan, started_at, finished_at, row_count, passed, failed, truncated, truncated_at, cause)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);
`

const selectRecentRuns = `
SELECT id, plan, started_at, finished_at, row_count, passed, failed, truncated
FROM runs
WHERE ($1 = '' OR plan = $1)
ORDER BY started_at DESC
LIMIT $2;
`

var verdictColumns = []string{"run_id", "position", "label", "expected", "actual", "passed", "artifact_ref", "error", "duration_ms"}

// Store provides a PostgreSQL implementation of report persistence.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// SaveReport writes a run and its verdicts in one transaction. Row inputs
// are not stored since they usually hold credentials.
func (s *Store) SaveReport(ctx context.Context, r *scenario.Report) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction.", zap.Error(rollbackErr))
		}
	}()

	var truncatedAt any
	if r.Truncated {
		truncatedAt = r.TruncatedAt
	}
	_, err = tx.Exec(ctx, insertRun,
		r.RunID, r.Plan, r.StartedAt.UTC(), r.FinishedAt.UTC(),
		r.Rows, r.Passed, r.Failed, r.Truncated, truncatedAt, errText(r.Cause),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	if len(r.Verdicts) > 0 {
		if err := s.copyVerdicts(ctx, tx, r); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Debug("Run persisted.", zap.String("run_id", r.RunID.String()), zap.Int("verdicts", len(r.Verdicts)))
	return nil
}

func (s *Store) copyVerdicts(ctx context.Context, tx pgx.Tx, r *scenario.Report) error {
	rows := make([][]any, len(r.Verdicts))
	for i, v := range r.Verdicts {
		var actual any
		if !v.Actual.IsZero() {
			actual = v.Actual.String()
		}
		var ref any
		if v.ArtifactRef != "" {
			ref = v.ArtifactRef
		}
		rows[i] = []any{
			r.RunID, i, v.Row.Label, v.Row.Expect.String(), actual,
			v.Passed, ref, errText(v.Err), v.Duration.Milliseconds(),
		}
	}

	n, err := tx.CopyFrom(ctx, pgx.Identifier{"verdicts"}, verdictColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy verdicts: %w", err)
	}
	if int(n) != len(rows) {
		return fmt.Errorf("mismatch in copied verdicts count: expected %d, got %d", len(rows), n)
	}
	return nil
}

// RunSummary is one row of the run history.
type RunSummary struct {
	ID         uuid.UUID
	Plan       string
	StartedAt  time.Time
	FinishedAt time.Time
	Rows       int
	Passed     int
	Failed     int
	Truncated  bool
}

// RecentRuns returns up to limit runs, newest first. An empty plan matches
// every plan.
func (s *Store) RecentRuns(ctx context.Context, plan string, limit int) ([]RunSummary, error) {
	rows, err := s.pool.Query(ctx, selectRecentRuns, plan, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.ID, &r.Plan, &r.StartedAt, &r.FinishedAt, &r.Rows, &r.Passed, &r.Failed, &r.Truncated); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return runs, nil
}

func errText(err error) any {
	if err == nil {
		return nil
	}
	return err.Error()
}
