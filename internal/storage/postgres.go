/**
 * PostgreSQL run history
 *
 * Optional audit trail of pipeline runs: one row per run and one per stage
 * outcome, so failed jobs can be traced back to their job pages after the
 * session that started them is gone. Enabled by DATABASE_URL.
 */

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/adverant/nexus/docintel/internal/errors"
	"github.com/adverant/nexus/docintel/internal/processor"
	"github.com/lib/pq"
)

const schema = `
	CREATE TABLE IF NOT EXISTS analysis_runs (
		id            UUID PRIMARY KEY,
		session_id    TEXT NOT NULL,
		document      TEXT NOT NULL,
		page_count    INTEGER NOT NULL,
		complete      BOOLEAN NOT NULL,
		language      TEXT,
		entity_count  INTEGER,
		failed_stages TEXT[] NOT NULL DEFAULT '{}',
		started_at    TIMESTAMPTZ NOT NULL,
		finished_at   TIMESTAMPTZ NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE TABLE IF NOT EXISTS stage_runs (
		run_id        UUID NOT NULL REFERENCES analysis_runs(id) ON DELETE CASCADE,
		stage         TEXT NOT NULL,
		status        TEXT NOT NULL,
		job_id        TEXT,
		job_url       TEXT,
		error_code    TEXT,
		error_message TEXT,
		duration_ms   BIGINT NOT NULL,
		started_at    TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (run_id, stage)
	);
	CREATE INDEX IF NOT EXISTS analysis_runs_started_at_idx ON analysis_runs (started_at DESC);
`

// RunHistory records finished pipeline runs
type RunHistory interface {
	RecordRun(ctx context.Context, sessionID string, result *processor.Result) error
	RecentRuns(ctx context.Context, limit int) ([]RunSummary, error)
	Close() error
}

// RunSummary is one row of the run history
type RunSummary struct {
	RunID        string    `json:"run_id"`
	SessionID    string    `json:"session_id"`
	Document     string    `json:"document"`
	PageCount    int       `json:"page_count"`
	Complete     bool      `json:"complete"`
	Language     string    `json:"language,omitempty"`
	FailedStages []string  `json:"failed_stages"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// NopHistory discards runs; used when no database is configured.
type NopHistory struct{}

func (NopHistory) RecordRun(context.Context, string, *processor.Result) error { return nil }
func (NopHistory) RecentRuns(context.Context, int) ([]RunSummary, error)    { return nil, nil }
func (NopHistory) Close() error                                              { return nil }

// PostgresClient handles run history persistence
type PostgresClient struct {
	db *sql.DB
}

// NewPostgresClient creates a new PostgreSQL client
func NewPostgresClient(ctx context.Context, databaseURL string) (*PostgresClient, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewPostgresClientWithDB(db), nil
}

// NewPostgresClientWithDB wraps an open database handle.
func NewPostgresClientWithDB(db *sql.DB) *PostgresClient {
	return &PostgresClient{db: db}
}

// EnsureSchema creates the history tables when missing.
func (p *PostgresClient) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create run history schema: %w", err)
	}
	return nil
}

// RecordRun upserts the run and its stage outcomes in one transaction.
func (p *PostgresClient) RecordRun(ctx context.Context, sessionID string, result *processor.Result) error {
	if result == nil || result.RunID == "" {
		return fmt.Errorf("run ID is required")
	}

	var failed []string
	for _, o := range result.Failed() {
		failed = append(failed, string(o.Stage))
	}
	if failed == nil {
		failed = []string{}
	}

	var language sql.NullString
	if result.Language != nil {
		language = sql.NullString{String: *result.Language, Valid: true}
	}
	var entityCount sql.NullInt64
	if result.Entities != nil {
		entityCount = sql.NullInt64{Int64: int64(len(result.Entities)), Valid: true}
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.NewStorageFailedError(result.RunID, fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO analysis_runs (
			id, session_id, document, page_count, complete,
			language, entity_count, failed_stages, started_at, finished_at
		) VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			complete = EXCLUDED.complete,
			language = EXCLUDED.language,
			entity_count = EXCLUDED.entity_count,
			failed_stages = EXCLUDED.failed_stages,
			finished_at = EXCLUDED.finished_at
	`,
		result.RunID,       // $1
		sessionID,          // $2
		result.Document,    // $3
		result.PageCount,   // $4
		result.Complete(),  // $5
		language,           // $6
		entityCount,        // $7
		pq.Array(failed),   // $8
		result.StartedAt,   // $9
		result.FinishedAt,  // $10
	)
	if err != nil {
		return apperrors.NewStorageFailedError(result.RunID, fmt.Errorf("failed to record run: %w", err))
	}

	for _, o := range result.Stages {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO stage_runs (
				run_id, stage, status, job_id, job_url,
				error_code, error_message, duration_ms, started_at
			) VALUES ($1::uuid, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), $8, $9)
			ON CONFLICT (run_id, stage) DO UPDATE SET
				status = EXCLUDED.status,
				job_id = EXCLUDED.job_id,
				job_url = EXCLUDED.job_url,
				error_code = EXCLUDED.error_code,
				error_message = EXCLUDED.error_message,
				duration_ms = EXCLUDED.duration_ms
		`,
			result.RunID,
			string(o.Stage),
			string(o.Status),
			o.JobID,
			o.JobURL,
			errorCode(o.Err),
			o.Error,
			o.Duration.Milliseconds(),
			o.StartedAt,
		)
		if err != nil {
			return apperrors.NewStorageFailedError(result.RunID,
				fmt.Errorf("failed to record stage %s: %w", o.Stage, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return apperrors.NewStorageFailedError(result.RunID, fmt.Errorf("failed to commit run: %w", err))
	}
	return nil
}

// RecentRuns lists the latest runs, newest first.
func (p *PostgresClient) RecentRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT id, session_id, document, page_count, complete,
		       language, failed_stages, started_at, finished_at
		FROM analysis_runs
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var (
			run      RunSummary
			language sql.NullString
		)
		if err := rows.Scan(
			&run.RunID, &run.SessionID, &run.Document, &run.PageCount, &run.Complete,
			&language, pq.Array(&run.FailedStages), &run.StartedAt, &run.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.Language = language.String
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read runs: %w", err)
	}
	return runs, nil
}

func errorCode(err error) string {
	var pe *apperrors.ProcessingError
	if errors.As(err, &pe) {
		return string(pe.Code)
	}
	return ""
}

// Ping checks database connectivity
func (p *PostgresClient) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the database connection
func (p *PostgresClient) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}
