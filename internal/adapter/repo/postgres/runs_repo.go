package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/walletpulse/walletpulse/internal/domain"
)

// PgxPool is the minimal subset of pgxpool the repo uses, kept small so tests
// can stub it.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// RunRepo persists and loads dashboard analysis runs using a minimal pgx pool.
type RunRepo struct{ Pool PgxPool }

var _ domain.AnalysisRunRepository = (*RunRepo)(nil)

// NewRunRepo constructs a RunRepo with the given pool.
func NewRunRepo(p PgxPool) *RunRepo { return &RunRepo{Pool: p} }

// EnsureSchema creates the analysis_runs table if it does not exist.
func (r *RunRepo) EnsureSchema(ctx domain.Context) error {
	q := `CREATE TABLE IF NOT EXISTS analysis_runs (
		id BIGSERIAL PRIMARY KEY,
		wallet_address TEXT NOT NULL,
		analysis_scope TEXT NOT NULL,
		job_id TEXT NOT NULL,
		status TEXT NOT NULL,
		run_timestamp TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_analysis_runs_lookup
		ON analysis_runs (wallet_address, analysis_scope, run_timestamp DESC)`
	if _, err := r.Pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("op=runs.ensure_schema: %w", err)
	}
	return nil
}

// RecordCompleted appends one completed run.
func (r *RunRepo) RecordCompleted(ctx domain.Context, run domain.AnalysisRun) error {
	tracer := otel.Tracer("repo.runs")
	ctx, span := tracer.Start(ctx, "runs.RecordCompleted")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.sql.table", "analysis_runs"),
	)
	ts := run.RunTimestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	status := run.Status
	if status == "" {
		status = "completed"
	}
	q := `INSERT INTO analysis_runs (wallet_address, analysis_scope, job_id, status, run_timestamp) VALUES ($1,$2,$3,$4,$5)`
	if _, err := r.Pool.Exec(ctx, q, run.WalletAddress, string(run.Scope), run.JobID, status, ts); err != nil {
		return fmt.Errorf("op=runs.record_completed: %w", err)
	}
	return nil
}

// LatestCompleted loads the most recent completed run for (wallet, scope).
func (r *RunRepo) LatestCompleted(ctx domain.Context, wallet string, scope domain.AnalysisScope) (domain.AnalysisRun, error) {
	tracer := otel.Tracer("repo.runs")
	ctx, span := tracer.Start(ctx, "runs.LatestCompleted")
	defer span.End()
	q := `SELECT wallet_address, analysis_scope, job_id, status, run_timestamp
		FROM analysis_runs
		WHERE wallet_address=$1 AND analysis_scope=$2 AND status='completed'
		ORDER BY run_timestamp DESC LIMIT 1`
	row := r.Pool.QueryRow(ctx, q, wallet, string(scope))
	var run domain.AnalysisRun
	var scopeStr string
	if err := row.Scan(&run.WalletAddress, &scopeStr, &run.JobID, &run.Status, &run.RunTimestamp); err != nil {
		if err == pgx.ErrNoRows {
			return domain.AnalysisRun{}, fmt.Errorf("op=runs.latest_completed: %w", domain.ErrNotFound)
		}
		return domain.AnalysisRun{}, fmt.Errorf("op=runs.latest_completed: %w", err)
	}
	run.Scope = domain.AnalysisScope(scopeStr)
	return run, nil
}
