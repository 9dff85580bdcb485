package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walletpulse/walletpulse/internal/domain"
)

type fakeRow struct {
	scan func(dest ...any) error
}

func (r fakeRow) Scan(dest ...any) error { return r.scan(dest...) }

type fakePool struct {
	execSQL  []string
	execArgs [][]any
	row      fakeRow
}

func (p *fakePool) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	p.execSQL = append(p.execSQL, sql)
	p.execArgs = append(p.execArgs, args)
	return pgconn.CommandTag{}, nil
}

func (p *fakePool) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return p.row
}

func TestRecordCompletedDefaults(t *testing.T) {
	pool := &fakePool{}
	repo := NewRunRepo(pool)

	err := repo.RecordCompleted(context.Background(), domain.AnalysisRun{
		WalletAddress: "WalletA",
		Scope:         domain.ScopeFlash,
		JobID:         "job-1",
	})
	require.NoError(t, err)
	require.Len(t, pool.execArgs, 1)

	args := pool.execArgs[0]
	require.Len(t, args, 5)
	assert.Equal(t, "WalletA", args[0])
	assert.Equal(t, "flash", args[1])
	assert.Equal(t, "job-1", args[2])
	assert.Equal(t, "completed", args[3], "empty status defaults to completed")
	ts, ok := args[4].(time.Time)
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().UTC(), ts, time.Minute)
}

func TestLatestCompleted(t *testing.T) {
	want := domain.AnalysisRun{
		WalletAddress: "WalletA",
		Scope:         domain.ScopeWorking,
		JobID:         "job-1",
		Status:        "completed",
		RunTimestamp:  time.Now().UTC().Truncate(time.Second),
	}
	pool := &fakePool{row: fakeRow{scan: func(dest ...any) error {
		*dest[0].(*string) = want.WalletAddress
		*dest[1].(*string) = string(want.Scope)
		*dest[2].(*string) = want.JobID
		*dest[3].(*string) = want.Status
		*dest[4].(*time.Time) = want.RunTimestamp
		return nil
	}}}
	repo := NewRunRepo(pool)

	got, err := repo.LatestCompleted(context.Background(), "WalletA", domain.ScopeWorking)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLatestCompletedNoRows(t *testing.T) {
	pool := &fakePool{row: fakeRow{scan: func(dest ...any) error { return pgx.ErrNoRows }}}
	repo := NewRunRepo(pool)

	_, err := repo.LatestCompleted(context.Background(), "WalletA", domain.ScopeFlash)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEnsureSchemaIssuesDDL(t *testing.T) {
	pool := &fakePool{}
	repo := NewRunRepo(pool)

	require.NoError(t, repo.EnsureSchema(context.Background()))
	require.Len(t, pool.execSQL, 1)
	assert.Contains(t, pool.execSQL[0], "CREATE TABLE IF NOT EXISTS analysis_runs")
	assert.Contains(t, pool.execSQL[0], "idx_analysis_runs_lookup")
}
