package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walletpulse/walletpulse/internal/config"
	"github.com/walletpulse/walletpulse/internal/domain"
	"github.com/walletpulse/walletpulse/internal/lock"
	"github.com/walletpulse/walletpulse/internal/queue"
)

type stubRuns struct {
	run domain.AnalysisRun
	err error
}

func (s *stubRuns) LatestCompleted(ctx domain.Context, wallet string, scope domain.AnalysisScope) (domain.AnalysisRun, error) {
	return s.run, s.err
}

func (s *stubRuns) RecordCompleted(ctx domain.Context, run domain.AnalysisRun) error { return nil }

type fixture struct {
	d      *Dispatcher
	mgr    *queue.Manager
	locker *lock.Service
}

func newFixture(t *testing.T, runs domain.AnalysisRunRepository) fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	mgr := queue.NewManager(client, queue.DefaultConfigs())
	locker := lock.NewService(client)
	cfg := config.Config{
		SyncWalletTimeout:          10 * time.Minute,
		AnalyzePnlTimeout:          5 * time.Minute,
		AnalyzeBehaviorTimeout:     5 * time.Minute,
		CalculateSimilarityTimeout: 30 * time.Minute,
		EnrichTokenBalancesTimeout: 20 * time.Minute,
		DashboardAnalysisTimeout:   15 * time.Minute,
	}
	return fixture{d: New(mgr, locker, runs, cfg), mgr: mgr, locker: locker}
}

func TestSyncWalletDispatchAndSingleFlight(t *testing.T) {
	f := newFixture(t, &stubRuns{err: domain.ErrNotFound})
	ctx := context.Background()

	res, err := f.d.SyncWallet(ctx, "WalletA", "req-1")
	require.NoError(t, err)
	require.NotNil(t, res.JobID)
	assert.Equal(t, StatusQueued, res.Status)
	assert.Equal(t, domain.QueueWalletOps, res.QueueName)
	assert.Equal(t, "req-1", res.RequestID)
	assert.Equal(t, "/jobs/"+*res.JobID, res.MonitoringURL)
	assert.False(t, res.AlreadyRunning)

	held, err := f.locker.Check(ctx, domain.LockKeyFor(domain.KindSyncWallet, "WalletA"), *res.JobID)
	require.NoError(t, err)
	assert.True(t, held)

	res2, err := f.d.SyncWallet(ctx, "WalletA", "req-2")
	require.NoError(t, err)
	require.NotNil(t, res2.JobID)
	assert.Equal(t, *res.JobID, *res2.JobID)
	assert.True(t, res2.AlreadyRunning)
}

// completeJob walks a dispatched job to completed and releases its lock the
// way the worker pool does.
func completeJob(t *testing.T, f fixture, queueName domain.QueueName, jobID, lockKey string) {
	t.Helper()
	ctx := context.Background()
	q, err := f.mgr.Queue(queueName)
	require.NoError(t, err)
	reserved, err := q.Reserve(ctx)
	require.NoError(t, err)
	require.NotNil(t, reserved)
	require.Equal(t, jobID, reserved.ID)
	if lockKey != "" {
		_, err = f.locker.Release(ctx, lockKey, jobID)
		require.NoError(t, err)
	}
	owned, err := q.Complete(ctx, jobID, nil)
	require.NoError(t, err)
	require.True(t, owned)
}

func TestSyncWalletRerunAfterCompletion(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	lockKey := domain.LockKeyFor(domain.KindSyncWallet, "WalletA")

	res, err := f.d.SyncWallet(ctx, "WalletA", "")
	require.NoError(t, err)
	completeJob(t, f, domain.QueueWalletOps, *res.JobID, lockKey)

	// A retained completed record must not swallow the next sync request.
	res2, err := f.d.SyncWallet(ctx, "WalletA", "")
	require.NoError(t, err)
	require.NotNil(t, res2.JobID)
	assert.NotEqual(t, *res.JobID, *res2.JobID)
	assert.Equal(t, StatusQueued, res2.Status)
	assert.False(t, res2.AlreadyRunning)

	q, err := f.mgr.Queue(domain.QueueWalletOps)
	require.NoError(t, err)
	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[domain.JobWaiting])
}

func TestSyncWalletReplayReportsTerminalStatus(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	lockKey := domain.LockKeyFor(domain.KindSyncWallet, "WalletA")

	res, err := f.d.SyncWallet(ctx, "WalletA", "req-1")
	require.NoError(t, err)
	completeJob(t, f, domain.QueueWalletOps, *res.JobID, lockKey)

	res2, err := f.d.SyncWallet(ctx, "WalletA", "req-1")
	require.NoError(t, err)
	completeJob(t, f, domain.QueueWalletOps, *res2.JobID, lockKey)

	// Same request id against its own finished flight: an idempotent replay
	// that reports the real outcome and enqueues nothing.
	res3, err := f.d.SyncWallet(ctx, "WalletA", "req-1")
	require.NoError(t, err)
	require.NotNil(t, res3.JobID)
	assert.Equal(t, *res2.JobID, *res3.JobID)
	assert.Equal(t, StatusCompleted, res3.Status)
	assert.False(t, res3.AlreadyRunning)

	q, err := f.mgr.Queue(domain.QueueWalletOps)
	require.NoError(t, err)
	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Zero(t, counts[domain.JobWaiting])

	// The replay must not leave the wallet locked.
	held, err := f.locker.Check(ctx, lockKey, "")
	require.NoError(t, err)
	assert.False(t, held)
}

func TestSyncWalletRequiresAddress(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.d.SyncWallet(context.Background(), "", "")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestStaleLockIsReclaimed(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	// A leftover lock whose owner never became a job.
	key := domain.LockKeyFor(domain.KindSyncWallet, "WalletA")
	_, err := f.locker.Acquire(ctx, key, "vanished-job", time.Hour)
	require.NoError(t, err)

	res, err := f.d.SyncWallet(ctx, "WalletA", "")
	require.NoError(t, err)
	require.NotNil(t, res.JobID)
	assert.False(t, res.AlreadyRunning)

	owner, err := f.locker.Owner(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, *res.JobID, owner)
}

func TestPnlAndBehaviorRouteToAnalysisQueue(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	pnl, err := f.d.AnalyzePnl(ctx, "WalletA", 30, "")
	require.NoError(t, err)
	assert.Equal(t, domain.QueueAnalysisOps, pnl.QueueName)

	beh, err := f.d.AnalyzeBehavior(ctx, "WalletA", 0, "")
	require.NoError(t, err)
	assert.Equal(t, domain.QueueAnalysisOps, beh.QueueName)
	assert.NotEqual(t, *pnl.JobID, *beh.JobID)
}

func TestSimilarityFlowValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.d.SimilarityFlow(ctx, []string{"Wallet1"}, "")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = f.d.SimilarityFlow(ctx, []string{"Wallet1", "Wallet2"}, "cosine")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	res, err := f.d.SimilarityFlow(ctx, []string{"Wallet1", "Wallet2", "Wallet3"}, "")
	require.NoError(t, err)
	assert.Equal(t, 3, res.WalletCount)
	assert.Equal(t, domain.QueueSimilarityOps, res.QueueName)

	// Each request is its own flight.
	res2, err := f.d.SimilarityFlow(ctx, []string{"Wallet1", "Wallet2", "Wallet3"}, domain.VectorTypeBinary)
	require.NoError(t, err)
	assert.NotEqual(t, *res.JobID, *res2.JobID)
}

func TestEnrichBalancesCounts(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.d.EnrichBalances(ctx, domain.EnrichTokenBalancesPayload{})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	res, err := f.d.EnrichBalances(ctx, domain.EnrichTokenBalancesPayload{
		WalletBalances: map[string]domain.WalletBalance{
			"Wallet1": {TokenBalances: []domain.TokenBalance{{Mint: "MintA", UIBalance: 10}, {Mint: "MintB", UIBalance: 2}}},
			"Wallet2": {TokenBalances: []domain.TokenBalance{{Mint: "MintA", UIBalance: 1}}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.WalletCount)
	assert.Equal(t, 2, res.TokenCount)
	assert.Equal(t, domain.QueueEnrichmentOps, res.QueueName)
}

func TestHolderProfilesTopNBounds(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.d.HolderProfilesToken(ctx, "MintA", 51)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	res, err := f.d.HolderProfilesToken(ctx, "MintA", 0)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueAnalysisOps, res.QueueName)

	q, err := f.mgr.Queue(domain.QueueAnalysisOps)
	require.NoError(t, err)
	job, err := q.GetJob(ctx, *res.JobID)
	require.NoError(t, err)
	var p domain.HolderProfilesPayload
	require.NoError(t, job.DecodePayload(&p))
	assert.Equal(t, 10, p.TopN)
	assert.Equal(t, domain.HolderProfilesModeToken, p.Mode)

	wres, err := f.d.HolderProfilesWallet(ctx, "WalletA")
	require.NoError(t, err)
	assert.NotEqual(t, *res.JobID, *wres.JobID)
}

func TestCancelRemovedReleasesLock(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.d.SyncWallet(ctx, "WalletA", "")
	require.NoError(t, err)

	outcome, err := f.d.CancelJob(ctx, *res.JobID)
	require.NoError(t, err)
	assert.Equal(t, queue.CancelRemoved, outcome)

	held, err := f.locker.Check(ctx, domain.LockKeyFor(domain.KindSyncWallet, "WalletA"), "")
	require.NoError(t, err)
	assert.False(t, held)

	// The wallet can be dispatched again right away.
	res2, err := f.d.SyncWallet(ctx, "WalletA", "")
	require.NoError(t, err)
	assert.False(t, res2.AlreadyRunning)
}

func TestCancelUnknownJob(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.d.CancelJob(context.Background(), "no-such-job")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
