package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walletpulse/walletpulse/internal/domain"
	"github.com/walletpulse/walletpulse/internal/queue"
)

func newSweepFixture(t *testing.T) (*Service, *queue.Manager) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewService(client), queue.NewManager(client, queue.DefaultConfigs())
}

func TestSweepKeepsLockOfLiveJob(t *testing.T) {
	s, mgr := newSweepFixture(t)
	ctx := context.Background()

	q, err := mgr.Queue(domain.QueueWalletOps)
	require.NoError(t, err)
	job, _, err := q.Add(ctx, domain.KindSyncWallet,
		domain.SyncWalletPayload{WalletAddress: "WalletA"}, queue.AddOptions{JobID: "sync-live"})
	require.NoError(t, err)

	key := domain.LockKeyFor(domain.KindSyncWallet, "WalletA")
	_, err = s.Acquire(ctx, key, job.ID, time.Hour)
	require.NoError(t, err)

	report, err := s.SweepOrphans(ctx, mgr)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Scanned)
	assert.Equal(t, 0, report.Orphaned)
	assert.Equal(t, 1, report.Kept)

	held, err := s.Check(ctx, key, job.ID)
	require.NoError(t, err)
	assert.True(t, held)
}

func TestSweepReleasesLockOfTerminalJob(t *testing.T) {
	s, mgr := newSweepFixture(t)
	ctx := context.Background()

	q, err := mgr.Queue(domain.QueueWalletOps)
	require.NoError(t, err)
	job, _, err := q.Add(ctx, domain.KindSyncWallet,
		domain.SyncWalletPayload{WalletAddress: "WalletA"}, queue.AddOptions{JobID: "sync-done"})
	require.NoError(t, err)
	_, err = q.Reserve(ctx)
	require.NoError(t, err)
	owned, err := q.Complete(ctx, job.ID, nil)
	require.NoError(t, err)
	require.True(t, owned)

	key := domain.LockKeyFor(domain.KindSyncWallet, "WalletA")
	_, err = s.Acquire(ctx, key, job.ID, time.Hour)
	require.NoError(t, err)

	report, err := s.SweepOrphans(ctx, mgr)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Orphaned)

	held, err := s.Check(ctx, key, "")
	require.NoError(t, err)
	assert.False(t, held)
}

func TestSweepReleasesLockWithoutJob(t *testing.T) {
	s, mgr := newSweepFixture(t)
	ctx := context.Background()

	key := domain.LockKeyFor(domain.KindAnalyzePnl, "WalletA")
	_, err := s.Acquire(ctx, key, "vanished-job", time.Hour)
	require.NoError(t, err)

	report, err := s.SweepOrphans(ctx, mgr)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Orphaned)
}

func TestSweepReleasesMalformedKeys(t *testing.T) {
	s, mgr := newSweepFixture(t)
	ctx := context.Background()

	_, err := s.Acquire(ctx, "lock:garbage", "whoever", time.Hour)
	require.NoError(t, err)
	_, err = s.Acquire(ctx, "lock:wallet:frobnicate:WalletA", "whoever", time.Hour)
	require.NoError(t, err)

	report, err := s.SweepOrphans(ctx, mgr)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Scanned)
	assert.Equal(t, 2, report.Orphaned)
}
