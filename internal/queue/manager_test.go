package queue

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walletpulse/walletpulse/internal/domain"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewManager(client, DefaultConfigs())
}

func TestManagerQueueLookup(t *testing.T) {
	m := newTestManager(t)

	for _, name := range domain.AllQueues() {
		q, err := m.Queue(name)
		require.NoError(t, err)
		assert.Equal(t, name, q.Name())
	}
	assert.Len(t, m.All(), len(domain.AllQueues()))

	_, err := m.Queue("dead-letter")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestManagerFindJobAcrossQueues(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	q, err := m.Queue(domain.QueueSimilarityOps)
	require.NoError(t, err)
	added, _, err := q.Add(ctx, domain.KindSimilarityFlow,
		domain.SimilarityFlowPayload{RequestID: "req-1", WalletAddresses: []string{"A", "B"}},
		AddOptions{JobID: "sim-1"})
	require.NoError(t, err)

	job, err := m.FindJob(ctx, added.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueSimilarityOps, job.Queue)
	assert.Equal(t, domain.KindSimilarityFlow, job.Kind)

	_, err = m.FindJob(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFindJobSurfacesBrokerFault(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	m := NewManager(client, DefaultConfigs())

	mr.Close()
	_, err := m.FindJob(context.Background(), "job-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnavailable)
	assert.NotErrorIs(t, err, domain.ErrNotFound)
}

func TestWaitReady(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, WaitReady(context.Background(), client))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	mr.Close()
	assert.Error(t, WaitReady(ctx, client))
}
