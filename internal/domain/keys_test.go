package domain

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobIDForIsDeterministic(t *testing.T) {
	a := JobIDFor(KindSyncWallet, "WalletA", "")
	b := JobIDFor(KindSyncWallet, "WalletA", "")
	assert.Equal(t, a, b)
	assert.True(t, strings.HasPrefix(a, string(KindSyncWallet)+"-"))

	assert.NotEqual(t, a, JobIDFor(KindSyncWallet, "WalletB", ""))
	assert.NotEqual(t, a, JobIDFor(KindAnalyzePnl, "WalletA", ""))
	assert.NotEqual(t, a, JobIDFor(KindSyncWallet, "WalletA", "req-1"))
}

func TestLockKeyShapes(t *testing.T) {
	assert.Equal(t, "lock:wallet:sync:WalletA", LockKeyFor(KindSyncWallet, "WalletA"))
	assert.Equal(t, "lock:wallet:pnl:WalletA", LockKeyFor(KindAnalyzePnl, "WalletA"))
	assert.Equal(t, "lock:wallet:behavior:WalletA", LockKeyFor(KindAnalyzeBehavior, "WalletA"))
	assert.Equal(t, "lock:wallet:dashboard-analysis:WalletA", LockKeyFor(KindDashboardAnalysis, "WalletA"))
	assert.Equal(t, "lock:similarity:req-1", LockKeyFor(KindSimilarityFlow, "req-1"))

	// Kinds without single-flight.
	assert.Empty(t, LockKeyFor(KindEnrichTokenBalances, "req-1"))
	assert.Empty(t, LockKeyFor(KindHolderProfiles, "MintA"))
}

func TestParseLockKey(t *testing.T) {
	d, op, key, err := ParseLockKey("lock:wallet:dashboard-analysis:WalletA|flash")
	require.NoError(t, err)
	assert.Equal(t, "wallet", d)
	assert.Equal(t, "dashboard-analysis", op)
	assert.Equal(t, "WalletA|flash", key)

	for _, bad := range []string{"", "lock:", "lock:wallet", "lock:wallet:sync:", "notlock:wallet:sync:W"} {
		_, _, _, err := ParseLockKey(bad)
		assert.Error(t, err, bad)
	}
}

func TestQueueForLockOperation(t *testing.T) {
	q, ok := QueueForLockOperation("wallet", "sync")
	require.True(t, ok)
	assert.Equal(t, QueueWalletOps, q)

	q, ok = QueueForLockOperation("wallet", "dashboard-analysis")
	require.True(t, ok)
	assert.Equal(t, QueueAnalysisOps, q)

	q, ok = QueueForLockOperation("similarity", "abc")
	require.True(t, ok)
	assert.Equal(t, QueueSimilarityOps, q)

	_, ok = QueueForLockOperation("wallet", "frobnicate")
	assert.False(t, ok)
	_, ok = QueueForLockOperation("token", "sync")
	assert.False(t, ok)
}

func TestJobLockKey(t *testing.T) {
	payload, err := json.Marshal(SyncWalletPayload{WalletAddress: "WalletA"})
	require.NoError(t, err)
	job := &Job{Kind: KindSyncWallet, Payload: payload}
	assert.Equal(t, "lock:wallet:sync:WalletA", JobLockKey(job))

	payload, err = json.Marshal(SimilarityFlowPayload{RequestID: "req-1", WalletAddresses: []string{"A", "B"}})
	require.NoError(t, err)
	job = &Job{Kind: KindSimilarityFlow, Payload: payload}
	assert.Equal(t, "lock:similarity:req-1", JobLockKey(job))

	job = &Job{Kind: KindEnrichTokenBalances, Payload: []byte(`{}`)}
	assert.Empty(t, JobLockKey(job))
}

func TestValidWalletAddress(t *testing.T) {
	assert.True(t, ValidWalletAddress("4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T"))
	assert.True(t, ValidWalletAddress(strings.Repeat("1", 32)))

	assert.False(t, ValidWalletAddress(""))
	assert.False(t, ValidWalletAddress("tooshort"))
	assert.False(t, ValidWalletAddress(strings.Repeat("1", 45)))
	// 0, O, I, l are not base58.
	assert.False(t, ValidWalletAddress(strings.Repeat("0", 40)))
	assert.False(t, ValidWalletAddress(strings.Repeat("O", 40)))
	assert.False(t, ValidWalletAddress(strings.Repeat("A", 31)+"!"))
}
