package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueueForRouting(t *testing.T) {
	assert.Equal(t, QueueWalletOps, QueueFor(KindSyncWallet))
	assert.Equal(t, QueueAnalysisOps, QueueFor(KindAnalyzePnl))
	assert.Equal(t, QueueAnalysisOps, QueueFor(KindAnalyzeBehavior))
	assert.Equal(t, QueueAnalysisOps, QueueFor(KindDashboardAnalysis))
	assert.Equal(t, QueueAnalysisOps, QueueFor(KindHolderProfiles))
	assert.Equal(t, QueueSimilarityOps, QueueFor(KindSimilarityFlow))
	assert.Equal(t, QueueEnrichmentOps, QueueFor(KindEnrichTokenBalances))
}

func TestValidQueueName(t *testing.T) {
	for _, name := range []QueueName{QueueWalletOps, QueueAnalysisOps, QueueSimilarityOps, QueueEnrichmentOps} {
		assert.True(t, ValidQueueName(string(name)))
	}
	assert.False(t, ValidQueueName("dead-letter"))
	assert.False(t, ValidQueueName(""))
}

func TestJobStatusTerminal(t *testing.T) {
	assert.True(t, JobCompleted.Terminal())
	assert.True(t, JobFailed.Terminal())
	assert.False(t, JobWaiting.Terminal())
	assert.False(t, JobActive.Terminal())
	assert.False(t, JobDelayed.Terminal())
}

func TestQueueToStartMs(t *testing.T) {
	assert.Zero(t, Job{EnqueuedAtMs: 1000}.QueueToStartMs())
	assert.Equal(t, int64(500), Job{EnqueuedAtMs: 1000, ProcessedOnMs: 1500}.QueueToStartMs())
}

func TestEnrichPayloadTokenCount(t *testing.T) {
	p := EnrichTokenBalancesPayload{WalletBalances: map[string]WalletBalance{
		"Wallet1": {TokenBalances: []TokenBalance{{Mint: "MintA"}, {Mint: "MintB"}}},
		"Wallet2": {TokenBalances: []TokenBalance{{Mint: "MintB"}, {Mint: "MintC"}}},
	}}
	assert.Equal(t, 3, p.TokenCount())
	assert.Zero(t, EnrichTokenBalancesPayload{}.TokenCount())
}
