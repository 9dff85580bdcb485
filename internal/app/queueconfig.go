package app

import (
	"github.com/walletpulse/walletpulse/internal/config"
	"github.com/walletpulse/walletpulse/internal/domain"
	"github.com/walletpulse/walletpulse/internal/queue"
)

// QueueConfigs applies the env-configured backoff bases on top of the queue
// defaults. Both binaries build their manager from this.
func QueueConfigs(cfg config.Config) map[domain.QueueName]queue.Config {
	cfgs := queue.DefaultConfigs()
	for name, qc := range cfgs {
		switch name {
		case domain.QueueWalletOps:
			qc.BackoffBase = cfg.WalletOpsBackoffBase
		case domain.QueueAnalysisOps:
			qc.BackoffBase = cfg.AnalysisBackoffBase
		case domain.QueueSimilarityOps:
			qc.BackoffBase = cfg.SimilarityBackoffBase
		case domain.QueueEnrichmentOps:
			qc.BackoffBase = cfg.EnrichmentBackoffBase
		}
		cfgs[name] = qc
	}
	return cfgs
}
