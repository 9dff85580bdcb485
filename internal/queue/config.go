// Package queue implements the four-queue priority broker on Redis. Every
// state transition runs as a single Lua script so that concurrent workers and
// dispatchers never observe a half-applied move between states.
package queue

import (
	"time"

	"github.com/walletpulse/walletpulse/internal/domain"
)

// Backoff policy names stored on the job record.
const (
	BackoffExponential = "exponential"
	BackoffFixed       = "fixed"
)

// Config is the per-queue tuning: concurrency, retry budget, backoff policy,
// terminal retention caps, and stalled-job handling.
type Config struct {
	Name             domain.QueueName
	Concurrency      int
	MaxAttempts      int
	BackoffType      string
	BackoffBase      time.Duration
	RemoveOnComplete int
	RemoveOnFail     int
	StalledInterval  time.Duration
	MaxStalledCount  int
	// LeaseDuration is the visibility timeout for active jobs; workers
	// heartbeat-extend it while processing.
	LeaseDuration time.Duration
}

// RetryDelay computes the delay before attempt n+1 given n failed attempts.
func (c Config) RetryDelay(attemptsMade int) time.Duration {
	if attemptsMade < 1 {
		attemptsMade = 1
	}
	if c.BackoffType == BackoffFixed {
		return c.BackoffBase
	}
	return c.BackoffBase << (attemptsMade - 1)
}

// DefaultConfigs returns the production queue tuning.
func DefaultConfigs() map[domain.QueueName]Config {
	return map[domain.QueueName]Config{
		domain.QueueWalletOps: {
			Name:             domain.QueueWalletOps,
			Concurrency:      3,
			MaxAttempts:      3,
			BackoffType:      BackoffExponential,
			BackoffBase:      2 * time.Second,
			RemoveOnComplete: 100,
			RemoveOnFail:     500,
			StalledInterval:  time.Minute,
			MaxStalledCount:  1,
			LeaseDuration:    time.Minute,
		},
		domain.QueueAnalysisOps: {
			Name:             domain.QueueAnalysisOps,
			Concurrency:      10,
			MaxAttempts:      3,
			BackoffType:      BackoffExponential,
			BackoffBase:      3 * time.Second,
			RemoveOnComplete: 200,
			RemoveOnFail:     1000,
			StalledInterval:  30 * time.Second,
			MaxStalledCount:  3,
			LeaseDuration:    time.Minute,
		},
		domain.QueueSimilarityOps: {
			Name:             domain.QueueSimilarityOps,
			Concurrency:      2,
			MaxAttempts:      3,
			BackoffType:      BackoffExponential,
			BackoffBase:      3 * time.Second,
			RemoveOnComplete: 50,
			RemoveOnFail:     200,
			StalledInterval:  time.Minute,
			MaxStalledCount:  1,
			LeaseDuration:    time.Minute,
		},
		domain.QueueEnrichmentOps: {
			Name:             domain.QueueEnrichmentOps,
			Concurrency:      3,
			MaxAttempts:      3,
			BackoffType:      BackoffFixed,
			BackoffBase:      2 * time.Second,
			RemoveOnComplete: 100,
			RemoveOnFail:     500,
			StalledInterval:  time.Minute,
			MaxStalledCount:  1,
			LeaseDuration:    time.Minute,
		},
	}
}
