// Package domain holds the core entities and ports of the job orchestration
// core: queues, jobs, locks, progress events, and the analyzer interfaces the
// workers invoke. It has no dependency on any adapter.
package domain

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrAlreadyRunning  = errors.New("already in progress")
	ErrUnavailable     = errors.New("infra unavailable")
	ErrTimeout         = errors.New("timeout")
	ErrCancelled       = errors.New("cancelled")
	ErrUnknownKind     = errors.New("unknown job kind")
	ErrInternal        = errors.New("internal error")
)

// QueueName identifies one of the four job queues.
type QueueName string

const (
	QueueWalletOps     QueueName = "wallet-operations"
	QueueAnalysisOps   QueueName = "analysis-operations"
	QueueSimilarityOps QueueName = "similarity-operations"
	QueueEnrichmentOps QueueName = "enrichment-operations"
)

// AllQueues lists every queue in a stable order.
func AllQueues() []QueueName {
	return []QueueName{QueueWalletOps, QueueAnalysisOps, QueueSimilarityOps, QueueEnrichmentOps}
}

// ValidQueueName reports whether name is one of the four queues.
func ValidQueueName(name string) bool {
	switch QueueName(name) {
	case QueueWalletOps, QueueAnalysisOps, QueueSimilarityOps, QueueEnrichmentOps:
		return true
	}
	return false
}

// JobKind enumerates the supported job kinds.
type JobKind string

const (
	KindSyncWallet          JobKind = "sync-wallet"
	KindAnalyzePnl          JobKind = "analyze-pnl"
	KindAnalyzeBehavior     JobKind = "analyze-behavior"
	KindDashboardAnalysis   JobKind = "dashboard-wallet-analysis"
	KindSimilarityFlow      JobKind = "similarity-analysis-flow"
	KindEnrichTokenBalances JobKind = "enrich-token-balances"
	KindHolderProfiles      JobKind = "analyze-holder-profiles"
)

// QueueFor returns the queue a kind is routed to.
func QueueFor(kind JobKind) QueueName {
	switch kind {
	case KindSyncWallet:
		return QueueWalletOps
	case KindSimilarityFlow:
		return QueueSimilarityOps
	case KindEnrichTokenBalances:
		return QueueEnrichmentOps
	default:
		return QueueAnalysisOps
	}
}

// Priority of a job within its queue; higher runs first.
type Priority int

const (
	PriorityLow      Priority = 3
	PriorityNormal   Priority = 5
	PriorityHigh     Priority = 7
	PriorityCritical Priority = 10
)

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	JobWaiting   JobStatus = "waiting"
	JobActive    JobStatus = "active"
	JobDelayed   JobStatus = "delayed"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether the status is a terminal one.
func (s JobStatus) Terminal() bool { return s == JobCompleted || s == JobFailed }

// Job is the broker-owned record of an ordered sequence of attempts on a
// typed payload. Timestamps are unix milliseconds to match the broker's wire
// representation.
type Job struct {
	ID            string          `json:"id"`
	Queue         QueueName       `json:"queue"`
	Kind          JobKind         `json:"kind"`
	Payload       json.RawMessage `json:"payload"`
	Priority      Priority        `json:"priority"`
	Status        JobStatus       `json:"status"`
	AttemptsMade  int             `json:"attemptsMade"`
	MaxAttempts   int             `json:"maxAttempts"`
	StalledCount  int             `json:"stalledCount"`
	TimeoutMs     int64           `json:"timeoutMs"`
	EnqueuedAtMs  int64           `json:"enqueuedAt"`
	ProcessedOnMs int64           `json:"processedOn,omitempty"`
	FinishedOnMs  int64           `json:"finishedOn,omitempty"`
	FailedReason  string          `json:"failedReason,omitempty"`
	ReturnValue   json.RawMessage `json:"returnvalue,omitempty"`
	Progress      json.RawMessage `json:"progress,omitempty"`
	Cancelled     bool            `json:"cancelRequested,omitempty"`
}

// EnqueuedAt returns the enqueue time.
func (j Job) EnqueuedAt() time.Time { return time.UnixMilli(j.EnqueuedAtMs) }

// QueueToStartMs returns the waiting time before the first/current attempt
// started, or 0 when the job has not started.
func (j Job) QueueToStartMs() int64 {
	if j.ProcessedOnMs == 0 {
		return 0
	}
	return j.ProcessedOnMs - j.EnqueuedAtMs
}

// DecodePayload unmarshals the job payload into v.
func (j Job) DecodePayload(v any) error {
	if len(j.Payload) == 0 {
		return ErrInvalidArgument
	}
	return json.Unmarshal(j.Payload, v)
}

// Context is an alias so ports read naturally without importing context in
// every signature site.
type Context = context.Context
