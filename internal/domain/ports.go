package domain

import (
	"encoding/json"
	"time"
)

// Locker is the distributed single-flight lock service. All operations are a
// single broker round-trip; release and extend are ownership-checked CAS.
type Locker interface {
	Acquire(ctx Context, key, owner string, ttl time.Duration) (bool, error)
	Release(ctx Context, key, owner string) (bool, error)
	Extend(ctx Context, key, owner string, ttl time.Duration) (bool, error)
	Check(ctx Context, key, owner string) (bool, error)
	Owner(ctx Context, key string) (string, error)
	TTL(ctx Context, key string) (time.Duration, error)
	ForceRelease(ctx Context, key string) (bool, error)
}

// ProgressUpdate is a handler-emitted progress report: either a percentage
// 0..100 or a structured stage/message pair.
type ProgressUpdate struct {
	Percent int    `json:"percent,omitempty"`
	Stage   string `json:"stage,omitempty"`
	Message string `json:"message,omitempty"`
}

// Raw encodes the update the way it is stored and streamed: a bare number
// when only Percent is set, an object otherwise.
func (p ProgressUpdate) Raw() json.RawMessage {
	if p.Stage == "" && p.Message == "" {
		b, _ := json.Marshal(p.Percent)
		return b
	}
	b, _ := json.Marshal(p)
	return b
}

// ProgressReporter is handed to handlers; Report persists the update and
// publishes a progress event. It returns ErrCancelled when the job has been
// cancelled, which is also the handler's cancellation observation point.
type ProgressReporter interface {
	Report(ctx Context, update ProgressUpdate) error
}

// EventType enumerates progress-bus event types.
type EventType string

const (
	EventProgress     EventType = "progress"
	EventActive       EventType = "active"
	EventCompleted    EventType = "completed"
	EventFailed       EventType = "failed"
	EventQueueToStart EventType = "queue-to-start"
)

// Event is one immutable progress-bus record.
type Event struct {
	JobID       string         `json:"jobId"`
	Queue       QueueName      `json:"queue"`
	Type        EventType      `json:"type"`
	Payload     map[string]any `json:"payload,omitempty"`
	TimestampMs int64          `json:"timestamp"`
}

// ProgressSink receives worker-published events. The realtime channel
// implements delivery to subscribed clients.
type ProgressSink interface {
	Publish(ctx Context, ev Event) error
}

// HolderProfilesCache is the keyed result cache with race-safe invalidation
// by wallet membership.
type HolderProfilesCache interface {
	GetToken(ctx Context, mint string, topN int) (*HolderProfilesResult, error)
	GetWallet(ctx Context, addr string) (*HolderProfilesResult, error)
	CacheToken(ctx Context, mint string, topN int, result HolderProfilesResult) error
	CacheWallet(ctx Context, addr string, result HolderProfilesResult) error
	InvalidateForWallet(ctx Context, addr string) (int, error)
	InvalidateForToken(ctx Context, mint string) (int, error)
}

// ---- analyzer ports (opaque computations invoked by workers) ----

// WalletSyncer pulls a wallet's transaction history from the chain.
type WalletSyncer interface {
	SyncWallet(ctx Context, walletAddress string, rep ProgressReporter) (WalletSyncResult, error)
}

// PnlAnalyzer computes profit-and-loss metrics.
type PnlAnalyzer interface {
	AnalyzePnl(ctx Context, walletAddress string, historyWindowDays int, rep ProgressReporter) (PnlResult, error)
}

// BehaviorAnalyzer computes trading-behavior metrics.
type BehaviorAnalyzer interface {
	AnalyzeBehavior(ctx Context, walletAddress string, historyWindowDays int, rep ProgressReporter) (BehaviorResult, error)
}

// DashboardAnalyzer runs one scoped dashboard analysis.
type DashboardAnalyzer interface {
	AnalyzeDashboard(ctx Context, payload DashboardAnalysisPayload, rep ProgressReporter) (DashboardResult, error)
}

// SimilarityEngine scores wallet similarity over capital or binary vectors.
type SimilarityEngine interface {
	ComputeSimilarity(ctx Context, payload SimilarityFlowPayload, rep ProgressReporter) (SimilarityResult, error)
}

// TokenEnricher enriches submitted token balances with market metadata.
type TokenEnricher interface {
	EnrichBalances(ctx Context, payload EnrichTokenBalancesPayload, rep ProgressReporter) (EnrichResult, error)
}

// HolderProfiler profiles top holders of a token, or a single wallet.
type HolderProfiler interface {
	ProfileToken(ctx Context, mint string, topN int, rep ProgressReporter) (HolderProfilesResult, error)
	ProfileWallet(ctx Context, walletAddress string, rep ProgressReporter) (HolderProfilesResult, error)
}
