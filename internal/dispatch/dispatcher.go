// Package dispatch validates job requests, derives deterministic job ids,
// enforces single-flight locks, and enqueues onto the right queue. It also
// hosts the dashboard scope controller. Dispatch never blocks on worker
// completion.
package dispatch

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/walletpulse/walletpulse/internal/adapter/observability"
	"github.com/walletpulse/walletpulse/internal/config"
	"github.com/walletpulse/walletpulse/internal/domain"
	"github.com/walletpulse/walletpulse/internal/queue"
)

// Dispatcher is the single entry point for enqueueing work.
type Dispatcher struct {
	mgr    *queue.Manager
	locker domain.Locker
	runs   domain.AnalysisRunRepository
	cfg    config.Config
}

// New constructs a Dispatcher.
func New(mgr *queue.Manager, locker domain.Locker, runs domain.AnalysisRunRepository, cfg config.Config) *Dispatcher {
	return &Dispatcher{mgr: mgr, locker: locker, runs: runs, cfg: cfg}
}

// Statuses surfaced in dispatch replies.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusSkipped   = "skipped"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Result is the dispatch reply shared by all intake endpoints. JobID is a
// pointer so a freshness skip serializes as jobId:null.
type Result struct {
	JobID                   *string              `json:"jobId"`
	RequestID               string               `json:"requestId"`
	Status                  string               `json:"status"`
	QueueName               domain.QueueName     `json:"queueName,omitempty"`
	AnalysisScope           domain.AnalysisScope `json:"analysisScope,omitempty"`
	EstimatedProcessingTime string               `json:"estimatedProcessingTime,omitempty"`
	MonitoringURL           string               `json:"monitoringUrl,omitempty"`
	Skipped                 bool                 `json:"skipped,omitempty"`
	SkipReason              string               `json:"skipReason,omitempty"`
	QueuedFollowUpScopes    []string             `json:"queuedFollowUpScopes"`
	AlreadyRunning          bool                 `json:"alreadyRunning,omitempty"`
	WalletCount             int                  `json:"walletCount,omitempty"`
	TokenCount              int                  `json:"tokenCount,omitempty"`
}

func strPtr(s string) *string { return &s }

func monitoringURL(jobID string) string { return "/jobs/" + jobID }

func statusFor(job *domain.Job) string {
	switch job.Status {
	case domain.JobActive:
		return StatusRunning
	case domain.JobCompleted:
		return StatusCompleted
	case domain.JobFailed:
		return StatusFailed
	default:
		return StatusQueued
	}
}

// dispatchSpec is the internal per-call routing decision.
type dispatchSpec struct {
	kind       domain.JobKind
	naturalKey string
	requestID  string
	payload    any
	priority   domain.Priority
	timeout    time.Duration
	// lockKey is empty for kinds without single-flight.
	lockKey string
}

// dispatch runs steps 2..5 of the dispatcher contract: derive the id, take
// the single-flight lock when required, enqueue idempotently.
func (d *Dispatcher) dispatch(ctx domain.Context, spec dispatchSpec) (Result, error) {
	jobID := domain.JobIDFor(spec.kind, spec.naturalKey, "")
	queueName := domain.QueueFor(spec.kind)
	q, err := d.mgr.Queue(queueName)
	if err != nil {
		return Result{}, err
	}

	// A retained terminal record under the base id must not block a re-run;
	// salt with the request id so this flight gets its own record. The same
	// request id replayed against its own terminal job stays idempotent.
	if prior, err := q.GetJob(ctx, jobID); err == nil {
		if prior.Status.Terminal() {
			jobID = domain.JobIDFor(spec.kind, spec.naturalKey, spec.requestID)
		}
	} else if !errors.Is(err, domain.ErrNotFound) {
		return Result{}, err
	}

	if spec.lockKey != "" {
		acquired, err := d.locker.Acquire(ctx, spec.lockKey, jobID, spec.timeout+time.Minute)
		if err != nil {
			return Result{}, err
		}
		if !acquired {
			observability.LocksContendedTotal.WithLabelValues(string(spec.kind)).Inc()
			if res, handled, err := d.replyFromHeldLock(ctx, q, spec, jobID); handled || err != nil {
				return res, err
			}
			// Stale lock force-released; take it for this job.
			if _, err := d.locker.Acquire(ctx, spec.lockKey, jobID, spec.timeout+time.Minute); err != nil {
				return Result{}, err
			}
		} else {
			observability.LocksAcquiredTotal.WithLabelValues(string(spec.kind)).Inc()
		}
	}

	job, created, err := q.Add(ctx, spec.kind, spec.payload, queue.AddOptions{
		JobID:    jobID,
		Priority: spec.priority,
		Timeout:  spec.timeout,
	})
	if err != nil {
		if spec.lockKey != "" {
			_, _ = d.locker.Release(ctx, spec.lockKey, jobID)
		}
		return Result{}, err
	}
	if created {
		observability.EnqueueJob(string(queueName), string(spec.kind))
	}
	if !created && job.Status.Terminal() && spec.lockKey != "" {
		// Idempotent replay of a finished flight; nothing will release the
		// lock taken above, so drop it here.
		_, _ = d.locker.Release(ctx, spec.lockKey, jobID)
	}

	return Result{
		JobID:                   strPtr(job.ID),
		RequestID:               spec.requestID,
		Status:                  statusFor(job),
		QueueName:               queueName,
		EstimatedProcessingTime: estimateFor(spec.kind, ""),
		MonitoringURL:           monitoringURL(job.ID),
		QueuedFollowUpScopes:    []string{},
		AlreadyRunning:          !created && !job.Status.Terminal(),
	}, nil
}

// replyFromHeldLock resolves an acquire refusal: reply with the holder's job
// when it is live, or force-release a stale lock (handled=false) so the
// caller can retry the acquire.
func (d *Dispatcher) replyFromHeldLock(ctx domain.Context, q *queue.Queue, spec dispatchSpec, jobID string) (Result, bool, error) {
	owner, err := d.locker.Owner(ctx, spec.lockKey)
	if err != nil {
		return Result{}, true, err
	}
	if owner != "" {
		job, err := q.GetJob(ctx, owner)
		if err == nil && !job.Status.Terminal() {
			return Result{
				JobID:                strPtr(job.ID),
				RequestID:            spec.requestID,
				Status:               statusFor(job),
				QueueName:            q.Name(),
				MonitoringURL:        monitoringURL(job.ID),
				QueuedFollowUpScopes: []string{},
				AlreadyRunning:       true,
			}, true, nil
		}
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return Result{}, true, err
		}
	}
	// Holder vanished or finished: the lock is stale.
	if _, err := d.locker.ForceRelease(ctx, spec.lockKey); err != nil {
		return Result{}, true, err
	}
	return Result{}, false, nil
}

// SyncWallet enqueues a full wallet sync.
func (d *Dispatcher) SyncWallet(ctx domain.Context, walletAddress, requestID string) (Result, error) {
	if walletAddress == "" {
		return Result{}, fmt.Errorf("op=dispatch.SyncWallet: %w: walletAddress required", domain.ErrInvalidArgument)
	}
	if requestID == "" {
		requestID = uuid.New().String()
	}
	return d.dispatch(ctx, dispatchSpec{
		kind:       domain.KindSyncWallet,
		naturalKey: walletAddress,
		requestID:  requestID,
		payload:    domain.SyncWalletPayload{WalletAddress: walletAddress, RequestID: requestID},
		priority:   domain.PriorityNormal,
		timeout:    d.cfg.TimeoutFor(domain.KindSyncWallet),
		lockKey:    domain.LockKeyFor(domain.KindSyncWallet, walletAddress),
	})
}

// AnalyzePnl enqueues a PnL analysis.
func (d *Dispatcher) AnalyzePnl(ctx domain.Context, walletAddress string, historyWindowDays int, requestID string) (Result, error) {
	if walletAddress == "" {
		return Result{}, fmt.Errorf("op=dispatch.AnalyzePnl: %w: walletAddress required", domain.ErrInvalidArgument)
	}
	if requestID == "" {
		requestID = uuid.New().String()
	}
	return d.dispatch(ctx, dispatchSpec{
		kind:       domain.KindAnalyzePnl,
		naturalKey: walletAddress,
		requestID:  requestID,
		payload:    domain.AnalyzePnlPayload{WalletAddress: walletAddress, HistoryWindowDays: historyWindowDays, RequestID: requestID},
		priority:   domain.PriorityNormal,
		timeout:    d.cfg.TimeoutFor(domain.KindAnalyzePnl),
		lockKey:    domain.LockKeyFor(domain.KindAnalyzePnl, walletAddress),
	})
}

// AnalyzeBehavior enqueues a trading-behavior analysis.
func (d *Dispatcher) AnalyzeBehavior(ctx domain.Context, walletAddress string, historyWindowDays int, requestID string) (Result, error) {
	if walletAddress == "" {
		return Result{}, fmt.Errorf("op=dispatch.AnalyzeBehavior: %w: walletAddress required", domain.ErrInvalidArgument)
	}
	if requestID == "" {
		requestID = uuid.New().String()
	}
	return d.dispatch(ctx, dispatchSpec{
		kind:       domain.KindAnalyzeBehavior,
		naturalKey: walletAddress,
		requestID:  requestID,
		payload:    domain.AnalyzeBehaviorPayload{WalletAddress: walletAddress, HistoryWindowDays: historyWindowDays, RequestID: requestID},
		priority:   domain.PriorityNormal,
		timeout:    d.cfg.TimeoutFor(domain.KindAnalyzeBehavior),
		lockKey:    domain.LockKeyFor(domain.KindAnalyzeBehavior, walletAddress),
	})
}

// SimilarityFlow enqueues a multi-wallet similarity computation. Each request
// is its own flight; the natural key is the generated request id.
func (d *Dispatcher) SimilarityFlow(ctx domain.Context, walletAddresses []string, vectorType string) (Result, error) {
	if len(walletAddresses) < 2 {
		return Result{}, fmt.Errorf("op=dispatch.SimilarityFlow: %w: at least 2 wallet addresses required", domain.ErrInvalidArgument)
	}
	switch vectorType {
	case "":
		vectorType = domain.VectorTypeCapital
	case domain.VectorTypeCapital, domain.VectorTypeBinary:
	default:
		return Result{}, fmt.Errorf("op=dispatch.SimilarityFlow: %w: vectorType %q", domain.ErrInvalidArgument, vectorType)
	}
	requestID := uuid.New().String()
	res, err := d.dispatch(ctx, dispatchSpec{
		kind:       domain.KindSimilarityFlow,
		naturalKey: requestID,
		requestID:  requestID,
		payload:    domain.SimilarityFlowPayload{RequestID: requestID, WalletAddresses: walletAddresses, VectorType: vectorType},
		priority:   domain.PriorityNormal,
		timeout:    d.cfg.TimeoutFor(domain.KindSimilarityFlow),
		lockKey:    domain.LockKeyFor(domain.KindSimilarityFlow, requestID),
	})
	if err != nil {
		return res, err
	}
	res.WalletCount = len(walletAddresses)
	return res, nil
}

// EnrichBalances enqueues token-balance enrichment. No single-flight:
// overlapping wallet sets are additive and idempotent at the row level.
func (d *Dispatcher) EnrichBalances(ctx domain.Context, payload domain.EnrichTokenBalancesPayload) (Result, error) {
	if len(payload.WalletBalances) == 0 {
		return Result{}, fmt.Errorf("op=dispatch.EnrichBalances: %w: walletBalances required", domain.ErrInvalidArgument)
	}
	payload.RequestID = uuid.New().String()
	res, err := d.dispatch(ctx, dispatchSpec{
		kind:       domain.KindEnrichTokenBalances,
		naturalKey: payload.RequestID,
		requestID:  payload.RequestID,
		payload:    payload,
		priority:   domain.PriorityLow,
		timeout:    d.cfg.TimeoutFor(domain.KindEnrichTokenBalances),
	})
	if err != nil {
		return res, err
	}
	res.WalletCount = len(payload.WalletBalances)
	res.TokenCount = payload.TokenCount()
	return res, nil
}

// HolderProfilesToken enqueues a token-mode holder-profiles analysis.
func (d *Dispatcher) HolderProfilesToken(ctx domain.Context, tokenMint string, topN int) (Result, error) {
	if tokenMint == "" {
		return Result{}, fmt.Errorf("op=dispatch.HolderProfilesToken: %w: tokenMint required", domain.ErrInvalidArgument)
	}
	if topN == 0 {
		topN = 10
	}
	if topN < 1 || topN > 50 {
		return Result{}, fmt.Errorf("op=dispatch.HolderProfilesToken: %w: topN must be 1..50", domain.ErrInvalidArgument)
	}
	requestID := uuid.New().String()
	return d.dispatch(ctx, dispatchSpec{
		kind:       domain.KindHolderProfiles,
		naturalKey: fmt.Sprintf("token|%s|%d", tokenMint, topN),
		requestID:  requestID,
		payload: domain.HolderProfilesPayload{
			Mode: domain.HolderProfilesModeToken, TokenMint: tokenMint, TopN: topN, RequestID: requestID,
		},
		priority: domain.PriorityNormal,
		timeout:  d.cfg.TimeoutFor(domain.KindHolderProfiles),
	})
}

// HolderProfilesWallet enqueues a wallet-mode holder-profiles analysis.
func (d *Dispatcher) HolderProfilesWallet(ctx domain.Context, walletAddress string) (Result, error) {
	if walletAddress == "" {
		return Result{}, fmt.Errorf("op=dispatch.HolderProfilesWallet: %w: walletAddress required", domain.ErrInvalidArgument)
	}
	requestID := uuid.New().String()
	return d.dispatch(ctx, dispatchSpec{
		kind:       domain.KindHolderProfiles,
		naturalKey: "wallet|" + walletAddress,
		requestID:  requestID,
		payload: domain.HolderProfilesPayload{
			Mode: domain.HolderProfilesModeWallet, WalletAddress: walletAddress, RequestID: requestID,
		},
		priority: domain.PriorityNormal,
		timeout:  d.cfg.TimeoutFor(domain.KindHolderProfiles),
	})
}

// CancelJob removes a waiting/delayed job or requests abort of an active one.
// A removed waiting job also gets its single-flight lock released so the next
// dispatch proceeds immediately.
func (d *Dispatcher) CancelJob(ctx domain.Context, jobID string) (string, error) {
	job, err := d.mgr.FindJob(ctx, jobID)
	if err != nil {
		return "", err
	}
	q, err := d.mgr.Queue(job.Queue)
	if err != nil {
		return "", err
	}
	outcome, err := q.Cancel(ctx, jobID)
	if err != nil {
		return "", err
	}
	if outcome == queue.CancelRemoved {
		if key := domain.JobLockKey(job); key != "" {
			_, _ = d.locker.Release(ctx, key, job.ID)
		}
	}
	return outcome, nil
}

func estimateFor(kind domain.JobKind, scope domain.AnalysisScope) string {
	switch kind {
	case domain.KindSyncWallet:
		return "2-5 minutes"
	case domain.KindAnalyzePnl, domain.KindAnalyzeBehavior:
		return "1-3 minutes"
	case domain.KindSimilarityFlow:
		return "5-15 minutes"
	case domain.KindEnrichTokenBalances:
		return "2-10 minutes"
	case domain.KindHolderProfiles:
		return "2-5 minutes"
	case domain.KindDashboardAnalysis:
		switch scope {
		case domain.ScopeFlash:
			return "30-90 seconds"
		case domain.ScopeWorking:
			return "3-5 minutes"
		default:
			return "10-15 minutes"
		}
	}
	return ""
}
