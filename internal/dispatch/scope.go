package dispatch

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/walletpulse/walletpulse/internal/domain"
)

// DashboardRequest is the scope controller's input.
type DashboardRequest struct {
	WalletAddress        string
	Scope                domain.AnalysisScope
	TriggerSource        string
	HistoryWindowDays    int
	TargetSignatureCount int
	ForceRefresh         bool
	EnrichMetadata       bool
	QueueWorkingAfter    bool
	QueueDeepAfter       bool
	TimeoutMinutes       int
	RequestID            string
}

// DashboardAnalysis runs the scope state machine for one request: resolve
// defaults, freshness gate, in-flight dedup, lock check, enqueue.
func (d *Dispatcher) DashboardAnalysis(ctx domain.Context, req DashboardRequest) (Result, error) {
	if req.WalletAddress == "" {
		return Result{}, fmt.Errorf("op=dispatch.DashboardAnalysis: %w: walletAddress required", domain.ErrInvalidArgument)
	}
	if req.Scope == "" {
		req.Scope = domain.ScopeFlash
	}
	if !domain.ValidScope(req.Scope) {
		return Result{}, fmt.Errorf("op=dispatch.DashboardAnalysis: %w: analysisScope %q", domain.ErrInvalidArgument, req.Scope)
	}
	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}

	scopeCfg := domain.ConfigForScope(req.Scope)
	windowDays := scopeCfg.HistoryWindowDays
	if req.HistoryWindowDays > 0 {
		windowDays = req.HistoryWindowDays
	}
	if req.Scope == domain.ScopeDeep {
		// Deep always covers the entire history.
		windowDays = 0
	}
	sigCount := scopeCfg.TargetSignatureCount
	if req.TargetSignatureCount > 0 {
		sigCount = req.TargetSignatureCount
	}
	timeout := scopeCfg.Timeout
	if req.TimeoutMinutes > 0 {
		timeout = time.Duration(req.TimeoutMinutes) * time.Minute
	}

	followUps := followUpStrings(req.Scope, req.QueueWorkingAfter, req.QueueDeepAfter)

	// Freshness gate.
	if !req.ForceRefresh && d.runs != nil {
		run, err := d.runs.LatestCompleted(ctx, req.WalletAddress, req.Scope)
		if err == nil && time.Since(run.RunTimestamp) < scopeCfg.Freshness {
			return Result{
				RequestID:            req.RequestID,
				Status:               StatusSkipped,
				AnalysisScope:        req.Scope,
				Skipped:              true,
				SkipReason:           fmt.Sprintf("fresh-within-%dm", int(scopeCfg.Freshness.Minutes())),
				QueuedFollowUpScopes: []string{},
			}, nil
		}
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return Result{}, err
		}
	}

	// In-flight dedup: an existing non-terminal job for (wallet, scope) wins
	// over everything, including a disagreeing lock.
	if job, err := d.findInFlightDashboard(ctx, req.WalletAddress, req.Scope); err != nil {
		return Result{}, err
	} else if job != nil {
		return Result{
			JobID:                   strPtr(job.ID),
			RequestID:               req.RequestID,
			Status:                  statusFor(job),
			QueueName:               job.Queue,
			AnalysisScope:           req.Scope,
			EstimatedProcessingTime: estimateFor(domain.KindDashboardAnalysis, req.Scope),
			MonitoringURL:           monitoringURL(job.ID),
			QueuedFollowUpScopes:    followUps,
			AlreadyRunning:          true,
		}, nil
	}

	naturalKey := req.WalletAddress + "|" + string(req.Scope)
	if req.ForceRefresh {
		// A force refresh must never collide with a retained terminal id.
		naturalKey += "|" + req.RequestID
	}

	payload := domain.DashboardAnalysisPayload{
		WalletAddress:        req.WalletAddress,
		Scope:                req.Scope,
		TriggerSource:        req.TriggerSource,
		HistoryWindowDays:    windowDays,
		TargetSignatureCount: sigCount,
		ForceRefresh:         req.ForceRefresh,
		EnrichMetadata:       req.EnrichMetadata,
		QueueWorkingAfter:    req.QueueWorkingAfter,
		QueueDeepAfter:       req.QueueDeepAfter,
		TimeoutMinutes:       int(timeout.Minutes()),
		RequestID:            req.RequestID,
	}

	res, err := d.dispatch(ctx, dispatchSpec{
		kind:       domain.KindDashboardAnalysis,
		naturalKey: naturalKey,
		requestID:  req.RequestID,
		payload:    payload,
		priority:   scopeCfg.Priority,
		timeout:    timeout,
		lockKey:    domain.LockKeyFor(domain.KindDashboardAnalysis, req.WalletAddress),
	})
	if err != nil {
		return res, err
	}
	res.AnalysisScope = req.Scope
	res.EstimatedProcessingTime = estimateFor(domain.KindDashboardAnalysis, req.Scope)
	res.QueuedFollowUpScopes = followUps
	return res, nil
}

// findInFlightDashboard scans the analysis queue's non-terminal jobs for a
// dashboard job on (wallet, scope). Active jobs are checked first so a stale
// lock can never shadow a live run.
func (d *Dispatcher) findInFlightDashboard(ctx domain.Context, wallet string, scope domain.AnalysisScope) (*domain.Job, error) {
	q, err := d.mgr.Queue(domain.QueueAnalysisOps)
	if err != nil {
		return nil, err
	}
	for _, st := range []domain.JobStatus{domain.JobActive, domain.JobWaiting, domain.JobDelayed} {
		jobs, err := q.Jobs(ctx, st, 0, 1000)
		if err != nil {
			return nil, err
		}
		for _, job := range jobs {
			if job.Kind != domain.KindDashboardAnalysis {
				continue
			}
			var p domain.DashboardAnalysisPayload
			if job.DecodePayload(&p) != nil {
				continue
			}
			if p.WalletAddress == wallet && p.Scope == scope {
				return job, nil
			}
		}
	}
	return nil, nil
}

func followUpStrings(scope domain.AnalysisScope, queueWorkingAfter, queueDeepAfter bool) []string {
	scopes := domain.FollowUpScopes(scope, queueWorkingAfter, queueDeepAfter)
	out := make([]string, 0, len(scopes))
	for _, s := range scopes {
		out = append(out, string(s))
	}
	return out
}
