package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/walletpulse/walletpulse/internal/domain"
)

// Deps bundles everything the job handlers call out to. FollowUp is bound to
// the dispatcher in main so a completed dashboard scope can enqueue the next
// one without the worker importing the dispatch package. It runs from the
// pool's completion hook, not from the handler: while the handler runs, the
// per-wallet dashboard lock is still owned by the finishing job and would
// bounce the follow-up dispatch.
type Deps struct {
	Syncer     domain.WalletSyncer
	Pnl        domain.PnlAnalyzer
	Behavior   domain.BehaviorAnalyzer
	Dashboard  domain.DashboardAnalyzer
	Similarity domain.SimilarityEngine
	Enricher   domain.TokenEnricher
	Profiler   domain.HolderProfiler

	Runs  domain.AnalysisRunRepository
	Cache domain.HolderProfilesCache

	FollowUp func(ctx context.Context, payload domain.DashboardAnalysisPayload) error
}

// NewRegistry wires every job kind to its handler.
func NewRegistry(d Deps) Registry {
	return Registry{
		domain.KindSyncWallet:          d.handleSyncWallet,
		domain.KindAnalyzePnl:          d.handleAnalyzePnl,
		domain.KindAnalyzeBehavior:     d.handleAnalyzeBehavior,
		domain.KindDashboardAnalysis:   d.handleDashboardAnalysis,
		domain.KindSimilarityFlow:      d.handleSimilarityFlow,
		domain.KindEnrichTokenBalances: d.handleEnrichBalances,
		domain.KindHolderProfiles:      d.handleHolderProfiles,
	}
}

func (d Deps) handleSyncWallet(ctx context.Context, job *domain.Job, rep domain.ProgressReporter) (any, error) {
	var p domain.SyncWalletPayload
	if err := job.DecodePayload(&p); err != nil {
		return nil, fmt.Errorf("op=worker.handleSyncWallet: %w: %v", domain.ErrInvalidArgument, err)
	}
	res, err := d.Syncer.SyncWallet(ctx, p.WalletAddress, rep)
	if err != nil {
		return nil, err
	}
	// New history invalidates any cached holder-profiles containing this
	// wallet; a stale write is worse than a recompute.
	if d.Cache != nil {
		if n, err := d.Cache.InvalidateForWallet(ctx, p.WalletAddress); err != nil {
			slog.Warn("holder-profiles invalidation failed",
				slog.String("wallet", p.WalletAddress), slog.Any("error", err))
		} else if n > 0 {
			slog.Info("holder-profiles invalidated",
				slog.String("wallet", p.WalletAddress), slog.Int("entries", n))
		}
	}
	return res, nil
}

func (d Deps) handleAnalyzePnl(ctx context.Context, job *domain.Job, rep domain.ProgressReporter) (any, error) {
	var p domain.AnalyzePnlPayload
	if err := job.DecodePayload(&p); err != nil {
		return nil, fmt.Errorf("op=worker.handleAnalyzePnl: %w: %v", domain.ErrInvalidArgument, err)
	}
	return d.Pnl.AnalyzePnl(ctx, p.WalletAddress, p.HistoryWindowDays, rep)
}

func (d Deps) handleAnalyzeBehavior(ctx context.Context, job *domain.Job, rep domain.ProgressReporter) (any, error) {
	var p domain.AnalyzeBehaviorPayload
	if err := job.DecodePayload(&p); err != nil {
		return nil, fmt.Errorf("op=worker.handleAnalyzeBehavior: %w: %v", domain.ErrInvalidArgument, err)
	}
	return d.Behavior.AnalyzeBehavior(ctx, p.WalletAddress, p.HistoryWindowDays, rep)
}

func (d Deps) handleDashboardAnalysis(ctx context.Context, job *domain.Job, rep domain.ProgressReporter) (any, error) {
	var p domain.DashboardAnalysisPayload
	if err := job.DecodePayload(&p); err != nil {
		return nil, fmt.Errorf("op=worker.handleDashboardAnalysis: %w: %v", domain.ErrInvalidArgument, err)
	}
	res, err := d.Dashboard.AnalyzeDashboard(ctx, p, rep)
	if err != nil {
		return nil, err
	}

	if d.Runs != nil {
		run := domain.AnalysisRun{
			WalletAddress: p.WalletAddress,
			Scope:         p.Scope,
			JobID:         job.ID,
			Status:        "completed",
			RunTimestamp:  time.Now().UTC(),
		}
		if err := d.Runs.RecordCompleted(ctx, run); err != nil {
			slog.Warn("analysis run persist failed",
				slog.String("wallet", p.WalletAddress),
				slog.String("scope", string(p.Scope)),
				slog.Any("error", err))
		}
	}

	return res, nil
}

// CompletionHook is the pool's after-complete callback. For dashboard jobs it
// enqueues the follow-up scope; the completed transition already released the
// wallet's single-flight lock, so the dispatch goes through.
func (d Deps) CompletionHook(ctx context.Context, job *domain.Job) {
	if job.Kind != domain.KindDashboardAnalysis {
		return
	}
	var p domain.DashboardAnalysisPayload
	if err := job.DecodePayload(&p); err != nil {
		return
	}
	d.enqueueFollowUp(ctx, p)
}

// enqueueFollowUp schedules the next scope after a completed dashboard run.
// Failures are logged, never propagated: the completed run stands on its own.
func (d Deps) enqueueFollowUp(ctx context.Context, p domain.DashboardAnalysisPayload) {
	if d.FollowUp == nil {
		return
	}
	next, ok := domain.NextScope(p.Scope, p.QueueWorkingAfter, p.QueueDeepAfter)
	if !ok {
		return
	}
	followUp := p
	followUp.Scope = next
	followUp.ForceRefresh = false
	followUp.TimeoutMinutes = 0
	followUp.HistoryWindowDays = 0
	followUp.TargetSignatureCount = 0
	if next == domain.ScopeWorking {
		followUp.QueueWorkingAfter = false
	} else {
		followUp.QueueDeepAfter = false
	}
	if err := d.FollowUp(ctx, followUp); err != nil {
		slog.Warn("follow-up enqueue failed",
			slog.String("wallet", p.WalletAddress),
			slog.String("next_scope", string(next)),
			slog.Any("error", err))
		return
	}
	slog.Info("follow-up scope queued",
		slog.String("wallet", p.WalletAddress),
		slog.String("next_scope", string(next)))
}

func (d Deps) handleSimilarityFlow(ctx context.Context, job *domain.Job, rep domain.ProgressReporter) (any, error) {
	var p domain.SimilarityFlowPayload
	if err := job.DecodePayload(&p); err != nil {
		return nil, fmt.Errorf("op=worker.handleSimilarityFlow: %w: %v", domain.ErrInvalidArgument, err)
	}
	return d.Similarity.ComputeSimilarity(ctx, p, rep)
}

func (d Deps) handleEnrichBalances(ctx context.Context, job *domain.Job, rep domain.ProgressReporter) (any, error) {
	var p domain.EnrichTokenBalancesPayload
	if err := job.DecodePayload(&p); err != nil {
		return nil, fmt.Errorf("op=worker.handleEnrichBalances: %w: %v", domain.ErrInvalidArgument, err)
	}
	return d.Enricher.EnrichBalances(ctx, p, rep)
}

func (d Deps) handleHolderProfiles(ctx context.Context, job *domain.Job, rep domain.ProgressReporter) (any, error) {
	var p domain.HolderProfilesPayload
	if err := job.DecodePayload(&p); err != nil {
		return nil, fmt.Errorf("op=worker.handleHolderProfiles: %w: %v", domain.ErrInvalidArgument, err)
	}
	switch p.Mode {
	case domain.HolderProfilesModeToken:
		if d.Cache != nil {
			if cached, err := d.Cache.GetToken(ctx, p.TokenMint, p.TopN); err == nil && cached != nil {
				return cached, nil
			}
		}
		res, err := d.Profiler.ProfileToken(ctx, p.TokenMint, p.TopN, rep)
		if err != nil {
			return nil, err
		}
		if d.Cache != nil {
			if err := d.Cache.CacheToken(ctx, p.TokenMint, p.TopN, res); err != nil {
				slog.Warn("holder-profiles cache write failed", slog.Any("error", err))
			}
		}
		return res, nil
	case domain.HolderProfilesModeWallet:
		if d.Cache != nil {
			if cached, err := d.Cache.GetWallet(ctx, p.WalletAddress); err == nil && cached != nil {
				return cached, nil
			}
		}
		res, err := d.Profiler.ProfileWallet(ctx, p.WalletAddress, rep)
		if err != nil {
			return nil, err
		}
		if d.Cache != nil {
			if err := d.Cache.CacheWallet(ctx, p.WalletAddress, res); err != nil {
				slog.Warn("holder-profiles cache write failed", slog.Any("error", err))
			}
		}
		return res, nil
	default:
		return nil, fmt.Errorf("op=worker.handleHolderProfiles: %w: mode %q", domain.ErrInvalidArgument, p.Mode)
	}
}
