// Package stub provides fast, deterministic analyzers for local development
// and tests. Outputs are derived from a hash of the input so repeated runs
// agree, and every analyzer reports staged progress the way a real pipeline
// would.
package stub

import (
	"crypto/sha256"
	"encoding/binary"
	"time"

	"github.com/walletpulse/walletpulse/internal/domain"
)

// Analyzer implements every analyzer port with deterministic synthetic data.
type Analyzer struct {
	// Latency simulates per-stage processing time. Zero for tests.
	Latency time.Duration
}

// New returns a stub analyzer with a small default latency.
func New() *Analyzer { return &Analyzer{Latency: 25 * time.Millisecond} }

var (
	_ domain.WalletSyncer      = (*Analyzer)(nil)
	_ domain.PnlAnalyzer       = (*Analyzer)(nil)
	_ domain.BehaviorAnalyzer  = (*Analyzer)(nil)
	_ domain.DashboardAnalyzer = (*Analyzer)(nil)
	_ domain.SimilarityEngine  = (*Analyzer)(nil)
	_ domain.TokenEnricher     = (*Analyzer)(nil)
	_ domain.HolderProfiler    = (*Analyzer)(nil)
)

// seed derives a stable 64-bit value from any input string.
func seed(s string) uint64 {
	h := sha256.Sum256([]byte(s))
	return binary.BigEndian.Uint64(h[:8])
}

// frac maps a seed into [0, 1).
func frac(n uint64) float64 { return float64(n%10000) / 10000 }

func (a *Analyzer) step(ctx domain.Context, rep domain.ProgressReporter, percent int, stage string) error {
	if a.Latency > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(a.Latency):
		}
	}
	return rep.Report(ctx, domain.ProgressUpdate{Percent: percent, Stage: stage})
}

// SyncWallet pretends to pull the wallet's transaction history.
func (a *Analyzer) SyncWallet(ctx domain.Context, walletAddress string, rep domain.ProgressReporter) (domain.WalletSyncResult, error) {
	n := seed(walletAddress)
	stages := []struct {
		pct   int
		stage string
	}{
		{10, "fetching-signatures"},
		{50, "fetching-transactions"},
		{90, "persisting"},
	}
	for _, s := range stages {
		if err := a.step(ctx, rep, s.pct, s.stage); err != nil {
			return domain.WalletSyncResult{}, err
		}
	}
	fetched := int(n%5000) + 50
	return domain.WalletSyncResult{
		WalletAddress:     walletAddress,
		SignaturesFetched: fetched,
		TransactionsSaved: fetched - int(n%20),
		SyncedAt:          time.Now().UTC(),
	}, nil
}

// AnalyzePnl returns synthetic profit-and-loss metrics.
func (a *Analyzer) AnalyzePnl(ctx domain.Context, walletAddress string, historyWindowDays int, rep domain.ProgressReporter) (domain.PnlResult, error) {
	if err := a.step(ctx, rep, 30, "loading-trades"); err != nil {
		return domain.PnlResult{}, err
	}
	if err := a.step(ctx, rep, 80, "computing-pnl"); err != nil {
		return domain.PnlResult{}, err
	}
	n := seed(walletAddress + "|pnl")
	return domain.PnlResult{
		WalletAddress: walletAddress,
		RealizedPnl:   frac(n)*2000 - 1000,
		UnrealizedPnl: frac(n>>8)*500 - 250,
		WinRate:       frac(n >> 16),
		TradeCount:    int(n%400) + 1,
	}, nil
}

// AnalyzeBehavior returns synthetic trading-behavior metrics.
func (a *Analyzer) AnalyzeBehavior(ctx domain.Context, walletAddress string, historyWindowDays int, rep domain.ProgressReporter) (domain.BehaviorResult, error) {
	if err := a.step(ctx, rep, 50, "classifying"); err != nil {
		return domain.BehaviorResult{}, err
	}
	n := seed(walletAddress + "|behavior")
	styles := []string{"scalper", "day-trader", "swing-trader", "position-holder"}
	return domain.BehaviorResult{
		WalletAddress:  walletAddress,
		TradingStyle:   styles[n%uint64(len(styles))],
		ActiveHours:    []int{int(n % 24), int((n >> 8) % 24)},
		AvgHoldMinutes: frac(n>>16) * 600,
	}, nil
}

// AnalyzeDashboard composes sync, pnl, and behavior into one scoped result.
func (a *Analyzer) AnalyzeDashboard(ctx domain.Context, payload domain.DashboardAnalysisPayload, rep domain.ProgressReporter) (domain.DashboardResult, error) {
	if err := a.step(ctx, rep, 10, "syncing"); err != nil {
		return domain.DashboardResult{}, err
	}
	pnl, err := a.AnalyzePnl(ctx, payload.WalletAddress, payload.HistoryWindowDays, rep)
	if err != nil {
		return domain.DashboardResult{}, err
	}
	behavior, err := a.AnalyzeBehavior(ctx, payload.WalletAddress, payload.HistoryWindowDays, rep)
	if err != nil {
		return domain.DashboardResult{}, err
	}
	if err := a.step(ctx, rep, 95, "aggregating"); err != nil {
		return domain.DashboardResult{}, err
	}
	sigCount := payload.TargetSignatureCount
	if sigCount == 0 {
		sigCount = int(seed(payload.WalletAddress) % 10000)
	}
	return domain.DashboardResult{
		WalletAddress:      payload.WalletAddress,
		Scope:              payload.Scope,
		SignaturesAnalyzed: sigCount,
		Pnl:                &pnl,
		Behavior:           &behavior,
		CompletedAt:        time.Now().UTC(),
	}, nil
}

// ComputeSimilarity scores every wallet pair deterministically.
func (a *Analyzer) ComputeSimilarity(ctx domain.Context, payload domain.SimilarityFlowPayload, rep domain.ProgressReporter) (domain.SimilarityResult, error) {
	addrs := payload.WalletAddresses
	pairs := make([]domain.SimilarityPair, 0, len(addrs)*(len(addrs)-1)/2)
	total := len(addrs) * (len(addrs) - 1) / 2
	done := 0
	for i := 0; i < len(addrs); i++ {
		for j := i + 1; j < len(addrs); j++ {
			// Symmetric by construction: the pair is hashed in sorted order.
			lo, hi := addrs[i], addrs[j]
			if lo > hi {
				lo, hi = hi, lo
			}
			pairs = append(pairs, domain.SimilarityPair{
				WalletA: addrs[i],
				WalletB: addrs[j],
				Score:   frac(seed(lo + "|" + hi + "|" + payload.VectorType)),
			})
			done++
			if err := a.step(ctx, rep, done*100/total, "scoring-pairs"); err != nil {
				return domain.SimilarityResult{}, err
			}
		}
	}
	return domain.SimilarityResult{
		RequestID:       payload.RequestID,
		VectorType:      payload.VectorType,
		WalletAddresses: addrs,
		Pairs:           pairs,
	}, nil
}

// EnrichBalances pretends to attach market metadata to each distinct mint.
func (a *Analyzer) EnrichBalances(ctx domain.Context, payload domain.EnrichTokenBalancesPayload, rep domain.ProgressReporter) (domain.EnrichResult, error) {
	if err := a.step(ctx, rep, 50, "fetching-metadata"); err != nil {
		return domain.EnrichResult{}, err
	}
	return domain.EnrichResult{
		WalletCount:    len(payload.WalletBalances),
		TokensEnriched: payload.TokenCount(),
	}, nil
}

// ProfileToken fabricates profiles for a token's top holders.
func (a *Analyzer) ProfileToken(ctx domain.Context, mint string, topN int, rep domain.ProgressReporter) (domain.HolderProfilesResult, error) {
	if err := a.step(ctx, rep, 20, "fetching-holders"); err != nil {
		return domain.HolderProfilesResult{}, err
	}
	profiles := make([]domain.HolderProfile, 0, topN)
	for i := 0; i < topN; i++ {
		n := seed(mint + "|holder|" + string(rune('A'+i%26)))
		profiles = append(profiles, domain.HolderProfile{
			WalletAddress: "holder-" + mint[:min(8, len(mint))] + "-" + string(rune('a'+i%26)),
			HoldingPct:    frac(n) * 20,
			RealizedPnl:   frac(n>>8)*1000 - 500,
			WinRate:       frac(n >> 16),
			TradingStyle:  "swing-trader",
		})
	}
	if err := a.step(ctx, rep, 90, "profiling"); err != nil {
		return domain.HolderProfilesResult{}, err
	}
	return domain.HolderProfilesResult{
		TokenMint:   mint,
		TopN:        topN,
		Profiles:    profiles,
		GeneratedAt: time.Now().UTC(),
	}, nil
}

// ProfileWallet fabricates a single wallet profile.
func (a *Analyzer) ProfileWallet(ctx domain.Context, walletAddress string, rep domain.ProgressReporter) (domain.HolderProfilesResult, error) {
	if err := a.step(ctx, rep, 60, "profiling"); err != nil {
		return domain.HolderProfilesResult{}, err
	}
	n := seed(walletAddress + "|profile")
	return domain.HolderProfilesResult{
		Profiles: []domain.HolderProfile{{
			WalletAddress: walletAddress,
			RealizedPnl:   frac(n)*1000 - 500,
			WinRate:       frac(n >> 8),
			TradingStyle:  "day-trader",
		}},
		GeneratedAt: time.Now().UTC(),
	}, nil
}
