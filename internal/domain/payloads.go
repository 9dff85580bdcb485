package domain

import "time"

// SyncWalletPayload drives a full wallet transaction sync.
type SyncWalletPayload struct {
	WalletAddress string `json:"walletAddress" validate:"required"`
	RequestID     string `json:"requestId,omitempty"`
}

// AnalyzePnlPayload drives a PnL computation over a history window.
type AnalyzePnlPayload struct {
	WalletAddress     string `json:"walletAddress" validate:"required"`
	HistoryWindowDays int    `json:"historyWindowDays,omitempty"`
	RequestID         string `json:"requestId,omitempty"`
}

// AnalyzeBehaviorPayload drives a trading-behavior computation.
type AnalyzeBehaviorPayload struct {
	WalletAddress     string `json:"walletAddress" validate:"required"`
	HistoryWindowDays int    `json:"historyWindowDays,omitempty"`
	RequestID         string `json:"requestId,omitempty"`
}

// DashboardAnalysisPayload carries a scoped dashboard analysis request plus
// the follow-up flags the completing worker uses to enqueue the next scope.
type DashboardAnalysisPayload struct {
	WalletAddress        string        `json:"walletAddress" validate:"required"`
	Scope                AnalysisScope `json:"analysisScope"`
	TriggerSource        string        `json:"triggerSource,omitempty"`
	HistoryWindowDays    int           `json:"historyWindowDays,omitempty"`
	TargetSignatureCount int           `json:"targetSignatureCount,omitempty"`
	ForceRefresh         bool          `json:"forceRefresh,omitempty"`
	EnrichMetadata       bool          `json:"enrichMetadata,omitempty"`
	QueueWorkingAfter    bool          `json:"queueWorkingAfter,omitempty"`
	QueueDeepAfter       bool          `json:"queueDeepAfter,omitempty"`
	TimeoutMinutes       int           `json:"timeoutMinutes,omitempty"`
	RequestID            string        `json:"requestId,omitempty"`
}

// SimilarityFlowPayload drives a multi-wallet similarity computation.
type SimilarityFlowPayload struct {
	RequestID       string   `json:"requestId"`
	WalletAddresses []string `json:"walletAddresses" validate:"required,min=2"`
	VectorType      string   `json:"vectorType,omitempty"`
}

// Similarity vector types.
const (
	VectorTypeCapital = "capital"
	VectorTypeBinary  = "binary"
)

// TokenBalance is one token position inside a wallet balance snapshot.
type TokenBalance struct {
	Mint      string  `json:"mint"`
	UIBalance float64 `json:"uiBalance"`
}

// WalletBalance is the balance snapshot submitted for enrichment.
type WalletBalance struct {
	TokenBalances []TokenBalance `json:"tokenBalances"`
}

// EnrichTokenBalancesPayload drives token-metadata enrichment of submitted
// balance snapshots.
type EnrichTokenBalancesPayload struct {
	RequestID      string                   `json:"requestId"`
	WalletBalances map[string]WalletBalance `json:"walletBalances" validate:"required,min=1"`
}

// TokenCount returns the number of distinct mints across all wallets.
func (p EnrichTokenBalancesPayload) TokenCount() int {
	seen := map[string]struct{}{}
	for _, wb := range p.WalletBalances {
		for _, tb := range wb.TokenBalances {
			seen[tb.Mint] = struct{}{}
		}
	}
	return len(seen)
}

// Holder-profiles analysis modes.
const (
	HolderProfilesModeToken  = "token"
	HolderProfilesModeWallet = "wallet"
)

// HolderProfilesPayload drives a holder-profiles analysis in token or wallet
// mode.
type HolderProfilesPayload struct {
	Mode          string `json:"mode"`
	TokenMint     string `json:"tokenMint,omitempty"`
	TopN          int    `json:"topN,omitempty"`
	WalletAddress string `json:"walletAddress,omitempty"`
	RequestID     string `json:"requestId,omitempty"`
}

// ---- analyzer results (opaque to the core; stored as job return values) ----

// WalletSyncResult summarizes a completed wallet sync.
type WalletSyncResult struct {
	WalletAddress     string    `json:"walletAddress"`
	SignaturesFetched int       `json:"signaturesFetched"`
	TransactionsSaved int       `json:"transactionsSaved"`
	SyncedAt          time.Time `json:"syncedAt"`
}

// PnlResult summarizes a PnL analysis.
type PnlResult struct {
	WalletAddress string  `json:"walletAddress"`
	RealizedPnl   float64 `json:"realizedPnl"`
	UnrealizedPnl float64 `json:"unrealizedPnl"`
	WinRate       float64 `json:"winRate"`
	TradeCount    int     `json:"tradeCount"`
}

// BehaviorResult summarizes a trading-behavior analysis.
type BehaviorResult struct {
	WalletAddress  string  `json:"walletAddress"`
	TradingStyle   string  `json:"tradingStyle"`
	ActiveHours    []int   `json:"activeHours,omitempty"`
	AvgHoldMinutes float64 `json:"avgHoldMinutes"`
}

// DashboardResult is the aggregate result of one scoped dashboard run.
type DashboardResult struct {
	WalletAddress      string         `json:"walletAddress"`
	Scope              AnalysisScope  `json:"analysisScope"`
	SignaturesAnalyzed int            `json:"signaturesAnalyzed"`
	Pnl                *PnlResult     `json:"pnl,omitempty"`
	Behavior           *BehaviorResult `json:"behavior,omitempty"`
	CompletedAt        time.Time      `json:"completedAt"`
}

// SimilarityResult is a pairwise similarity matrix over the input wallets.
type SimilarityResult struct {
	RequestID       string               `json:"requestId"`
	VectorType      string               `json:"vectorType"`
	WalletAddresses []string             `json:"walletAddresses"`
	Pairs           []SimilarityPair     `json:"pairs"`
}

// SimilarityPair is one scored wallet pair.
type SimilarityPair struct {
	WalletA string  `json:"walletA"`
	WalletB string  `json:"walletB"`
	Score   float64 `json:"score"`
}

// EnrichResult summarizes a balance-enrichment run.
type EnrichResult struct {
	WalletCount    int `json:"walletCount"`
	TokensEnriched int `json:"tokensEnriched"`
}

// HolderProfile is one wallet profile inside a holder-profiles result.
type HolderProfile struct {
	WalletAddress string  `json:"walletAddress"`
	HoldingPct    float64 `json:"holdingPct,omitempty"`
	RealizedPnl   float64 `json:"realizedPnl,omitempty"`
	WinRate       float64 `json:"winRate,omitempty"`
	TradingStyle  string  `json:"tradingStyle,omitempty"`
}

// HolderProfilesResult is the cacheable output of a holder-profiles analysis.
type HolderProfilesResult struct {
	TokenMint   string          `json:"tokenMint,omitempty"`
	TopN        int             `json:"topN,omitempty"`
	Profiles    []HolderProfile `json:"profiles"`
	GeneratedAt time.Time       `json:"generatedAt"`
}
