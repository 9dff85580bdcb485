package domain

import "time"

// AnalysisScope is the breadth of a dashboard analysis.
type AnalysisScope string

const (
	ScopeFlash   AnalysisScope = "flash"
	ScopeWorking AnalysisScope = "working"
	ScopeDeep    AnalysisScope = "deep"
)

// ValidScope reports whether s is a known scope.
func ValidScope(s AnalysisScope) bool {
	switch s {
	case ScopeFlash, ScopeWorking, ScopeDeep:
		return true
	}
	return false
}

// ScopeConfig holds per-scope defaults. Deep ignores HistoryWindowDays and
// analyzes the entire history.
type ScopeConfig struct {
	Freshness            time.Duration
	HistoryWindowDays    int
	TargetSignatureCount int
	Timeout              time.Duration
	Priority             Priority
}

var scopeConfigs = map[AnalysisScope]ScopeConfig{
	ScopeFlash: {
		Freshness:            5 * time.Minute,
		HistoryWindowDays:    1,
		TargetSignatureCount: 200,
		Timeout:              5 * time.Minute,
		Priority:             PriorityCritical,
	},
	ScopeWorking: {
		Freshness:            10 * time.Minute,
		HistoryWindowDays:    30,
		TargetSignatureCount: 2000,
		Timeout:              10 * time.Minute,
		Priority:             PriorityHigh,
	},
	ScopeDeep: {
		Freshness:            time.Hour,
		HistoryWindowDays:    0,
		TargetSignatureCount: 0,
		Timeout:              15 * time.Minute,
		Priority:             PriorityNormal,
	},
}

// ConfigForScope returns the defaults for a scope; unknown scopes fall back
// to flash.
func ConfigForScope(s AnalysisScope) ScopeConfig {
	if cfg, ok := scopeConfigs[s]; ok {
		return cfg
	}
	return scopeConfigs[ScopeFlash]
}

// NextScope returns the follow-up scope a completing run should enqueue,
// honoring the payload's queueWorkingAfter/queueDeepAfter flags. The second
// return reports whether a follow-up is due at all.
func NextScope(completed AnalysisScope, queueWorkingAfter, queueDeepAfter bool) (AnalysisScope, bool) {
	switch completed {
	case ScopeFlash:
		if queueWorkingAfter {
			return ScopeWorking, true
		}
		if queueDeepAfter {
			return ScopeDeep, true
		}
	case ScopeWorking:
		if queueDeepAfter {
			return ScopeDeep, true
		}
	}
	return "", false
}

// FollowUpScopes lists every scope that will eventually be enqueued after a
// run of `first` with the given flags, in enqueue order.
func FollowUpScopes(first AnalysisScope, queueWorkingAfter, queueDeepAfter bool) []AnalysisScope {
	out := []AnalysisScope{}
	cur := first
	w, d := queueWorkingAfter, queueDeepAfter
	for {
		next, ok := NextScope(cur, w, d)
		if !ok {
			break
		}
		out = append(out, next)
		if next == ScopeWorking {
			w = false
		} else {
			d = false
		}
		cur = next
	}
	return out
}

// AnalysisRun is the persisted record of a completed scope run, used by the
// freshness gate.
type AnalysisRun struct {
	WalletAddress string
	Scope         AnalysisScope
	JobID         string
	Status        string
	RunTimestamp  time.Time
}

// AnalysisRunRepository persists and loads dashboard analysis runs. The scope
// controller only reads; workers write on completion.
type AnalysisRunRepository interface {
	LatestCompleted(ctx Context, wallet string, scope AnalysisScope) (AnalysisRun, error)
	RecordCompleted(ctx Context, run AnalysisRun) error
}
