package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// JobIDFor derives the deterministic job id for (kind, naturalKey[, requestID]).
// Two callers with the same inputs produce the same id, so enqueueing is
// idempotent across processes.
func JobIDFor(kind JobKind, naturalKey string, requestID string) string {
	h := sha256.Sum256([]byte(string(kind) + "|" + naturalKey + "|" + requestID))
	return string(kind) + "-" + hex.EncodeToString(h[:])[:16]
}

// Lock key shapes: lock:<domain>:<operation>:<natural-key>.
const lockKeyPrefix = "lock:"

// LockKeyFor returns the single-flight lock key for a kind and natural key,
// or "" when the kind does not participate in single-flight.
func LockKeyFor(kind JobKind, naturalKey string) string {
	switch kind {
	case KindSyncWallet:
		return lockKeyPrefix + "wallet:sync:" + naturalKey
	case KindAnalyzePnl:
		return lockKeyPrefix + "wallet:pnl:" + naturalKey
	case KindAnalyzeBehavior:
		return lockKeyPrefix + "wallet:behavior:" + naturalKey
	case KindDashboardAnalysis:
		return lockKeyPrefix + "wallet:dashboard-analysis:" + naturalKey
	case KindSimilarityFlow:
		return lockKeyPrefix + "similarity:" + naturalKey
	}
	return ""
}

// ParseLockKey splits a lock key into its domain, operation, and natural key.
func ParseLockKey(key string) (lockDomain, operation, naturalKey string, err error) {
	rest, ok := strings.CutPrefix(key, lockKeyPrefix)
	if !ok {
		return "", "", "", fmt.Errorf("op=domain.ParseLockKey: %w: %q", ErrInvalidArgument, key)
	}
	parts := strings.SplitN(rest, ":", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", fmt.Errorf("op=domain.ParseLockKey: %w: %q", ErrInvalidArgument, key)
	}
	return parts[0], parts[1], parts[2], nil
}

// QueueForLockOperation maps a lock key's domain/operation pair to the queue
// that owns jobs of that operation. Used by the orphan sweep.
func QueueForLockOperation(lockDomain, operation string) (QueueName, bool) {
	switch lockDomain {
	case "wallet":
		switch operation {
		case "sync":
			return QueueWalletOps, true
		case "pnl", "behavior", "dashboard-analysis":
			return QueueAnalysisOps, true
		}
	case "similarity":
		return QueueSimilarityOps, true
	}
	return "", false
}

// JobLockKey rebuilds the single-flight lock key an enqueued job holds (owner
// is the job id), or "" when its kind has none.
func JobLockKey(job *Job) string {
	switch job.Kind {
	case KindSyncWallet:
		var p SyncWalletPayload
		if job.DecodePayload(&p) == nil {
			return LockKeyFor(job.Kind, p.WalletAddress)
		}
	case KindAnalyzePnl:
		var p AnalyzePnlPayload
		if job.DecodePayload(&p) == nil {
			return LockKeyFor(job.Kind, p.WalletAddress)
		}
	case KindAnalyzeBehavior:
		var p AnalyzeBehaviorPayload
		if job.DecodePayload(&p) == nil {
			return LockKeyFor(job.Kind, p.WalletAddress)
		}
	case KindDashboardAnalysis:
		var p DashboardAnalysisPayload
		if job.DecodePayload(&p) == nil {
			return LockKeyFor(job.Kind, p.WalletAddress)
		}
	case KindSimilarityFlow:
		var p SimilarityFlowPayload
		if job.DecodePayload(&p) == nil {
			return LockKeyFor(job.Kind, p.RequestID)
		}
	}
	return ""
}

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// ValidWalletAddress reports whether s looks like a Solana wallet address:
// base58 characters, length 32..44.
func ValidWalletAddress(s string) bool {
	if len(s) < 32 || len(s) > 44 {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune(base58Alphabet, r) {
			return false
		}
	}
	return true
}
