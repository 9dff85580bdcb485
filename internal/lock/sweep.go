package lock

import (
	"errors"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/walletpulse/walletpulse/internal/domain"
	"github.com/walletpulse/walletpulse/internal/queue"
)

// SweepReport summarizes one orphan sweep.
type SweepReport struct {
	Scanned  int
	Orphaned int
	Kept     int
}

// SweepOrphans walks every lock:* key with a non-blocking cursor scan and
// force-releases locks whose owning job is absent or terminal. It runs once
// after broker connectivity is established and never blocks online traffic.
func (s *Service) SweepOrphans(ctx domain.Context, mgr *queue.Manager) (SweepReport, error) {
	var report SweepReport
	var cursor uint64
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, "lock:*", 100).Result()
		if err != nil {
			return report, wrapTransport("lock.SweepOrphans", err)
		}
		for _, key := range keys {
			report.Scanned++
			if s.sweepOne(ctx, mgr, key) {
				report.Orphaned++
			} else {
				report.Kept++
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	slog.Info("orphan lock sweep finished",
		slog.Int("scanned", report.Scanned),
		slog.Int("orphaned", report.Orphaned),
		slog.Int("kept", report.Kept))
	return report, nil
}

// sweepOne returns true when the lock was orphaned and released.
func (s *Service) sweepOne(ctx domain.Context, mgr *queue.Manager, key string) bool {
	lockDomain, operation, _, err := domain.ParseLockKey(key)
	if err != nil {
		// Unparseable key under lock:* is junk; release it.
		_, _ = s.ForceRelease(ctx, key)
		slog.Warn("released malformed lock key", slog.String("key", key))
		return true
	}
	queueName, ok := domain.QueueForLockOperation(lockDomain, operation)
	if !ok {
		_, _ = s.ForceRelease(ctx, key)
		slog.Warn("released lock with unknown operation", slog.String("key", key))
		return true
	}

	owner, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// Expired between scan and read.
		return false
	}
	if err != nil {
		slog.Error("orphan sweep read failed", slog.String("key", key), slog.Any("error", err))
		return false
	}

	q, err := mgr.Queue(queueName)
	if err != nil {
		return false
	}
	job, err := q.GetJob(ctx, owner)
	if err == nil && !job.Status.Terminal() {
		return false
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		// Transport fault; leave the lock alone, the TTL bounds the damage.
		slog.Error("orphan sweep job lookup failed", slog.String("key", key), slog.Any("error", err))
		return false
	}

	if _, err := s.ForceRelease(ctx, key); err != nil {
		slog.Error("orphan lock release failed", slog.String("key", key), slog.Any("error", err))
		return false
	}
	slog.Info("released orphan lock", slog.String("key", key), slog.String("owner", owner))
	return true
}
