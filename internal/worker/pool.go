// Package worker runs the per-queue worker pools: it reserves jobs, keeps
// their leases alive, runs typed handlers under per-kind timeouts, retries
// with backoff, reclaims stalled jobs, and publishes lifecycle events to the
// progress bus. Terminal transitions are decided by the broker scripts, so
// completed/failed events go out exactly once per transition.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/walletpulse/walletpulse/internal/adapter/observability"
	"github.com/walletpulse/walletpulse/internal/domain"
	"github.com/walletpulse/walletpulse/internal/queue"
)

// Handler processes one job and returns its result value (stored as the
// job's return value) or an error.
type Handler func(ctx context.Context, job *domain.Job, rep domain.ProgressReporter) (any, error)

// Registry maps job kinds to handlers.
type Registry map[domain.JobKind]Handler

// Pool drives every queue's workers.
type Pool struct {
	mgr      *queue.Manager
	registry Registry
	sink     domain.ProgressSink
	locker   domain.Locker

	pollInterval time.Duration
	drainTimeout time.Duration
	onCompleted  func(ctx context.Context, job *domain.Job)
}

// Option tunes a Pool.
type Option func(*Pool)

// WithPollInterval overrides the idle reserve poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(p *Pool) { p.pollInterval = d }
}

// WithDrainTimeout overrides the shutdown drain deadline.
func WithDrainTimeout(d time.Duration) Option {
	return func(p *Pool) { p.drainTimeout = d }
}

// WithCompletionHook registers a callback invoked after a job's completed
// transition, once its single-flight lock is released. Dashboard follow-up
// scopes enqueue from here: dispatching them any earlier would collide with
// the finishing job's own lock.
func WithCompletionHook(fn func(ctx context.Context, job *domain.Job)) Option {
	return func(p *Pool) { p.onCompleted = fn }
}

// NewPool constructs a worker pool over the queue manager.
func NewPool(mgr *queue.Manager, registry Registry, sink domain.ProgressSink, locker domain.Locker, opts ...Option) *Pool {
	p := &Pool{
		mgr:          mgr,
		registry:     registry,
		sink:         sink,
		locker:       locker,
		pollInterval: 250 * time.Millisecond,
		drainTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run starts all workers and stalled-job reclaimers and blocks until ctx is
// cancelled and active handlers have drained (bounded by the drain deadline;
// lingering leases expire and the broker re-delivers).
func (p *Pool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, q := range p.mgr.All() {
		q := q
		for i := 0; i < q.Cfg().Concurrency; i++ {
			g.Go(func() error {
				p.runWorker(gctx, q)
				return nil
			})
		}
		g.Go(func() error {
			p.runReclaimer(gctx, q)
			return nil
		})
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- g.Wait() }()
	select {
	case err := <-waitErr:
		return err
	case <-ctx.Done():
	}
	timer := time.NewTimer(p.drainTimeout)
	defer timer.Stop()
	select {
	case err := <-waitErr:
		return err
	case <-timer.C:
		slog.Warn("drain deadline reached; abandoning in-flight jobs to lease recovery")
		return ctx.Err()
	}
}

func (p *Pool) runWorker(ctx context.Context, q *queue.Queue) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		job, err := q.Reserve(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("reserve failed", slog.String("queue", string(q.Name())), slog.Any("error", err))
			sleepCtx(ctx, time.Second)
			continue
		}
		if job == nil {
			sleepCtx(ctx, p.pollInterval+time.Duration(rand.Int63n(int64(p.pollInterval))))
			continue
		}
		// Drain semantics: a reserved job always runs to a terminal state or
		// a retry, even when shutdown started meanwhile.
		p.process(context.WithoutCancel(ctx), q, job)
	}
}

func (p *Pool) process(ctx context.Context, q *queue.Queue, job *domain.Job) {
	tracer := otel.Tracer("queue.worker")
	ctx, span := tracer.Start(ctx, "ProcessJob")
	span.SetAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.kind", string(job.Kind)),
		attribute.String("job.queue", string(q.Name())),
		attribute.Int("job.attempt", job.AttemptsMade),
	)
	defer span.End()

	observability.StartProcessingJob(string(q.Name()))

	lockKey := domain.JobLockKey(job)
	timeout := time.Duration(job.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	heartbeatDone := p.startHeartbeat(jobCtx, cancel, q, job, lockKey)
	defer close(heartbeatDone)

	p.publish(ctx, job, domain.EventQueueToStart, map[string]any{
		"waitTimeMs": job.QueueToStartMs(),
	})
	observability.JobQueueToStart.WithLabelValues(string(q.Name())).Observe(float64(job.QueueToStartMs()) / 1000)
	p.publish(ctx, job, domain.EventActive, map[string]any{
		"attemptsMade": job.AttemptsMade,
	})

	rep := &reporter{q: q, sink: p.sink, job: job}
	started := time.Now()

	handler, ok := p.registry[job.Kind]
	var result any
	var err error
	if !ok {
		err = domain.ErrUnknownKind
	} else {
		result, err = handler(jobCtx, job, rep)
	}
	processingTime := time.Since(started)

	if err == nil {
		p.finishCompleted(ctx, q, job, lockKey, result, processingTime)
		return
	}
	p.finishFailed(ctx, q, job, lockKey, err, processingTime)
}

// startHeartbeat extends the broker lease and the single-flight lock while a
// handler runs. Losing the lease (a reclaimer took the job) aborts the
// handler via cancel.
func (p *Pool) startHeartbeat(ctx context.Context, cancel context.CancelFunc, q *queue.Queue, job *domain.Job, lockKey string) chan struct{} {
	done := make(chan struct{})
	interval := q.Cfg().LeaseDuration / 3
	if interval < time.Second {
		interval = time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				ok, err := q.ExtendLease(ctx, job.ID)
				if err != nil {
					slog.Warn("lease extend failed", slog.String("job_id", job.ID), slog.Any("error", err))
					continue
				}
				if !ok {
					slog.Warn("lease lost; aborting handler", slog.String("job_id", job.ID))
					cancel()
					return
				}
				if lockKey != "" {
					_, _ = p.locker.Extend(ctx, lockKey, job.ID, q.Cfg().LeaseDuration*3)
				}
			}
		}
	}()
	return done
}

func (p *Pool) finishCompleted(ctx context.Context, q *queue.Queue, job *domain.Job, lockKey string, result any, processingTime time.Duration) {
	returnValue, err := json.Marshal(result)
	if err != nil {
		slog.Error("result encode failed", slog.String("job_id", job.ID), slog.Any("error", err))
		returnValue = json.RawMessage("null")
	}
	p.releaseLock(ctx, lockKey, job.ID)
	owned, err := q.Complete(ctx, job.ID, returnValue)
	if err != nil {
		slog.Error("complete transition failed", slog.String("job_id", job.ID), slog.Any("error", err))
		return
	}
	if !owned {
		// A reclaimer owned the transition; its event already went out.
		return
	}
	observability.CompleteJob(string(q.Name()), string(job.Kind), processingTime)
	var decoded any
	_ = json.Unmarshal(returnValue, &decoded)
	p.publish(ctx, job, domain.EventCompleted, map[string]any{
		"returnvalue":      decoded,
		"processingTimeMs": processingTime.Milliseconds(),
		"totalTimeMs":      time.Now().UnixMilli() - job.EnqueuedAtMs,
	})
	slog.Info("job completed",
		slog.String("job_id", job.ID),
		slog.String("kind", string(job.Kind)),
		slog.Duration("took", processingTime))
	if p.onCompleted != nil {
		p.onCompleted(ctx, job)
	}
}

func (p *Pool) finishFailed(ctx context.Context, q *queue.Queue, job *domain.Job, lockKey string, handlerErr error, processingTime time.Duration) {
	reason, permanent := classify(handlerErr)

	if !permanent && job.AttemptsMade < job.MaxAttempts {
		delay := q.Cfg().RetryDelay(job.AttemptsMade)
		moved, err := q.Retry(ctx, job.ID, delay, reason)
		if err != nil {
			slog.Error("retry transition failed", slog.String("job_id", job.ID), slog.Any("error", err))
			return
		}
		if moved {
			slog.Warn("job scheduled for retry",
				slog.String("job_id", job.ID),
				slog.Int("attempt", job.AttemptsMade),
				slog.Duration("delay", delay),
				slog.String("reason", reason))
		}
		// Lock stays held across retries; the heartbeat already extended it.
		return
	}

	p.releaseLock(ctx, lockKey, job.ID)
	owned, err := q.Fail(ctx, job.ID, reason)
	if err != nil {
		slog.Error("fail transition failed", slog.String("job_id", job.ID), slog.Any("error", err))
		return
	}
	if !owned {
		return
	}
	observability.FailJob(string(q.Name()), string(job.Kind), reason)
	p.publish(ctx, job, domain.EventFailed, map[string]any{
		"failedReason":     reason,
		"attemptsMade":     job.AttemptsMade,
		"processingTimeMs": processingTime.Milliseconds(),
	})
	slog.Error("job failed",
		slog.String("job_id", job.ID),
		slog.String("kind", string(job.Kind)),
		slog.String("reason", reason))
}

// classify maps a handler error to a failure reason and whether it is
// permanent (no retry).
func classify(err error) (reason string, permanent bool) {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, domain.ErrTimeout):
		return "timeout", true
	case errors.Is(err, domain.ErrCancelled):
		return "cancelled", true
	case errors.Is(err, domain.ErrUnknownKind):
		return "unknown-kind", true
	case errors.Is(err, domain.ErrInvalidArgument):
		return err.Error(), true
	default:
		return err.Error(), false
	}
}

func (p *Pool) releaseLock(ctx context.Context, lockKey, owner string) {
	if lockKey == "" {
		return
	}
	if _, err := p.locker.Release(ctx, lockKey, owner); err != nil {
		slog.Warn("lock release failed", slog.String("key", lockKey), slog.Any("error", err))
	}
}

func (p *Pool) runReclaimer(ctx context.Context, q *queue.Queue) {
	ticker := time.NewTicker(q.Cfg().StalledInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			outcomes, err := q.ReclaimStalled(ctx)
			if err != nil {
				slog.Error("stalled reclaim failed", slog.String("queue", string(q.Name())), slog.Any("error", err))
				continue
			}
			for _, out := range outcomes {
				if !out.Failed {
					slog.Warn("requeued stalled job", slog.String("job_id", out.JobID))
					continue
				}
				job, err := q.GetJob(ctx, out.JobID)
				if err != nil {
					continue
				}
				p.releaseLock(ctx, domain.JobLockKey(job), job.ID)
				observability.FailJob(string(q.Name()), string(job.Kind), "stalled")
				p.publish(ctx, job, domain.EventFailed, map[string]any{
					"failedReason": "stalled",
					"attemptsMade": job.AttemptsMade,
				})
			}
		}
	}
}

func (p *Pool) publish(ctx context.Context, job *domain.Job, t domain.EventType, payload map[string]any) {
	ev := domain.Event{
		JobID:       job.ID,
		Queue:       job.Queue,
		Type:        t,
		Payload:     payload,
		TimestampMs: time.Now().UnixMilli(),
	}
	if err := p.sink.Publish(ctx, ev); err != nil {
		slog.Warn("event publish failed", slog.String("job_id", job.ID), slog.String("type", string(t)), slog.Any("error", err))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
