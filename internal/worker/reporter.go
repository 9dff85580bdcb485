package worker

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/walletpulse/walletpulse/internal/domain"
	"github.com/walletpulse/walletpulse/internal/queue"
)

// reporter persists a handler's progress on the job record and fans it out on
// the progress bus. Report doubles as the cancellation observation point:
// once a cancel has been requested it returns ErrCancelled and the handler is
// expected to bail out.
type reporter struct {
	q    *queue.Queue
	sink domain.ProgressSink
	job  *domain.Job
}

var _ domain.ProgressReporter = (*reporter)(nil)

func (r *reporter) Report(ctx domain.Context, update domain.ProgressUpdate) error {
	cancelled, err := r.q.UpdateProgress(ctx, r.job.ID, update.Raw())
	if err != nil {
		return fmt.Errorf("op=worker.Report: %w", err)
	}
	if cancelled {
		return fmt.Errorf("op=worker.Report: %w", domain.ErrCancelled)
	}

	payload := map[string]any{"progress": update.Percent}
	if update.Stage != "" || update.Message != "" {
		payload["progress"] = update
	}
	ev := domain.Event{
		JobID:       r.job.ID,
		Queue:       r.job.Queue,
		Type:        domain.EventProgress,
		Payload:     payload,
		TimestampMs: time.Now().UnixMilli(),
	}
	if err := r.sink.Publish(ctx, ev); err != nil {
		// Progress fanout is best-effort; the stored record is authoritative.
		slog.Warn("progress publish failed", slog.String("job_id", r.job.ID), slog.Any("error", err))
	}
	return nil
}
