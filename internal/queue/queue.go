package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/walletpulse/walletpulse/internal/domain"
)

// Queue is one named priority queue. All mutating operations are single Lua
// round-trips; broker failures surface wrapped in domain.ErrUnavailable so
// callers can distinguish infra faults from job-level failures.
type Queue struct {
	rdb   redis.UniversalClient
	cfg   Config
	nowMs func() int64
}

// New constructs a queue handle over the shared broker client.
func New(rdb redis.UniversalClient, cfg Config) *Queue {
	return &Queue{rdb: rdb, cfg: cfg, nowMs: func() int64 { return time.Now().UnixMilli() }}
}

// Name returns the queue name.
func (q *Queue) Name() domain.QueueName { return q.cfg.Name }

// Cfg returns the queue configuration.
func (q *Queue) Cfg() Config { return q.cfg }

func wrapTransport(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("op=%s: %w: %s", op, domain.ErrUnavailable, err)
}

// AddOptions tune a single enqueue.
type AddOptions struct {
	JobID    string
	Priority domain.Priority
	Delay    time.Duration
	Timeout  time.Duration
}

// Add enqueues a job. It is idempotent on JobID: when a job with that id
// already exists (any state within retention) the existing job is returned
// and created is false. A re-add of a retained terminal id returns the
// terminal job; callers wanting a re-run vary the natural key.
func (q *Queue) Add(ctx domain.Context, kind domain.JobKind, payload any, opts AddOptions) (*domain.Job, bool, error) {
	if opts.JobID == "" {
		return nil, false, fmt.Errorf("op=queue.Add: %w: job id required", domain.ErrInvalidArgument)
	}
	prio := opts.Priority
	if prio < 1 || prio > 10 {
		prio = domain.PriorityNormal
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, false, fmt.Errorf("op=queue.Add: %w: %s", domain.ErrInvalidArgument, err)
	}

	res, err := addScript.Run(ctx, q.rdb,
		[]string{jobKey(q.cfg.Name, opts.JobID), waitKey(q.cfg.Name), delayedKey(q.cfg.Name), seqKey(q.cfg.Name)},
		opts.JobID, string(kind), string(body), int(prio), q.cfg.MaxAttempts,
		q.nowMs(), opts.Delay.Milliseconds(), opts.Timeout.Milliseconds(),
	).Result()
	if err != nil {
		return nil, false, wrapTransport("queue.Add", err)
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) < 2 {
		return nil, false, fmt.Errorf("op=queue.Add: %w: unexpected script result", domain.ErrInternal)
	}
	created := toStr(vals[0]) == "created"

	job, err := q.GetJob(ctx, opts.JobID)
	if err != nil {
		return nil, created, err
	}
	return job, created, nil
}

// GetJob loads a job by id; domain.ErrNotFound when absent.
func (q *Queue) GetJob(ctx domain.Context, id string) (*domain.Job, error) {
	fields, err := q.rdb.HGetAll(ctx, jobKey(q.cfg.Name, id)).Result()
	if err != nil {
		return nil, wrapTransport("queue.GetJob", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("op=queue.GetJob: %w: job %s", domain.ErrNotFound, id)
	}
	return q.jobFromFields(fields), nil
}

// Reserve atomically promotes due delayed jobs and pops the highest-priority
// waiting job into the active set. Returns (nil, nil) when the queue is
// empty or paused.
func (q *Queue) Reserve(ctx domain.Context) (*domain.Job, error) {
	res, err := reserveScript.Run(ctx, q.rdb,
		[]string{waitKey(q.cfg.Name), delayedKey(q.cfg.Name), activeKey(q.cfg.Name), pausedKey(q.cfg.Name)},
		q.nowMs(), jobKeyPrefix(q.cfg.Name), q.cfg.LeaseDuration.Milliseconds(),
	).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapTransport("queue.Reserve", err)
	}
	flat, ok := res.([]interface{})
	if !ok || len(flat) == 0 {
		return nil, nil
	}
	fields := make(map[string]string, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		fields[toStr(flat[i])] = toStr(flat[i+1])
	}
	return q.jobFromFields(fields), nil
}

// ExtendLease pushes the active job's lease deadline forward.
func (q *Queue) ExtendLease(ctx domain.Context, id string) (bool, error) {
	res, err := extendLeaseScript.Run(ctx, q.rdb,
		[]string{activeKey(q.cfg.Name)},
		id, q.nowMs()+q.cfg.LeaseDuration.Milliseconds(),
	).Int()
	if err != nil {
		return false, wrapTransport("queue.ExtendLease", err)
	}
	return res == 1, nil
}

// Complete moves an active job to completed with its return value. The bool
// reports whether this call owned the terminal transition.
func (q *Queue) Complete(ctx domain.Context, id string, returnValue json.RawMessage) (bool, error) {
	if len(returnValue) == 0 {
		returnValue = json.RawMessage("null")
	}
	res, err := completeScript.Run(ctx, q.rdb,
		[]string{activeKey(q.cfg.Name), completedKey(q.cfg.Name), jobKey(q.cfg.Name, id)},
		id, q.nowMs(), string(returnValue), q.cfg.RemoveOnComplete, jobKeyPrefix(q.cfg.Name),
	).Int()
	if err != nil {
		return false, wrapTransport("queue.Complete", err)
	}
	return res == 1, nil
}

// Fail moves an active job to failed with a reason. The bool reports whether
// this call owned the terminal transition.
func (q *Queue) Fail(ctx domain.Context, id, reason string) (bool, error) {
	res, err := failScript.Run(ctx, q.rdb,
		[]string{activeKey(q.cfg.Name), failedKey(q.cfg.Name), jobKey(q.cfg.Name, id)},
		id, q.nowMs(), reason, q.cfg.RemoveOnFail, jobKeyPrefix(q.cfg.Name),
	).Int()
	if err != nil {
		return false, wrapTransport("queue.Fail", err)
	}
	return res == 1, nil
}

// Retry schedules a delayed re-attempt of an active job.
func (q *Queue) Retry(ctx domain.Context, id string, delay time.Duration, reason string) (bool, error) {
	res, err := retryScript.Run(ctx, q.rdb,
		[]string{activeKey(q.cfg.Name), delayedKey(q.cfg.Name), jobKey(q.cfg.Name, id)},
		id, q.nowMs(), delay.Milliseconds(), reason,
	).Int()
	if err != nil {
		return false, wrapTransport("queue.Retry", err)
	}
	return res == 1, nil
}

// StalledOutcome reports what the reclaimer did with one expired-lease job.
type StalledOutcome struct {
	JobID  string
	Failed bool
}

// ReclaimStalled sweeps expired leases: requeues jobs under the stall budget,
// fails the rest.
func (q *Queue) ReclaimStalled(ctx domain.Context) ([]StalledOutcome, error) {
	res, err := reclaimStalledScript.Run(ctx, q.rdb,
		[]string{activeKey(q.cfg.Name), waitKey(q.cfg.Name), failedKey(q.cfg.Name)},
		q.nowMs(), jobKeyPrefix(q.cfg.Name), q.cfg.MaxStalledCount,
	).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapTransport("queue.ReclaimStalled", err)
	}
	flat, _ := res.([]interface{})
	out := make([]StalledOutcome, 0, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		out = append(out, StalledOutcome{JobID: toStr(flat[i]), Failed: toStr(flat[i+1]) == "failed"})
	}
	return out, nil
}

// UpdateProgress stores a progress report and returns whether cancellation
// has been requested for the job.
func (q *Queue) UpdateProgress(ctx domain.Context, id string, progress json.RawMessage) (cancelled bool, err error) {
	res, err := updateProgressScript.Run(ctx, q.rdb,
		[]string{jobKey(q.cfg.Name, id)}, string(progress),
	).Int()
	if err != nil {
		return false, wrapTransport("queue.UpdateProgress", err)
	}
	if res == -1 {
		return false, fmt.Errorf("op=queue.UpdateProgress: %w: job %s", domain.ErrNotFound, id)
	}
	return res == 1, nil
}

// Cancel outcomes.
const (
	CancelRemoved   = "removed"
	CancelRequested = "cancelling"
	CancelFinished  = "finished"
	CancelNotFound  = "not-found"
)

// Cancel removes a waiting/delayed job outright or flags an active one for
// abort at its next progress checkpoint.
func (q *Queue) Cancel(ctx domain.Context, id string) (string, error) {
	res, err := cancelScript.Run(ctx, q.rdb,
		[]string{waitKey(q.cfg.Name), delayedKey(q.cfg.Name), activeKey(q.cfg.Name), jobKey(q.cfg.Name, id)},
		id,
	).Text()
	if err != nil {
		return "", wrapTransport("queue.Cancel", err)
	}
	return res, nil
}

// Clean removes jobs in the given state older than grace, retaining at most
// keep entries. Returns the number removed.
func (q *Queue) Clean(ctx domain.Context, grace time.Duration, keep int, status domain.JobStatus) (int, error) {
	zk := stateKey(q.cfg.Name, status)
	if zk == "" {
		return 0, fmt.Errorf("op=queue.Clean: %w: state %q", domain.ErrInvalidArgument, status)
	}
	scoreIsTime := "0"
	if status == domain.JobCompleted || status == domain.JobFailed {
		scoreIsTime = "1"
	}
	res, err := cleanScript.Run(ctx, q.rdb,
		[]string{zk},
		q.nowMs()-grace.Milliseconds(), keep, jobKeyPrefix(q.cfg.Name), scoreIsTime,
	).Int()
	if err != nil {
		return 0, wrapTransport("queue.Clean", err)
	}
	return res, nil
}

// Jobs lists jobs in one state with offset/limit. Terminal states list newest
// first; waiting lists in dispatch order.
func (q *Queue) Jobs(ctx domain.Context, status domain.JobStatus, offset, limit int64) ([]*domain.Job, error) {
	zk := stateKey(q.cfg.Name, status)
	if zk == "" {
		return nil, fmt.Errorf("op=queue.Jobs: %w: state %q", domain.ErrInvalidArgument, status)
	}
	if limit <= 0 {
		limit = 50
	}
	var ids []string
	var err error
	if status.Terminal() {
		ids, err = q.rdb.ZRevRange(ctx, zk, offset, offset+limit-1).Result()
	} else {
		ids, err = q.rdb.ZRange(ctx, zk, offset, offset+limit-1).Result()
	}
	if err != nil {
		return nil, wrapTransport("queue.Jobs", err)
	}
	out := make([]*domain.Job, 0, len(ids))
	for _, id := range ids {
		job, err := q.GetJob(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, nil
}

// Counts returns the per-state backlog sizes.
func (q *Queue) Counts(ctx domain.Context) (map[domain.JobStatus]int64, error) {
	out := map[domain.JobStatus]int64{}
	for _, st := range []domain.JobStatus{domain.JobWaiting, domain.JobActive, domain.JobDelayed, domain.JobCompleted, domain.JobFailed} {
		n, err := q.rdb.ZCard(ctx, stateKey(q.cfg.Name, st)).Result()
		if err != nil {
			return nil, wrapTransport("queue.Counts", err)
		}
		out[st] = n
	}
	return out, nil
}

// IsPaused reports whether dispatch from this queue is paused.
func (q *Queue) IsPaused(ctx domain.Context) (bool, error) {
	n, err := q.rdb.Exists(ctx, pausedKey(q.cfg.Name)).Result()
	if err != nil {
		return false, wrapTransport("queue.IsPaused", err)
	}
	return n == 1, nil
}

// Pause stops workers from reserving new jobs; active jobs run to completion.
func (q *Queue) Pause(ctx domain.Context) error {
	return wrapTransport("queue.Pause", q.rdb.Set(ctx, pausedKey(q.cfg.Name), "1", 0).Err())
}

// Resume re-enables dispatch.
func (q *Queue) Resume(ctx domain.Context) error {
	return wrapTransport("queue.Resume", q.rdb.Del(ctx, pausedKey(q.cfg.Name)).Err())
}

// Stats is the per-queue snapshot surfaced over the API.
type Stats struct {
	Queue     domain.QueueName `json:"queue"`
	Waiting   int64            `json:"waiting"`
	Active    int64            `json:"active"`
	Delayed   int64            `json:"delayed"`
	Completed int64            `json:"completed"`
	Failed    int64            `json:"failed"`
	Paused    bool             `json:"paused"`
}

// GetStats returns the queue's backlog counts and paused flag.
func (q *Queue) GetStats(ctx domain.Context) (Stats, error) {
	counts, err := q.Counts(ctx)
	if err != nil {
		return Stats{}, err
	}
	paused, err := q.IsPaused(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Queue:     q.cfg.Name,
		Waiting:   counts[domain.JobWaiting],
		Active:    counts[domain.JobActive],
		Delayed:   counts[domain.JobDelayed],
		Completed: counts[domain.JobCompleted],
		Failed:    counts[domain.JobFailed],
		Paused:    paused,
	}, nil
}

func (q *Queue) jobFromFields(fields map[string]string) *domain.Job {
	job := &domain.Job{
		ID:            fields["id"],
		Queue:         q.cfg.Name,
		Kind:          domain.JobKind(fields["kind"]),
		Payload:       json.RawMessage(fields["payload"]),
		Priority:      domain.Priority(atoi(fields["priority"])),
		Status:        domain.JobStatus(fields["status"]),
		AttemptsMade:  int(atoi(fields["attemptsMade"])),
		MaxAttempts:   int(atoi(fields["maxAttempts"])),
		StalledCount:  int(atoi(fields["stalledCount"])),
		TimeoutMs:     atoi(fields["timeoutMs"]),
		EnqueuedAtMs:  atoi(fields["createdAt"]),
		ProcessedOnMs: atoi(fields["processedOn"]),
		FinishedOnMs:  atoi(fields["finishedOn"]),
		FailedReason:  fields["failedReason"],
		Cancelled:     fields["cancelRequested"] == "1",
	}
	if v := fields["returnvalue"]; v != "" {
		job.ReturnValue = json.RawMessage(v)
	}
	if v := fields["progress"]; v != "" {
		job.Progress = json.RawMessage(v)
	}
	return job
}

func atoi(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func toStr(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return fmt.Sprintf("%v", t)
	}
}
