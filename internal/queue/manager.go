package queue

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"github.com/walletpulse/walletpulse/internal/domain"
)

// Manager owns the four queue handles over one shared broker client.
type Manager struct {
	rdb    redis.UniversalClient
	queues map[domain.QueueName]*Queue
}

// NewManager builds queue handles for every configured queue.
func NewManager(rdb redis.UniversalClient, cfgs map[domain.QueueName]Config) *Manager {
	m := &Manager{rdb: rdb, queues: make(map[domain.QueueName]*Queue, len(cfgs))}
	for name, cfg := range cfgs {
		m.queues[name] = New(rdb, cfg)
	}
	return m
}

// Queue returns the handle for name; domain.ErrNotFound for unknown names.
func (m *Manager) Queue(name domain.QueueName) (*Queue, error) {
	q, ok := m.queues[name]
	if !ok {
		return nil, fmt.Errorf("op=queue.Manager.Queue: %w: queue %q", domain.ErrNotFound, name)
	}
	return q, nil
}

// All returns every queue in the stable domain order.
func (m *Manager) All() []*Queue {
	out := make([]*Queue, 0, len(m.queues))
	for _, name := range domain.AllQueues() {
		if q, ok := m.queues[name]; ok {
			out = append(out, q)
		}
	}
	return out
}

// FindJob looks a job id up across all queues. A broker fault surfaces as
// the transport error, never as not-found.
func (m *Manager) FindJob(ctx domain.Context, id string) (*domain.Job, error) {
	for _, q := range m.All() {
		job, err := q.GetJob(ctx, id)
		if err == nil {
			return job, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("op=queue.Manager.FindJob: %w", err)
		}
	}
	return nil, fmt.Errorf("op=queue.Manager.FindJob: %w: job %s", domain.ErrNotFound, id)
}

// WaitReady pings the broker with exponential backoff until it answers or the
// context is cancelled. Boot-time gate: the orphan sweep and the workers only
// start after connectivity is established.
func WaitReady(ctx domain.Context, rdb redis.UniversalClient) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = time.Minute
	err := backoff.Retry(func() error {
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Warn("broker not ready", slog.Any("error", err))
			return err
		}
		return nil
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		return fmt.Errorf("op=queue.WaitReady: %w: %s", domain.ErrUnavailable, err)
	}
	return nil
}
