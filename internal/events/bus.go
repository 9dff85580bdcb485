// Package events is the progress bus: workers publish per-job lifecycle
// events onto Redis pub/sub channels and the realtime gateway fans them out
// to subscribed clients. One channel per event type, job ordering preserved
// by the single consumer goroutine.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/walletpulse/walletpulse/internal/domain"
)

// ChannelPrefix is the wire-stable topic prefix.
const ChannelPrefix = "job-events:"

// Channel returns the pub/sub channel for an event type.
func Channel(t domain.EventType) string { return ChannelPrefix + string(t) }

// Publisher writes events to the bus. It satisfies domain.ProgressSink.
type Publisher struct {
	rdb redis.UniversalClient
}

// NewPublisher constructs a bus publisher over the shared broker client.
func NewPublisher(rdb redis.UniversalClient) *Publisher {
	return &Publisher{rdb: rdb}
}

// Publish encodes the event and pushes it onto its type channel.
func (p *Publisher) Publish(ctx domain.Context, ev domain.Event) error {
	if ev.TimestampMs == 0 {
		ev.TimestampMs = time.Now().UnixMilli()
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("op=events.Publish: %w: %s", domain.ErrInvalidArgument, err)
	}
	if err := p.rdb.Publish(ctx, Channel(ev.Type), body).Err(); err != nil {
		return fmt.Errorf("op=events.Publish: %w: %s", domain.ErrUnavailable, err)
	}
	return nil
}

var _ domain.ProgressSink = (*Publisher)(nil)

// Subscriber consumes all job-events channels and hands decoded events to a
// single receiver goroutine.
type Subscriber struct {
	rdb redis.UniversalClient
}

// NewSubscriber constructs a bus subscriber.
func NewSubscriber(rdb redis.UniversalClient) *Subscriber {
	return &Subscriber{rdb: rdb}
}

// Subscribe pattern-subscribes to job-events:* and streams decoded events on
// the returned channel until ctx is done. Malformed payloads are logged and
// dropped; delivery is best-effort.
func (s *Subscriber) Subscribe(ctx context.Context) (<-chan domain.Event, error) {
	ps := s.rdb.PSubscribe(ctx, ChannelPrefix+"*")
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("op=events.Subscribe: %w: %s", domain.ErrUnavailable, err)
	}

	out := make(chan domain.Event, 256)
	go func() {
		defer close(out)
		defer func() { _ = ps.Close() }()
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev domain.Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					slog.Warn("dropping malformed bus event", slog.Any("error", err))
					continue
				}
				if ev.Type == "" {
					ev.Type = domain.EventType(strings.TrimPrefix(msg.Channel, ChannelPrefix))
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
