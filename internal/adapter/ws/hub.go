// Package ws is the realtime channel: a gorilla/websocket gateway that lets
// clients subscribe to per-job event streams fanned out from the progress
// bus. Delivery is best-effort; clients that cannot keep up are dropped.
package ws

import (
	"log/slog"
	"sync"

	"github.com/walletpulse/walletpulse/internal/adapter/observability"
	"github.com/walletpulse/walletpulse/internal/domain"
)

// Hub tracks connected clients and their per-job subscriptions.
type Hub struct {
	mu            sync.RWMutex
	clients       map[*Client]struct{}
	subscriptions map[string]map[*Client]struct{}
}

// NewHub constructs an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients:       make(map[*Client]struct{}),
		subscriptions: make(map[string]map[*Client]struct{}),
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	observability.WSConnections.Set(float64(n))
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		for jobID, subs := range h.subscriptions {
			delete(subs, c)
			if len(subs) == 0 {
				delete(h.subscriptions, jobID)
			}
		}
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	observability.WSConnections.Set(float64(n))
}

func (h *Hub) subscribe(c *Client, jobID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	subs, ok := h.subscriptions[jobID]
	if !ok {
		subs = make(map[*Client]struct{})
		h.subscriptions[jobID] = subs
	}
	subs[c] = struct{}{}
}

func (h *Hub) unsubscribe(c *Client, jobID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.subscriptions[jobID]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.subscriptions, jobID)
		}
	}
}

// Broadcast delivers one bus event to every client subscribed to its job.
// Slow clients (full send buffer) are disconnected rather than blocking the
// fanout.
//
// Send channels are closed only by unregister, under the write lock; every
// send happens under the read lock, so a concurrent disconnect cannot race
// the close.
func (h *Hub) Broadcast(ev domain.Event) {
	msg := serverMessage{
		Type:      "job-" + string(ev.Type),
		JobID:     ev.JobID,
		Queue:     string(ev.Queue),
		Data:      ev.Payload,
		Timestamp: ev.TimestampMs,
	}

	var slow []*Client
	h.mu.RLock()
	for c := range h.subscriptions[ev.JobID] {
		select {
		case c.send <- msg:
			observability.WSEventsDeliveredTotal.WithLabelValues(string(ev.Type)).Inc()
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		slog.Warn("dropping slow websocket client", slog.String("job_id", ev.JobID))
		h.unregister(c)
	}
}

// deliver pushes one frame to a single client, skipping it when it already
// disconnected.
func (h *Hub) deliver(c *Client, msg serverMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}
