package ws

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/walletpulse/walletpulse/internal/domain"
)

// Handler upgrades requests to websocket connections bound to the hub.
//
// allowedOrigin is the frontend URL from config; "*" accepts any origin.
// Requests without an Origin header are accepted: the origin check protects
// against browser-based attacks and browsers always send Origin.
func Handler(hub *Hub, allowedOrigin string) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  wsReadBuffer,
		WriteBufferSize: wsWriteBuffer,
		CheckOrigin:     originValidator(allowedOrigin),
	}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Debug("websocket upgrade failed", slog.Any("error", err))
			return
		}
		client := &Client{hub: hub, conn: conn, send: make(chan serverMessage, clientSendBuffer)}
		hub.register(client)
		go client.writePump()
		go client.readPump()
		hub.deliver(client, serverMessage{Type: "connected"})
	}
}

func originValidator(allowedOrigin string) func(*http.Request) bool {
	allowed := strings.ToLower(strings.TrimSuffix(allowedOrigin, "/"))
	return func(r *http.Request) bool {
		if allowed == "*" {
			return true
		}
		if _, ok := r.Header["Origin"]; !ok {
			return true
		}
		origin := strings.ToLower(strings.TrimSuffix(r.Header.Get("Origin"), "/"))
		if origin == allowed {
			return true
		}
		slog.Warn("rejected websocket connection", slog.String("origin", origin))
		return false
	}
}

// Bridge pumps progress-bus events into the hub. A single consumer goroutine
// keeps per-job delivery order intact.
type Bridge struct {
	hub    *Hub
	events <-chan domain.Event
}

// NewBridge wires a subscribed event stream to the hub.
func NewBridge(hub *Hub, events <-chan domain.Event) *Bridge {
	return &Bridge{hub: hub, events: events}
}

// Run consumes events until the stream closes or ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-b.events:
			if !ok {
				return
			}
			b.hub.Broadcast(ev)
		}
	}
}
