package ws

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsReadBuffer   = 1024
	wsWriteBuffer  = 1024
	wsPingInterval = 30 * time.Second
	wsWriteTimeout = 5 * time.Second
	wsPongTimeout  = 60 * time.Second
	wsReadLimit    = 32 * 1024

	clientSendBuffer = 64
)

// clientMessage is what a connected client sends: a subscription change.
type clientMessage struct {
	Type  string `json:"type"`
	JobID string `json:"jobId"`
}

// serverMessage is one frame pushed to a client.
type serverMessage struct {
	Type      string         `json:"type"`
	JobID     string         `json:"jobId,omitempty"`
	Queue     string         `json:"queue,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp int64          `json:"timestamp,omitempty"`
}

// Client is one websocket connection with its outbound buffer.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan serverMessage
}

// readPump consumes subscription messages until the connection closes.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(wsReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("websocket read ended", slog.Any("error", err))
			}
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "subscribe-to-job":
			if msg.JobID != "" {
				c.hub.subscribe(c, msg.JobID)
			}
		case "unsubscribe-from-job":
			if msg.JobID != "" {
				c.hub.unsubscribe(c, msg.JobID)
			}
		}
	}
}

// writePump flushes the send buffer and keeps the connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
