package web

import (
	"encoding/json"
	"time"

	"github.com/codefionn/intentest/internal/logger"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 8192
)

// Client represents a WebSocket client watching the feed
type Client struct {
	ID        string
	hub       *Hub
	conn      *websocket.Conn
	send      chan *WebMessage
	publisher *Publisher
}

// NewClient creates a new WebSocket client
func NewClient(hub *Hub, conn *websocket.Conn, publisher *Publisher) *Client {
	return &Client{
		ID:        uuid.NewString(),
		hub:       hub,
		conn:      conn,
		send:      make(chan *WebMessage, 256),
		publisher: publisher,
	}
}

// ReadPump reads client requests until the connection fails
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Error("web: read error from %s: %v", c.ID, err)
			}
			break
		}

		var msg WebMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			logger.Warn("web: failed to unmarshal message from %s: %v", c.ID, err)
			continue
		}
		c.handleMessage(&msg)
	}
}

// WritePump pumps messages from the hub to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteJSON(message); err != nil {
				logger.Debug("web: write to %s failed: %v", c.ID, err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage answers requests from the browser. The feed is read-only, so
// only state queries are understood.
func (c *Client) handleMessage(msg *WebMessage) {
	switch msg.Type {
	case MessageTypeGetState:
		for _, m := range c.publisher.Snapshot() {
			c.hub.SendTo(c, m)
		}
	case MessageTypePing:
		c.hub.SendTo(c, &WebMessage{Type: MessageTypePong, Timestamp: time.Now()})
	default:
		logger.Warn("web: unknown message type from %s: %s", c.ID, msg.Type)
	}
}
