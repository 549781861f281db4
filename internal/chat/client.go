package chat

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Must be less than pongWait.
	maxMessageSize = 64 << 10
	sendBuffer     = 256
)

// Client is a middleman between the websocket connection and a room.
type Client struct {
	conn   *websocket.Conn
	send   chan []byte
	logger *slog.Logger

	closeOnce sync.Once
	closing   chan struct{}
	closeMsg  []byte
}

func newClient(conn *websocket.Conn, logger *slog.Logger) *Client {
	return &Client{
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		logger:  logger,
		closing: make(chan struct{}),
	}
}

// Send queues one frame. A full buffer counts as a dead connection.
func (c *Client) Send(data []byte) bool {
	select {
	case <-c.closing:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Close asks the write pump to send a close frame and hang up.
func (c *Client) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeMsg = websocket.FormatCloseMessage(code, reason)
		close(c.closing)
	})
}

// readPump pumps frames from the websocket connection into the room.
func (c *Client) readPump(room *Room, sessionID string) {
	code, reason := websocket.CloseNormalClosure, "connection closed"
	defer func() {
		if err := room.Disconnect(context.Background(), sessionID, code, reason); err != nil && !errors.Is(err, ErrRoomClosed) {
			c.logger.Warn("disconnect failed", "error", err)
		}
		c.Close(code, reason)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("read failed", "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		err = room.HandleInbound(context.Background(), sessionID, message)
		switch {
		case err == nil:
		case errors.Is(err, ErrSessionNotFound):
			code, reason = websocket.CloseInternalServerErr, "session not found"
			return
		case errors.Is(err, ErrRoomClosed):
			code, reason = websocket.CloseGoingAway, "room closed"
			return
		default:
			c.logger.Error("inbound frame failed", "error", err)
		}
	}
}

// writePump pumps frames from the room to the websocket connection, one
// websocket message per frame.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-c.closing:
			// Flush what was queued before the close was requested.
			for n := len(c.send); n > 0; n-- {
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.conn.WriteMessage(websocket.TextMessage, <-c.send); err != nil {
					return
				}
			}
			_ = c.conn.WriteControl(websocket.CloseMessage, c.closeMsg, time.Now().Add(writeWait))
			return

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
