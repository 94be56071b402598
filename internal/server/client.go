// Package server manages individual WebSocket sessions, handling read/write
// pumps, rate limiting, and lifecycle control for each connection.
package server

import (
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// Mode selects how a bound session delivers messages.
type Mode string

const (
	// ModeRoom sessions broadcast to every member of their bound room.
	ModeRoom Mode = "room"
	// ModeDirect sessions send persisted one-to-one messages.
	ModeDirect Mode = "direct"
)

const (
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second
	pingInterval  = 54 * time.Second
	sendBuffer    = 256
)

// ClientConfig carries the identity binding and limits for a new session.
type ClientConfig struct {
	Username          string
	Room              string // empty in direct mode
	Mode              Mode
	Addr              string
	MaxMessageSize    int64
	MessagesPerSecond float64
	Burst             int
}

// Client is one live connection session: a WebSocket transport bound to an
// authenticated username and, in room mode, a room code. A session is either
// room-bound or peer-bound, never both. The zero state after the handshake
// is Bound; teardown through the hub moves it to Closed exactly once.
type Client struct {
	id             string
	conn           *websocket.Conn
	send           chan []byte
	hub            *Hub
	username       string
	room           string
	mode           Mode
	addr           string
	limiter        *rate.Limiter
	maxMessageSize int64
	closed         bool // guarded by hub.mutex
}

// NewClient creates a session for an upgraded connection. The send channel
// is buffered so the hub can push without blocking on slow peers.
func NewClient(conn *websocket.Conn, hub *Hub, cfg ClientConfig) *Client {
	if conn != nil && cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	rps := cfg.MessagesPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 10
	}

	return &Client{
		id:             uuid.NewString(),
		conn:           conn,
		send:           make(chan []byte, sendBuffer),
		hub:            hub,
		username:       cfg.Username,
		room:           cfg.Room,
		mode:           cfg.Mode,
		addr:           cfg.Addr,
		limiter:        rate.NewLimiter(rate.Limit(rps), burst),
		maxMessageSize: cfg.MaxMessageSize,
	}
}

// Username returns the identity bound to this session.
func (c *Client) Username() string {
	return c.username
}

// Room returns the bound room code, or "" for direct-mode sessions.
func (c *Client) Room() string {
	return c.room
}

// GetSendChan returns the client's send channel for reading outgoing messages.
// This channel is read-only from the caller's perspective.
func (c *Client) GetSendChan() <-chan []byte {
	return c.send
}

// setupReadConnection configures read deadlines and pong handler for the connection.
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
		slog.Warn("setting initial read deadline failed", "addr", c.addr, "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	})
}

// handleReadError logs the read failure at a level matching its cause.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		slog.Warn("message exceeded maximum size", "addr", c.addr, "max_bytes", c.maxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		slog.Debug("client disconnected", "addr", c.addr, "user", c.username)
	case errors.Is(err, io.EOF), isExpectedCloseError(err):
		slog.Debug("connection closed", "addr", c.addr, "user", c.username)
	default:
		slog.Warn("websocket read error", "addr", c.addr, "user", c.username, "error", err)
	}
}

// readPump consumes inbound frames until the transport dies, handing each
// payload to the hub's delivery engine. Closing the transport unblocks the
// pending read immediately, so teardown is always reached.
func (c *Client) readPump() {
	defer func() {
		// During hub shutdown the run loop is gone; don't block on it.
		select {
		case c.hub.unregister <- c:
		case <-c.hub.ctx.Done():
		}
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			slog.Warn("closing connection in read pump failed", "addr", c.addr, "error", err)
		}
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			break
		}

		if !c.limiter.Allow() {
			slog.Debug("rate limit exceeded; discarding message", "addr", c.addr, "user", c.username)
			continue
		}

		// Delivery runs on this goroutine so one sender's messages are
		// persisted and delivered in the order received.
		c.hub.dispatch(c, raw)
	}
}

// writePump drains the send channel onto the transport and keeps the
// connection alive with periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			slog.Warn("closing connection in write pump failed", "addr", c.addr, "error", err)
		}
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
				return
			}
			if !ok {
				// Hub closed the channel: the session was torn down.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if !c.writeMessage(message) {
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// writeMessage writes one frame, folding in any queued messages to reduce
// syscalls under bursty load.
func (c *Client) writeMessage(message []byte) bool {
	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return false
	}
	if _, err := w.Write(message); err != nil {
		return false
	}

	queued := len(c.send)
	for i := 0; i < queued; i++ {
		if _, err := w.Write([]byte{'\n'}); err != nil {
			return false
		}
		if _, err := w.Write(<-c.send); err != nil {
			return false
		}
	}

	if err := w.Close(); err != nil {
		slog.Warn("closing frame writer failed", "addr", c.addr, "error", err)
		return false
	}
	return true
}
