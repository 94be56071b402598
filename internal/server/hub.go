// Package server coordinates session registration, presence, room
// membership, and connection cleanup for the chat relay via the Hub type.
package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/parley-chat/parley/internal/metrics"
	"github.com/parley-chat/parley/internal/store"
)

// HubConfig wires the hub's collaborators.
type HubConfig struct {
	Messages         *store.MessageStore
	RoomHistoryLimit int
	Logger           *slog.Logger
}

// Hub owns the presence and room registries and runs the session lifecycle.
// Register/unregister events flow through channels into the run loop, which
// is the only writer of the client set; message delivery runs on the sending
// session's goroutine so a slow persistence write never stalls the process.
type Hub struct {
	presence *PresenceRegistry
	rooms    *RoomRegistry
	messages *store.MessageStore
	logger   *slog.Logger

	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewHub creates a Hub ready to manage sessions. The message store may be
// nil only in tests that never exercise delivery persistence.
func NewHub(cfg HubConfig) *Hub {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		presence:   NewPresenceRegistry(),
		rooms:      NewRoomRegistry(cfg.RoomHistoryLimit),
		messages:   cfg.Messages,
		logger:     logger.With("component", "hub"),
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// GetRegisterChan returns the channel used for registering new sessions.
// This channel is write-only from the caller's perspective.
func (h *Hub) GetRegisterChan() chan<- *Client {
	return h.register
}

// GetUnregisterChan returns the channel used for unregistering sessions.
// This channel is write-only from the caller's perspective.
func (h *Hub) GetUnregisterChan() chan<- *Client {
	return h.unregister
}

// CreateRoom registers a fresh room and returns its code.
func (h *Hub) CreateRoom() string {
	return h.rooms.Create()
}

// RoomExists reports whether a room with the given code is live.
func (h *Hub) RoomExists(code string) bool {
	return h.rooms.Exists(code)
}

// Online returns the usernames with a live session, sorted.
func (h *Hub) Online() []string {
	return h.presence.ListOnline()
}

// safeSend pushes a payload to a client's send channel without blocking.
// It returns false when the client is gone, closed, or its buffer is full.
func (h *Hub) safeSend(client *Client, payload []byte) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if _, exists := h.clients[client]; !exists || client.closed {
		return false
	}

	select {
	case client.send <- payload:
		return true
	default:
		return false
	}
}

// Run starts the hub's main event loop, handling session registration and
// teardown. This method should be called in a separate goroutine as it runs
// until Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.logger.Warn("received nil client registration; skipping")
				continue
			}
			h.bind(client)

		case client := <-h.unregister:
			h.teardown(client)
		}
	}
}

// bind moves a session from Connecting to Bound: it joins the client set,
// registers presence (displacing any prior session for the username), and
// in room mode joins the room, replays buffered history, and announces the
// arrival. Pump goroutines are started last.
func (h *Hub) bind(client *Client) {
	h.mutex.Lock()
	client.closed = false
	h.clients[client] = true
	clientCount := len(h.clients)
	h.mutex.Unlock()

	if displaced := h.presence.SetOnline(client.username, client); displaced != nil {
		h.logger.Info("presence displaced by newer session",
			"user", client.username, "old_addr", displaced.addr, "new_addr", client.addr)
	}

	if client.mode == ModeRoom {
		if h.rooms.Join(client.room, client) {
			h.replayHistory(client)
			h.notifyRoom(client.room, client.username, presenceJoined, client)
		} else {
			// Room vanished between the existence check and the bind; the
			// session stays connected but its messages will be discarded.
			h.logger.Warn("bind raced room destruction", "user", client.username, "room", client.room)
		}
	}

	metrics.ConnectionsOpened.WithLabelValues(string(client.mode)).Inc()
	metrics.ConnectionsOpen.Inc()
	h.logger.Info("session bound",
		"user", client.username, "mode", client.mode, "room", client.room,
		"addr", client.addr, "total_clients", clientCount)

	if client.conn != nil {
		h.wg.Add(2)
		go func() {
			defer h.wg.Done()
			client.writePump()
		}()
		go func() {
			defer h.wg.Done()
			client.readPump()
		}()
	}
}

// teardown moves a session to Closed: presence entry removed, room
// membership decremented (destroying the room at zero), and remaining
// members notified. It is idempotent; only the invocation that finds the
// client still registered performs cleanup.
func (h *Hub) teardown(client *Client) {
	h.mutex.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mutex.Unlock()
		return
	}
	delete(h.clients, client)
	client.closed = true
	clientCount := len(h.clients)
	h.mutex.Unlock()

	// Close after releasing the lock; the write pump exits on the closed
	// channel and closes the transport, which unblocks the read pump.
	close(client.send)

	h.presence.SetOffline(client.username, client)

	if client.mode == ModeRoom {
		h.rooms.Leave(client.room, client)
		h.notifyRoom(client.room, client.username, presenceLeft, client)
	}

	metrics.ConnectionsOpen.Dec()
	h.logger.Info("session closed",
		"user", client.username, "mode", client.mode, "room", client.room,
		"addr", client.addr, "total_clients", clientCount)
}

// shutdownClients closes all active transports so their pumps drain.
func (h *Hub) shutdownClients() {
	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.Unlock()

	for _, client := range clients {
		if client.conn != nil {
			if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
				h.logger.Warn("closing client connection failed", "addr", client.addr, "error", err)
			}
		}
	}

	h.logger.Info("closed client connections", "count", len(clients))
}

// Shutdown initiates graceful shutdown of the hub and waits for all pump
// goroutines to complete, or until the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info("initiating hub shutdown")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.logger.Warn("hub shutdown timeout reached")
		return context.DeadlineExceeded
	}
}
