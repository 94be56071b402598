// Package server routes inbound message events: persistence first, then
// best-effort push to live recipients. This file is the delivery engine.
package server

import (
	"encoding/json"
	"fmt"

	"github.com/parley-chat/parley/internal/metrics"
)

// dispatch hands an inbound payload to the handler matching the session's
// bound mode. It runs on the sending session's read goroutine, which keeps
// one sender's messages ordered end to end.
func (h *Hub) dispatch(client *Client, raw []byte) {
	switch client.mode {
	case ModeRoom:
		h.handleRoomMessage(client, raw)
	case ModeDirect:
		h.handleDirectMessage(client, raw)
	default:
		h.logger.Warn("dispatch on unbound session", "addr", client.addr)
	}
}

// handleRoomMessage buffers, persists, and broadcasts a room-mode payload.
// Persistence of room traffic is best-effort: a store failure is logged but
// does not stop the broadcast.
func (h *Hub) handleRoomMessage(client *Client, raw []byte) {
	var in RoomInbound
	if err := json.Unmarshal(raw, &in); err != nil {
		h.logger.Debug("discarding malformed room payload", "user", client.username, "error", err)
		return
	}
	if in.Content == "" {
		return
	}

	// The session may be stale: its room can vanish while it lingers.
	if !h.rooms.Exists(client.room) {
		h.logger.Debug("discarding message for vanished room", "user", client.username, "room", client.room)
		return
	}

	envelope := RoomMessage{Sender: client.username, Content: in.Content}
	h.rooms.Append(client.room, envelope)

	if h.messages != nil {
		if _, err := h.messages.Insert(client.username, client.room, in.Content); err != nil {
			h.logger.Error("persisting room message failed", "user", client.username, "room", client.room, "error", err)
		} else {
			metrics.MessagesPersisted.Inc()
		}
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		h.logger.Error("marshaling room envelope failed", "error", err)
		return
	}
	h.broadcastToRoom(client.room, payload, nil)
}

// handleDirectMessage persists a direct message and pushes it to the
// recipient's live session when one exists. Persistence is the source of
// truth: a store failure aborts the attempt, while a transport failure
// never rolls back the stored record.
func (h *Hub) handleDirectMessage(client *Client, raw []byte) {
	var in DirectInbound
	if err := json.Unmarshal(raw, &in); err != nil {
		h.logger.Debug("discarding malformed direct payload", "user", client.username, "error", err)
		return
	}
	if client.username == "" || in.Recipient == "" || in.Content == "" {
		return
	}

	if h.messages == nil {
		h.logger.Error("direct message dropped: no message store configured")
		return
	}
	if _, err := h.messages.Insert(client.username, in.Recipient, in.Content); err != nil {
		h.logger.Error("persisting direct message failed",
			"sender", client.username, "recipient", in.Recipient, "error", err)
		return
	}
	metrics.MessagesPersisted.Inc()

	recipient, online := h.presence.Get(in.Recipient)
	if !online {
		h.sendSystemNotice(client, fmt.Sprintf("User %s is not online.", in.Recipient))
		return
	}

	payload, err := json.Marshal(DirectMessage{From: client.username, Message: in.Content})
	if err != nil {
		h.logger.Error("marshaling direct envelope failed", "error", err)
		return
	}
	if h.safeSend(recipient, payload) {
		metrics.MessagesDelivered.WithLabelValues(string(ModeDirect)).Inc()
	} else {
		metrics.DeliveryFailures.WithLabelValues(string(ModeDirect)).Inc()
		h.logger.Warn("direct delivery failed; message remains stored",
			"sender", client.username, "recipient", in.Recipient)
		h.teardown(recipient)
	}
}

// sendSystemNotice pushes a system envelope to a single session.
func (h *Hub) sendSystemNotice(client *Client, message string) {
	payload, err := json.Marshal(DirectMessage{From: systemSender, Message: message})
	if err != nil {
		return
	}
	h.safeSend(client, payload)
}

// notifyRoom broadcasts a joined/left presence notice to a room, excluding
// the session the notice is about.
func (h *Hub) notifyRoom(code, username, event string, exclude *Client) {
	payload, err := json.Marshal(PresenceNotice{Username: username, Event: event})
	if err != nil {
		return
	}
	h.broadcastToRoom(code, payload, exclude)
}

// replayHistory pushes the room's buffered messages to a newly joined
// session, oldest first.
func (h *Hub) replayHistory(client *Client) {
	for _, msg := range h.rooms.History(client.room) {
		payload, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		if !h.safeSend(client, payload) {
			return
		}
	}
}

// broadcastToRoom pushes a payload to a snapshot of the room's members.
// Members whose send buffers are full are torn down; their messages are
// lost but their registry state is cleaned up.
func (h *Hub) broadcastToRoom(code string, payload []byte, exclude *Client) {
	var failed []*Client
	for _, member := range h.rooms.Members(code) {
		if member == exclude {
			continue
		}
		if h.safeSend(member, payload) {
			metrics.MessagesDelivered.WithLabelValues(string(ModeRoom)).Inc()
		} else {
			failed = append(failed, member)
		}
	}

	for _, member := range failed {
		metrics.DeliveryFailures.WithLabelValues(string(ModeRoom)).Inc()
		h.logger.Warn("room delivery failed; removing session", "user", member.username, "room", code)
		h.teardown(member)
	}
}
