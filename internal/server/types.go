// Package server defines the wire envelope types exchanged over WebSocket
// connections, plus helpers shared across client and hub logic.
package server

import "strings"

// RoomInbound is the client-to-server payload in room mode; sender and room
// are implicit from the bound session.
type RoomInbound struct {
	Content string `json:"content"`
}

// RoomMessage is the envelope broadcast to a room.
type RoomMessage struct {
	Sender  string `json:"sender"`
	Content string `json:"content"`
}

// PresenceNotice announces a member joining or leaving a room.
type PresenceNotice struct {
	Username string `json:"username"`
	Event    string `json:"event"`
}

// DirectInbound is the client-to-server payload in direct mode; the sender
// is always taken from the authenticated session, never from the payload.
type DirectInbound struct {
	Recipient string `json:"recipient"`
	Content   string `json:"content"`
}

// DirectMessage is the envelope delivered to a direct-message recipient, and
// also carries system notices (From is "system") back to the sender.
type DirectMessage struct {
	From    string `json:"from"`
	Message string `json:"message"`
}

const (
	presenceJoined = "joined"
	presenceLeft   = "left"
	systemSender   = "system"
)

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
