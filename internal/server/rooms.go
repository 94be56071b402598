// Package server maintains transient rooms through the RoomRegistry: room
// codes, live membership, and a bounded in-memory history ring per room.
package server

import (
	"math/rand"
	"sync"
)

const (
	roomCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	roomCodeLength   = 4
)

// room is the registry's internal per-room state. A room with no members
// does not exist: Leave deletes it the instant the member set drains.
type room struct {
	members map[*Client]struct{}
	history *messageRing
}

// RoomRegistry maps room codes to live rooms. Join/leave sequences mutate
// membership atomically under one mutex so concurrent joins and leaves for
// the same code cannot lose updates or leak empty rooms.
type RoomRegistry struct {
	mu           sync.Mutex
	rooms        map[string]*room
	historyLimit int
}

// NewRoomRegistry creates an empty registry whose rooms keep at most
// historyLimit buffered messages each.
func NewRoomRegistry(historyLimit int) *RoomRegistry {
	if historyLimit <= 0 {
		historyLimit = 100
	}
	return &RoomRegistry{
		rooms:        make(map[string]*room),
		historyLimit: historyLimit,
	}
}

// Create generates a fresh unique room code, registers the room with no
// members and an empty history, and returns the code. Generation loops
// until an unused code is drawn rather than assuming first-try success.
func (r *RoomRegistry) Create() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var code string
	for {
		code = randomCode(roomCodeLength)
		if _, taken := r.rooms[code]; !taken {
			break
		}
	}
	r.rooms[code] = &room{
		members: make(map[*Client]struct{}),
		history: newMessageRing(r.historyLimit),
	}
	return code
}

// Exists reports whether a room with the given code is registered.
func (r *RoomRegistry) Exists(code string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.rooms[code]
	return ok
}

// Join adds client to the room's member set. It is a no-op returning false
// when the code is absent; callers check Exists first per the join protocol.
func (r *RoomRegistry) Join(code string, client *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[code]
	if !ok {
		return false
	}
	rm.members[client] = struct{}{}
	return true
}

// Leave removes client from the room's member set and destroys the room
// when the set drains. Safe to call after the room was already destroyed.
func (r *RoomRegistry) Leave(code string, client *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[code]
	if !ok {
		return
	}
	delete(rm.members, client)
	if len(rm.members) == 0 {
		delete(r.rooms, code)
	}
}

// Count returns the room's member count, or 0 when the room is absent.
func (r *RoomRegistry) Count(code string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[code]
	if !ok {
		return 0
	}
	return len(rm.members)
}

// Members returns a snapshot of the room's member sessions. Broadcasts use
// the snapshot, so a member joining mid-broadcast may or may not receive
// that specific message.
func (r *RoomRegistry) Members(code string) []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[code]
	if !ok {
		return nil
	}
	members := make([]*Client, 0, len(rm.members))
	for c := range rm.members {
		members = append(members, c)
	}
	return members
}

// Append pushes an envelope onto the room's history ring; the oldest entry
// is dropped once the ring is full. No-op when the room is absent.
func (r *RoomRegistry) Append(code string, msg RoomMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rm, ok := r.rooms[code]; ok {
		rm.history.push(msg)
	}
}

// History returns a copy of the room's buffered messages, oldest first.
func (r *RoomRegistry) History(code string) []RoomMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[code]
	if !ok {
		return nil
	}
	return rm.history.snapshot()
}

func randomCode(length int) string {
	buf := make([]byte, length)
	for i := range buf {
		buf[i] = roomCodeAlphabet[rand.Intn(len(roomCodeAlphabet))]
	}
	return string(buf)
}

// messageRing is a fixed-capacity ring buffer of room messages.
type messageRing struct {
	buf  []RoomMessage
	next int
	full bool
}

func newMessageRing(capacity int) *messageRing {
	return &messageRing{buf: make([]RoomMessage, capacity)}
}

func (r *messageRing) push(msg RoomMessage) {
	r.buf[r.next] = msg
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 && !r.full {
		r.full = true
	}
}

func (r *messageRing) snapshot() []RoomMessage {
	if !r.full {
		out := make([]RoomMessage, r.next)
		copy(out, r.buf[:r.next])
		return out
	}
	out := make([]RoomMessage, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	out = append(out, r.buf[:r.next]...)
	return out
}
