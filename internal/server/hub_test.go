package server

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/parley-chat/parley/internal/store"
)

func newTestHub(t *testing.T, withStore bool) *Hub {
	t.Helper()

	var messages *store.MessageStore
	if withStore {
		db, err := store.Open(":memory:")
		if err != nil {
			t.Fatalf("opening test database: %v", err)
		}
		messages = store.NewMessageStore(db)
	}

	hub := NewHub(HubConfig{Messages: messages, RoomHistoryLimit: 10})
	go hub.Run()
	t.Cleanup(func() {
		if err := hub.Shutdown(time.Second); err != nil {
			t.Logf("hub shutdown: %v", err)
		}
	})
	return hub
}

// testClient builds a session without a transport; the hub skips the pump
// goroutines, so envelopes accumulate on the send channel for inspection.
func testClient(hub *Hub, username, room string, mode Mode) *Client {
	return NewClient(nil, hub, ClientConfig{
		Username:          username,
		Room:              room,
		Mode:              mode,
		Addr:              "test:" + username,
		MessagesPerSecond: 1000,
		Burst:             1000,
	})
}

func registerAndWait(t *testing.T, hub *Hub, c *Client) {
	t.Helper()
	hub.register <- c
	waitFor(t, func() bool {
		hub.mutex.RLock()
		defer hub.mutex.RUnlock()
		return hub.clients[c]
	})
}

func unregisterAndWait(t *testing.T, hub *Hub, c *Client) {
	t.Helper()
	hub.unregister <- c
	waitFor(t, func() bool {
		hub.mutex.RLock()
		defer hub.mutex.RUnlock()
		return !hub.clients[c]
	})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func recv(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case payload := <-c.send:
		return payload
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for envelope")
		return nil
	}
}

func recvJSON(t *testing.T, c *Client, into any) {
	t.Helper()
	if err := json.Unmarshal(recv(t, c), into); err != nil {
		t.Fatalf("unmarshaling envelope: %v", err)
	}
}

func assertNoEnvelope(t *testing.T, c *Client) {
	t.Helper()
	select {
	case payload := <-c.send:
		t.Fatalf("unexpected envelope: %s", payload)
	case <-time.After(50 * time.Millisecond):
	}
}

// TestRoomScenario walks the full room lifecycle: create, two joins, a
// broadcast both members receive, and teardown destroying the room only
// after the last member disconnects.
func TestRoomScenario(t *testing.T) {
	hub := newTestHub(t, false)
	code := hub.CreateRoom()

	alice := testClient(hub, "alice", code, ModeRoom)
	registerAndWait(t, hub, alice)

	bob := testClient(hub, "bob", code, ModeRoom)
	registerAndWait(t, hub, bob)

	// alice is notified about bob's arrival.
	var notice PresenceNotice
	recvJSON(t, alice, &notice)
	if notice.Username != "bob" || notice.Event != "joined" {
		t.Errorf("expected joined notice for bob, got %+v", notice)
	}

	hub.dispatch(alice, []byte(`{"content":"hi"}`))

	var got RoomMessage
	recvJSON(t, bob, &got)
	if got.Sender != "alice" || got.Content != "hi" {
		t.Errorf("bob received %+v, expected alice/hi", got)
	}
	// Broadcast includes the sender.
	recvJSON(t, alice, &got)
	if got.Sender != "alice" || got.Content != "hi" {
		t.Errorf("alice received %+v, expected alice/hi", got)
	}

	unregisterAndWait(t, hub, bob)
	if count := hub.rooms.Count(code); count != 1 {
		t.Errorf("expected member count 1 after bob left, got %d", count)
	}
	if !hub.RoomExists(code) {
		t.Error("room should persist while alice remains")
	}

	var left PresenceNotice
	recvJSON(t, alice, &left)
	if left.Username != "bob" || left.Event != "left" {
		t.Errorf("expected left notice for bob, got %+v", left)
	}

	unregisterAndWait(t, hub, alice)
	if hub.RoomExists(code) {
		t.Error("room should be destroyed after the last member disconnects")
	}
}

// TestRoomHistoryReplay verifies a newly joined session receives the room's
// buffered messages, oldest first.
func TestRoomHistoryReplay(t *testing.T) {
	hub := newTestHub(t, false)
	code := hub.CreateRoom()

	alice := testClient(hub, "alice", code, ModeRoom)
	registerAndWait(t, hub, alice)

	hub.dispatch(alice, []byte(`{"content":"first"}`))
	hub.dispatch(alice, []byte(`{"content":"second"}`))
	recv(t, alice) // own broadcasts
	recv(t, alice)

	late := testClient(hub, "carol", code, ModeRoom)
	registerAndWait(t, hub, late)

	var first, second RoomMessage
	recvJSON(t, late, &first)
	recvJSON(t, late, &second)
	if first.Content != "first" || second.Content != "second" {
		t.Errorf("replay out of order: %q then %q", first.Content, second.Content)
	}
}

// TestRoomMessageForVanishedRoom verifies a stale session's messages are
// silently discarded after its room is destroyed.
func TestRoomMessageForVanishedRoom(t *testing.T) {
	hub := newTestHub(t, false)
	code := hub.CreateRoom()

	alice := testClient(hub, "alice", code, ModeRoom)
	registerAndWait(t, hub, alice)

	// Destroy the room behind the session's back.
	hub.rooms.Leave(code, alice)
	hub.dispatch(alice, []byte(`{"content":"into the void"}`))

	assertNoEnvelope(t, alice)
}

// TestPresenceDisplacementThroughHub verifies connecting twice as the same
// username leaves exactly one presence entry pointing at the newer session,
// and the older session's teardown does not evict it.
func TestPresenceDisplacementThroughHub(t *testing.T) {
	hub := newTestHub(t, false)

	first := testClient(hub, "alice", "", ModeDirect)
	registerAndWait(t, hub, first)

	second := testClient(hub, "alice", "", ModeDirect)
	registerAndWait(t, hub, second)

	current, ok := hub.presence.Get("alice")
	if !ok || current != second {
		t.Fatal("expected the newer session to own the presence entry")
	}

	unregisterAndWait(t, hub, first)
	if _, ok := hub.presence.Get("alice"); !ok {
		t.Error("stale teardown evicted the newer session's presence entry")
	}

	unregisterAndWait(t, hub, second)
	if _, ok := hub.presence.Get("alice"); ok {
		t.Error("alice should be offline after her live session closed")
	}
}

// TestTeardownIdempotent verifies invoking the cleanup path twice leaves
// the same registry state as invoking it once.
func TestTeardownIdempotent(t *testing.T) {
	hub := newTestHub(t, false)
	code := hub.CreateRoom()

	alice := testClient(hub, "alice", code, ModeRoom)
	bob := testClient(hub, "bob", code, ModeRoom)
	registerAndWait(t, hub, alice)
	registerAndWait(t, hub, bob)

	unregisterAndWait(t, hub, bob)
	hub.teardown(bob) // second invocation must be a no-op

	if count := hub.rooms.Count(code); count != 1 {
		t.Errorf("expected member count 1 after double teardown, got %d", count)
	}
	if _, ok := hub.presence.Get("alice"); !ok {
		t.Error("alice's presence should be unaffected")
	}
}
