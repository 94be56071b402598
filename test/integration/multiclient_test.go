package integration

import (
	"fmt"
	"testing"

	"github.com/parley-chat/parley/test/testhelpers"
)

// TestManyClientsRoomBroadcast fills a room with several sessions and checks
// that one message reaches every member.
func TestManyClientsRoomBroadcast(t *testing.T) {
	env := testhelpers.NewEnv(t)

	const memberCount = 5

	ownerToken := env.RegisterAndLogin("user-0")
	code := env.CreateRoom(ownerToken)

	clients := make([]*testhelpers.WSClient, memberCount)
	clients[0] = env.DialRoom(ownerToken, code)
	env.WaitOnline("user-0")

	for i := 1; i < memberCount; i++ {
		name := fmt.Sprintf("user-%d", i)
		token := env.RegisterAndLogin(name)
		clients[i] = env.DialRoom(token, code)
		env.WaitOnline(name)
	}

	clients[0].SendJSON(map[string]string{"content": "hello everyone"})

	// Earlier joiners still have presence notices queued, so drain to the
	// broadcast instead of expecting it first.
	for i, client := range clients {
		envelope := client.NextRoomMessage()
		if envelope["sender"] != "user-0" || envelope["content"] != "hello everyone" {
			t.Errorf("client %d got unexpected envelope %v", i, envelope)
		}
	}
}

// TestConcurrentSendersInRoom has every member send one message and checks
// that each member collects the full set.
func TestConcurrentSendersInRoom(t *testing.T) {
	env := testhelpers.NewEnv(t)

	const memberCount = 3

	ownerToken := env.RegisterAndLogin("sender-0")
	code := env.CreateRoom(ownerToken)

	clients := make([]*testhelpers.WSClient, memberCount)
	clients[0] = env.DialRoom(ownerToken, code)
	env.WaitOnline("sender-0")

	for i := 1; i < memberCount; i++ {
		name := fmt.Sprintf("sender-%d", i)
		token := env.RegisterAndLogin(name)
		clients[i] = env.DialRoom(token, code)
		env.WaitOnline(name)
	}

	for i, client := range clients {
		client.SendJSON(map[string]string{"content": fmt.Sprintf("message-%d", i)})
	}

	for i, client := range clients {
		seen := make(map[string]bool)
		for len(seen) < memberCount {
			envelope := client.NextRoomMessage()
			content, _ := envelope["content"].(string)
			seen[content] = true
		}
		for j := 0; j < memberCount; j++ {
			want := fmt.Sprintf("message-%d", j)
			if !seen[want] {
				t.Errorf("client %d never received %q", i, want)
			}
		}
	}
}

// TestTwoRoomsAreIsolated confirms traffic never crosses room boundaries.
func TestTwoRoomsAreIsolated(t *testing.T) {
	env := testhelpers.NewEnv(t)

	aliceToken := env.RegisterAndLogin("alice")
	bobToken := env.RegisterAndLogin("bob")

	roomA := env.CreateRoom(aliceToken)
	roomB := env.CreateRoom(bobToken)

	alice := env.DialRoom(aliceToken, roomA)
	env.WaitOnline("alice")
	bob := env.DialRoom(bobToken, roomB)
	env.WaitOnline("bob")

	alice.SendJSON(map[string]string{"content": "room A only"})
	alice.ExpectRoomMessage("alice", "room A only")

	bob.ExpectSilence(testhelpers.RecvTimeout / 4)
}
