package integration

import (
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parley-chat/parley/test/testhelpers"
)

// TestRoomSocketRejectsBadToken checks that an invalid token never reaches
// the upgrade.
func TestRoomSocketRejectsBadToken(t *testing.T) {
	env := testhelpers.NewEnv(t)
	token := env.RegisterAndLogin("alice")
	code := env.CreateRoom(token)

	query := url.Values{"token": {"garbage"}, "code": {code}}.Encode()
	conn, resp, err := testhelpers.DialWS(env.WSURL("/ws/room", query), testhelpers.DefaultOrigin)
	if err == nil {
		conn.Close()
		t.Fatal("expected handshake to fail with a bad token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %v", resp)
	}
	resp.Body.Close()
}

// TestRoomSocketRejectsUnknownRoom checks that a dead room code is rejected
// before the upgrade.
func TestRoomSocketRejectsUnknownRoom(t *testing.T) {
	env := testhelpers.NewEnv(t)
	token := env.RegisterAndLogin("alice")

	query := url.Values{"token": {token}, "code": {"ZZZZ"}}.Encode()
	conn, resp, err := testhelpers.DialWS(env.WSURL("/ws/room", query), testhelpers.DefaultOrigin)
	if err == nil {
		conn.Close()
		t.Fatal("expected handshake to fail for an unknown room")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected status 404, got %v", resp)
	}
	resp.Body.Close()
}

// TestDirectSocketClosesUnauthenticated checks that an unidentified direct
// session is upgraded and then closed with a policy violation, so the peer
// can tell rejection from a transport failure.
func TestDirectSocketClosesUnauthenticated(t *testing.T) {
	env := testhelpers.NewEnv(t)

	conn, resp, err := testhelpers.DialWS(env.WSURL("/ws/chat", ""), testhelpers.DefaultOrigin)
	if resp != nil {
		resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("expected the upgrade to succeed, got %v", err)
	}
	defer conn.Close()

	if err := conn.SetReadDeadline(time.Now().Add(testhelpers.RecvTimeout)); err != nil {
		t.Fatalf("setting read deadline: %v", err)
	}
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected close code %d, got %v", websocket.ClosePolicyViolation, err)
	}
}

// TestDisallowedOriginRejected checks the upgrade is refused for an origin
// outside the allowlist.
func TestDisallowedOriginRejected(t *testing.T) {
	env := testhelpers.NewEnv(t)
	token := env.RegisterAndLogin("alice")
	code := env.CreateRoom(token)

	query := url.Values{"token": {token}, "code": {code}}.Encode()
	conn, resp, err := testhelpers.DialWS(env.WSURL("/ws/room", query), "http://evil.example")
	if err == nil {
		conn.Close()
		t.Fatal("expected handshake to fail for a disallowed origin")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected status 403, got %v", resp)
	}
	resp.Body.Close()
}

// TestOversizedMessageDisconnects sends a payload past the read limit and
// expects the relay to drop the session.
func TestOversizedMessageDisconnects(t *testing.T) {
	env := testhelpers.NewEnv(t)
	token := env.RegisterAndLogin("alice")
	code := env.CreateRoom(token)

	alice := env.DialRoom(token, code)
	env.WaitOnline("alice")

	oversized := strings.Repeat("x", int(env.Cfg.MaxMessageSize)+1)
	alice.SendJSON(map[string]string{"content": oversized})

	if err := alice.NextError(testhelpers.RecvTimeout); err == nil {
		t.Fatal("expected the relay to close the connection")
	}
}

// TestAuthenticatedEndpointsRejectMissingToken sweeps the protected REST
// surface without credentials.
func TestAuthenticatedEndpointsRejectMissingToken(t *testing.T) {
	env := testhelpers.NewEnv(t)

	endpoints := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/rooms"},
		{http.MethodGet, "/rooms/ABCD"},
		{http.MethodGet, "/users"},
		{http.MethodGet, "/online"},
		{http.MethodGet, "/messages/alice/bob"},
	}
	for _, ep := range endpoints {
		resp := env.DoJSON(ep.method, ep.path, nil, "")
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s %s: expected 401, got %d", ep.method, ep.path, resp.StatusCode)
		}
		resp.Body.Close()
	}
}
