// Package testhelpers provides common utilities for integration testing the
// Parley chat relay.
//
// It wires a complete relay instance over an in-memory database and exposes
// helpers for the REST account flow plus a WebSocket client that understands
// the relay's JSON envelopes, including frames that batch several
// newline-separated envelopes.
package testhelpers

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parley-chat/parley/internal/auth"
	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/internal/server"
	"github.com/parley-chat/parley/internal/store"
)

// DefaultOrigin is an origin the default configuration allows.
const DefaultOrigin = "http://localhost:8080"

// RecvTimeout bounds how long helpers wait for an expected envelope.
const RecvTimeout = 2 * time.Second

// Env is a running relay instance for one test: HTTP server, hub, and an
// in-memory database that vanishes with the test.
type Env struct {
	T    *testing.T
	HTTP *httptest.Server
	Hub  *server.Hub
	Cfg  config.Config
}

// NewEnv wires a complete relay and starts it on an ephemeral port. Rate
// limits are relaxed so bursty test traffic is never dropped. Cleanup closes
// the HTTP server and shuts the hub down.
func NewEnv(t *testing.T) *Env {
	t.Helper()

	cfg := config.Default()
	cfg.TokenSecret = "integration-test-secret"
	cfg.RateLimit = config.RateLimitConfig{MessagesPerSecond: 1000, Burst: 1000}

	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	messages := store.NewMessageStore(db)
	users := store.NewUserDirectory(db)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := server.NewHub(server.HubConfig{
		Messages:         messages,
		RoomHistoryLimit: cfg.RoomHistoryLimit,
		Logger:           logger,
	})
	go hub.Run()

	srv := server.New(server.Config{
		Hub:      hub,
		Users:    users,
		Messages: messages,
		Hasher:   auth.NewPasswordHasher(),
		Tokens:   auth.NewTokenManager(cfg.TokenSecret, cfg.TokenTTL),
		Logger:   logger,
		Runtime:  cfg,
	})

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		ts.Close()
		if err := hub.Shutdown(5 * time.Second); err != nil {
			t.Errorf("hub shutdown: %v", err)
		}
	})

	return &Env{T: t, HTTP: ts, Hub: hub, Cfg: cfg}
}

// DoJSON sends a JSON request to the relay. An empty token skips the
// Authorization header. The caller owns the response body.
func (e *Env) DoJSON(method, path string, body any, token string) *http.Response {
	e.T.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			e.T.Fatalf("marshaling request body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, e.HTTP.URL+path, reader)
	if err != nil {
		e.T.Fatalf("creating request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		e.T.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

// DecodeBody decodes the response body into out and closes it.
func (e *Env) DecodeBody(resp *http.Response, out any) {
	e.T.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		e.T.Fatalf("decoding response body: %v", err)
	}
}

// Register creates an account and fails the test on any non-201 response.
func (e *Env) Register(username, password string) {
	e.T.Helper()
	resp := e.DoJSON(http.MethodPost, "/register", map[string]string{
		"username": username,
		"password": password,
	}, "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		e.T.Fatalf("registering %s: got status %d", username, resp.StatusCode)
	}
}

// Login exchanges credentials for a session token.
func (e *Env) Login(username, password string) string {
	e.T.Helper()
	resp := e.DoJSON(http.MethodPost, "/login", map[string]string{
		"username": username,
		"password": password,
	}, "")
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		e.T.Fatalf("logging in %s: got status %d", username, resp.StatusCode)
	}
	var body struct {
		Token string `json:"token"`
	}
	e.DecodeBody(resp, &body)
	if body.Token == "" {
		e.T.Fatalf("login response for %s carried no token", username)
	}
	return body.Token
}

// RegisterAndLogin creates an account with a derived password and returns a
// session token for it.
func (e *Env) RegisterAndLogin(username string) string {
	e.T.Helper()
	e.Register(username, "pw-"+username)
	return e.Login(username, "pw-"+username)
}

// CreateRoom creates a room and returns its code.
func (e *Env) CreateRoom(token string) string {
	e.T.Helper()
	resp := e.DoJSON(http.MethodPost, "/rooms", nil, token)
	if resp.StatusCode != http.StatusCreated {
		resp.Body.Close()
		e.T.Fatalf("creating room: got status %d", resp.StatusCode)
	}
	var body struct {
		Code string `json:"code"`
	}
	e.DecodeBody(resp, &body)
	if body.Code == "" {
		e.T.Fatal("room creation response carried no code")
	}
	return body.Code
}

// WSURL converts the test server's base URL into a WebSocket URL for path,
// appending query as-is when non-empty.
func (e *Env) WSURL(path, query string) string {
	u := "ws" + strings.TrimPrefix(e.HTTP.URL, "http") + path
	if query != "" {
		u += "?" + query
	}
	return u
}

// DialWS opens a raw WebSocket connection with the given origin. It returns
// the handshake response so callers can assert on rejected upgrades.
func DialWS(wsURL, origin string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}
	return dialer.Dial(wsURL, headers)
}

// DialRoom opens a room-mode session, failing the test if the handshake is
// rejected.
func (e *Env) DialRoom(token, code string) *WSClient {
	e.T.Helper()
	query := url.Values{"token": {token}, "code": {code}}.Encode()
	conn, resp, err := DialWS(e.WSURL("/ws/room", query), DefaultOrigin)
	if resp != nil {
		resp.Body.Close()
	}
	if err != nil {
		e.T.Fatalf("dialing room socket: %v", err)
	}
	client := &WSClient{T: e.T, Conn: conn}
	e.T.Cleanup(client.Close)
	return client
}

// DialDirect opens a direct-mode session, failing the test if the handshake
// is rejected.
func (e *Env) DialDirect(token string) *WSClient {
	e.T.Helper()
	query := url.Values{"token": {token}}.Encode()
	conn, resp, err := DialWS(e.WSURL("/ws/chat", query), DefaultOrigin)
	if resp != nil {
		resp.Body.Close()
	}
	if err != nil {
		e.T.Fatalf("dialing direct socket: %v", err)
	}
	client := &WSClient{T: e.T, Conn: conn}
	e.T.Cleanup(client.Close)
	return client
}

// WSClient wraps a WebSocket connection and splits batched frames into
// individual JSON envelopes.
type WSClient struct {
	T       *testing.T
	Conn    *websocket.Conn
	pending [][]byte
	closed  bool
}

// SendJSON writes one JSON payload to the relay.
func (c *WSClient) SendJSON(v any) {
	c.T.Helper()
	if err := c.Conn.WriteJSON(v); err != nil {
		c.T.Fatalf("writing JSON payload: %v", err)
	}
}

// nextRaw returns the next single envelope, reading a frame from the wire
// only when the pending queue is empty.
func (c *WSClient) nextRaw(timeout time.Duration) ([]byte, error) {
	if len(c.pending) > 0 {
		raw := c.pending[0]
		c.pending = c.pending[1:]
		return raw, nil
	}

	if err := c.Conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	_, data, err := c.Conn.ReadMessage()
	if err != nil {
		return nil, err
	}

	lines := bytes.Split(data, []byte{'\n'})
	c.pending = append(c.pending, lines[1:]...)
	return lines[0], nil
}

// Next returns the next envelope as a generic map, failing the test if none
// arrives within RecvTimeout.
func (c *WSClient) Next() map[string]any {
	c.T.Helper()
	raw, err := c.nextRaw(RecvTimeout)
	if err != nil {
		c.T.Fatalf("waiting for envelope: %v", err)
	}
	var envelope map[string]any
	if err := json.Unmarshal(raw, &envelope); err != nil {
		c.T.Fatalf("decoding envelope %q: %v", raw, err)
	}
	return envelope
}

// NextError reads one envelope and returns the transport error, for tests
// that expect the relay to close the connection.
func (c *WSClient) NextError(timeout time.Duration) error {
	c.T.Helper()
	_, err := c.nextRaw(timeout)
	return err
}

// ExpectRoomMessage asserts the next envelope is a room broadcast.
func (c *WSClient) ExpectRoomMessage(sender, content string) {
	c.T.Helper()
	envelope := c.Next()
	if envelope["sender"] != sender || envelope["content"] != content {
		c.T.Fatalf("expected room message %q from %s, got %v", content, sender, envelope)
	}
}

// ExpectPresence asserts the next envelope is a joined/left notice.
func (c *WSClient) ExpectPresence(username, event string) {
	c.T.Helper()
	envelope := c.Next()
	if envelope["username"] != username || envelope["event"] != event {
		c.T.Fatalf("expected presence %s/%s, got %v", username, event, envelope)
	}
}

// ExpectDirectMessage asserts the next envelope is a direct delivery.
func (c *WSClient) ExpectDirectMessage(from, message string) {
	c.T.Helper()
	envelope := c.Next()
	if envelope["from"] != from || envelope["message"] != message {
		c.T.Fatalf("expected direct message %q from %s, got %v", message, from, envelope)
	}
}

// NextRoomMessage drains envelopes until a room broadcast arrives, skipping
// presence notices. Useful when join ordering across clients is not fixed.
func (c *WSClient) NextRoomMessage() map[string]any {
	c.T.Helper()
	deadline := time.Now().Add(RecvTimeout)
	for time.Now().Before(deadline) {
		envelope := c.Next()
		if _, ok := envelope["content"]; ok {
			return envelope
		}
	}
	c.T.Fatal("no room message arrived before the deadline")
	return nil
}

// ExpectSilence asserts no envelope arrives within the window. The
// connection's read state is poisoned by the deadline, so this must be the
// last read on the client.
func (c *WSClient) ExpectSilence(window time.Duration) {
	c.T.Helper()
	raw, err := c.nextRaw(window)
	if err == nil {
		c.T.Fatalf("expected no traffic, got envelope %q", raw)
	}
	if ne, ok := err.(net.Error); !ok || !ne.Timeout() {
		c.T.Fatalf("expected read timeout, got %v", err)
	}
}

// Close sends a normal closure frame and closes the transport. Safe to call
// more than once.
func (c *WSClient) Close() {
	if c.closed {
		return
	}
	c.closed = true
	_ = c.Conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	_ = c.Conn.Close()
}

// AssertStatusCode checks the HTTP response status and closes the body.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != expected {
		t.Errorf("expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// AssertContentType checks the response Content-Type header.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	contentType := resp.Header.Get("Content-Type")
	if contentType != expected {
		t.Errorf("expected content type %s, got %s", expected, contentType)
	}
}

// WaitOnline polls until the hub reports username online, or fails after the
// deadline.
func (e *Env) WaitOnline(username string) {
	e.T.Helper()
	deadline := time.Now().Add(RecvTimeout)
	for time.Now().Before(deadline) {
		for _, online := range e.Hub.Online() {
			if online == username {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	e.T.Fatalf("user %s never came online (online: %v)", username, e.Hub.Online())
}
