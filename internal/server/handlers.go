// Package server exposes the HTTP surface: WebSocket upgrades for both
// delivery modes and the JSON API for accounts, rooms, and history.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/parley-chat/parley/internal/auth"
	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/internal/store"
)

const maxBodyBytes = 1 << 20

// Config wires required dependencies for the HTTP server.
type Config struct {
	Hub      *Hub
	Users    *store.UserDirectory
	Messages *store.MessageStore
	Hasher   *auth.PasswordHasher
	Tokens   *auth.TokenManager
	Logger   *slog.Logger
	Runtime  config.Config
}

// Server exposes the chat relay's HTTP and WebSocket endpoints.
type Server struct {
	hub      *Hub
	users    *store.UserDirectory
	messages *store.MessageStore
	hasher   *auth.PasswordHasher
	tokens   *auth.TokenManager
	logger   *slog.Logger
	runtime  config.Config
	upgrader websocket.Upgrader
	router   *mux.Router
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	origins := newOriginPolicy(cfg.Runtime.AllowedOrigins)
	s := &Server{
		hub:      cfg.Hub,
		users:    cfg.Users,
		messages: cfg.Messages,
		hasher:   cfg.Hasher,
		tokens:   cfg.Tokens,
		logger:   logger.With("component", "http"),
		runtime:  cfg.Runtime,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.allow,
		},
	}
	s.router = s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return s.router
}

// HealthHandler responds with a plain text liveness message.
func (s *Server) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = io.WriteString(w, "Parley chat relay is running!")
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not process credentials")
		return
	}
	if err := s.users.Register(req.Username, hash); err != nil {
		if errors.Is(err, store.ErrUserExists) {
			writeError(w, http.StatusConflict, "username already exists")
			return
		}
		s.logger.Error("registering user failed", "user", req.Username, "error", err)
		writeError(w, http.StatusInternalServerError, "could not register user")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"username": req.Username})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	user, err := s.users.FindByUsername(req.Username)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			writeError(w, http.StatusUnauthorized, "invalid username or password")
			return
		}
		s.logger.Error("looking up user failed", "user", req.Username, "error", err)
		writeError(w, http.StatusInternalServerError, "could not verify credentials")
		return
	}
	if user.PasswordHash == "" || !s.hasher.Verify(req.Password, user.PasswordHash) {
		writeError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}

	token, err := s.tokens.Issue(user.Username)
	if err != nil {
		s.logger.Error("issuing token failed", "user", req.Username, "error", err)
		writeError(w, http.StatusInternalServerError, "could not issue token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

type userHandler func(http.ResponseWriter, *http.Request, string)

// withUser resolves the caller's identity from the request token and rejects
// unauthenticated requests.
func (s *Server) withUser(next userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, err := s.resolveIdentity(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, username)
	})
}

// resolveIdentity maps a request to the username its session token names.
// The token is read from the Authorization header or the token query
// parameter (WebSocket clients cannot set headers from browsers).
func (s *Server) resolveIdentity(r *http.Request) (string, error) {
	token := r.URL.Query().Get("token")
	if header := r.Header.Get("Authorization"); header != "" {
		if rest, found := strings.CutPrefix(header, "Bearer "); found {
			token = rest
		}
	}
	if token == "" {
		return "", auth.ErrInvalidToken
	}
	return s.tokens.Verify(token)
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, _ *http.Request, username string) {
	code := s.hub.CreateRoom()
	s.logger.Info("room created", "code", code, "user", username)
	writeJSON(w, http.StatusCreated, map[string]string{"code": code})
}

func (s *Server) handleRoomLookup(w http.ResponseWriter, r *http.Request, _ string) {
	code := mux.Vars(r)["code"]
	if !s.hub.RoomExists(code) {
		writeError(w, http.StatusNotFound, "room does not exist")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"code": code})
}

func (s *Server) handleUsers(w http.ResponseWriter, _ *http.Request, username string) {
	usernames, err := s.users.List()
	if err != nil {
		s.logger.Error("listing users failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not list users")
		return
	}
	filtered := make([]string, 0, len(usernames))
	for _, u := range usernames {
		if u != username {
			filtered = append(filtered, u)
		}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"users": filtered})
}

func (s *Server) handleOnline(w http.ResponseWriter, _ *http.Request, _ string) {
	writeJSON(w, http.StatusOK, map[string][]string{"online_users": s.hub.Online()})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request, _ string) {
	vars := mux.Vars(r)
	messages, err := s.messages.History(vars["user1"], vars["user2"])
	if err != nil {
		s.logger.Error("querying history failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not query history")
		return
	}
	writeJSON(w, http.StatusOK, map[string][]store.Message{"messages": messages})
}

// handleRoomSocket upgrades a room-mode session. Identity and room are
// validated before the upgrade: a bad token or dead room code never
// registers presence.
func (s *Server) handleRoomSocket(w http.ResponseWriter, r *http.Request) {
	username, err := s.resolveIdentity(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	code := r.URL.Query().Get("code")
	if code == "" || !s.hub.RoomExists(code) {
		writeError(w, http.StatusNotFound, "room does not exist")
		return
	}

	// Lazy registration: joining a room creates the user if absent.
	if err := s.users.Ensure(username); err != nil {
		s.logger.Error("ensuring user failed", "user", username, "error", err)
		writeError(w, http.StatusInternalServerError, "could not resolve user")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(conn, s.hub, ClientConfig{
		Username:          username,
		Room:              code,
		Mode:              ModeRoom,
		Addr:              r.RemoteAddr,
		MaxMessageSize:    s.runtime.MaxMessageSize,
		MessagesPerSecond: s.runtime.RateLimit.MessagesPerSecond,
		Burst:             s.runtime.RateLimit.Burst,
	})
	s.hub.register <- client
}

// handleDirectSocket upgrades a direct-mode session. An unidentified client
// is closed with a policy violation close code after the upgrade so the
// peer can distinguish rejection from a transport failure.
func (s *Server) handleDirectSocket(w http.ResponseWriter, r *http.Request) {
	username, identityErr := s.resolveIdentity(r)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	if identityErr != nil {
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication required")
		_ = conn.WriteMessage(websocket.CloseMessage, msg)
		_ = conn.Close()
		return
	}

	client := NewClient(conn, s.hub, ClientConfig{
		Username:          username,
		Mode:              ModeDirect,
		Addr:              r.RemoteAddr,
		MaxMessageSize:    s.runtime.MaxMessageSize,
		MessagesPerSecond: s.runtime.RateLimit.MessagesPerSecond,
		Burst:             s.runtime.RateLimit.Burst,
	})
	s.hub.register <- client
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("writing JSON response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
