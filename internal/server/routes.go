// Package server wires handlers into the application router.
package server

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/parley-chat/parley/internal/metrics"
)

// routes configures and returns the router with all application endpoints:
// account management, rooms, history, both WebSocket modes, health, and
// metrics.
func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", s.HealthHandler).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/register", s.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)

	r.Handle("/rooms", s.withUser(s.handleCreateRoom)).Methods(http.MethodPost)
	r.Handle("/rooms/{code}", s.withUser(s.handleRoomLookup)).Methods(http.MethodGet)
	r.Handle("/users", s.withUser(s.handleUsers)).Methods(http.MethodGet)
	r.Handle("/online", s.withUser(s.handleOnline)).Methods(http.MethodGet)
	r.Handle("/messages/{user1}/{user2}", s.withUser(s.handleHistory)).Methods(http.MethodGet)

	r.HandleFunc("/ws/room", s.handleRoomSocket).Methods(http.MethodGet)
	r.HandleFunc("/ws/chat", s.handleDirectSocket).Methods(http.MethodGet)

	return r
}
