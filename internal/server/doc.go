// Package server implements the core of the Parley chat relay: the hub that
// owns presence and room state, per-connection session management, the
// delivery engine for room broadcast and persisted direct messages, and the
// HTTP/WebSocket surface.
//
// The implementation is organized into specialized files for the registries,
// hub, client sessions, delivery, routing, and HTTP handlers to keep the
// codebase maintainable and testable as the project grows.
package server
