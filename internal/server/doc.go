// Package server implements the broadcast chat core: the participant
// Registry, per-connection Sessions, the Router that logs and fans out every
// broadcast, and the Service that accepts TCP and WebSocket connections.
//
// The implementation is organized into specialized files for configuration,
// registry, sessions, routing, transports and HTTP handlers to keep the
// codebase maintainable and testable as the project grows.
package server
