// Package server wires HTTP handlers into a ServeMux for the WebSocket gateway
// via routing helpers.
package server

import "net/http"

// SetupRoutes configures and returns an HTTP ServeMux with the gateway routes:
// a health check at "/" and the WebSocket endpoint at "/ws".
func SetupRoutes(svc *Service) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", HealthHandler(svc))
	mux.HandleFunc("/ws", WebSocketHandler(svc))
	return mux
}
