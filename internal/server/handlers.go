// Package server exposes HTTP handlers for the WebSocket gateway and the
// health check.
package server

import (
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
)

// WebSocketHandler upgrades the request and attaches the connection to svc as
// a participant. The first text frame is the display name; every further
// frame is one chat line.
func WebSocketHandler(svc *Service) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     svc.origins.checkOrigin,
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			svc.log.Warn("WebSocket upgrade failed", "error", err)
			return
		}

		svc.log.Info("New WebSocket client connected", "addr", r.RemoteAddr)
		svc.Attach(NewWebSocketLineConn(conn, r.RemoteAddr, svc.cfg.MaxMessageSize))
	}
}

// HealthHandler reports that the service is up and how many participants are
// registered.
func HealthHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = fmt.Fprintf(w, "linechat server is running! participants=%d", svc.registry.Len())
	}
}
