package httpapi

import (
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/lukasbauer/dictate/internal/relay"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleSessionWS upgrades the request and runs one dictation session on it.
// The session owns the connection from here on and closes it when done.
func (r *Router) handleSessionWS(w http.ResponseWriter, req *http.Request) {
	if !r.tracker.Add() {
		r.logger.Printf("ws: draining, refusing new session")
		r.metrics.SessionRejected("draining")
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	defer r.tracker.Done()

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Printf("ws: upgrade failed: %v", err)
		return
	}
	if user := getAuthUser(req.Context()); user != nil {
		r.logger.Printf("ws: session opened by %s", user.ID)
	}

	sum :=r.sessions.Run(req.Context(), conn)
	if errors.Is(sum.Err, relay.ErrUpstreamConnect) {
		captureError(req, sum.Err, "ws: upstream connect failed")
	}
}
