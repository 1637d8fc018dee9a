// Package transport implements the HTTP/TCP framers that carry encoded
// packets between a client and a Session: WebSocket, Flash-socket,
// XHR-polling, JSONP-polling, and the supplemental HTML-file
// forever-frame transport.
package transport

import (
	"net/http"

	"github.com/nsio/socketio/session"
)

// Framer answers one HTTP request for its transport, driving the given
// Session's Rebind/OnPacketIn machinery. A single Framer value
// is stateless and shared across all sessions of its kind; transports
// that need per-connection state (WebSocket, Flash-socket) allocate it
// inside ServeHTTP and hand a fresh session.Outbound to Session.Rebind.
type Framer interface {
	Kind() session.Kind
	ServeHTTP(w http.ResponseWriter, r *http.Request, s *session.Session)
}

// corsHeaders mirrors the Access-Control-Allow-* pair every polling
// transport in the teacher repo adds when the request carries an
// Origin header, so XHR-polling and JSONP-polling can be consumed
// cross-origin by browsers that enforce CORS preflight.
func corsHeaders(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Set("Access-Control-Allow-Credentials", "true")
}
