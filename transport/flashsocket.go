package transport

import (
	"net/http"

	"github.com/nsio/socketio/session"
)

// FlashSocket delegates the HTTP half of its handshake to WebSocket —
// the Flash shim speaks the same wire protocol over a real WebSocket
// connection once the policy file has cleared it to connect; only the
// reported session.Kind differs, so heartbeat/backpressure accounting
// can distinguish the two client populations (see DESIGN.md).
type FlashSocket struct {
	ws *WebSocket
}

// NewFlashSocket wraps an existing WebSocket framer for the flashsocket
// resource path.
func NewFlashSocket(ws *WebSocket) *FlashSocket {
	return &FlashSocket{ws: ws}
}

func (t *FlashSocket) Kind() session.Kind { return session.FlashSocket }

func (t *FlashSocket) ServeHTTP(w http.ResponseWriter, r *http.Request, s *session.Session) {
	t.ws.serveAs(w, r, s, session.FlashSocket)
}
