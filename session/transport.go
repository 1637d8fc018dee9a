package session

import "github.com/nsio/socketio/packet"

// Kind names the physical carrier of packets for a Session.
type Kind string

const (
	WebSocket    Kind = "websocket"
	FlashSocket  Kind = "flashsocket"
	XHRPolling   Kind = "xhr-polling"
	JSONPPolling Kind = "jsonp-polling"
	HTMLFile     Kind = "htmlfile"
)

// Polling reports whether Kind's outbound channel exists only while a
// client request is parked, as opposed to a persistent streaming
// connection. HTMLFile is a forever-frame response: it hijacks the
// connection once and stays open for the life of the session, so it is
// a streaming transport despite being HTTP-hosted.
func (k Kind) Polling() bool {
	switch k {
	case XHRPolling, JSONPPolling:
		return true
	default:
		return false
	}
}

// Outbound is the transport-specific sender handle a Session writes
// through. For streaming transports it lives for the life of the
// connection; for polling transports it is borrowed for a single poll
// and consumed by Write.
type Outbound interface {
	// Write delivers pkts to the client. For a polling handle this
	// completes (and effectively closes) the outstanding request;
	// callers must treat the handle as spent afterwards.
	Write(pkts []packet.Packet) error

	// Close tears down the handle without writing anything further —
	// used to abort a parked poll or close a streaming connection.
	Close() error
}
