package transport

import (
	"io"
	"net/http"

	"github.com/nsio/socketio/packet"
	"github.com/nsio/socketio/session"
)

// XHRPolling answers a poll with a single packet unframed and with two
// or more in the U+FFFD multi-packet envelope (packet.EncodePayload),
// and answers POST bodies with a bare 1-byte 200, matching the wire
// contract of the original xhr-polling transport.
type XHRPolling struct{}

func NewXHRPolling() *XHRPolling { return &XHRPolling{} }

func (t *XHRPolling) Kind() session.Kind { return session.XHRPolling }

func (t *XHRPolling) ServeHTTP(w http.ResponseWriter, r *http.Request, s *session.Session) {
	corsHeaders(w, r)

	switch r.Method {
	case http.MethodGet:
		t.serveGet(w, r, s)
	case http.MethodPost:
		t.servePost(w, r, s)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// serveGet parks the request per spec: the handler goroutine blocks on
// a one-shot channel owned by the outbound handle rather than returning
// immediately, since net/http commits an empty 200 and recycles the
// connection the moment ServeHTTP returns. The channel is closed by
// Write (a packet arrived, synchronously via Rebind's flush or later
// via Send) or by Close (session torn down while parked).
func (t *XHRPolling) serveGet(w http.ResponseWriter, r *http.Request, s *session.Session) {
	ob := newXHROutbound(w)
	if err := s.Rebind(session.XHRPolling, ob); err != nil {
		http.Error(w, "unknown session", http.StatusBadRequest)
		return
	}
	select {
	case <-ob.done:
	case <-r.Context().Done():
		s.Unpark(ob)
	}
}

func (t *XHRPolling) servePost(w http.ResponseWriter, r *http.Request, s *session.Session) {
	body, err := io.ReadAll(io.LimitReader(r.Body, pollPostMaxBytes))
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}

	pkts, err := packet.DecodeFramed(body)
	if err != nil {
		http.Error(w, "malformed packet", http.StatusBadRequest)
		return
	}
	for _, p := range pkts {
		s.OnPacketIn(p)
	}

	w.Header().Set("Content-Type", "text/plain; charset=UTF-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("1"))
}

const pollPostMaxBytes = 1 << 20

// xhrOutbound adapts a single parked http.ResponseWriter into a
// session.Outbound. Write completes (and thereby closes) the request;
// done signals the blocked serveGet goroutine that the response is
// settled, whether by a write or a bare close.
type xhrOutbound struct {
	w    http.ResponseWriter
	done chan struct{}
}

func newXHROutbound(w http.ResponseWriter) *xhrOutbound {
	return &xhrOutbound{w: w, done: make(chan struct{})}
}

func (o *xhrOutbound) Write(pkts []packet.Packet) error {
	defer close(o.done)
	buf, err := packet.EncodePayload(pkts)
	if err != nil {
		return err
	}
	o.w.Header().Set("Content-Type", "text/plain; charset=UTF-8")
	o.w.WriteHeader(http.StatusOK)
	_, err = o.w.Write(buf)
	return err
}

func (o *xhrOutbound) Close() error {
	defer close(o.done)
	o.w.WriteHeader(http.StatusOK)
	return nil
}
