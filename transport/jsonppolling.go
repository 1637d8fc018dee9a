package transport

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/nsio/socketio/packet"
	"github.com/nsio/socketio/session"
)

// JSONPPolling answers a parked GET with a `io.j[INDEX]("...")` script
// body and accepts POST bodies form-encoded as d=<payload>, matching
// the contract the official client's JSONP-polling fallback expects.
type JSONPPolling struct {
	// Gzip enables response compression for clients that advertise
	// gzip support, using klauspost/compress for its lower allocation
	// overhead than compress/gzip on the hot polling path.
	Gzip bool
}

func NewJSONPPolling() *JSONPPolling { return &JSONPPolling{} }

func (t *JSONPPolling) Kind() session.Kind { return session.JSONPPolling }

func (t *JSONPPolling) ServeHTTP(w http.ResponseWriter, r *http.Request, s *session.Session) {
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

func (t *JSONPPolling) serveGet(w http.ResponseWriter, r *http.Request, s *session.Session) {
	index := 0
	if raw := r.URL.Query().Get("i"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			index = n
		}
	}

	ob := newJSONPOutbound(w, index, t.Gzip && acceptsGzip(r))
	if err := s.Rebind(session.JSONPPolling, ob); err != nil {
		http.Error(w, "unknown session", http.StatusBadRequest)
		return
	}
	select {
	case <-ob.done:
	case <-r.Context().Done():
		s.Unpark(ob)
	}
}

func (t *JSONPPolling) servePost(w http.ResponseWriter, r *http.Request, s *session.Session) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "malformed form body", http.StatusBadRequest)
		return
	}
	body := r.FormValue("d")

	pkts, err := packet.DecodeFramed([]byte(body))
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

func acceptsGzip(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept-Encoding"), "gzip")
}

// jsonpOutbound adapts a single parked http.ResponseWriter. done
// signals the blocked serveGet goroutine once Write or Close settles
// the response, the same one-shot-channel shape as xhrOutbound.
type jsonpOutbound struct {
	w     http.ResponseWriter
	index int
	gzip  bool
	done  chan struct{}
}

func newJSONPOutbound(w http.ResponseWriter, index int, gzip bool) *jsonpOutbound {
	return &jsonpOutbound{w: w, index: index, gzip: gzip, done: make(chan struct{})}
}

func (o *jsonpOutbound) Write(pkts []packet.Packet) error {
	defer close(o.done)
	raw, err := packet.EncodePayload(pkts)
	if err != nil {
		return err
	}

	var body strings.Builder
	body.WriteString("io.j[")
	body.WriteString(strconv.Itoa(o.index))
	body.WriteString("](\"")
	escapeJSONP(&body, raw)
	body.WriteString("\");")

	o.w.Header().Set("Content-Type", "application/javascript; charset=UTF-8")
	if o.gzip {
		o.w.Header().Set("Content-Encoding", "gzip")
		o.w.WriteHeader(http.StatusOK)
		gz, _ := gzip.NewWriterLevel(o.w, gzip.BestSpeed)
		defer gz.Close()
		_, err = io.WriteString(gz, body.String())
		return err
	}

	o.w.WriteHeader(http.StatusOK)
	_, err = io.WriteString(o.w, body.String())
	return err
}

func (o *jsonpOutbound) Close() error {
	defer close(o.done)
	o.w.WriteHeader(http.StatusOK)
	return nil
}

// escapeJSONP escapes the characters that would otherwise break out of
// the JavaScript string literal the framed payload is embedded in.
func escapeJSONP(b *strings.Builder, raw []byte) {
	for _, r := range string(raw) {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteRune(r)
		}
	}
}
