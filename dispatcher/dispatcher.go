// Package dispatcher implements the Socket.IO v0.9 handshake and
// transport routing: GET {prefix}/socket.io/1/ allocates a session,
// and {GET|POST} {prefix}/socket.io/1/{transport}/{sid} hands the
// request to the matching transport.Framer bound to that session.
package dispatcher

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/nsio/socketio/internal/sioerr"
	"github.com/nsio/socketio/packet"
	"github.com/nsio/socketio/session"
	"github.com/nsio/socketio/transport"
)

// ProtocolVersion is the Socket.IO wire protocol version this
// dispatcher's handshake advertises and requires.
const ProtocolVersion = "1"

// Config carries the handshake and routing surface a deployment tunes.
// Durations are expressed the way the config file/TOML layer stores
// them, in seconds; Registry.Create converts them to time.Duration when
// the handshake creates a session.
type Config struct {
	// Prefix is the mount point before "/socket.io/1/...", e.g. "" or
	// "/chat". It must not have a trailing slash.
	Prefix string

	HeartbeatTimeoutSeconds  int
	HeartbeatIntervalSeconds int
	CloseTimeoutSeconds      int

	// Origins restricts which Origin header values may complete a
	// handshake or poll; nil means every origin is allowed.
	Origins []string

	// HeaderClientIPAddressName, when set, names a proxy-forwarded
	// header (e.g. "X-Forwarded-For") to prefer over RemoteAddr when
	// recording a session's client address.
	HeaderClientIPAddressName string

	// MaxConcurrentRequests bounds how many in-flight dispatcher
	// requests may be serviced at once; a request arriving while the
	// semaphore is full is answered 503 at once rather than queued.
	// Zero or less means no bound.
	MaxConcurrentRequests int64
}

// Dispatcher is the HTTP entry point for the whole server: it owns the
// session registry, heartbeat scheduler, and the set of enabled
// transports, and implements http.Handler directly.
type Dispatcher struct {
	cfg        Config
	registry   *session.Registry
	scheduler  session.Scheduler
	listener   session.Listener
	transports map[string]transport.Framer
	order      []string
	log        zerolog.Logger
	sem        *semaphore.Weighted
}

// New builds a Dispatcher. transports is the ordered list advertised in
// the handshake response and used to route {transport} path segments;
// order matters because the handshake's TRANSPORTS field is a
// comma-joined list clients try in sequence.
func New(cfg Config, registry *session.Registry, scheduler session.Scheduler, listener session.Listener, transports []transport.Framer, log zerolog.Logger) *Dispatcher {
	d := &Dispatcher{
		cfg:        cfg,
		registry:   registry,
		scheduler:  scheduler,
		listener:   listener,
		transports: make(map[string]transport.Framer, len(transports)),
		log:        log.With().Str("component", "dispatcher").Logger(),
	}
	for _, t := range transports {
		name := string(t.Kind())
		d.transports[name] = t
		d.order = append(d.order, name)
	}
	if cfg.MaxConcurrentRequests > 0 {
		d.sem = semaphore.NewWeighted(cfg.MaxConcurrentRequests)
	}
	return d
}

func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if d.sem != nil {
		if !d.sem.TryAcquire(1) {
			http.Error(w, "server busy", http.StatusServiceUnavailable)
			return
		}
		defer d.sem.Release(1)
	}

	path := strings.TrimPrefix(r.URL.Path, d.cfg.Prefix)
	path = strings.TrimPrefix(path, "/socket.io/")
	path = strings.TrimSuffix(path, "/")

	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] != ProtocolVersion {
		d.log.Warn().Str("path", r.URL.Path).Msg("unsupported protocol version")
		http.Error(w, "unsupported protocol version", http.StatusNotFound)
		return
	}
	parts = parts[1:]

	if !d.originAllowed(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	switch len(parts) {
	case 0:
		d.handshake(w, r)
	case 1:
		if parts[0] != "" {
			http.NotFound(w, r)
			return
		}
		d.handshake(w, r)
	case 2, 3:
		d.route(w, r, parts[0], parts[1])
	default:
		http.NotFound(w, r)
	}
}

func (d *Dispatcher) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || d.cfg.Origins == nil {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := strings.SplitN(u.Host, ":", 2)[0]
	for _, allowed := range d.cfg.Origins {
		if allowed == "*" || allowed == host {
			return true
		}
	}
	return false
}

func (d *Dispatcher) handshake(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s, err := d.registry.Create(
		session.WebSocket, // placeholder kind until the first transport bind
		d.clientAddress(r),
		d.cfg.HeartbeatTimeoutSeconds,
		d.cfg.CloseTimeoutSeconds,
		d.listener,
		d.scheduler,
	)
	if err != nil {
		d.log.Error().Err(err).Msg("failed to allocate session")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=UTF-8")
	fmt.Fprintf(w, "%s:%d:%d:%s",
		s.ID(), d.cfg.HeartbeatTimeoutSeconds, d.cfg.CloseTimeoutSeconds, strings.Join(d.order, ","))

	d.log.Info().Str("session", s.ID()).Str("remote", s.RemoteAddress()).Msg("handshake complete")
}

func (d *Dispatcher) route(w http.ResponseWriter, r *http.Request, transportName, sid string) {
	framer, ok := d.transports[transportName]
	if !ok {
		d.log.Warn().Err(fmt.Errorf("transport %q: %w", transportName, sioerr.ErrUnsupportedTransport)).Msg("unsupported transport")
		http.Error(w, "unsupported transport", http.StatusBadRequest)
		return
	}

	s, ok := d.registry.Get(sid)
	if !ok {
		d.writeSessionError(w)
		return
	}

	framer.ServeHTTP(w, r, s)
}

// writeSessionError answers an unknown or expired session id with the
// protocol-level ERROR packet clients recognize as "handshake timed
// out or session gone", rather than a bare HTTP status.
func (d *Dispatcher) writeSessionError(w http.ResponseWriter) {
	buf, err := packet.Encode(packet.ClientNotHandshaken())
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=UTF-8")
	w.WriteHeader(http.StatusOK)
	w.Write(buf)
}

func (d *Dispatcher) clientAddress(r *http.Request) string {
	if d.cfg.HeaderClientIPAddressName != "" {
		if v := r.Header.Get(d.cfg.HeaderClientIPAddressName); v != "" {
			return strings.TrimSpace(strings.SplitN(v, ",", 2)[0])
		}
	}
	return r.RemoteAddr
}

// HeartbeatInterval and HeartbeatTimeout convert the config's seconds
// fields to time.Duration for wiring into heartbeat.New.
func (c Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalSeconds) * time.Second
}

func (c Config) HeartbeatTimeout() time.Duration {
	return time.Duration(c.HeartbeatTimeoutSeconds) * time.Second
}

func (c Config) CloseTimeout() time.Duration {
	return time.Duration(c.CloseTimeoutSeconds) * time.Second
}
