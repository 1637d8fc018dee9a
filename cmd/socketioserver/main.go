// Command socketioserver boots a Socket.IO v0.9 server: it wires the
// session registry, heartbeat scheduler, transport framers, and
// dispatcher together and serves them over HTTP (plus the flash
// policy side-channel, if enabled).
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/nsio/socketio/config"
	"github.com/nsio/socketio/dispatcher"
	"github.com/nsio/socketio/flashpolicy"
	"github.com/nsio/socketio/heartbeat"
	"github.com/nsio/socketio/logging"
	"github.com/nsio/socketio/packet"
	"github.com/nsio/socketio/session"
	"github.com/nsio/socketio/transport"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file (defaults built in if omitted)")
	flag.Parse()

	log := logging.New("socketio")

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load config")
		}
		cfg = loaded
	}

	registry := session.NewRegistry()
	scheduler := heartbeat.New(cfg.HeartbeatInterval(), cfg.HeartbeatThreadpoolSize, log)

	listener := &chatListener{log: log}
	framers := buildTransports(cfg)

	d := dispatcher.New(dispatcher.Config{
		Prefix:                    cfg.Prefix,
		HeartbeatTimeoutSeconds:   cfg.HeartbeatTimeoutSeconds,
		HeartbeatIntervalSeconds:  cfg.HeartbeatIntervalSeconds,
		CloseTimeoutSeconds:       cfg.CloseTimeoutSeconds,
		Origins:                   cfg.Origins,
		HeaderClientIPAddressName: cfg.HeaderClientIPAddressName,
		MaxConcurrentRequests:     cfg.MaxConcurrentRequests,
	}, registry, scheduler, listener, framers, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	scheduler.Start(ctx)
	defer scheduler.Stop()

	mux := http.NewServeMux()
	mux.Handle(cfg.Prefix+"/socket.io/", d)

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}

	if cfg.FlashPolicy.Enabled {
		policySrv := flashpolicy.New(cfg.FlashPolicy.Origins, log)
		go func() {
			if err := policySrv.ListenAndServe(ctx, cfg.FlashPolicy.ListenAddr); err != nil {
				log.Error().Err(err).Msg("flash policy server stopped")
			}
		}()
	}

	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.CloseTimeout())
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}

func buildTransports(cfg config.Config) []transport.Framer {
	ws := transport.NewWebSocket(originChecker(cfg.Origins))
	ws.SecureLocation = cfg.AlwaysSecureWebSocketLocation

	available := map[string]transport.Framer{
		"websocket":     ws,
		"flashsocket":   transport.NewFlashSocket(ws),
		"xhr-polling":   transport.NewXHRPolling(),
		"jsonp-polling": &transport.JSONPPolling{Gzip: cfg.JSONPGzip},
		"htmlfile":      transport.NewHTMLFile(),
	}

	var framers []transport.Framer
	for _, name := range cfg.Transports {
		if f, ok := available[name]; ok {
			framers = append(framers, f)
		}
	}
	return framers
}

func originChecker(origins []string) func(*http.Request) bool {
	if len(origins) == 0 {
		return nil
	}
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return func(r *http.Request) bool {
		if allowed["*"] {
			return true
		}
		return allowed[r.Header.Get("Origin")]
	}
}

// chatListener is a minimal broadcast demo: every message a client
// sends is relayed to every other connected session, the same shape as
// the teacher's example chat server.
type chatListener struct {
	log zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*session.Session
}

func (c *chatListener) OnConnect(s *session.Session) {
	c.mu.Lock()
	if c.sessions == nil {
		c.sessions = make(map[string]*session.Session)
	}
	c.sessions[s.ID()] = s
	c.mu.Unlock()
	c.log.Info().Str("session", s.ID()).Msg("client connected")
}

func (c *chatListener) OnMessage(from *session.Session, p packet.Packet) {
	if p.Type != packet.Message {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, s := range c.sessions {
		if id == from.ID() {
			continue
		}
		_ = s.Send(packet.New(packet.Message).WithData(p.Data))
	}
}

func (c *chatListener) OnDisconnect(s *session.Session) {
	c.mu.Lock()
	delete(c.sessions, s.ID())
	c.mu.Unlock()
	c.log.Info().Str("session", s.ID()).Msg("client disconnected")
}
