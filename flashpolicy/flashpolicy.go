// Package flashpolicy serves the Flash cross-domain policy file over a
// raw TCP connection, the side-channel Adobe Flash's socket sandbox
// requires before it will let the flashsocket transport connect at all.
package flashpolicy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const requestPreamble = "<policy-file-request/>\x00"

// Server answers "<policy-file-request/>\0" with a cross-domain policy
// document granting each configured origin access to its listed port
// (every port when the origin names none), then closes that one connection — it never multiplexes beyond the
// single request/response pair.
type Server struct {
	origins []string
	policy  []byte
	log     zerolog.Logger
}

// New builds a Server for the given list of "host[:port]" origins. A
// nil or empty list grants every origin, mirroring the teacher's
// default of "*".
func New(origins []string, log zerolog.Logger) *Server {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return &Server{
		origins: origins,
		policy:  renderPolicy(origins),
		log:     log.With().Str("component", "flashpolicy").Logger(),
	}
}

func renderPolicy(origins []string) []byte {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0"?>` + "\n")
	buf.WriteString(`<!DOCTYPE cross-domain-policy SYSTEM "http://www.macromedia.com/xml/dtds/cross-domain-policy.dtd">` + "\n")
	buf.WriteString("<cross-domain-policy>\n")
	buf.WriteString(`	<site-control permitted-cross-domain-policies="master-only" />` + "\n")

	for _, origin := range origins {
		host, port := "*", "*"
		if parts := strings.SplitN(origin, ":", 2); len(parts) > 0 {
			if parts[0] != "" {
				host = parts[0]
			}
			if len(parts) == 2 && parts[1] != "" {
				port = parts[1]
			}
		}
		fmt.Fprintf(&buf, "\t<allow-access-from domain=%q to-ports=%q />\n", host, port)
	}

	buf.WriteString("</cross-domain-policy>\n")
	buf.WriteByte(0)
	return buf.Bytes()
}

// ListenAndServe binds laddr and serves policy requests until ctx is
// canceled.
func (s *Server) ListenAndServe(ctx context.Context, laddr string) error {
	ln, err := net.Listen("tcp", laddr)
	if err != nil {
		return fmt.Errorf("flashpolicy: listen %s: %w", laddr, err)
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				s.log.Warn().Err(err).Msg("accept failed")
				continue
			}
		}
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	buf := make([]byte, len(requestPreamble))
	if _, err := io.ReadFull(conn, buf); err != nil {
		s.log.Warn().Err(err).Msg("short read awaiting policy request")
		return
	}
	if string(buf) != requestPreamble {
		s.log.Warn().Str("got", string(buf)).Msg("unexpected policy request preamble")
		return
	}

	if _, err := conn.Write(s.policy); err != nil {
		s.log.Warn().Err(err).Msg("write policy file")
		return
	}
	s.log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("served flash policy file")
}
