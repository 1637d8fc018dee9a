// Package session implements the Socket.IO logical connection: the
// state machine, pending-packet queue, and heartbeat/close timers that
// sit between the transport framers and the application listener.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/nsio/socketio/internal/sioerr"
	"github.com/nsio/socketio/packet"
)

// Listener is the application-facing collaborator. OnMessage runs on the
// goroutine that delivered the packet and must not block; OnConnect and
// OnDisconnect each run on a goroutine of their own.
type Listener interface {
	OnConnect(*Session)
	OnMessage(*Session, packet.Packet)
	OnDisconnect(*Session)
}

// Scheduler registers and unregisters sessions with the process-wide
// heartbeat ticker. It is injected rather than reached through a
// package-level singleton (see DESIGN.md).
type Scheduler interface {
	Register(*Session)
	Unregister(*Session)
}

const (
	// pendingQueueMaxPackets and pendingQueueMaxBytes bound the pending
	// queue of a polling session with no parked poll. Either limit
	// tripped is fatal to the session (ErrBackpressureOverflow).
	pendingQueueMaxPackets = 64
	pendingQueueMaxBytes   = 1 << 20 // 1 MiB
)

// Session is a logical Socket.IO connection, independent of the
// transport currently carrying it.
type Session struct {
	id            string
	kind          Kind
	remoteAddress string

	heartbeatTimeout time.Duration
	closeTimeout     time.Duration

	listener  Listener
	scheduler Scheduler
	remove    func(id string) // weak removal hook into the Registry

	mu               sync.Mutex
	state            State
	outbound         Outbound
	lastHeartbeatAck time.Time
	pending          []packet.Packet
	pendingBytes     int
	closeTimer       *time.Timer
}

// New constructs a Session in CONNECTING state. It is not registered
// with the scheduler until Rebind performs the first transport bind.
// New does not insert it into a Registry; Registry.Create does that as
// soon as it constructs the session.
func New(id string, kind Kind, remoteAddress string, heartbeatTimeout, closeTimeout time.Duration, listener Listener, scheduler Scheduler, remove func(id string)) *Session {
	return &Session{
		id:               id,
		kind:             kind,
		remoteAddress:    remoteAddress,
		heartbeatTimeout: heartbeatTimeout,
		closeTimeout:     closeTimeout,
		listener:         listener,
		scheduler:        scheduler,
		remove:           remove,
		state:            Connecting,
		lastHeartbeatAck: time.Now(),
	}
}

func (s *Session) ID() string            { return s.id }
func (s *Session) RemoteAddress() string { return s.remoteAddress }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Kind() Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kind
}

func (s *Session) String() string {
	return fmt.Sprintf("session[%s]", s.id)
}

// Send enqueues p if the bound transport is polling and no poll is
// currently parked, otherwise writes it through immediately. It drops
// the packet silently once the session has started disconnecting.
func (s *Session) Send(p packet.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendLocked(p)
}

func (s *Session) sendLocked(p packet.Packet) error {
	if s.state == Disconnecting || s.state == Disconnected {
		return nil
	}

	if s.outbound == nil {
		return s.enqueueLocked(p)
	}

	ob := s.outbound
	if s.kind.Polling() {
		// The handle is consumed by a single write.
		s.outbound = nil
	}
	if err := ob.Write([]packet.Packet{p}); err != nil {
		s.disconnectLocked(false)
		return fmt.Errorf("session %s: write through %s: %w", s.id, s.kind, sioerr.ErrTransportIO)
	}
	return nil
}

func (s *Session) enqueueLocked(p packet.Packet) error {
	if len(s.pending) >= pendingQueueMaxPackets || s.pendingBytes+len(p.Data) > pendingQueueMaxBytes {
		s.finalizeLocked()
		return fmt.Errorf("session %s: %w", s.id, sioerr.ErrBackpressureOverflow)
	}
	s.pending = append(s.pending, p)
	s.pendingBytes += len(p.Data)
	return nil
}

// Rebind atomically swaps the outbound handle, flushing any queued
// packets onto it. It is used both for the first transport bind after
// handshake and for every subsequent XHR/JSONP poll or WebSocket
// upgrade. A Rebind that arrives while the session is within its
// closeTimeout grace window cancels the pending close and resumes the
// session, per the transient-drop recovery the closeTimeout exists for.
func (s *Session) Rebind(kind Kind, outbound Outbound) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Disconnected {
		return fmt.Errorf("session %s: %w", s.id, sioerr.ErrUnknownSession)
	}

	first := s.state == Connecting
	resumed := s.state == Disconnecting

	if resumed && s.closeTimer != nil {
		s.closeTimer.Stop()
		s.closeTimer = nil
	}

	s.kind = kind
	s.outbound = outbound
	s.state = Connected

	if first {
		s.lastHeartbeatAck = time.Now()
		if s.scheduler != nil {
			s.scheduler.Register(s)
		}
		if s.listener != nil {
			go s.listener.OnConnect(s)
		}
	} else if resumed && s.scheduler != nil {
		s.scheduler.Register(s)
	}

	return s.flushLocked()
}

func (s *Session) flushLocked() error {
	if len(s.pending) == 0 || s.outbound == nil {
		return nil
	}
	pkts := s.pending
	s.pending = nil
	s.pendingBytes = 0

	ob := s.outbound
	if s.kind.Polling() {
		s.outbound = nil
	}
	if err := ob.Write(pkts); err != nil {
		return fmt.Errorf("session %s: flush: %w", s.id, sioerr.ErrTransportIO)
	}
	return nil
}

// Unpark detaches ob without writing, used when a parked poll's own
// request context is done and the transport framer wants the session
// to stop holding a reference to a response it will recycle. It only
// clears s.outbound if ob is still the currently bound handle: a poll
// that was superseded by a later Rebind (e.g. a WebSocket upgrade)
// must not be able to detach the handle that replaced it.
func (s *Session) Unpark(ob Outbound) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outbound == ob {
		s.outbound = nil
	}
}

// HasParkedPoll reports whether a polling transport currently has an
// open response attached that Send can write through immediately.
func (s *Session) HasParkedPoll() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kind.Polling() && s.outbound != nil
}

// OnPacketIn handles protocol packets locally and forwards application
// packets to the listener.
func (s *Session) OnPacketIn(p packet.Packet) {
	s.mu.Lock()

	switch p.Type {
	case packet.Heartbeat:
		s.lastHeartbeatAck = time.Now()
		s.mu.Unlock()
		return

	case packet.Disconnect:
		s.finalizeLocked()
		s.mu.Unlock()
		return

	case packet.Connect:
		// Namespace join acknowledgement; endpoints are pass-through
		// only (see Non-goals), so there is nothing further to do.
		s.mu.Unlock()
		return

	case packet.Noop:
		s.mu.Unlock()
		return
	}

	s.mu.Unlock()
	if s.listener != nil {
		s.listener.OnMessage(s, p)
	}
}

// Heartbeat is invoked once per scheduler tick for every live session.
// It enqueues/delivers a HEARTBEAT packet and reports whether the
// session has gone silent past heartbeatTimeout, in which case it has
// already been finalized to Disconnected.
func (s *Session) Heartbeat(now time.Time) (expired bool) {
	s.mu.Lock()
	if s.state != Connected {
		s.mu.Unlock()
		return false
	}

	if now.Sub(s.lastHeartbeatAck) > s.heartbeatTimeout {
		s.finalizeLocked()
		s.mu.Unlock()
		return true
	}

	_ = s.sendLocked(packet.Heart())
	s.mu.Unlock()
	return false
}

// KeepAliveIfParked emits a NOOP to a parked poll that predates any real
// packet, so the long-lived GET doesn't idle past the safety margin
// before heartbeatTimeout.
func (s *Session) KeepAliveIfParked() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Connected && s.kind.Polling() && s.outbound != nil {
		_ = s.sendLocked(packet.NoopPacket())
	}
}

// Disconnect is the listener-invoked graceful shutdown: it emits a
// DISCONNECT packet if possible, moves to Disconnecting, and starts the
// closeTimeout grace window.
func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnectLocked(true)
}

// TransportDropped notifies the session that its streaming transport's
// underlying connection closed without a protocol-level DISCONNECT
// packet — a WebSocket close frame or a dropped TCP connection. It
// moves the session to DISCONNECTING and starts the closeTimeout grace
// window, the same as Disconnect but without trying to announce over a
// connection that is already gone.
func (s *Session) TransportDropped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnectLocked(false)
}

func (s *Session) disconnectLocked(announce bool) {
	if s.state == Disconnecting || s.state == Disconnected {
		return
	}

	if announce {
		_ = s.sendLocked(packet.New(packet.Disconnect))
	}

	s.state = Disconnecting
	if s.scheduler != nil {
		s.scheduler.Unregister(s)
	}
	if s.outbound != nil {
		_ = s.outbound.Close()
		s.outbound = nil
	}

	s.closeTimer = time.AfterFunc(s.closeTimeout, s.onCloseTimerExpired)
}

func (s *Session) onCloseTimerExpired() {
	s.mu.Lock()
	s.finalizeLocked()
	s.mu.Unlock()
}

// finalizeLocked transitions the session to the terminal Disconnected
// state exactly once, cancels its timers, removes it from the registry,
// and notifies the listener. Callers must hold s.mu.
func (s *Session) finalizeLocked() {
	if s.state == Disconnected {
		return
	}
	s.state = Disconnected

	if s.closeTimer != nil {
		s.closeTimer.Stop()
		s.closeTimer = nil
	}
	if s.scheduler != nil {
		s.scheduler.Unregister(s)
	}
	if s.outbound != nil {
		_ = s.outbound.Close()
		s.outbound = nil
	}
	s.pending = nil
	s.pendingBytes = 0

	if s.remove != nil {
		s.remove(s.id)
	}
	if s.listener != nil {
		go s.listener.OnDisconnect(s)
	}
}
