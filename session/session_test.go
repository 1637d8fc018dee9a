package session

import (
	"sync"
	"testing"
	"time"

	"github.com/nsio/socketio/packet"
)

type fakeOutbound struct {
	mu     sync.Mutex
	writes [][]packet.Packet
	closed bool
	failer bool
}

func (f *fakeOutbound) Write(pkts []packet.Packet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failer {
		return errBoom
	}
	f.writes = append(f.writes, pkts)
	return nil
}

func (f *fakeOutbound) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

var errBoom = errBoomType{}

type errBoomType struct{}

func (errBoomType) Error() string { return "boom" }

type fakeListener struct {
	mu         sync.Mutex
	connected  int
	disconnect int
	messages   []packet.Packet
	done       chan struct{}
}

func newFakeListener() *fakeListener {
	return &fakeListener{done: make(chan struct{}, 8)}
}

func (f *fakeListener) OnConnect(*Session) {
	f.mu.Lock()
	f.connected++
	f.mu.Unlock()
	f.done <- struct{}{}
}

func (f *fakeListener) OnMessage(_ *Session, p packet.Packet) {
	f.mu.Lock()
	f.messages = append(f.messages, p)
	f.mu.Unlock()
}

func (f *fakeListener) OnDisconnect(*Session) {
	f.mu.Lock()
	f.disconnect++
	f.mu.Unlock()
	f.done <- struct{}{}
}

type fakeScheduler struct {
	mu        sync.Mutex
	registers int
	unregs    int
}

func (f *fakeScheduler) Register(*Session)   { f.mu.Lock(); f.registers++; f.mu.Unlock() }
func (f *fakeScheduler) Unregister(*Session) { f.mu.Lock(); f.unregs++; f.mu.Unlock() }

func newTestSession(t *testing.T, kind Kind) (*Session, *fakeListener, *fakeScheduler) {
	t.Helper()
	return newTestSessionTimeout(t, kind, 30*time.Second, 50*time.Millisecond)
}

func newTestSessionTimeout(t *testing.T, kind Kind, heartbeatTimeout, closeTimeout time.Duration) (*Session, *fakeListener, *fakeScheduler) {
	t.Helper()
	l := newFakeListener()
	sch := &fakeScheduler{}
	var removed string
	s := New("deadbeef0123456789abcdef01234567", kind, "127.0.0.1", heartbeatTimeout, closeTimeout, l, sch, func(id string) { removed = id })
	_ = removed
	return s, l, sch
}

func TestSessionFirstBindTransitionsConnected(t *testing.T) {
	s, l, sch := newTestSession(t, XHRPolling)
	ob := &fakeOutbound{}

	if err := s.Rebind(XHRPolling, ob); err != nil {
		t.Fatalf("Rebind: %v", err)
	}
	if got := s.State(); got != Connected {
		t.Fatalf("state = %v, want Connected", got)
	}
	select {
	case <-l.done:
	case <-time.After(time.Second):
		t.Fatal("OnConnect was not called")
	}
	if sch.registers != 1 {
		t.Fatalf("scheduler.Register called %d times, want 1", sch.registers)
	}
}

func TestSendEnqueuesWhenPollingUnparked(t *testing.T) {
	s, _, _ := newTestSession(t, XHRPolling)
	_ = s.Rebind(XHRPolling, nil) // CONNECTING -> CONNECTED with no parked poll

	p := packet.New(packet.Message).WithData([]byte("hi"))
	if err := s.Send(p); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if s.HasParkedPoll() {
		t.Fatal("no poll should be parked")
	}

	ob := &fakeOutbound{}
	if err := s.Rebind(XHRPolling, ob); err != nil {
		t.Fatalf("Rebind: %v", err)
	}
	if len(ob.writes) != 1 || len(ob.writes[0]) != 1 {
		t.Fatalf("expected queued packet to flush on rebind, got %v", ob.writes)
	}
}

func TestSendWritesThroughWhenParked(t *testing.T) {
	s, _, _ := newTestSession(t, XHRPolling)
	ob := &fakeOutbound{}
	_ = s.Rebind(XHRPolling, ob)

	if err := s.Send(packet.New(packet.Message).WithData([]byte("hi"))); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(ob.writes) != 1 {
		t.Fatalf("expected 1 write, got %d", len(ob.writes))
	}
	if s.HasParkedPoll() {
		t.Fatal("poll should be consumed after one write")
	}
}

func TestDisconnectStartsCloseTimerAndFinalizes(t *testing.T) {
	s, l, _ := newTestSession(t, WebSocket)
	ob := &fakeOutbound{}
	_ = s.Rebind(WebSocket, ob)
	<-l.done // OnConnect

	s.Disconnect()
	if got := s.State(); got != Disconnecting {
		t.Fatalf("state = %v, want Disconnecting", got)
	}
	if !ob.closed {
		t.Fatal("outbound should be closed on disconnect")
	}

	select {
	case <-l.done:
	case <-time.After(2 * time.Second):
		t.Fatal("OnDisconnect was not called within closeTimeout")
	}
	if got := s.State(); got != Disconnected {
		t.Fatalf("state = %v, want Disconnected", got)
	}
}

func TestTransportDroppedStartsCloseTimerWithoutAnnouncing(t *testing.T) {
	s, l, _ := newTestSession(t, WebSocket)
	ob := &fakeOutbound{}
	_ = s.Rebind(WebSocket, ob)
	<-l.done // OnConnect

	ob.writes = nil
	s.TransportDropped()
	if got := s.State(); got != Disconnecting {
		t.Fatalf("state = %v, want Disconnecting", got)
	}
	if len(ob.writes) != 0 {
		t.Fatalf("writes = %v, want no DISCONNECT announced over a dead transport", ob.writes)
	}

	select {
	case <-l.done:
	case <-time.After(2 * time.Second):
		t.Fatal("OnDisconnect was not called within closeTimeout")
	}
	if got := s.State(); got != Disconnected {
		t.Fatalf("state = %v, want Disconnected", got)
	}
}

func TestHeartbeatExpiry(t *testing.T) {
	s, l, _ := newTestSession(t, WebSocket)
	ob := &fakeOutbound{}
	_ = s.Rebind(WebSocket, ob)
	<-l.done

	future := time.Now().Add(time.Hour)
	if expired := s.Heartbeat(future); !expired {
		t.Fatal("expected Heartbeat to report expiry")
	}
	select {
	case <-l.done:
	case <-time.After(time.Second):
		t.Fatal("OnDisconnect was not called on heartbeat expiry")
	}
	if got := s.State(); got != Disconnected {
		t.Fatalf("state = %v, want Disconnected", got)
	}
}

func TestOnPacketInHeartbeatResetsAck(t *testing.T) {
	s, _, _ := newTestSession(t, WebSocket)
	ob := &fakeOutbound{}
	_ = s.Rebind(WebSocket, ob)

	before := s.lastHeartbeatAck
	time.Sleep(10 * time.Millisecond)
	s.OnPacketIn(packet.New(packet.Heartbeat))
	if !s.lastHeartbeatAck.After(before) {
		t.Fatal("HEARTBEAT in should advance lastHeartbeatAck")
	}
}

func TestOnPacketInForwardsMessage(t *testing.T) {
	s, l, _ := newTestSession(t, WebSocket)
	ob := &fakeOutbound{}
	_ = s.Rebind(WebSocket, ob)

	msg := packet.New(packet.Message).WithData([]byte("hello"))
	s.OnPacketIn(msg)

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.messages) != 1 || string(l.messages[0].Data) != "hello" {
		t.Fatalf("messages = %v", l.messages)
	}
}

func TestBackpressureOverflowIsFatal(t *testing.T) {
	s, l, _ := newTestSession(t, XHRPolling)
	_ = s.Rebind(XHRPolling, nil)

	var lastErr error
	for i := 0; i < pendingQueueMaxPackets+1; i++ {
		lastErr = s.Send(packet.New(packet.Message).WithData([]byte("x")))
	}
	if lastErr == nil {
		t.Fatal("expected backpressure overflow error")
	}
	select {
	case <-l.done:
	case <-time.After(time.Second):
		t.Fatal("overflow should finalize the session")
	}
	if got := s.State(); got != Disconnected {
		t.Fatalf("state = %v, want Disconnected", got)
	}
}

func TestSendDropsSilentlyWhenDisconnecting(t *testing.T) {
	s, l, _ := newTestSession(t, WebSocket)
	ob := &fakeOutbound{}
	_ = s.Rebind(WebSocket, ob)
	<-l.done

	s.Disconnect()
	if err := s.Send(packet.New(packet.Message).WithData([]byte("late"))); err != nil {
		t.Fatalf("Send after Disconnect should drop silently, got %v", err)
	}
}
