package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nsio/socketio/packet"
	"github.com/nsio/socketio/session"
)

// runAsync runs fn in its own goroutine and returns a channel closed
// once it returns, since a parked poll's ServeHTTP now blocks the
// handler goroutine until Write or the request context settles it.
func runAsync(fn func()) chan struct{} {
	done := make(chan struct{})
	go func() {
		fn()
		close(done)
	}()
	return done
}

// waitFor fails the test if done does not close within a second.
func waitFor(t *testing.T, done chan struct{}, what string) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("%s did not complete in time", what)
	}
}

type recordingListener struct {
	connected chan *session.Session
	messages  chan packet.Packet
}

func newRecordingListener() *recordingListener {
	return &recordingListener{
		connected: make(chan *session.Session, 4),
		messages:  make(chan packet.Packet, 4),
	}
}

func (l *recordingListener) OnConnect(s *session.Session)    { l.connected <- s }
func (l *recordingListener) OnDisconnect(*session.Session)   {}
func (l *recordingListener) OnMessage(_ *session.Session, p packet.Packet) { l.messages <- p }

type noopScheduler struct{}

func (noopScheduler) Register(*session.Session)   {}
func (noopScheduler) Unregister(*session.Session) {}

func newTestSession(t *testing.T, kind session.Kind) (*session.Session, *recordingListener) {
	t.Helper()
	l := newRecordingListener()
	s := session.New("0011223344556677889900112233445", kind, "127.0.0.1", 30*time.Second, 2*time.Second, l, noopScheduler{}, func(string) {})
	return s, l
}

func TestXHRPollingWritesThroughToParkedPoll(t *testing.T) {
	s, l := newTestSession(t, session.XHRPolling)
	tr := NewXHRPolling()

	// First GET establishes the session (CONNECTING -> CONNECTED) and
	// parks waiting for something to send; the handler goroutine blocks
	// until that happens, so it runs in the background.
	req1 := httptest.NewRequest(http.MethodGet, "/socket.io/1/xhr-polling/0011223344556677889900112233445", nil)
	rec1 := httptest.NewRecorder()
	served1 := runAsync(func() { tr.ServeHTTP(rec1, req1, s) })
	<-l.connected

	if err := s.Send(packet.New(packet.Message).WithData([]byte("hello"))); err != nil {
		t.Fatalf("Send: %v", err)
	}
	waitFor(t, served1, "ServeHTTP")

	if got, want := rec1.Body.String(), "3:::hello"; got != want {
		t.Fatalf("response body = %q, want exactly %q (unframed for a single packet)", got, want)
	}
}

func TestXHRPollingQueuesThenFlushesOnNextPoll(t *testing.T) {
	s, l := newTestSession(t, session.XHRPolling)
	tr := NewXHRPolling()

	// The first poll's request context is cancelled before anything is
	// sent, which detaches the parked outbound without writing (the
	// real-world equivalent of a client going away mid-poll) so the
	// next Send has nowhere to write through to and must queue instead.
	ctx, cancel := context.WithCancel(context.Background())
	req1 := httptest.NewRequest(http.MethodGet, "/socket.io/1/xhr-polling/0011223344556677889900112233445", nil).WithContext(ctx)
	rec1 := httptest.NewRecorder()
	served1 := runAsync(func() { tr.ServeHTTP(rec1, req1, s) })
	<-l.connected

	cancel()
	waitFor(t, served1, "first ServeHTTP")

	if err := s.Send(packet.New(packet.Message).WithData([]byte("queued"))); err != nil {
		t.Fatalf("Send: %v", err)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/socket.io/1/xhr-polling/0011223344556677889900112233445", nil)
	rec2 := httptest.NewRecorder()
	served2 := runAsync(func() { tr.ServeHTTP(rec2, req2, s) })
	waitFor(t, served2, "second ServeHTTP")

	if got, want := rec2.Body.String(), "3:::queued"; got != want {
		t.Fatalf("response body = %q, want exactly %q (unframed for a single packet)", got, want)
	}
}

func TestXHRPollingPostDecodesAndAcks(t *testing.T) {
	s, l := newTestSession(t, session.XHRPolling)
	tr := NewXHRPolling()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	req1 := httptest.NewRequest(http.MethodGet, "/socket.io/1/xhr-polling/0011223344556677889900112233445", nil).WithContext(ctx)
	runAsync(func() { tr.ServeHTTP(httptest.NewRecorder(), req1, s) })
	<-l.connected

	body := strings.NewReader("3:::hi there")
	req2 := httptest.NewRequest(http.MethodPost, "/socket.io/1/xhr-polling/0011223344556677889900112233445", body)
	rec2 := httptest.NewRecorder()
	tr.ServeHTTP(rec2, req2, s)

	if rec2.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec2.Code)
	}
	if got, _ := io.ReadAll(rec2.Body); string(got) != "1" {
		t.Fatalf("body = %q, want %q", got, "1")
	}

	select {
	case p := <-l.messages:
		if string(p.Data) != "hi there" {
			t.Fatalf("message data = %q", p.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("OnMessage was not called")
	}
}
