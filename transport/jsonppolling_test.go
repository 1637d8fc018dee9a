package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/nsio/socketio/packet"
	"github.com/nsio/socketio/session"
)

func TestJSONPPollingGetUsesRequestedIndex(t *testing.T) {
	s, l := newTestSession(t, session.JSONPPolling)
	tr := NewJSONPPolling()

	req1 := httptest.NewRequest(http.MethodGet, "/socket.io/1/jsonp-polling/sid?i=7", nil)
	rec1 := httptest.NewRecorder()
	served1 := runAsync(func() { tr.ServeHTTP(rec1, req1, s) })
	<-l.connected

	if err := s.Send(packet.New(packet.Message).WithData([]byte("hi"))); err != nil {
		t.Fatalf("Send: %v", err)
	}
	waitFor(t, served1, "ServeHTTP")

	if got, want := rec1.Body.String(), `io.j[7]("3:::hi");`; got != want {
		t.Fatalf("body = %q, want exactly %q (unframed for a single packet)", got, want)
	}
}

func TestJSONPPollingPostDecodesFormEncodedBody(t *testing.T) {
	s, l := newTestSession(t, session.JSONPPolling)
	tr := NewJSONPPolling()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	req1 := httptest.NewRequest(http.MethodGet, "/socket.io/1/jsonp-polling/sid", nil).WithContext(ctx)
	runAsync(func() { tr.ServeHTTP(httptest.NewRecorder(), req1, s) })
	<-l.connected

	form := url.Values{"d": {"3:::hello from jsonp"}}
	req2 := httptest.NewRequest(http.MethodPost, "/socket.io/1/jsonp-polling/sid", strings.NewReader(form.Encode()))
	req2.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec2 := httptest.NewRecorder()
	tr.ServeHTTP(rec2, req2, s)

	if rec2.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec2.Code)
	}

	select {
	case p := <-l.messages:
		if string(p.Data) != "hello from jsonp" {
			t.Fatalf("message data = %q", p.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("OnMessage was not called")
	}
}

func TestEscapeJSONPEscapesQuotesAndNewlines(t *testing.T) {
	var b strings.Builder
	escapeJSONP(&b, []byte("a\"b\\c\nd\re"))
	got := b.String()
	want := `a\"b\\c\nd\re`
	if got != want {
		t.Fatalf("escapeJSONP = %q, want %q", got, want)
	}
}
