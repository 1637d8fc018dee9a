package transport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nsio/socketio/session"
)

func TestFlashSocketReportsFlashSocketKind(t *testing.T) {
	l := newRecordingListener()
	var srv *session.Session
	tr := NewFlashSocket(NewWebSocket(nil))

	mux := http.NewServeMux()
	mux.HandleFunc("/socket.io/1/flashsocket/", func(w http.ResponseWriter, r *http.Request) {
		if srv == nil {
			srv = session.New("00112233445566778899aabbccddeeff", session.FlashSocket, r.RemoteAddr, 30*time.Second, 2*time.Second, l, noopScheduler{}, func(string) {})
		}
		tr.ServeHTTP(w, r, srv)
	})

	ts := httptest.NewServer(mux)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/socket.io/1/flashsocket/00112233445566778899aabbccddeeff"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	select {
	case <-l.connected:
	case <-time.After(2 * time.Second):
		t.Fatal("OnConnect was not called")
	}

	if got := srv.Kind(); got != session.FlashSocket {
		t.Fatalf("session kind = %v, want FlashSocket", got)
	}
}
