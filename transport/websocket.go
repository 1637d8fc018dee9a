package transport

import (
	"bufio"
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/nsio/socketio/packet"
	"github.com/nsio/socketio/session"
)

// WebSocket frames every outbound packet as its own text message and
// reads client frames the same way — the transport's own framing
// already delimits messages, so the U+FFFD multi-packet framing used
// by the polling transports never appears on the wire here.
type WebSocket struct {
	upgrader websocket.Upgrader

	// SecureLocation, when true, advertises wss:// in the handshake
	// response handed to pre-RFC6455 (Hixie) clients, mirroring
	// alwaysSecureWebSocketLocation from the dispatcher config.
	SecureLocation bool
}

// NewWebSocket builds a WebSocket framer. checkOrigin decides which
// RFC 6455 upgrade requests are accepted; nil permits every origin.
func NewWebSocket(checkOrigin func(*http.Request) bool) *WebSocket {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &WebSocket{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
	}
}

func (t *WebSocket) Kind() session.Kind { return session.WebSocket }

func (t *WebSocket) ServeHTTP(w http.ResponseWriter, r *http.Request, s *session.Session) {
	t.serveAs(w, r, s, session.WebSocket)
}

// serveAs runs the handshake but binds the resulting Outbound under
// kind, letting FlashSocket reuse the same wire handling while the
// Session still reports the transport the client actually asked for.
func (t *WebSocket) serveAs(w http.ResponseWriter, r *http.Request, s *session.Session, kind session.Kind) {
	if _, ok := r.Header["Sec-Websocket-Key1"]; ok {
		t.serveHixie76(w, r, s, kind)
		return
	}
	if _, ok := r.Header["Sec-Websocket-Key2"]; ok {
		t.serveHixie76(w, r, s, kind)
		return
	}

	location := "ws://"
	if t.SecureLocation || r.TLS != nil {
		location = "wss://"
	}
	responseHeader := http.Header{"Sec-WebSocket-Location": {location + r.Host + r.URL.Path}}

	conn, err := t.upgrader.Upgrade(w, r, responseHeader)
	if err != nil {
		http.Error(w, "websocket handshake failed", http.StatusBadRequest)
		return
	}

	ob := &hybiOutbound{conn: conn}
	if err := s.Rebind(kind, ob); err != nil {
		conn.Close()
		return
	}
	ob.readLoop(s)
	s.TransportDropped()
}

// hybiOutbound wraps a gorilla/websocket connection as a
// session.Outbound. Writes are serialized with a mutex because
// *websocket.Conn forbids concurrent writers.
type hybiOutbound struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (o *hybiOutbound) Write(pkts []packet.Packet) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, p := range pkts {
		buf, err := packet.Encode(p)
		if err != nil {
			return err
		}
		if err := o.conn.WriteMessage(websocket.TextMessage, buf); err != nil {
			return err
		}
	}
	return nil
}

func (o *hybiOutbound) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.conn.Close()
}

func (o *hybiOutbound) readLoop(s *session.Session) {
	for {
		_, data, err := o.conn.ReadMessage()
		if err != nil {
			return
		}
		p, err := packet.Decode(data)
		if err != nil {
			continue
		}
		s.OnPacketIn(p)
	}
}

// serveHixie76 implements the obsolete hixie-76 handshake by hand.
// No maintained Go library targets this draft; gorilla/websocket only
// speaks RFC 6455. See DESIGN.md for the standard-library exception
// this entails. Hixie-75 is not handled: a request without both
// Sec-WebSocket-Key1 and Sec-WebSocket-Key2 goes to the RFC 6455
// upgrader, and a hixie-75 client fails that handshake.
func (t *WebSocket) serveHixie76(w http.ResponseWriter, r *http.Request, s *session.Session, kind session.Kind) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "hijack unsupported", http.StatusInternalServerError)
		return
	}
	conn, rw, err := hj.Hijack()
	if err != nil {
		return
	}

	key1 := r.Header.Get("Sec-WebSocket-Key1")
	key2 := r.Header.Get("Sec-WebSocket-Key2")
	if key1 == "" || key2 == "" {
		conn.Close()
		return
	}
	key3 := make([]byte, 8)
	if _, err := io.ReadFull(rw, key3); err != nil {
		conn.Close()
		return
	}

	location := "ws://"
	if t.SecureLocation {
		location = "wss://"
	}

	resp := hixieChallengeResponse(key1, key2, key3)
	fmt.Fprintf(rw, "HTTP/1.1 101 WebSocket Protocol Handshake\r\n"+
		"Upgrade: WebSocket\r\n"+
		"Connection: Upgrade\r\n"+
		"Sec-WebSocket-Origin: %s\r\n"+
		"Sec-WebSocket-Location: %s%s%s\r\n\r\n",
		r.Header.Get("Origin"), location, r.Host, r.URL.Path)
	rw.Write(resp)
	rw.Flush()

	ob := &hixieOutbound{conn: conn, rw: rw}
	if err := s.Rebind(kind, ob); err != nil {
		conn.Close()
		return
	}
	ob.readLoop(s)
	s.TransportDropped()
}

// hixieChallengeResponse computes the MD5 digest that answers the
// hixie-76 three-key handshake challenge.
func hixieChallengeResponse(key1, key2 string, key3 []byte) []byte {
	n1 := hixieKeyNumber(key1)
	n2 := hixieKeyNumber(key2)

	buf := make([]byte, 16)
	binary.BigEndian.PutUint32(buf[0:4], n1)
	binary.BigEndian.PutUint32(buf[4:8], n2)
	copy(buf[8:], key3)

	sum := md5.Sum(buf)
	return sum[:]
}

func hixieKeyNumber(key string) uint32 {
	var digits []byte
	var spaces uint32
	for _, c := range key {
		switch {
		case c >= '0' && c <= '9':
			digits = append(digits, byte(c))
		case c == ' ':
			spaces++
		}
	}
	if spaces == 0 {
		return 0
	}
	n, err := strconv.ParseUint(string(digits), 10, 64)
	if err != nil {
		return 0
	}
	return uint32(n / uint64(spaces))
}

// hixieOutbound frames a single packet per WebSocket data frame using
// the draft76 0x00...0xFF framing (no masking, length-by-terminator).
type hixieOutbound struct {
	mu   sync.Mutex
	conn net.Conn
	rw   *bufio.ReadWriter
}

func (o *hixieOutbound) Write(pkts []packet.Packet) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, p := range pkts {
		buf, err := packet.Encode(p)
		if err != nil {
			return err
		}
		if _, err := o.rw.Write(append(append([]byte{0x00}, buf...), 0xFF)); err != nil {
			return err
		}
	}
	return o.rw.Flush()
}

func (o *hixieOutbound) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.conn.Close()
}

func (o *hixieOutbound) readLoop(s *session.Session) {
	for {
		frameType, err := o.rw.ReadByte()
		if err != nil {
			return
		}
		if frameType != 0x00 {
			return
		}
		data, err := o.rw.ReadBytes(0xFF)
		if err != nil {
			return
		}
		data = data[:len(data)-1]
		p, err := packet.Decode(data)
		if err != nil {
			continue
		}
		s.OnPacketIn(p)
	}
}
