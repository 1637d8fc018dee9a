package transport

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/nsio/socketio/packet"
	"github.com/nsio/socketio/session"
)

// htmlfilePadding pads the opening <html><body> chunk past the byte
// count Internet Explorer needs to see before it starts rendering a
// forever-frame response incrementally.
var htmlfilePadding = strings.Repeat(" ", 244)

// HTMLFile is the supplemental forever-frame transport: a single
// chunked HTTP response that stays open for the life of the session,
// with each outbound batch written as a <script> chunk the parent
// frame's callback consumes.
type HTMLFile struct{}

func NewHTMLFile() *HTMLFile { return &HTMLFile{} }

func (t *HTMLFile) Kind() session.Kind { return session.HTMLFile }

func (t *HTMLFile) ServeHTTP(w http.ResponseWriter, r *http.Request, s *session.Session) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	conn, rw, err := hj.Hijack()
	if err != nil {
		return
	}

	var head bytes.Buffer
	head.WriteString("HTTP/1.1 200 OK\r\n")
	head.WriteString("Content-Type: text/html\r\n")
	head.WriteString("Connection: keep-alive\r\n")
	head.WriteString("Transfer-Encoding: chunked\r\n\r\n")
	if _, err := head.WriteTo(rw); err != nil {
		conn.Close()
		return
	}

	body := "<html><body>" + htmlfilePadding
	if _, err := fmt.Fprintf(rw, "%x\r\n%s\r\n", len(body), body); err != nil {
		conn.Close()
		return
	}
	if err := rw.Flush(); err != nil {
		conn.Close()
		return
	}

	ob := &htmlfileOutbound{conn: conn, rw: rw}
	if err := s.Rebind(session.HTMLFile, ob); err != nil {
		conn.Close()
	}
}

type htmlfileOutbound struct {
	conn net.Conn
	rw   *bufio.ReadWriter
}

func (o *htmlfileOutbound) Write(pkts []packet.Packet) error {
	raw, err := packet.EncodeFramed(pkts)
	if err != nil {
		return err
	}
	jp, err := json.Marshal(string(raw))
	if err != nil {
		return err
	}

	chunk := fmt.Sprintf("<script>parent.s._(%s, document);</script>", jp)
	if _, err := fmt.Fprintf(o.rw, "%x\r\n%s\r\n", len(chunk), chunk); err != nil {
		return err
	}
	return o.rw.Flush()
}

func (o *htmlfileOutbound) Close() error {
	_, _ = o.rw.WriteString("0\r\n\r\n")
	_ = o.rw.Flush()
	return o.conn.Close()
}
