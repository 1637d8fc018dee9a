package packet

import (
	"bytes"
	"fmt"
	"unicode/utf8"

	"github.com/nsio/socketio/internal/sioerr"
)

// sentinel is the U+FFFD replacement character used to delimit packet
// lengths in a framed multi-packet payload, encoded as the 3-byte UTF-8
// sequence EF BF BD.
const sentinel = '�'

// EncodePayload renders pkts the way a polling transport's response
// body actually does: a lone packet is encoded unframed (matching
// socket.io 0.9's Transport.payload, which writes msgs[0] raw when
// len==1), and framing with EncodeFramed only kicks in for two or more
// packets.
func EncodePayload(pkts []Packet) ([]byte, error) {
	if len(pkts) == 1 {
		return Encode(pkts[0])
	}
	return EncodeFramed(pkts)
}

// EncodeFramed renders a sequence of packets using the XHR/JSONP
// polling framing "�" LEN "�" PAYLOAD repeated for each
// packet. A single packet is still wrapped in the framing; callers that
// want the degenerate unframed form for exactly one packet should call
// Encode directly, or use EncodePayload.
func EncodeFramed(pkts []Packet) ([]byte, error) {
	var out bytes.Buffer
	for _, p := range pkts {
		enc, err := Encode(p)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(&out, "%c%d%c%s", sentinel, utf8.RuneCount(enc), sentinel, enc)
	}
	return out.Bytes(), nil
}

// DecodeFramed reads the framed "�" LEN "�" PAYLOAD sequence
// repeated over buf and returns the decoded packets in order. A buffer
// with no leading sentinel is accepted as a degenerate single-packet
// case and decoded directly.
func DecodeFramed(buf []byte) ([]Packet, error) {
	if len(buf) == 0 {
		return nil, nil
	}

	r, _ := utf8.DecodeRune(buf)
	if r != sentinel {
		p, err := Decode(buf)
		if err != nil {
			return nil, err
		}
		return []Packet{p}, nil
	}

	var out []Packet
	for len(buf) > 0 {
		r, size := utf8.DecodeRune(buf)
		if r != sentinel {
			return nil, fmt.Errorf("packet: expected frame sentinel: %w", sioerr.ErrMalformedPacket)
		}
		buf = buf[size:]

		idx := bytes.IndexRune(buf, sentinel)
		if idx <= 0 {
			return nil, fmt.Errorf("packet: frame length missing: %w", sioerr.ErrMalformedPacket)
		}
		length := 0
		for _, c := range buf[:idx] {
			if c < '0' || c > '9' {
				return nil, fmt.Errorf("packet: frame length %q not numeric: %w", buf[:idx], sioerr.ErrMalformedPacket)
			}
			length = length*10 + int(c-'0')
		}

		_, size = utf8.DecodeRune(buf[idx:])
		buf = buf[idx+size:]

		runes := []rune(string(buf))
		if length > len(runes) {
			return nil, fmt.Errorf("packet: frame length overflows buffer: %w", sioerr.ErrMalformedPacket)
		}
		payload := []byte(string(runes[:length]))

		p, err := Decode(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, p)

		consumed := len(string(runes[:length]))
		buf = buf[consumed:]
	}

	return out, nil
}
