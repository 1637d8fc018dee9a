package packet

import (
	"bytes"
	"fmt"

	"github.com/nsio/socketio/internal/sioerr"
)

// Decode parses a single packet from a byte buffer positioned at its
// start. It reads digits up to the first ':' for the type, the next
// field for id, the next for endpoint, and treats everything after a
// third ':' as data. A packet with only two ':' separators has no data
// field at all (Data is nil); a third, even empty, field means Data is
// present but empty.
//
// Decode never advances past malformed bytes; the caller discards the
// buffer on error.
func Decode(buf []byte) (Packet, error) {
	parts := bytes.SplitN(buf, []byte(":"), 4)
	if len(parts) < 3 {
		return Packet{}, fmt.Errorf("packet: need type:id:endpoint, got %q: %w", buf, sioerr.ErrMalformedPacket)
	}

	typ, ok := decodeType(parts[0])
	if !ok {
		return Packet{}, fmt.Errorf("packet: invalid type %q: %w", parts[0], sioerr.ErrMalformedPacket)
	}

	p := Packet{
		Type:     typ,
		ID:       string(parts[1]),
		Endpoint: string(parts[2]),
	}
	if len(parts) == 4 {
		p.Data = parts[3]
	}

	if (p.Type == Heartbeat || p.Type == Noop) && len(p.Data) > 0 {
		return Packet{}, fmt.Errorf("packet: type %s does not carry data: %w", p.Type, sioerr.ErrProtocolViolation)
	}

	return p, nil
}

func decodeType(field []byte) (Type, bool) {
	if len(field) != 1 || field[0] < '0' || field[0] > '8' {
		return 0, false
	}
	return Type(field[0] - '0'), true
}

// Encode renders p as TYPE ":" ID ":" ENDPOINT, appending ":" DATA only
// when p.Data is non-nil. UTF-8 bytes, including embedded newlines, are
// written verbatim.
func Encode(p Packet) ([]byte, error) {
	if !p.Type.Valid() {
		return nil, fmt.Errorf("packet: invalid type %d: %w", p.Type, sioerr.ErrMalformedPacket)
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%d:%s:%s", p.Type, p.ID, p.Endpoint)
	if p.Data != nil {
		buf.WriteByte(':')
		buf.Write(p.Data)
	}
	return buf.Bytes(), nil
}

// MustEncode is Encode but panics on error; useful for packets built
// from known-good constructors such as Heart() or NoopPacket().
func MustEncode(p Packet) []byte {
	b, err := Encode(p)
	if err != nil {
		panic(err)
	}
	return b
}
