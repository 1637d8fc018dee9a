// Package packet implements the Socket.IO v0.9 wire packet grammar:
// TYPE ":" [ID] ":" [ENDPOINT] [":" DATA].
package packet

// Type tags the kind of a Packet.
type Type uint8

const (
	Disconnect Type = 0
	Connect    Type = 1
	Heartbeat  Type = 2
	Message    Type = 3
	JSON       Type = 4
	Event      Type = 5
	Ack        Type = 6
	Error      Type = 7
	Noop       Type = 8
)

func (t Type) String() string {
	switch t {
	case Disconnect:
		return "DISCONNECT"
	case Connect:
		return "CONNECT"
	case Heartbeat:
		return "HEARTBEAT"
	case Message:
		return "MESSAGE"
	case JSON:
		return "JSON"
	case Event:
		return "EVENT"
	case Ack:
		return "ACK"
	case Error:
		return "ERROR"
	case Noop:
		return "NOOP"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether t is one of the nine defined packet types.
func (t Type) Valid() bool {
	return t <= Noop
}

// Packet is an immutable value object representing a single Socket.IO
// protocol unit. Data is kept as opaque bytes; nothing in this package
// or its callers decodes it — the listener owns that.
type Packet struct {
	Type     Type
	ID       string // may carry a trailing '+' to request an ack
	Endpoint string
	Data     []byte // nil means "no data field on the wire"
}

// New builds a Packet of the given type with no id, endpoint or data.
func New(t Type) Packet {
	return Packet{Type: t}
}

// WithID returns a copy of p with ID set.
func (p Packet) WithID(id string) Packet {
	p.ID = id
	return p
}

// WithAck returns a copy of p with ID set to request an ack (trailing '+').
func (p Packet) WithAck(id string) Packet {
	p.ID = id + "+"
	return p
}

// WithEndpoint returns a copy of p with Endpoint set.
func (p Packet) WithEndpoint(endpoint string) Packet {
	p.Endpoint = endpoint
	return p
}

// WithData returns a copy of p with Data set.
func (p Packet) WithData(data []byte) Packet {
	p.Data = data
	return p
}

// AckRequested reports whether the packet's id carries the ack-request
// marker ('+' suffix). The id+ token is preserved verbatim; no reply is
// correlated by this package.
func (p Packet) AckRequested() bool {
	return len(p.ID) > 0 && p.ID[len(p.ID)-1] == '+'
}

// Heart returns the canonical HEARTBEAT packet.
func Heart() Packet { return New(Heartbeat) }

// NoopPacket is the canonical NOOP packet, used by polling transports to
// keep a parked response alive without delivering real data.
func NoopPacket() Packet { return New(Noop) }

// ClientNotHandshaken is the ERROR packet the dispatcher emits for an
// unknown or dead session id, per spec section 7.
func ClientNotHandshaken() Packet {
	return New(Error).WithData([]byte("1+0"))
}
