// Package sioerr defines the error kinds shared across the socketio core.
package sioerr

import "errors"

// Sentinel errors identifying the kinds from the error handling design.
// Callers should compare with errors.Is; wrapped instances carry detail
// via fmt.Errorf("...: %w", ...).
var (
	// ErrMalformedPacket is returned by the packet codec when the wire
	// form does not match the TYPE:ID:ENDPOINT:DATA grammar.
	ErrMalformedPacket = errors.New("sioerr: malformed packet")

	// ErrUnknownSession is returned by Session.Rebind when the session
	// has already reached Disconnected. The dispatcher answers an id
	// missing from the registry with the 7:::1+0 ERROR packet instead.
	ErrUnknownSession = errors.New("sioerr: unknown session")

	// ErrUnsupportedTransport is returned by the dispatcher when a
	// request names a transport the server does not serve.
	ErrUnsupportedTransport = errors.New("sioerr: unsupported transport")

	// ErrTransportIO wraps a network fault on a transport's underlying
	// connection.
	ErrTransportIO = errors.New("sioerr: transport I/O error")

	// ErrBackpressureOverflow is returned when a session's pending queue
	// exceeds its configured bound. It is fatal to the session.
	ErrBackpressureOverflow = errors.New("sioerr: backpressure overflow")

	// ErrProtocolViolation is returned when a packet is well-formed but
	// violates a protocol invariant (e.g. data on a NOOP).
	ErrProtocolViolation = errors.New("sioerr: protocol violation")
)
