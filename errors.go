package mqtt

import (
	"fmt"

	"github.com/pkg/errors"
)

// ProtocolErrorKind enumerates the ways a byte stream can fail to be a valid
// MQTT 3.1.1 control packet.
type ProtocolErrorKind uint8

const (
	// MalformedPacket covers remaining-length overruns, truncated varints
	// and any other structural decode failure not covered by a more
	// specific kind below.
	MalformedPacket ProtocolErrorKind = iota
	// UnknownPacketType is a fixed-header type nibble outside 1..14.
	UnknownPacketType
	// InvalidFlags is a fixed-header flags nibble that contradicts the
	// packet type's required bit pattern.
	InvalidFlags
	// InvalidQoS is a QoS field carrying the reserved value 3.
	InvalidQoS
	// MalformedString is a length-prefixed string that is not valid UTF-8.
	MalformedString
)

func (k ProtocolErrorKind) String() string {
	switch k {
	case MalformedPacket:
		return "malformed packet"
	case UnknownPacketType:
		return "unknown packet type"
	case InvalidFlags:
		return "invalid flags"
	case InvalidQoS:
		return "invalid QoS"
	case MalformedString:
		return "malformed string"
	default:
		return "protocol error"
	}
}

// ProtocolError reports a wire-format violation. It is fatal for the
// connection: the Supervisor closes the transport and, if configured,
// reconnects.
type ProtocolError struct {
	Kind   ProtocolErrorKind
	reason string
}

func (e *ProtocolError) Error() string {
	if e.reason == "" {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.reason
}

// ConnectionRefused reports a non-zero CONNACK return code.
type ConnectionRefused struct {
	Code ConnectReturnCode
}

func (e *ConnectionRefused) Error() string {
	return fmt.Sprintf("connection refused: %s", e.Code)
}

// Authentication reports whether the refusal is authentication-class (CONNACK
// codes 4 or 5), in which case the Supervisor must not retry the reconnect.
func (e *ConnectionRefused) Authentication() bool { return e.Code.Authentication() }

// Sentinel errors forming the rest of the taxonomy in spec §7. They are
// returned as-is (not wrapped), so callers can compare them directly; wrapf
// below is applied only to errors coming from the transport (dial, read).
var (
	// ErrConnectionClosed is surfaced to a request observing transport
	// closure while it had no applicable reconnect behavior.
	ErrConnectionClosed = errors.New("mqtt: connection closed")
	// ErrNotConnected is surfaced to a request that cannot proceed because
	// the client is not Active and is not canPerformInInactiveState.
	ErrNotConnected = errors.New("mqtt: not connected")
	// ErrTimeout is a per-request timeout (CONNACK, SUBACK, UNSUBACK).
	ErrTimeout = errors.New("mqtt: timeout")
	// ErrKeepAliveTimeout is a missed PINGRESP, escalated by the Supervisor
	// to a transport close.
	ErrKeepAliveTimeout = errors.New("mqtt: keep-alive timeout")
	// ErrNoAvailablePacketIdentifier means all 65535 non-zero identifiers
	// are held by in-flight entries.
	ErrNoAvailablePacketIdentifier = errors.New("mqtt: no available packet identifier")
	// ErrClientShutdown is terminal: delivered to every queued and
	// in-flight entry when the client shuts down.
	ErrClientShutdown = errors.New("mqtt: client shut down")
)

// wrapf attaches file/call-site context to err using github.com/pkg/errors,
// the same wrapping style VolantMQ depends on for its session/connection
// error paths.
func wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}
