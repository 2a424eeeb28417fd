package mqtt

import (
	"context"
	"io"
	"net"
)

// Transport is the duplex byte stream the core consumes. Framing (MQTT
// packet boundaries) is the Framer's job, not the transport's: Transport is
// deliberately as plain as io.ReadWriteCloser gets, so that a plain TCP
// *net.TCPConn, a *tls.Conn, or the WebSocket adapter in transport_ws.go all
// satisfy it without modification. TLS handshake configuration and
// certificate management are out of scope for this core (spec §1): callers
// dial/handshake themselves and hand the core an already-connected
// Transport.
type Transport interface {
	io.Reader
	io.Writer
	io.Closer
}

// DialTCP opens a plain (non-TLS) TCP connection to addr. It is the one
// piece of transport "bring-up" this core performs directly, since it
// requires no certificate or handshake configuration -- TLS dialing and
// WebSocket upgrade are the caller's responsibility, per spec §6.
func DialTCP(ctx context.Context, addr string) (Transport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, wrapf(err, "mqtt: dial %s", addr)
	}
	return conn, nil
}
