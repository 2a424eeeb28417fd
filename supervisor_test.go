package mqtt

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBroker answers exactly one CONNECT with a scripted CONNACK over a
// net.Pipe, then keeps reading until closed, answering PINGREQ only when
// answerPings is set.
type fakeBroker struct {
	framer *Framer
}

func dialFake(connack VariablesConnack, answerPings bool) (Dialer, *fakeBroker, func()) {
	c1, c2 := net.Pipe()
	clientSide := c1
	brokerFramer := NewFramer(c2, 0)
	fb := &fakeBroker{framer: brokerFramer}

	go func() {
		_, _, err := brokerFramer.ReadPacket() // CONNECT
		if err != nil {
			return
		}
		b, _ := Serialize(Packet{Header: mustHeader(PacketConnack, 0), Connack: connack})
		brokerFramer.WritePacket(b)
		brokerFramer.Flush()
		// Keep draining the pipe even when not answering pings, so the
		// client's writes never block on an unread byte stream.
		for {
			hdr, _, err := brokerFramer.ReadPacket()
			if err != nil {
				return
			}
			if answerPings && hdr.Type() == PacketPingreq {
				pb, _ := Serialize(Packet{Header: mustHeader(PacketPingresp, 0)})
				brokerFramer.WritePacket(pb)
				brokerFramer.Flush()
			}
		}
	}()

	dial := func(ctx context.Context) (Transport, error) {
		return clientSide, nil
	}
	return dial, fb, func() { c1.Close(); c2.Close() }
}

// TestSupervisorAuthRefusalDoesNotReconnect is spec §8 scenario 5: a
// CONNACK with an authentication-class return code fails Connect and the
// Supervisor must not retry even with an unlimited reconnect policy
// configured.
func TestSupervisorAuthRefusalDoesNotReconnect(t *testing.T) {
	dial, _, closeFn := dialFake(VariablesConnack{ReturnCode: ReturnCodeUnauthorized}, false)
	defer closeFn()

	cfg, err := buildConfig([]ClientOption{
		DefaultClientConfig(),
		WithClientID("c1"),
		WithReconnectPolicy(RetryReconnect(0, time.Millisecond, time.Millisecond, 0)),
	})
	require.NoError(t, err)

	dispatcher := NewDispatcher(nil)
	engine := NewEngine(dispatcher, cfg.MaxInflight, nil)
	go engine.Run()
	defer engine.Shutdown()

	sup := NewSupervisor(cfg, dial, engine)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err = sup.Run(ctx)
	require.Error(t, err)
	refused, ok := err.(*ConnectionRefused)
	require.True(t, ok, "expected *ConnectionRefused, got %T: %v", err, err)
	assert.Equal(t, ReturnCodeUnauthorized, refused.Code)
	assert.True(t, refused.Authentication())
}

// TestSupervisorConnectSucceedsAndSignalsReady covers the accepted-CONNACK
// path: Ready() resolves nil and the Engine observes Active.
func TestSupervisorConnectSucceedsAndSignalsReady(t *testing.T) {
	dial, _, closeFn := dialFake(VariablesConnack{ReturnCode: ReturnCodeAccepted, SessionPresent: true}, true)
	defer closeFn()

	cfg, err := buildConfig([]ClientOption{
		DefaultClientConfig(),
		WithClientID("c1"),
		WithKeepAlive(0),
	})
	require.NoError(t, err)

	dispatcher := NewDispatcher(nil)
	engine := NewEngine(dispatcher, cfg.MaxInflight, nil)
	go engine.Run()
	defer engine.Shutdown()

	sup := NewSupervisor(cfg, dial, engine)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	select {
	case err := <-sup.Ready():
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Ready() did not resolve")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

// TestSupervisorKeepAliveTimeoutClosesConnection is spec §8 scenario 6's
// failure half: a PINGREQ that never gets a PINGRESP must surface as a
// connection loss.
func TestSupervisorKeepAliveTimeoutClosesConnection(t *testing.T) {
	dial, _, closeFn := dialFake(VariablesConnack{ReturnCode: ReturnCodeAccepted}, false) // Broker never answers PINGREQ.
	defer closeFn()

	cfg, err := buildConfig([]ClientOption{
		DefaultClientConfig(),
		WithClientID("c1"),
		WithKeepAlive(30 * time.Millisecond),
		WithReconnectPolicy(NeverReconnect()),
	})
	require.NoError(t, err)

	dispatcher := NewDispatcher(nil)
	engine := NewEngine(dispatcher, cfg.MaxInflight, nil)
	go engine.Run()
	defer engine.Shutdown()

	sup := NewSupervisor(cfg, dial, engine)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	err = sup.Run(ctx)
	require.Error(t, err)
	assert.Equal(t, ErrKeepAliveTimeout, err)
}
