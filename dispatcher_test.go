package mqtt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherQoS0NoAck(t *testing.T) {
	d := NewDispatcher(nil)
	var got []Message
	_, err := d.AddMessageListener("a/b", func(m Message) { got = append(got, m) })
	require.NoError(t, err)

	outcome := d.HandlePublish(Message{Topic: "a/b", QoS: QoS0}, 0)
	assert.Equal(t, dispatchNone, outcome)
	assert.Len(t, got, 1)
}

func TestDispatcherQoS1EmitsPuback(t *testing.T) {
	d := NewDispatcher(nil)
	var got []Message
	_, err := d.AddMessageListener("a/b", func(m Message) { got = append(got, m) })
	require.NoError(t, err)

	outcome := d.HandlePublish(Message{Topic: "a/b", QoS: QoS1}, 7)
	assert.Equal(t, dispatchPuback, outcome)
	assert.Len(t, got, 1)
}

// TestDispatcherQoS2DuplicateDeliveredOnce is spec §8's invariant: "For all
// QoS-2 inbound PUBLISHes with duplicate identifiers (DUP=1, same id),
// listeners are invoked exactly once per broker-side message."
func TestDispatcherQoS2DuplicateDeliveredOnce(t *testing.T) {
	d := NewDispatcher(nil)
	var got []Message
	_, err := d.AddMessageListener("t", func(m Message) { got = append(got, m) })
	require.NoError(t, err)

	first := d.HandlePublish(Message{Topic: "t", QoS: QoS2}, 7)
	second := d.HandlePublish(Message{Topic: "t", QoS: QoS2, Duplicate: true}, 7)

	assert.Equal(t, dispatchPubrec, first)
	assert.Equal(t, dispatchPubrec, second, "PUBREC is still owed on a retransmit")
	assert.Len(t, got, 1, "listener must fire exactly once despite the duplicate delivery")

	d.HandlePubrel(7)
	third := d.HandlePublish(Message{Topic: "t", QoS: QoS2}, 7)
	assert.Equal(t, dispatchPubrec, third)
	assert.Len(t, got, 2, "after PUBREL releases id 7, a fresh PUBLISH with the same id is a new message")
}

func TestDispatcherPubrelUnknownIdentifierIsNoOp(t *testing.T) {
	d := NewDispatcher(nil)
	d.HandlePubrel(99) // Broker tolerance: must not panic or error.
}

func TestDispatcherWildcardMatching(t *testing.T) {
	d := NewDispatcher(nil)
	var plus, hash int
	_, err := d.AddMessageListener("sensors/+/temp", func(Message) { plus++ })
	require.NoError(t, err)
	_, err = d.AddMessageListener("sensors/#", func(Message) { hash++ })
	require.NoError(t, err)

	d.HandlePublish(Message{Topic: "sensors/room1/temp", QoS: QoS0}, 0)
	assert.Equal(t, 1, plus)
	assert.Equal(t, 1, hash)

	d.HandlePublish(Message{Topic: "sensors/room1/humidity", QoS: QoS0}, 0)
	assert.Equal(t, 1, plus, "+ matches exactly one level, not humidity vs temp")
	assert.Equal(t, 2, hash)
}

func TestDispatcherListenerHandleStop(t *testing.T) {
	d := NewDispatcher(nil)
	var n int
	handle, err := d.AddMessageListener("a", func(Message) { n++ })
	require.NoError(t, err)

	d.HandlePublish(Message{Topic: "a", QoS: QoS0}, 0)
	handle.Stop()
	d.HandlePublish(Message{Topic: "a", QoS: QoS0}, 0)

	assert.Equal(t, 1, n)
	handle.Stop() // Idempotent.
}

func TestDispatcherRejectsMalformedWildcard(t *testing.T) {
	d := NewDispatcher(nil)
	_, err := d.AddMessageListener("finance#", func(Message) {})
	require.Error(t, err)
}
