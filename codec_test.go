package mqtt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeParsePublishQoS0(t *testing.T) {
	flags, err := newPublishFlags(QoS0, false, false)
	require.NoError(t, err)
	hdr, err := NewHeader(PacketPublish, flags, 0)
	require.NoError(t, err)
	pkt := Packet{
		Header:  hdr,
		Publish: VariablesPublish{TopicName: "sensors/temp"},
		Payload: []byte("21.5"),
	}
	b, err := Serialize(pkt)
	require.NoError(t, err)

	// Fixed header: type/flags byte, then a one byte remaining length since
	// the payload here is well under 128 bytes.
	assert.Equal(t, byte(PacketPublish)<<4, b[0])
	assert.Less(t, b[1], byte(0x80))

	gotHdr, body, err := readOneFrame(t, b)
	require.NoError(t, err)
	out, err := Parse(gotHdr, body)
	require.NoError(t, err)
	assert.Equal(t, "sensors/temp", out.Publish.TopicName)
	assert.Equal(t, []byte("21.5"), out.Payload)
	assert.Equal(t, QoS0, out.Header.Flags().QoS())
}

func TestSerializeParsePublishQoS1RoundTrip(t *testing.T) {
	flags, err := newPublishFlags(QoS1, false, true)
	require.NoError(t, err)
	hdr, err := NewHeader(PacketPublish, flags, 0)
	require.NoError(t, err)
	pkt := Packet{
		Header:  hdr,
		Publish: VariablesPublish{TopicName: "a/b", PacketIdentifier: 42},
		Payload: []byte("hi"),
	}
	b, err := Serialize(pkt)
	require.NoError(t, err)
	gotHdr, body, err := readOneFrame(t, b)
	require.NoError(t, err)
	out, err := Parse(gotHdr, body)
	require.NoError(t, err)
	assert.Equal(t, uint16(42), out.Publish.PacketIdentifier)
	assert.True(t, out.Header.Flags().Retain())
	assert.Equal(t, QoS1, out.Header.Flags().QoS())
}

func TestSerializePublishRejectsWildcardTopic(t *testing.T) {
	hdr, err := NewHeader(PacketPublish, 0, 0)
	require.NoError(t, err)
	_, err = Serialize(Packet{Header: hdr, Publish: VariablesPublish{TopicName: "a/+/c"}})
	require.Error(t, err)
}

func TestSerializePublishRejectsDupOnQoS0(t *testing.T) {
	_, err := newPublishFlags(QoS0, true, false)
	require.Error(t, err)
}

func TestConnectSerializeParseRoundTrip(t *testing.T) {
	hdr, err := NewHeader(PacketConnect, 0, 0)
	require.NoError(t, err)
	pkt := Packet{Header: hdr, Connect: VariablesConnect{
		ClientID:     "device-1",
		CleanSession: true,
		KeepAlive:    60,
		Username:     "alice",
		Password:     "secret",
		WillTopic:    "devices/device-1/status",
		WillMessage:  []byte("offline"),
		WillQoS:      QoS1,
	}}
	b, err := Serialize(pkt)
	require.NoError(t, err)
	gotHdr, body, err := readOneFrame(t, b)
	require.NoError(t, err)
	out, err := Parse(gotHdr, body)
	require.NoError(t, err)
	assert.Equal(t, "device-1", out.Connect.ClientID)
	assert.True(t, out.Connect.CleanSession)
	assert.Equal(t, "alice", out.Connect.Username)
	assert.Equal(t, "secret", out.Connect.Password)
	assert.Equal(t, "devices/device-1/status", out.Connect.WillTopic)
	assert.Equal(t, QoS1, out.Connect.WillQoS)
}

func TestSubackParsesFailureCode(t *testing.T) {
	body := []byte{0x00, 0x01, byte(QoS1), byte(QoSSubfail)}
	vs, err := parseSuback(body)
	require.NoError(t, err)
	require.Len(t, vs.ReturnCodes, 2)
	assert.False(t, vs.ReturnCodes[0] == QoSSubfail)
	assert.True(t, vs.ReturnCodes[1] == QoSSubfail)
}

// readOneFrame exercises the same fixed-header-then-body split the Framer
// performs, directly against an in-memory buffer, so codec tests don't need
// a Transport.
func readOneFrame(t *testing.T, b []byte) (Header, []byte, error) {
	t.Helper()
	pt := PacketType(b[0] >> 4)
	flags := PacketFlags(b[0] & 0b1111)
	remlen, n, err := decodeVarint(b[1:])
	require.NoError(t, err)
	hdr, err := NewHeader(pt, flags, remlen)
	require.NoError(t, err)
	body := b[1+n:]
	return hdr, body, nil
}
