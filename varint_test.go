package mqtt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVarintRoundTrip(t *testing.T) {
	cases := []uint32{0, 1, 127, 128, 16383, 16384, 2097151, 2097152, maxRemainingLengthValue}
	for _, v := range cases {
		buf := make([]byte, 4)
		n := putVarint(v, buf)
		got, consumed, err := decodeVarint(buf[:n])
		require.NoError(t, err)
		assert.Equal(t, v, got)
		assert.Equal(t, n, consumed)
	}
}

func TestVarintSizeBoundaries(t *testing.T) {
	assert.Equal(t, 1, varintSize(127))
	assert.Equal(t, 2, varintSize(128))
	// 268435455 (0x0fffffff) is MQTT 3.1.1's actual maximum Remaining Length:
	// pinned to the literal rather than derived from maxRemainingLengthValue
	// so this test still catches a wrong constant.
	assert.Equal(t, 4, varintSize(268435455))
	assert.Equal(t, 0, varintSize(268435456))
}

func TestNewHeaderRejectsOversizedRemainingLength(t *testing.T) {
	_, err := NewHeader(PacketPublish, 0, 268435456)
	require.Error(t, err)
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, MalformedPacket, perr.Kind)
}

func TestDecodeVarintTruncated(t *testing.T) {
	_, _, err := decodeVarint([]byte{0x80})
	require.Error(t, err)
}

func TestDecodeVarintTooLong(t *testing.T) {
	_, _, err := decodeVarint([]byte{0xff, 0xff, 0xff, 0xff, 0x01})
	require.Error(t, err)
}
