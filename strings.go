package mqtt

import (
	"encoding/binary"
	"unicode/utf8"
)

// putUint16 big-endian encodes v into b[:2].
func putUint16(b []byte, v uint16) { binary.BigEndian.PutUint16(b, v) }

// getUint16 big-endian decodes b[:2].
func getUint16(b []byte) uint16 { return binary.BigEndian.Uint16(b) }

// mqttStringSize returns the on-wire size of s as an MQTT encoded string:
// a 2 byte big-endian length prefix followed by the UTF-8 bytes.
func mqttStringSize(s []byte) int { return 2 + len(s) }

// putMQTTString writes s's length-prefixed encoding to b, returning the
// number of bytes written.
func putMQTTString(b []byte, s []byte) int {
	putUint16(b, uint16(len(s)))
	n := 2 + copy(b[2:], s)
	return n
}

// decodeMQTTString reads a length-prefixed UTF-8 string from the front of
// b, returning the string bytes (a sub-slice of b, not copied), bytes
// consumed, and a MalformedString ProtocolError if validation fails.
func decodeMQTTString(b []byte) (s []byte, n int, err error) {
	if len(b) < 2 {
		return nil, 0, &ProtocolError{Kind: MalformedPacket, reason: "truncated string length"}
	}
	strlen := int(getUint16(b))
	if len(b) < 2+strlen {
		return nil, 0, &ProtocolError{Kind: MalformedPacket, reason: "truncated string"}
	}
	s = b[2 : 2+strlen]
	if !utf8.Valid(s) {
		return nil, 0, &ProtocolError{Kind: MalformedString, reason: "not valid UTF-8"}
	}
	return s, 2 + strlen, nil
}
