package mqtt

import (
	"bufio"
	"io"
	"time"
)

// Framer reads whole MQTT control packets (fixed header plus
// remaining-length-delimited body) from a Transport and buffers outbound
// bytes for a single flush per dispatch round, per spec §4.3 ("each
// dispatch round collects writes ... and issues a single flush at round
// end"). It is the leaf component of the pipeline: it knows nothing about
// packet semantics, only packet boundaries.
type Framer struct {
	r *bufio.Reader
	w *bufio.Writer
	t Transport

	lastWrite time.Time
	dirty     bool
}

// NewFramer wraps t for packet-boundary framing. bufSize sizes both the
// read and write buffers; 0 selects bufio's default. lastWrite starts at
// construction time, which doubles as the "just connected" write event for
// keep-alive idleness tracking (the CONNECT packet follows immediately).
func NewFramer(t Transport, bufSize int) *Framer {
	f := &Framer{t: t, lastWrite: time.Now()}
	if bufSize > 0 {
		f.r = bufio.NewReaderSize(t, bufSize)
		f.w = bufio.NewWriterSize(t, bufSize)
	} else {
		f.r = bufio.NewReader(t)
		f.w = bufio.NewWriter(t)
	}
	return f
}

// ReadPacket blocks until a complete packet's bytes are available, then
// returns its fixed header and remaining-length body, ready for Parse.
func (f *Framer) ReadPacket() (Header, []byte, error) {
	firstByte, err := f.r.ReadByte()
	if err != nil {
		return Header{}, nil, err
	}
	var lenBuf [maxRemainingLengthSize]byte
	n := 0
	for {
		b, err := f.r.ReadByte()
		if err != nil {
			return Header{}, nil, err
		}
		if n >= maxRemainingLengthSize {
			return Header{}, nil, &ProtocolError{Kind: MalformedPacket, reason: "remaining length varint exceeds 4 bytes"}
		}
		lenBuf[n] = b
		n++
		if b&0x80 == 0 {
			break
		}
	}
	remlen, _, err := decodeVarint(lenBuf[:n])
	if err != nil {
		return Header{}, nil, err
	}
	pt := PacketType(firstByte >> 4)
	if pt == 0 || pt > PacketDisconnect {
		return Header{}, nil, &ProtocolError{Kind: UnknownPacketType}
	}
	flags := PacketFlags(firstByte & 0b1111)
	if err := pt.validateFlags(flags); err != nil {
		return Header{}, nil, err
	}
	hdr := Header{firstByte: firstByte, RemainingLength: remlen}
	body := make([]byte, remlen)
	if _, err := io.ReadFull(f.r, body); err != nil {
		return Header{}, nil, err
	}
	return hdr, body, nil
}

// WritePacket buffers the already-serialized bytes of one packet. It does
// not flush: the Request Engine calls Flush once per dispatch round so that
// several packets emitted by one event reach the wire as a single write.
func (f *Framer) WritePacket(encoded []byte) error {
	_, err := f.w.Write(encoded)
	f.dirty = true
	return err
}

// Flush writes any buffered packets to the transport, and if anything was
// buffered since the last Flush, stamps LastWrite for keep-alive idleness
// tracking (spec §4.5).
func (f *Framer) Flush() error {
	if f.dirty {
		f.lastWrite = time.Now()
		f.dirty = false
	}
	return f.w.Flush()
}

// LastWrite returns when this Framer last flushed a non-empty write to the
// transport (or its construction time, if nothing has been written yet).
func (f *Framer) LastWrite() time.Time { return f.lastWrite }

// Close closes the underlying transport.
func (f *Framer) Close() error { return f.t.Close() }
