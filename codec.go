package mqtt

import "strings"

// Serialize encodes an outbound Packet to bytes, fixed header included. It
// performs no I/O: the caller (the Framer) is responsible for writing the
// result to the transport. Serialize computes the fixed header's remaining
// length from the variable header/payload it is about to emit, so callers
// need only fill in Packet's typed fields, not Header.RemainingLength.
func Serialize(p Packet) ([]byte, error) {
	pt := p.Header.Type()
	switch pt {
	case PacketConnect:
		return serializeConnect(&p.Connect)
	case PacketConnack:
		return serializeConnack(p.Connack)
	case PacketPublish:
		return serializePublish(p.Header.Flags(), p.Publish, p.Payload)
	case PacketSubscribe:
		return serializeSubscribe(p.Subscribe)
	case PacketUnsubscribe:
		return serializeUnsubscribe(p.Unsubscribe)
	case PacketPuback, PacketPubrec, PacketPubrel, PacketPubcomp, PacketUnsuback:
		return serializeIdentifierOnly(pt, p.PacketIdentifier)
	case PacketPingreq, PacketPingresp, PacketDisconnect:
		return serializeNoVariableHeader(pt)
	default:
		return nil, &ProtocolError{Kind: UnknownPacketType}
	}
}

// Parse decodes a complete MQTT packet -- fixed header already consumed by
// the Framer into hdr, the remaining-length bytes that follow it in body --
// into an inbound Packet. Parse performs no I/O and holds no state across
// calls.
func Parse(hdr Header, body []byte) (Packet, error) {
	if uint32(len(body)) != hdr.RemainingLength {
		return Packet{}, &ProtocolError{Kind: MalformedPacket, reason: "body length does not match remaining length"}
	}
	p := Packet{Header: hdr}
	var err error
	switch hdr.Type() {
	case PacketConnect:
		p.Connect, err = parseConnect(body)
	case PacketConnack:
		p.Connack, err = parseConnack(body)
	case PacketPublish:
		p.Publish, p.Payload, err = parsePublish(hdr.Flags().QoS(), body)
		if err == nil {
			hdr.PacketIdentifier = p.Publish.PacketIdentifier
			p.Header = hdr
		}
	case PacketSubscribe:
		p.Subscribe, err = parseSubscribe(body)
		hdr.PacketIdentifier = p.Subscribe.PacketIdentifier
		p.Header = hdr
	case PacketSuback:
		p.Suback, err = parseSuback(body)
		hdr.PacketIdentifier = p.Suback.PacketIdentifier
		p.Header = hdr
	case PacketUnsubscribe:
		p.Unsubscribe, err = parseUnsubscribe(body)
		hdr.PacketIdentifier = p.Unsubscribe.PacketIdentifier
		p.Header = hdr
	case PacketPuback, PacketPubrec, PacketPubrel, PacketPubcomp, PacketUnsuback:
		if len(body) != 2 {
			return Packet{}, &ProtocolError{Kind: MalformedPacket, reason: "expected 2 byte packet identifier"}
		}
		p.PacketIdentifier = getUint16(body)
		if p.PacketIdentifier == 0 {
			return Packet{}, &ProtocolError{Kind: MalformedPacket, reason: "zero packet identifier"}
		}
		hdr.PacketIdentifier = p.PacketIdentifier
		p.Header = hdr
	case PacketPingreq, PacketPingresp, PacketDisconnect:
		if len(body) != 0 {
			err = &ProtocolError{Kind: MalformedPacket, reason: hdr.Type().String() + " must have no variable header"}
		}
	default:
		err = &ProtocolError{Kind: UnknownPacketType}
	}
	if err != nil {
		return Packet{}, err
	}
	return p, nil
}

func serializeConnect(vc *VariablesConnect) ([]byte, error) {
	protoLevel := vc.ProtocolLevel
	if protoLevel == 0 {
		protoLevel = defaultProtocolLevel
	}
	if vc.ClientID == "" {
		return nil, &ProtocolError{Kind: MalformedPacket, reason: "CONNECT requires a non-empty ClientID"}
	}
	remlen := 10 + mqttStringSize([]byte(vc.ClientID))
	if vc.willFlag() {
		remlen += mqttStringSize([]byte(vc.WillTopic)) + mqttStringSize(vc.WillMessage)
	}
	if vc.Username != "" {
		remlen += mqttStringSize([]byte(vc.Username))
		if vc.Password != "" {
			remlen += mqttStringSize([]byte(vc.Password))
		}
	}
	hdr, err := NewHeader(PacketConnect, 0, uint32(remlen))
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 2+varintSize(hdr.RemainingLength)+remlen)
	n := putFixedHeader(buf, hdr)
	n += copy(buf[n:], "\x00\x04MQTT")
	buf[n] = protoLevel
	buf[n+1] = vc.flags()
	putUint16(buf[n+2:], vc.KeepAlive)
	n += 4
	n += putMQTTString(buf[n:], []byte(vc.ClientID))
	if vc.willFlag() {
		n += putMQTTString(buf[n:], []byte(vc.WillTopic))
		n += putMQTTString(buf[n:], vc.WillMessage)
	}
	if vc.Username != "" {
		n += putMQTTString(buf[n:], []byte(vc.Username))
		if vc.Password != "" {
			n += putMQTTString(buf[n:], []byte(vc.Password))
		}
	}
	return buf[:n], nil
}

func parseConnect(body []byte) (VariablesConnect, error) {
	if len(body) < 10 {
		return VariablesConnect{}, &ProtocolError{Kind: MalformedPacket, reason: "CONNECT variable header truncated"}
	}
	if string(body[2:6]) != defaultProtocol {
		return VariablesConnect{}, &ProtocolError{Kind: MalformedPacket, reason: "unsupported protocol name"}
	}
	level := body[6]
	flags := body[7]
	keepAlive := getUint16(body[8:10])
	off := 10
	vc := VariablesConnect{
		ProtocolLevel: level,
		CleanSession:  flags&0b10 != 0,
		KeepAlive:     keepAlive,
	}
	clientID, n, err := decodeMQTTString(body[off:])
	if err != nil {
		return VariablesConnect{}, err
	}
	vc.ClientID = string(clientID)
	off += n
	willFlag := flags&0b100 != 0
	if willFlag {
		vc.WillQoS = QoSLevel((flags >> 3) & 0b11)
		vc.WillRetain = flags&0b100000 != 0
		topic, n, err := decodeMQTTString(body[off:])
		if err != nil {
			return VariablesConnect{}, err
		}
		vc.WillTopic = string(topic)
		off += n
		msg, n, err := decodeMQTTString(body[off:])
		if err != nil {
			return VariablesConnect{}, err
		}
		vc.WillMessage = append([]byte(nil), msg...)
		off += n
	}
	if flags&0b10000000 != 0 {
		user, n, err := decodeMQTTString(body[off:])
		if err != nil {
			return VariablesConnect{}, err
		}
		vc.Username = string(user)
		off += n
		if flags&0b1000000 != 0 {
			pass, n, err := decodeMQTTString(body[off:])
			if err != nil {
				return VariablesConnect{}, err
			}
			vc.Password = string(pass)
			off += n
		}
	}
	return vc, nil
}

func serializeConnack(vc VariablesConnack) ([]byte, error) {
	hdr, err := NewHeader(PacketConnack, 0, 2)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 2+varintSize(hdr.RemainingLength)+2)
	n := putFixedHeader(buf, hdr)
	buf[n] = b2u8(vc.SessionPresent)
	buf[n+1] = byte(vc.ReturnCode)
	return buf[:n+2], nil
}

func parseConnack(body []byte) (VariablesConnack, error) {
	if len(body) != 2 {
		return VariablesConnack{}, &ProtocolError{Kind: MalformedPacket, reason: "CONNACK must be 2 bytes"}
	}
	if body[0]&^1 != 0 {
		return VariablesConnack{}, &ProtocolError{Kind: MalformedPacket, reason: "CONNACK ack flag reserved bits set"}
	}
	return VariablesConnack{SessionPresent: body[0]&1 != 0, ReturnCode: ConnectReturnCode(body[1])}, nil
}

func serializePublish(flags PacketFlags, vp VariablesPublish, payload []byte) ([]byte, error) {
	qos := flags.QoS()
	if isWildcardFilter(vp.TopicName) {
		return nil, &ProtocolError{Kind: MalformedPacket, reason: "PUBLISH topic must not contain wildcards"}
	}
	if flags.Dup() && qos == QoS0 {
		return nil, &ProtocolError{Kind: InvalidFlags, reason: "DUP set on QoS0 PUBLISH"}
	}
	if qos != QoS0 && vp.PacketIdentifier == 0 {
		return nil, &ProtocolError{Kind: MalformedPacket, reason: "QoS>0 PUBLISH requires non-zero packet identifier"}
	}
	remlen := mqttStringSize([]byte(vp.TopicName)) + len(payload)
	if qos != QoS0 {
		remlen += 2
	}
	hdr, err := NewHeader(PacketPublish, flags, uint32(remlen))
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 2+varintSize(hdr.RemainingLength)+remlen)
	n := putFixedHeader(buf, hdr)
	n += putMQTTString(buf[n:], []byte(vp.TopicName))
	if qos != QoS0 {
		putUint16(buf[n:], vp.PacketIdentifier)
		n += 2
	}
	n += copy(buf[n:], payload)
	return buf[:n], nil
}

func parsePublish(qos QoSLevel, body []byte) (VariablesPublish, []byte, error) {
	topic, n, err := decodeMQTTString(body)
	if err != nil {
		return VariablesPublish{}, nil, err
	}
	if len(topic) == 0 {
		return VariablesPublish{}, nil, &ProtocolError{Kind: MalformedPacket, reason: "empty PUBLISH topic"}
	}
	if isWildcardFilter(string(topic)) {
		return VariablesPublish{}, nil, &ProtocolError{Kind: MalformedPacket, reason: "PUBLISH topic must not contain wildcards"}
	}
	vp := VariablesPublish{TopicName: string(topic)}
	if qos != QoS0 {
		if len(body) < n+2 {
			return VariablesPublish{}, nil, &ProtocolError{Kind: MalformedPacket, reason: "truncated packet identifier"}
		}
		vp.PacketIdentifier = getUint16(body[n:])
		if vp.PacketIdentifier == 0 {
			return VariablesPublish{}, nil, &ProtocolError{Kind: MalformedPacket, reason: "zero packet identifier"}
		}
		n += 2
	}
	return vp, append([]byte(nil), body[n:]...), nil
}

func serializeSubscribe(vs VariablesSubscribe) ([]byte, error) {
	if len(vs.TopicFilters) == 0 {
		return nil, &ProtocolError{Kind: MalformedPacket, reason: "SUBSCRIBE requires at least one topic filter"}
	}
	if vs.PacketIdentifier == 0 {
		return nil, &ProtocolError{Kind: MalformedPacket, reason: "SUBSCRIBE requires non-zero packet identifier"}
	}
	remlen := 2
	for _, tf := range vs.TopicFilters {
		remlen += mqttStringSize([]byte(tf.TopicFilter)) + 1
	}
	hdr, err := NewHeader(PacketSubscribe, 0, uint32(remlen))
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 2+varintSize(hdr.RemainingLength)+remlen)
	n := putFixedHeader(buf, hdr)
	putUint16(buf[n:], vs.PacketIdentifier)
	n += 2
	for _, tf := range vs.TopicFilters {
		n += putMQTTString(buf[n:], []byte(tf.TopicFilter))
		buf[n] = byte(tf.QoS & 0b11)
		n++
	}
	return buf[:n], nil
}

func parseSubscribe(body []byte) (VariablesSubscribe, error) {
	if len(body) < 2 {
		return VariablesSubscribe{}, &ProtocolError{Kind: MalformedPacket, reason: "SUBSCRIBE truncated"}
	}
	vs := VariablesSubscribe{PacketIdentifier: getUint16(body)}
	if vs.PacketIdentifier == 0 {
		return VariablesSubscribe{}, &ProtocolError{Kind: MalformedPacket, reason: "zero packet identifier"}
	}
	off := 2
	for off < len(body) {
		filter, n, err := decodeMQTTString(body[off:])
		if err != nil {
			return VariablesSubscribe{}, err
		}
		off += n
		if off >= len(body) {
			return VariablesSubscribe{}, &ProtocolError{Kind: MalformedPacket, reason: "SUBSCRIBE missing requested QoS"}
		}
		qos := QoSLevel(body[off])
		off++
		if qos > QoS2 {
			return VariablesSubscribe{}, &ProtocolError{Kind: InvalidQoS}
		}
		vs.TopicFilters = append(vs.TopicFilters, SubscribeRequest{TopicFilter: string(filter), QoS: qos})
	}
	if len(vs.TopicFilters) == 0 {
		return VariablesSubscribe{}, &ProtocolError{Kind: MalformedPacket, reason: "SUBSCRIBE requires at least one topic filter"}
	}
	return vs, nil
}

func parseSuback(body []byte) (VariablesSuback, error) {
	if len(body) < 3 {
		return VariablesSuback{}, &ProtocolError{Kind: MalformedPacket, reason: "SUBACK truncated"}
	}
	vs := VariablesSuback{PacketIdentifier: getUint16(body)}
	if vs.PacketIdentifier == 0 {
		return VariablesSuback{}, &ProtocolError{Kind: MalformedPacket, reason: "zero packet identifier"}
	}
	for _, rc := range body[2:] {
		qos := QoSLevel(rc)
		if !qos.IsValid() && qos != QoSSubfail {
			return VariablesSuback{}, &ProtocolError{Kind: InvalidQoS}
		}
		vs.ReturnCodes = append(vs.ReturnCodes, qos)
	}
	return vs, nil
}

func serializeUnsubscribe(vu VariablesUnsubscribe) ([]byte, error) {
	if len(vu.Topics) == 0 {
		return nil, &ProtocolError{Kind: MalformedPacket, reason: "UNSUBSCRIBE requires at least one topic"}
	}
	if vu.PacketIdentifier == 0 {
		return nil, &ProtocolError{Kind: MalformedPacket, reason: "UNSUBSCRIBE requires non-zero packet identifier"}
	}
	remlen := 2
	for _, t := range vu.Topics {
		remlen += mqttStringSize([]byte(t))
	}
	hdr, err := NewHeader(PacketUnsubscribe, 0, uint32(remlen))
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 2+varintSize(hdr.RemainingLength)+remlen)
	n := putFixedHeader(buf, hdr)
	putUint16(buf[n:], vu.PacketIdentifier)
	n += 2
	for _, t := range vu.Topics {
		n += putMQTTString(buf[n:], []byte(t))
	}
	return buf[:n], nil
}

func parseUnsubscribe(body []byte) (VariablesUnsubscribe, error) {
	if len(body) < 2 {
		return VariablesUnsubscribe{}, &ProtocolError{Kind: MalformedPacket, reason: "UNSUBSCRIBE truncated"}
	}
	vu := VariablesUnsubscribe{PacketIdentifier: getUint16(body)}
	if vu.PacketIdentifier == 0 {
		return VariablesUnsubscribe{}, &ProtocolError{Kind: MalformedPacket, reason: "zero packet identifier"}
	}
	off := 2
	for off < len(body) {
		topic, n, err := decodeMQTTString(body[off:])
		if err != nil {
			return VariablesUnsubscribe{}, err
		}
		vu.Topics = append(vu.Topics, string(topic))
		off += n
	}
	if len(vu.Topics) == 0 {
		return VariablesUnsubscribe{}, &ProtocolError{Kind: MalformedPacket, reason: "UNSUBSCRIBE requires at least one topic"}
	}
	return vu, nil
}

func serializeIdentifierOnly(pt PacketType, id uint16) ([]byte, error) {
	if id == 0 {
		return nil, &ProtocolError{Kind: MalformedPacket, reason: pt.String() + " requires non-zero packet identifier"}
	}
	flags := PacketFlags(0)
	if pt == PacketPubrel {
		flags = reservedControlFlags
	}
	hdr, err := NewHeader(pt, flags, 2)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 2+varintSize(hdr.RemainingLength)+2)
	n := putFixedHeader(buf, hdr)
	putUint16(buf[n:], id)
	return buf[:n+2], nil
}

func serializeNoVariableHeader(pt PacketType) ([]byte, error) {
	hdr, err := NewHeader(pt, 0, 0)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 2)
	n := putFixedHeader(buf, hdr)
	return buf[:n], nil
}

// putFixedHeader writes h's two-to-five byte fixed header into buf and
// returns the number of bytes written. buf must have room for at least
// 2+varintSize(h.RemainingLength) bytes.
func putFixedHeader(buf []byte, h Header) int {
	buf[0] = h.firstByte
	return 1 + putVarint(h.RemainingLength, buf[1:])
}

// reservedControlFlags is the fixed-header flag pattern MQTT-3.1.1 requires
// for PUBREL, SUBSCRIBE and UNSUBSCRIBE.
const reservedControlFlags PacketFlags = 0b0010

// isWildcardFilter reports whether s contains a '+' or '#' wildcard
// character, used to reject wildcards on a PUBLISH topic (which must be a
// concrete topic, never a filter).
func isWildcardFilter(s string) bool {
	return strings.IndexByte(s, '+') >= 0 || strings.IndexByte(s, '#') >= 0
}
