package mqtt

// Packet is a tagged variant over the fourteen MQTT 3.1.1 control packet
// types the core exchanges with a broker. Exactly one of the typed fields
// below is meaningful for a given Header.Type(); the rest are zero values.
// This is the Go rendering of spec §3's "tagged variant over MQTT
// control-packet types" -- a sum type via a struct-of-optionals rather than
// an interface, since every variant is a plain value with no behavior of
// its own (behavior lives in the Request state machines, not the Packet).
type Packet struct {
	Header     Header
	Connect    VariablesConnect
	Connack    VariablesConnack
	Publish    VariablesPublish
	Subscribe  VariablesSubscribe
	Suback     VariablesSuback
	Unsubscribe VariablesUnsubscribe
	// PacketIdentifier duplicates Header.PacketIdentifier for the packet
	// types whose variable header is otherwise empty (PUBACK, PUBREC,
	// PUBREL, PUBCOMP, UNSUBACK) so callers never need to branch on type to
	// find it.
	PacketIdentifier uint16
	// Payload is the PUBLISH application payload. Only set when
	// Header.Type() == PacketPublish.
	Payload []byte
}

// VariablesConnect is the CONNECT variable header and payload. Every string
// field must be valid UTF-8 except Password, which MQTT permits as binary.
type VariablesConnect struct {
	// ClientID must be present and unique on the broker. 1-23 UTF-8 bytes
	// by the letter of the spec; most brokers allow more.
	ClientID string
	// ProtocolLevel is 4 for MQTT 3.1.1. Zero value defaults to 4 on encode.
	ProtocolLevel byte
	CleanSession  bool
	KeepAlive     uint16
	Username      string
	// Password may only be set if Username is also set (MQTT-3.1.2-22).
	Password    string
	WillTopic   string
	WillMessage []byte
	WillQoS     QoSLevel
	WillRetain  bool
}

// willFlag reports whether vc carries a Will message.
func (vc *VariablesConnect) willFlag() bool { return vc.WillTopic != "" }

// flags computes the eighth CONNECT packet byte (the "Connect Flags").
func (vc *VariablesConnect) flags() byte {
	hasUsername := vc.Username != ""
	hasPassword := hasUsername && vc.Password != ""
	will := vc.willFlag()
	return b2u8(hasUsername)<<7 | b2u8(hasPassword)<<6 |
		b2u8(vc.WillRetain)<<5 | byte(vc.WillQoS&0b11)<<3 |
		b2u8(will)<<2 | b2u8(vc.CleanSession)<<1
}

// VariablesConnack is the CONNACK variable header.
type VariablesConnack struct {
	SessionPresent bool
	ReturnCode     ConnectReturnCode
}

// VariablesPublish is the PUBLISH variable header (the payload itself lives
// in Packet.Payload, not here, since it's opaque to the codec).
type VariablesPublish struct {
	TopicName        string
	PacketIdentifier uint16
}

// SubscribeRequest is one topic filter / desired QoS pair inside a
// SUBSCRIBE packet's payload.
type SubscribeRequest struct {
	TopicFilter string
	QoS         QoSLevel
}

// VariablesSubscribe is the SUBSCRIBE variable header and payload.
type VariablesSubscribe struct {
	PacketIdentifier uint16
	TopicFilters     []SubscribeRequest
}

// VariablesSuback is the SUBACK variable header and payload: one return
// code per topic filter in the SUBSCRIBE being acknowledged, in order.
// QoSSubfail (0x80) marks a failed subscription.
type VariablesSuback struct {
	PacketIdentifier uint16
	ReturnCodes      []QoSLevel
}

// VariablesUnsubscribe is the UNSUBSCRIBE variable header and payload.
type VariablesUnsubscribe struct {
	PacketIdentifier uint16
	Topics           []string
}
