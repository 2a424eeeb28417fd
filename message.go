package mqtt

// Message is the application-level view of a PUBLISH: a topic, an opaque
// payload, and the delivery parameters MQTT attaches to it.
type Message struct {
	// Topic the message was published to. Non-empty, no wildcards when
	// publishing (wildcards are only meaningful in a Subscription filter).
	Topic string
	// Payload is an opaque byte sequence; may be empty.
	Payload []byte
	// QoS is the delivery guarantee: QoS0, QoS1 or QoS2.
	QoS QoSLevel
	// Retain asks the broker to keep this message as the "last known good"
	// value for Topic, delivered to future subscribers immediately.
	Retain bool
	// Duplicate is protocol-managed: set by the engine on a PUBLISH
	// retransmission, never set by the caller constructing an outbound
	// Message.
	Duplicate bool
}

// Subscription is one entry of a SUBSCRIBE request: a topic filter and the
// maximum QoS the caller is willing to receive on it.
type Subscription struct {
	// Filter is a topic filter: a bare topic or a pattern using the
	// single-level '+' and multi-level '#' wildcards.
	Filter string
	// MaxQoS is the requested maximum QoS; the broker may grant a lower one.
	MaxQoS QoSLevel
}

// SubscriptionResult is the broker's answer to one Subscription entry: the
// QoS it was granted, or failure.
type SubscriptionResult struct {
	// Granted is the QoS the broker actually granted. Meaningless if Failed.
	Granted QoSLevel
	// Failed reports a SUBACK return code of 0x80 for this topic filter.
	Failed bool
}
