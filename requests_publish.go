package mqtt

import "time"

// publishFlags builds the PUBLISH fixed-header flags for msg. msg.QoS is
// validated by the caller constructing the request (client.Publish), so a
// failure here would mean that validation was skipped.
func publishFlags(msg Message, dup bool) PacketFlags {
	f, err := newPublishFlags(msg.QoS, dup, msg.Retain)
	if err != nil {
		panic(err)
	}
	return f
}

// newPublishRequest builds the Request for msg. QoS0 is fire-and-forget with
// no packet identifier and no retransmission; QoS1/QoS2 get the full
// retry-until-acknowledged state machine below.
func newPublishRequest(msg Message, retryInterval time.Duration) Request {
	if msg.QoS == QoS0 {
		return &publishQoS0Request{msg: msg}
	}
	return &publishRequest{msg: msg, retryInterval: retryInterval, state: initialPublishState(msg.QoS)}
}

// initialPublishState returns the handshake's first stage for qos: QoS1 has
// only one stage (awaiting PUBACK); QoS2 starts by awaiting PUBREC.
func initialPublishState(qos QoSLevel) publishState {
	if qos == QoS2 {
		return publishAwaitingPubrec
	}
	return publishAwaitingPuback
}

type publishQoS0Request struct {
	msg Message
}

func (r *publishQoS0Request) CanStartInactive() bool { return false }

func (r *publishQoS0Request) Start(ctx *RequestContext) RequestResult {
	err := ctx.Emit(Packet{
		Header:  mustHeader(PacketPublish, publishFlags(r.msg, false)),
		Publish: VariablesPublish{TopicName: r.msg.Topic},
		Payload: r.msg.Payload,
	})
	if err != nil {
		return Failure(err)
	}
	return Success(nil)
}

func (r *publishQoS0Request) OnPacket(ctx *RequestContext, pkt Packet) RequestResult {
	return Pending()
}
func (r *publishQoS0Request) OnConnected(ctx *RequestContext, sessionPresent bool) RequestResult {
	return Pending()
}
func (r *publishQoS0Request) OnDisconnected(ctx *RequestContext) RequestResult { return Pending() }
func (r *publishQoS0Request) OnTimer(ctx *RequestContext) RequestResult       { return Pending() }

// publishState tracks where a QoS1/QoS2 publish is in its handshake.
type publishState uint8

const (
	publishAwaitingPuback publishState = iota
	publishAwaitingPubrec
	publishAwaitingPubcomp
)

// publishRequest is the at-least-once (QoS1) / exactly-once (QoS2) PUBLISH
// state machine: it owns a packet identifier for its whole lifetime, retries
// on its own timer until acknowledged, and carries the handshake across a
// reconnect rather than abandoning the in-flight attempt: it re-emits its
// current stage (PUBLISH with DUP set) when the broker kept the session, and
// restarts from the first stage with DUP clear when it did not (see
// OnConnected). This is the one request kind where losing the connection
// does not fail the caller.
type publishRequest struct {
	msg           Message
	retryInterval time.Duration
	state         publishState
	id            uint16
}

func (r *publishRequest) CanStartInactive() bool { return false }

func (r *publishRequest) Start(ctx *RequestContext) RequestResult {
	id, ok := ctx.AllocateID()
	if !ok {
		return Failure(ErrNoAvailablePacketIdentifier)
	}
	r.id = id
	return r.emitPublish(ctx, false)
}

func (r *publishRequest) emitPublish(ctx *RequestContext, dup bool) RequestResult {
	err := ctx.Emit(Packet{
		Header:  mustHeader(PacketPublish, publishFlags(r.msg, dup)),
		Publish: VariablesPublish{TopicName: r.msg.Topic, PacketIdentifier: r.id},
		Payload: r.msg.Payload,
	})
	if err != nil {
		return Failure(err)
	}
	if r.retryInterval > 0 {
		ctx.ScheduleTimer(r.retryInterval)
	}
	return Pending()
}

func (r *publishRequest) emitPubrel(ctx *RequestContext) RequestResult {
	err := ctx.Emit(Packet{Header: mustHeader(PacketPubrel, reservedControlFlags), PacketIdentifier: r.id})
	if err != nil {
		return Failure(err)
	}
	if r.retryInterval > 0 {
		ctx.ScheduleTimer(r.retryInterval)
	}
	return Pending()
}

func (r *publishRequest) OnPacket(ctx *RequestContext, pkt Packet) RequestResult {
	if pkt.Header.PacketIdentifier != r.id {
		return Pending()
	}
	switch r.state {
	case publishAwaitingPuback:
		if pkt.Header.Type() == PacketPuback {
			ctx.CancelTimer()
			return Success(nil)
		}
	case publishAwaitingPubrec:
		if pkt.Header.Type() == PacketPubrec {
			ctx.CancelTimer()
			r.state = publishAwaitingPubcomp
			return r.emitPubrel(ctx)
		}
	case publishAwaitingPubcomp:
		if pkt.Header.Type() == PacketPubcomp {
			ctx.CancelTimer()
			return Success(nil)
		}
	}
	return Pending()
}

// OnConnected resumes the handshake across a reconnect. Per spec §4.4: with
// sessionPresent the broker retained our last known state, so the current
// stage is retransmitted unchanged (PUBREL) or with dup=true (PUBLISH);
// without it the broker has no memory of this delivery, so the whole
// handshake restarts from its first stage with dup=false, exactly as if
// this were a brand new publish.
func (r *publishRequest) OnConnected(ctx *RequestContext, sessionPresent bool) RequestResult {
	if !sessionPresent {
		r.state = initialPublishState(r.msg.QoS)
		return r.emitPublish(ctx, false)
	}
	if r.state == publishAwaitingPubcomp {
		return r.emitPubrel(ctx)
	}
	return r.emitPublish(ctx, true)
}

func (r *publishRequest) OnDisconnected(ctx *RequestContext) RequestResult {
	ctx.CancelTimer()
	return Pending()
}

func (r *publishRequest) OnTimer(ctx *RequestContext) RequestResult {
	if r.state == publishAwaitingPubcomp {
		return r.emitPubrel(ctx)
	}
	return r.emitPublish(ctx, true)
}
