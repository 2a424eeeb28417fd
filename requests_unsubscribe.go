package mqtt

import "time"

// unsubscribeRequest issues UNSUBSCRIBE and waits for UNSUBACK. Shares
// subscribeRequest's no-resume-across-reconnect behavior.
type unsubscribeRequest struct {
	topics  []string
	timeout time.Duration
	id      uint16
}

func newUnsubscribeRequest(topics []string, timeout time.Duration) Request {
	return &unsubscribeRequest{topics: topics, timeout: timeout}
}

func (r *unsubscribeRequest) CanStartInactive() bool { return false }

func (r *unsubscribeRequest) Start(ctx *RequestContext) RequestResult {
	id, ok := ctx.AllocateID()
	if !ok {
		return Failure(ErrNoAvailablePacketIdentifier)
	}
	r.id = id
	err := ctx.Emit(Packet{
		Header:      mustHeader(PacketUnsubscribe, reservedControlFlags),
		Unsubscribe: VariablesUnsubscribe{PacketIdentifier: r.id, Topics: r.topics},
	})
	if err != nil {
		return Failure(err)
	}
	ctx.ScheduleTimer(r.timeout)
	return Pending()
}

func (r *unsubscribeRequest) OnPacket(ctx *RequestContext, pkt Packet) RequestResult {
	if pkt.Header.Type() != PacketUnsuback || pkt.Header.PacketIdentifier != r.id {
		return Pending()
	}
	ctx.CancelTimer()
	return Success(nil)
}

func (r *unsubscribeRequest) OnConnected(ctx *RequestContext, sessionPresent bool) RequestResult {
	return Pending()
}

func (r *unsubscribeRequest) OnDisconnected(ctx *RequestContext) RequestResult {
	return Failure(ErrConnectionClosed)
}

func (r *unsubscribeRequest) OnTimer(ctx *RequestContext) RequestResult {
	return Failure(ErrTimeout)
}
