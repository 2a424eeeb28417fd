package mqtt

import "time"

// subscribeRequest issues SUBSCRIBE and waits for SUBACK. Per the resolved
// design question of whether a pending subscribe should resume across a
// reconnect: it does not. A dropped connection fails the request outright
// (ErrConnectionClosed) rather than silently re-submitting -- the caller
// already has everything needed to retry, and re-submitting behind its back
// would risk a second SUBSCRIBE racing a reconnect-triggered session resume.
type subscribeRequest struct {
	subs    []Subscription
	timeout time.Duration
	id      uint16
}

func newSubscribeRequest(subs []Subscription, timeout time.Duration) Request {
	return &subscribeRequest{subs: subs, timeout: timeout}
}

func (r *subscribeRequest) CanStartInactive() bool { return false }

func (r *subscribeRequest) Start(ctx *RequestContext) RequestResult {
	id, ok := ctx.AllocateID()
	if !ok {
		return Failure(ErrNoAvailablePacketIdentifier)
	}
	r.id = id
	filters := make([]SubscribeRequest, len(r.subs))
	for i, s := range r.subs {
		filters[i] = SubscribeRequest{TopicFilter: s.Filter, QoS: s.MaxQoS}
	}
	err := ctx.Emit(Packet{
		Header:    mustHeader(PacketSubscribe, reservedControlFlags),
		Subscribe: VariablesSubscribe{PacketIdentifier: r.id, TopicFilters: filters},
	})
	if err != nil {
		return Failure(err)
	}
	ctx.ScheduleTimer(r.timeout)
	return Pending()
}

func (r *subscribeRequest) OnPacket(ctx *RequestContext, pkt Packet) RequestResult {
	if pkt.Header.Type() != PacketSuback || pkt.Header.PacketIdentifier != r.id {
		return Pending()
	}
	ctx.CancelTimer()
	results := make([]SubscriptionResult, len(pkt.Suback.ReturnCodes))
	for i, rc := range pkt.Suback.ReturnCodes {
		results[i] = SubscriptionResult{Granted: rc, Failed: rc == QoSSubfail}
	}
	return Success(results)
}

func (r *subscribeRequest) OnConnected(ctx *RequestContext, sessionPresent bool) RequestResult {
	return Pending()
}

func (r *subscribeRequest) OnDisconnected(ctx *RequestContext) RequestResult {
	return Failure(ErrConnectionClosed)
}

func (r *subscribeRequest) OnTimer(ctx *RequestContext) RequestResult {
	return Failure(ErrTimeout)
}
