package mqtt

import "time"

// pingRequest sends one PINGREQ and waits for PINGRESP, failing with
// ErrKeepAliveTimeout if none arrives in time. The Supervisor is the only
// caller: it submits a fresh pingRequest each keep-alive interval and treats
// ErrKeepAliveTimeout as a dead connection (spec §4.5).
type pingRequest struct {
	timeout time.Duration
}

func newPingRequest(timeout time.Duration) Request {
	return &pingRequest{timeout: timeout}
}

func (r *pingRequest) CanStartInactive() bool { return false }

func (r *pingRequest) Start(ctx *RequestContext) RequestResult {
	err := ctx.Emit(Packet{Header: mustHeader(PacketPingreq, 0)})
	if err != nil {
		return Failure(err)
	}
	ctx.ScheduleTimer(r.timeout)
	return Pending()
}

func (r *pingRequest) OnPacket(ctx *RequestContext, pkt Packet) RequestResult {
	if pkt.Header.Type() != PacketPingresp {
		return Pending()
	}
	ctx.CancelTimer()
	return Success(nil)
}

func (r *pingRequest) OnConnected(ctx *RequestContext, sessionPresent bool) RequestResult {
	return Pending()
}

func (r *pingRequest) OnDisconnected(ctx *RequestContext) RequestResult {
	return Failure(ErrConnectionClosed)
}

func (r *pingRequest) OnTimer(ctx *RequestContext) RequestResult {
	return Failure(ErrKeepAliveTimeout)
}
