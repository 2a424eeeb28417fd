package mqtt

import "time"

// connectResult is what a successful Connect request hands back to the
// caller: whether the broker reported a retained session.
type connectResult struct {
	SessionPresent bool
}

// connectRequest issues CONNECT and waits for CONNACK. It is the one
// request kind the Supervisor submits directly rather than the Client.
type connectRequest struct {
	vars    VariablesConnect
	timeout time.Duration
}

func (r *connectRequest) CanStartInactive() bool { return true }

func (r *connectRequest) Start(ctx *RequestContext) RequestResult {
	err := ctx.Emit(Packet{Header: mustHeader(PacketConnect, 0), Connect: r.vars})
	if err != nil {
		return Failure(err)
	}
	ctx.ScheduleTimer(r.timeout)
	return Pending()
}

func (r *connectRequest) OnPacket(ctx *RequestContext, pkt Packet) RequestResult {
	if pkt.Header.Type() != PacketConnack {
		return Pending()
	}
	ctx.CancelTimer()
	if pkt.Connack.ReturnCode != ReturnCodeAccepted {
		return Failure(&ConnectionRefused{Code: pkt.Connack.ReturnCode})
	}
	return Success(connectResult{SessionPresent: pkt.Connack.SessionPresent})
}

func (r *connectRequest) OnConnected(ctx *RequestContext, sessionPresent bool) RequestResult {
	return Pending()
}

func (r *connectRequest) OnDisconnected(ctx *RequestContext) RequestResult {
	return Failure(ErrConnectionClosed)
}

func (r *connectRequest) OnTimer(ctx *RequestContext) RequestResult {
	return Failure(ErrTimeout)
}

// mustHeader builds a Header for packet types whose remaining length the
// Engine doesn't need to know ahead of Serialize (Serialize recomputes it);
// only Type/Flags matter at this call site, so a zero remaining length is a
// safe placeholder.
func mustHeader(pt PacketType, flags PacketFlags) Header {
	h, err := NewHeader(pt, flags, 0)
	if err != nil {
		// Only possible if pt is out of range, which every call site here
		// passes as a compile-time constant.
		panic(err)
	}
	return h
}
