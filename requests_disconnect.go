package mqtt

// disconnectRequest sends DISCONNECT if the connection is Active and
// succeeds either way -- disconnecting an already-inactive client is not an
// error, it's a no-op. It never schedules a timer: DISCONNECT has no
// acknowledgement, the Supervisor closes the transport once this request
// completes.
type disconnectRequest struct{}

func newDisconnectRequest() Request { return &disconnectRequest{} }

func (r *disconnectRequest) CanStartInactive() bool { return true }

func (r *disconnectRequest) Start(ctx *RequestContext) RequestResult {
	if !ctx.Active() {
		return Success(nil)
	}
	if err := ctx.Emit(Packet{Header: mustHeader(PacketDisconnect, 0)}); err != nil {
		return Failure(err)
	}
	return Success(nil)
}

func (r *disconnectRequest) OnPacket(ctx *RequestContext, pkt Packet) RequestResult {
	return Pending()
}

func (r *disconnectRequest) OnConnected(ctx *RequestContext, sessionPresent bool) RequestResult {
	return Pending()
}

func (r *disconnectRequest) OnDisconnected(ctx *RequestContext) RequestResult {
	return Success(nil)
}

func (r *disconnectRequest) OnTimer(ctx *RequestContext) RequestResult {
	return Pending()
}
