package mqtt

import "time"

// resultKind tags a RequestResult the way spec §3 describes: "pending (stay
// in-flight), success(value) (complete and remove), failure(error)
// (complete with error and remove)".
type resultKind uint8

const (
	resultPending resultKind = iota
	resultSuccess
	resultFailure
)

// RequestResult is returned by every Request callback.
type RequestResult struct {
	kind  resultKind
	value interface{}
	err   error
}

// Pending keeps the owning Entry in-flight.
func Pending() RequestResult { return RequestResult{kind: resultPending} }

// Success completes the owning Entry with value, removing it from the
// Engine.
func Success(value interface{}) RequestResult {
	return RequestResult{kind: resultSuccess, value: value}
}

// Failure completes the owning Entry with err, removing it from the Engine.
func Failure(err error) RequestResult {
	return RequestResult{kind: resultFailure, err: err}
}

// RequestContext is the capability a Request uses to affect the world: emit
// packets, manage its own packet identifier, and schedule a single timer.
// Requests never touch the transport, the Supervisor, or other Entries
// directly -- spec §9 asks for this asymmetry explicitly ("the Engine
// references the Supervisor only via the abstract write/schedule
// capability") so that the Supervisor <-> Engine relationship stays a
// one-way reference and never cycles.
type RequestContext struct {
	eng     *Engine
	entryID uint64
}

// Emit serializes pkt and queues its bytes for the current dispatch round's
// flush. Returns a ProtocolError if pkt cannot be validly encoded.
func (c *RequestContext) Emit(pkt Packet) error {
	return c.eng.emit(pkt)
}

// AllocateID reserves a fresh packet identifier for the calling request and
// associates it with the request's Entry, so the Engine can release it
// automatically the instant the Entry completes (spec §4.3: "Must be
// released only when the request completes"). ok is false if every
// identifier is currently in use.
func (c *RequestContext) AllocateID() (id uint16, ok bool) {
	id, ok = c.eng.ids.allocate()
	if ok {
		c.eng.bindPacketID(c.entryID, id)
	}
	return id, ok
}

// Active reports whether the connection is currently Active. Only needed by
// requests that may start while inactive (Disconnect uses it to skip sending
// DISCONNECT); the Engine never starts the other request kinds while
// inactive in the first place.
func (c *RequestContext) Active() bool {
	return c.eng.connState.kind == stateActive
}

// SessionPresent reports the sessionPresent bit of the most recent
// successful (re)connect.
func (c *RequestContext) SessionPresent() bool {
	return c.eng.connState.sessionPresent
}

// ScheduleTimer arranges for the owning Entry's onTimer to fire after d.
// Replaces any previously scheduled timer for that Entry. Each Request owns
// at most one timer handle at a time (spec §5).
func (c *RequestContext) ScheduleTimer(d time.Duration) {
	c.eng.scheduleTimer(c.entryID, d)
}

// CancelTimer cancels the owning Entry's scheduled timer, if any.
func (c *RequestContext) CancelTimer() {
	c.eng.cancelTimer(c.entryID)
}

// Request is the contract every request kind implements: Connect, Publish
// (QoS-specific), Subscribe, Unsubscribe, Disconnect, Ping. Spec §9 asks for
// "a tagged variant with per-variant state, or a trait/interface with a
// type-erased handle" in place of the source's class hierarchy with
// override stubs; this is the interface rendering; request.go's
// requests_*.go files are the per-variant state.
type Request interface {
	// CanStartInactive reports whether this request may start while the
	// connection is not yet Active (true only for Connect and Disconnect).
	CanStartInactive() bool

	// Start is called once, when the Engine admits this request from the
	// pending queue into the in-flight set.
	Start(ctx *RequestContext) RequestResult

	// OnPacket is called for every inbound packet while this request is
	// in-flight, regardless of whether it's addressed to this request;
	// implementations inspect the packet's type/identifier and return
	// Pending() for anything not theirs.
	OnPacket(ctx *RequestContext, pkt Packet) RequestResult

	// OnConnected is called after a (re)connect completes, with whether the
	// broker reported a retained session.
	OnConnected(ctx *RequestContext, sessionPresent bool) RequestResult

	// OnDisconnected is called when the transport closes while this
	// request is in-flight.
	OnDisconnected(ctx *RequestContext) RequestResult

	// OnTimer is called when this request's scheduled timer fires.
	OnTimer(ctx *RequestContext) RequestResult
}
