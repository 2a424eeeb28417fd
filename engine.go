package mqtt

import (
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// stateKind is whether the Engine currently has an Active connection.
type stateKind uint8

const (
	stateInactive stateKind = iota
	stateActive
)

// connStatus is the Engine's view of the current connection, refreshed on
// every Connected/Disconnected event the Supervisor reports.
type connStatus struct {
	kind           stateKind
	sessionPresent bool
}

type submission struct {
	req  Request
	resp chan *entry
}

// Engine is the Request Engine of spec §4.3: it owns the pending queue and
// the bounded in-flight set, admits requests one at a time onto a single
// event-loop goroutine, and is the only component that writes packets to the
// wire. Everything that isn't plain data flows through one of Engine's
// channels, so the loop body below never takes a lock -- concurrency is
// pushed entirely to that one cross-goroutine boundary, per spec §5.
type Engine struct {
	log        *zap.Logger
	framer     *Framer
	dispatcher *Dispatcher
	ids        *packetIDAllocator
	sem        *semaphore.Weighted

	connState connStatus

	seq           uint64
	pending       []*entry
	inflight      map[uint64]*entry
	inflightOrder []uint64
	timers        map[uint64]*time.Timer

	submitCh       chan submission
	inboundCh      chan Packet
	connectedCh    chan bool
	disconnectedCh chan struct{}
	timerCh        chan uint64
	setFramerCh    chan *Framer
	shutdownCh     chan struct{}
	shutdownOnce   func()
}

// NewEngine constructs an Engine driving dispatcher for inbound PUBLISH
// routing. maxInflight bounds the number of concurrently admitted requests
// (spec §4.3, §5). The Engine starts with no Framer: the Supervisor installs
// one via SetFramer before the first connect and again after every
// reconnect.
func NewEngine(dispatcher *Dispatcher, maxInflight int, log *zap.Logger) *Engine {
	if log == nil {
		log = newNopLogger()
	}
	shutdownCh := make(chan struct{})
	var once bool
	return &Engine{
		log:            log.Named("engine"),
		dispatcher:     dispatcher,
		ids:            newPacketIDAllocator(),
		sem:            semaphore.NewWeighted(int64(maxInflight)),
		inflight:       make(map[uint64]*entry),
		timers:         make(map[uint64]*time.Timer),
		submitCh:       make(chan submission),
		inboundCh:      make(chan Packet),
		connectedCh:    make(chan bool),
		disconnectedCh: make(chan struct{}),
		timerCh:        make(chan uint64),
		setFramerCh:    make(chan *Framer),
		shutdownCh:     shutdownCh,
		shutdownOnce: func() {
			if !once {
				once = true
				close(shutdownCh)
			}
		},
	}
}

// Submit admits req, blocking until the Engine's event loop has assigned it
// an Entry (or until the Engine has shut down, in which case the returned
// Entry is already failed with ErrClientShutdown). Safe to call from any
// goroutine; this is the one cross-thread boundary spec §5 describes.
func (e *Engine) Submit(req Request) *entry {
	resp := make(chan *entry, 1)
	select {
	case e.submitCh <- submission{req: req, resp: resp}:
		return <-resp
	case <-e.shutdownCh:
		en := newEntry(0, req)
		en.complete(Failure(ErrClientShutdown))
		return en
	}
}

// NotifyPacket delivers an inbound, already-parsed Packet to the loop.
func (e *Engine) NotifyPacket(pkt Packet) {
	select {
	case e.inboundCh <- pkt:
	case <-e.shutdownCh:
	}
}

// NotifyConnected tells the loop the Supervisor has a fresh Active
// connection, with whether the broker reported a retained session.
func (e *Engine) NotifyConnected(sessionPresent bool) {
	select {
	case e.connectedCh <- sessionPresent:
	case <-e.shutdownCh:
	}
}

// NotifyDisconnected tells the loop the transport has gone away.
func (e *Engine) NotifyDisconnected() {
	select {
	case e.disconnectedCh <- struct{}{}:
	case <-e.shutdownCh:
	}
}

// SetFramer installs f as the Framer the loop writes outbound packets to.
// The Supervisor calls this once per successful (re)connect, before
// submitting the connectRequest, so that every packet the loop emits from
// then on -- starting with CONNECT itself -- reaches the new transport.
func (e *Engine) SetFramer(f *Framer) {
	select {
	case e.setFramerCh <- f:
	case <-e.shutdownCh:
	}
}

// Shutdown stops the loop and fails every queued and in-flight Entry with
// ErrClientShutdown (spec §4.3, §7). Idempotent.
func (e *Engine) Shutdown() {
	e.shutdownOnce()
}

// Run drives the event loop until Shutdown is called. It is meant to run on
// its own goroutine for the lifetime of the Client.
func (e *Engine) Run() {
	for {
		select {
		case sub := <-e.submitCh:
			sub.resp <- e.admit(sub.req)
		case pkt := <-e.inboundCh:
			e.handlePacket(pkt)
		case sp := <-e.connectedCh:
			e.handleConnected(sp)
		case <-e.disconnectedCh:
			e.handleDisconnected()
		case id := <-e.timerCh:
			e.handleTimerFired(id)
		case f := <-e.setFramerCh:
			e.framer = f
		case <-e.shutdownCh:
			e.drain()
			return
		}
		e.flush()
	}
}

func (e *Engine) admit(req Request) *entry {
	e.seq++
	en := newEntry(e.seq, req)
	canStart := req.CanStartInactive() || e.connState.kind == stateActive
	if canStart && e.sem.TryAcquire(1) {
		e.start(en)
	} else {
		e.pending = append(e.pending, en)
	}
	return en
}

func (e *Engine) admitPending() {
	for len(e.pending) > 0 {
		en := e.pending[0]
		if !en.req.CanStartInactive() && e.connState.kind != stateActive {
			break
		}
		if !e.sem.TryAcquire(1) {
			break
		}
		e.pending = e.pending[1:]
		e.start(en)
	}
}

func (e *Engine) start(en *entry) {
	e.inflight[en.id] = en
	e.inflightOrder = append(e.inflightOrder, en.id)
	res := en.req.Start(&RequestContext{eng: e, entryID: en.id})
	e.resolve(en, res)
}

func (e *Engine) resolve(en *entry, res RequestResult) {
	switch res.kind {
	case resultSuccess, resultFailure:
		e.complete(en, res)
	}
}

func (e *Engine) complete(en *entry, res RequestResult) {
	if _, ok := e.inflight[en.id]; !ok {
		return
	}
	delete(e.inflight, en.id)
	e.removeInflightOrder(en.id)
	if en.hasPacketID {
		e.ids.release(en.packetID)
	}
	if t, ok := e.timers[en.id]; ok {
		t.Stop()
		delete(e.timers, en.id)
	}
	e.sem.Release(1)
	en.complete(res)
	e.admitPending()
}

// removeInflightOrder drops id from inflightOrder, preserving the relative
// order of the remaining entries.
func (e *Engine) removeInflightOrder(id uint64) {
	for i, existing := range e.inflightOrder {
		if existing == id {
			e.inflightOrder = append(e.inflightOrder[:i], e.inflightOrder[i+1:]...)
			return
		}
	}
}

// inflightIDs returns the currently in-flight entry ids in admission (FIFO)
// order, snapshotted so callers may freely complete entries mid-iteration
// (spec §4.3, §5: dispatch order within a round must match admission order,
// which a bare map range cannot guarantee).
func (e *Engine) inflightIDs() []uint64 {
	ids := make([]uint64, len(e.inflightOrder))
	copy(ids, e.inflightOrder)
	return ids
}

func (e *Engine) handlePacket(pkt Packet) {
	switch pkt.Header.Type() {
	case PacketPublish:
		e.handleInboundPublish(pkt)
		return
	case PacketPubrel:
		// Inbound QoS2 delivery's third leg: the broker is acknowledging
		// our PUBREC. This belongs to the Dispatcher's held-identifier
		// state, not to any outbound Request, so it's handled here
		// directly rather than routed through OnPacket.
		e.dispatcher.HandlePubrel(pkt.PacketIdentifier)
		e.emit(Packet{Header: mustHeader(PacketPubcomp, 0), PacketIdentifier: pkt.PacketIdentifier})
		return
	}
	for _, id := range e.inflightIDs() {
		en, ok := e.inflight[id]
		if !ok {
			continue
		}
		res := en.req.OnPacket(&RequestContext{eng: e, entryID: id}, pkt)
		e.resolve(en, res)
	}
}

func (e *Engine) handleInboundPublish(pkt Packet) {
	flags := pkt.Header.Flags()
	msg := Message{
		Topic:     pkt.Publish.TopicName,
		Payload:   pkt.Payload,
		QoS:       flags.QoS(),
		Retain:    flags.Retain(),
		Duplicate: flags.Dup(),
	}
	switch e.dispatcher.HandlePublish(msg, pkt.Publish.PacketIdentifier) {
	case dispatchPuback:
		e.emit(Packet{Header: mustHeader(PacketPuback, 0), PacketIdentifier: pkt.Publish.PacketIdentifier})
	case dispatchPubrec:
		e.emit(Packet{Header: mustHeader(PacketPubrec, 0), PacketIdentifier: pkt.Publish.PacketIdentifier})
	}
}

func (e *Engine) handleConnected(sessionPresent bool) {
	e.connState = connStatus{kind: stateActive, sessionPresent: sessionPresent}
	for _, id := range e.inflightIDs() {
		en, ok := e.inflight[id]
		if !ok {
			continue
		}
		res := en.req.OnConnected(&RequestContext{eng: e, entryID: id}, sessionPresent)
		e.resolve(en, res)
	}
	e.admitPending()
}

func (e *Engine) handleDisconnected() {
	e.connState = connStatus{kind: stateInactive}
	for _, id := range e.inflightIDs() {
		en, ok := e.inflight[id]
		if !ok {
			continue
		}
		res := en.req.OnDisconnected(&RequestContext{eng: e, entryID: id})
		e.resolve(en, res)
	}
}

func (e *Engine) handleTimerFired(id uint64) {
	delete(e.timers, id)
	en, ok := e.inflight[id]
	if !ok {
		return
	}
	res := en.req.OnTimer(&RequestContext{eng: e, entryID: id})
	e.resolve(en, res)
}

func (e *Engine) drain() {
	for _, en := range e.pending {
		en.complete(Failure(ErrClientShutdown))
	}
	e.pending = nil
	for _, id := range e.inflightOrder {
		if en, ok := e.inflight[id]; ok {
			en.complete(Failure(ErrClientShutdown))
			delete(e.inflight, id)
		}
	}
	e.inflightOrder = nil
}

// emit serializes pkt and buffers its bytes on the Framer. Called only from
// the loop goroutine, either directly (inbound acks) or via
// RequestContext.Emit.
func (e *Engine) emit(pkt Packet) error {
	if e.framer == nil {
		return ErrNotConnected
	}
	b, err := Serialize(pkt)
	if err != nil {
		return err
	}
	return e.framer.WritePacket(b)
}

func (e *Engine) bindPacketID(entryID uint64, id uint16) {
	if en, ok := e.inflight[entryID]; ok {
		en.hasPacketID = true
		en.packetID = id
	}
}

func (e *Engine) scheduleTimer(entryID uint64, d time.Duration) {
	if t, ok := e.timers[entryID]; ok {
		t.Stop()
	}
	e.timers[entryID] = time.AfterFunc(d, func() {
		select {
		case e.timerCh <- entryID:
		case <-e.shutdownCh:
		}
	})
}

func (e *Engine) cancelTimer(entryID uint64) {
	if t, ok := e.timers[entryID]; ok {
		t.Stop()
		delete(e.timers, entryID)
	}
}

// flush writes every packet buffered by this dispatch round to the
// transport in one call, per spec §4.3's single-flush-per-round batching.
func (e *Engine) flush() {
	if e.framer == nil {
		return
	}
	if err := e.framer.Flush(); err != nil {
		e.log.Warn("flush failed", zap.Error(err))
	}
}
