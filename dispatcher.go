package mqtt

import (
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Listener receives every Message whose topic matches a filter the caller
// registered interest in.
type Listener func(Message)

// ListenerHandle identifies a registered Listener so it can later be
// removed. It carries a generation counter (rather than, say, a pointer)
// so that Stop on a handle from a prior registration never removes a
// different listener that happens to reuse the same slot -- the same
// use-after-free hazard an index alone would have.
type ListenerHandle struct {
	d    *Dispatcher
	id   uint64
	gen  uint64
}

// Stop deregisters the listener. Safe to call more than once, and a no-op
// once the owning Dispatcher has shut down.
func (h ListenerHandle) Stop() {
	if h.d == nil {
		return
	}
	h.d.remove(h.id, h.gen)
}

type registeredListener struct {
	gen     uint64
	matcher topicMatcher
	fn      Listener
}

// Dispatcher routes inbound PUBLISH packets to registered listeners and
// owns inbound QoS-2 de-duplication state (held PUBLISH identifiers
// awaiting PUBREL), per spec §4.2. Ported from the teacher's
// subscriptions.go wildcard matcher, which had no multi-listener registry
// or QoS-2 state of its own (RxTx.OnPub was a single callback field).
type Dispatcher struct {
	log *zap.Logger

	mu        sync.Mutex
	nextID    uint64
	listeners map[uint64]*registeredListener

	// held tracks QoS-2 PUBLISH packet identifiers that have been delivered
	// to listeners but not yet released by PUBREL, so a broker retransmit
	// (DUP=1, same id) is suppressed rather than delivered twice.
	held map[uint16]struct{}
}

// NewDispatcher constructs an empty Dispatcher.
func NewDispatcher(log *zap.Logger) *Dispatcher {
	if log == nil {
		log = newNopLogger()
	}
	return &Dispatcher{
		log:       log.Named("dispatcher"),
		listeners: make(map[uint64]*registeredListener),
		held:      make(map[uint16]struct{}),
	}
}

// AddMessageListener registers fn for every inbound Message whose topic
// matches filter (a concrete topic or a filter using '+'/'#' wildcards).
// Listeners run inline on the event-loop goroutine (spec §5): they must not
// block.
func (d *Dispatcher) AddMessageListener(filter string, fn Listener) (ListenerHandle, error) {
	m, err := newTopicMatcher(filter)
	if err != nil {
		return ListenerHandle{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	id := d.nextID
	gen := id
	d.listeners[id] = &registeredListener{gen: gen, matcher: m, fn: fn}
	return ListenerHandle{d: d, id: id, gen: gen}, nil
}

func (d *Dispatcher) remove(id, gen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if l, ok := d.listeners[id]; ok && l.gen == gen {
		delete(d.listeners, id)
	}
}

// dispatchOutcome tells the Request Engine which acknowledgement packet, if
// any, to emit for an inbound PUBLISH.
type dispatchOutcome uint8

const (
	dispatchNone dispatchOutcome = iota
	dispatchPuback
	dispatchPubrec
)

// HandlePublish invokes every matching listener at most once for this
// broker-side message and reports which acknowledgement the Engine should
// emit, per the QoS rules in spec §4.2. packetIdentifier is 0 for QoS0.
func (d *Dispatcher) HandlePublish(msg Message, packetIdentifier uint16) dispatchOutcome {
	switch msg.QoS {
	case QoS0:
		d.notify(msg)
		return dispatchNone
	case QoS1:
		d.notify(msg)
		return dispatchPuback
	case QoS2:
		d.mu.Lock()
		_, duplicate := d.held[packetIdentifier]
		if !duplicate {
			d.held[packetIdentifier] = struct{}{}
		}
		d.mu.Unlock()
		if !duplicate {
			d.notify(msg)
		}
		return dispatchPubrec
	default:
		return dispatchNone
	}
}

// HandlePubrel releases the held QoS-2 identifier id. Per broker tolerance
// (spec §4.2), PUBREL for an unknown identifier is not an error: PUBCOMP is
// still owed.
func (d *Dispatcher) HandlePubrel(id uint16) {
	d.mu.Lock()
	delete(d.held, id)
	d.mu.Unlock()
}

func (d *Dispatcher) notify(msg Message) {
	d.mu.Lock()
	matched := make([]Listener, 0, 4)
	for _, l := range d.listeners {
		if l.matcher.match(msg.Topic) {
			matched = append(matched, l.fn)
		}
	}
	d.mu.Unlock()
	for _, fn := range matched {
		fn(msg)
	}
}

// topicMatcher implements MQTT topic-filter matching, including the
// single-level '+' and multi-level '#' wildcards. Carried over from the
// teacher's subscriptions.go (matches/validateWildcards/isWildcard), which
// operated on raw filter strings; wrapped here in a small value type so the
// Dispatcher precomputes a filter's parts once at registration instead of
// re-splitting it on every inbound PUBLISH.
type topicMatcher struct {
	parts []string
}

func newTopicMatcher(filter string) (topicMatcher, error) {
	parts := strings.Split(filter, "/")
	if err := validateWildcards(parts); err != nil {
		return topicMatcher{}, err
	}
	return topicMatcher{parts: parts}, nil
}

func (m topicMatcher) match(topic string) bool {
	return matchesFilter(m.parts, strings.Split(topic, "/"))
}

// matchesFilter reports whether topicParts satisfies filterParts under MQTT
// wildcard rules: '+' matches exactly one level, '#' matches all remaining
// levels (and must be the last part).
func matchesFilter(filterParts, topicParts []string) bool {
	i := 0
	for i < len(topicParts) {
		if i >= len(filterParts) {
			return false
		}
		if filterParts[i] == "#" {
			return true
		}
		if topicParts[i] != filterParts[i] && filterParts[i] != "+" {
			return false
		}
		i++
	}
	return i == len(filterParts) || (i == len(filterParts)-1 && filterParts[len(filterParts)-1] == "#")
}

func validateWildcards(parts []string) error {
	for i, part := range parts {
		if isWildcardFilter(part) && len(part) != 1 {
			return &ProtocolError{Kind: MalformedPacket, reason: "malformed wildcard, e.g. \"finance#\""}
		}
		if part == "#" && i != len(parts)-1 {
			return &ProtocolError{Kind: MalformedPacket, reason: "'#' wildcard must be the last topic level"}
		}
	}
	return nil
}
