package mqtt

// entry wraps a Request with the caller's completion channel. An entry is
// in exactly one of {queued, in-flight, completed} at any time (spec §3);
// the Engine enforces this by construction -- an entry only ever lives in
// one of Engine.pending or Engine.inflight, and is deleted from both the
// instant it completes.
type entry struct {
	id   uint64 // Engine-assigned sequence number, used as the timer key.
	req  Request
	done chan RequestResult // Buffered 1; completion is written exactly once.

	hasPacketID bool
	packetID    uint16
}

func newEntry(id uint64, req Request) *entry {
	return &entry{id: id, req: req, done: make(chan RequestResult, 1)}
}

// complete resolves e's completion channel. Must be called at most once.
func (e *entry) complete(res RequestResult) {
	e.done <- res
}
