package channel

import (
	"stagelink/engine/internal/state"
	"stagelink/engine/internal/telemetry"
)

// memoryWorld is the document shared by a host endpoint and its
// in-process clients. Everything runs on one goroutine; delivery is
// synchronous.
type memoryWorld struct {
	doc       *state.Document
	endpoints []*MemoryEndpoint
}

// MemoryEndpoint is an in-process channel endpoint, used by tests and
// same-process host/client sessions.
type MemoryEndpoint struct {
	world         *memoryWorld
	authoritative bool
	latest        *state.Document
	subs          []*memorySub
	logger        telemetry.Logger
}

type memorySub struct {
	fn func(*state.Document)
}

// NewMemory creates the host endpoint of a fresh in-process world.
func NewMemory(logger telemetry.Logger) *MemoryEndpoint {
	world := &memoryWorld{doc: state.New()}
	host := &MemoryEndpoint{world: world, authoritative: true, logger: logger}
	world.endpoints = append(world.endpoints, host)
	return host
}

// NewClient attaches a read-only endpoint to the same world.
func (e *MemoryEndpoint) NewClient() *MemoryEndpoint {
	client := &MemoryEndpoint{world: e.world, logger: e.logger}
	client.latest = e.world.doc.Clone()
	e.world.endpoints = append(e.world.endpoints, client)
	return client
}

// IsAuthoritative implements Channel.
func (e *MemoryEndpoint) IsAuthoritative() bool { return e.authoritative }

// Snapshot implements Channel. The host reads the live document it
// owns; clients read the copy from the most recent delivery.
func (e *MemoryEndpoint) Snapshot() *state.Document {
	if e.authoritative {
		return e.world.doc
	}
	if e.latest == nil {
		e.latest = state.New()
	}
	return e.latest
}

// Subscribe implements Channel.
func (e *MemoryEndpoint) Subscribe(fn func(*state.Document)) func() {
	sub := &memorySub{fn: fn}
	e.subs = append(e.subs, sub)
	return func() { sub.fn = nil }
}

// Mutate implements Channel. Host mutations are applied immediately
// and every endpoint in the world is notified with its own clone,
// mirroring a full-snapshot delivery.
func (e *MemoryEndpoint) Mutate(fn func(*state.Document)) {
	if !e.authoritative {
		if e.logger != nil {
			e.logger.Printf("[channel] mutate ignored: endpoint is not authoritative")
		}
		return
	}
	if fn == nil {
		return
	}
	fn(e.world.doc)
	for _, endpoint := range e.world.endpoints {
		endpoint.deliver(e.world.doc)
	}
}

func (e *MemoryEndpoint) deliver(doc *state.Document) {
	var snapshot *state.Document
	if e.authoritative {
		snapshot = doc
	} else {
		snapshot = doc.Clone()
		e.latest = snapshot
	}
	for _, sub := range append([]*memorySub(nil), e.subs...) {
		if sub.fn != nil {
			sub.fn(snapshot)
		}
	}
}

var _ Channel = (*MemoryEndpoint)(nil)
