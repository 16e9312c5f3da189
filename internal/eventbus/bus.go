// Package eventbus defines the pathfinder notification bus contract the
// controller publishes peer up/down events on (spec §6, §4.8) and an
// in-process reference implementation. Payloads are opaque, pre-serialized
// wire bytes (peerlink.MarshalPeerEvent) — the bus itself has no knowledge
// of their structure, avoiding an import cycle back into peerlink.
package eventbus

import "sync"

// Query is delivered to the controller when a pathfinder asks to be
// caught up: "enumerate peers for pathfinder X" (spec §4.8).
type Query struct {
	PathfinderID uint32
}

// Bus is the pathfinder notification bus.
type Bus interface {
	// Publish fans payload out to every currently subscribed pathfinder.
	// Used for proactive Peer/Peer-Gone notifications on state changes.
	Publish(payload []byte)

	// Reply sends payload to a single pathfinder, used to answer an
	// enumerate-peers query with one event per Established peer.
	Reply(pathfinderID uint32, payload []byte)

	// Subscribe registers a new pathfinder and returns its assigned id,
	// its event channel, and a cancel function that unregisters it.
	Subscribe() (pathfinderID uint32, events <-chan []byte, cancel func())

	// Queries delivers one Query per enumerate-peers request.
	Queries() <-chan Query
}

// Local is an in-process, channel-based reference Bus.
type Local struct {
	mu      sync.Mutex
	nextID  uint32
	subs    map[uint32]chan []byte
	queries chan Query
}

// NewLocal returns an empty reference Bus.
func NewLocal() *Local {
	return &Local{
		subs:    make(map[uint32]chan []byte),
		queries: make(chan Query, 64),
	}
}

// Subscribe implements Bus.
func (l *Local) Subscribe() (uint32, <-chan []byte, func()) {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.nextID
	l.nextID++
	ch := make(chan []byte, 64)
	l.subs[id] = ch

	cancel := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if existing, ok := l.subs[id]; ok {
			delete(l.subs, id)
			close(existing)
		}
	}
	return id, ch, cancel
}

// Publish implements Bus.
func (l *Local) Publish(payload []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ch := range l.subs {
		select {
		case ch <- payload:
		default:
			// A slow pathfinder drops a notification rather than
			// blocking the publisher; it will still see the peer's
			// current state in the next proactive publish.
		}
	}
}

// Reply implements Bus.
func (l *Local) Reply(pathfinderID uint32, payload []byte) {
	l.mu.Lock()
	ch, ok := l.subs[pathfinderID]
	l.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- payload:
	default:
	}
}

// Queries implements Bus.
func (l *Local) Queries() <-chan Query {
	return l.queries
}

// RequestEnumerate lets a pathfinder client ask the controller to replay
// one Peer event per Established peer (spec §4.8). It is not part of the
// Bus interface: a real pathfinder issues the request over whatever
// transport it uses to reach the controller, then listens on its
// Subscribe channel for the replay.
func (l *Local) RequestEnumerate(pathfinderID uint32) {
	l.queries <- Query{PathfinderID: pathfinderID}
}
