package peerlink

import (
	"time"

	"github.com/meshwired/linkctl/internal/session"
)

// Peer is one authenticated (or half-open) neighbor on one link (spec §3).
type Peer struct {
	scope *Scope
	link  *LinkInterface

	lladdr LLAddr

	key    [32]byte
	hasKey bool
	ip6    [16]byte

	pathLabel uint64
	state     State

	protocolVersion uint32

	timeOfLastMessage time.Time
	timeOfLastPing    time.Time
	pingCount         uint64

	isIncoming bool

	bytesIn  uint64
	bytesOut uint64

	session session.Session
}

// Key returns the peer's long-term public key, valid once hasKey is true
// (always true for outbound peers, learned for inbound ones).
func (p *Peer) Key() ([32]byte, bool) {
	return p.key, p.hasKey
}

// Stats is the external, read-only view of a peer exposed through
// getPeerStats (spec §6).
type Stats struct {
	LLAddr             LLAddr
	Key                [32]byte
	State              State
	TimeOfLastMessage  time.Time
	BytesIn            uint64
	BytesOut           uint64
	IsIncoming         bool
	User               string
	Duplicates         uint64
	LostPackets        uint64
	ReceivedOutOfRange uint64
}

// Stats snapshots the peer for an admin call. It never mutates the peer.
func (p *Peer) Stats() Stats {
	replay := p.session.ReplayStats()
	return Stats{
		LLAddr:             p.lladdr,
		Key:                p.key,
		State:              p.state,
		TimeOfLastMessage:  p.timeOfLastMessage,
		BytesIn:            p.bytesIn,
		BytesOut:           p.bytesOut,
		IsIncoming:         p.isIncoming,
		User:               p.session.User(),
		Duplicates:         replay.Duplicates,
		LostPackets:        replay.LostPackets,
		ReceivedOutOfRange: replay.ReceivedOutOfRange,
	}
}

// syncKeyFromSession copies the session's learned remote key into the
// peer, deriving ip6 from it. Safe to call repeatedly.
func (p *Peer) syncKeyFromSession() {
	p.key = p.session.HerPublicKey()
	p.hasKey = true
	p.ip6 = DeriveIP6(p.key)
}

// sessionEvent maps a session.State to the FSM event driving the peer
// forward, special-casing the Unresponsive recovery path which must reach
// Established without re-publishing (spec §9 open question).
func sessionEvent(current State, sessState session.State) (Event, bool) {
	if current == StateUnresponsive && sessState == session.StateEstablished {
		return EventValidFrame, true
	}

	switch sessState {
	case session.StateHandshake1:
		return EventSessionHandshake1, true
	case session.StateHandshake2:
		return EventSessionHandshake2, true
	case session.StateHandshake3:
		return EventSessionHandshake3, true
	case session.StateEstablished:
		return EventSessionEstablished, true
	default:
		return 0, false
	}
}

// switchHeaderTerminateOffset is the byte offset of the "terminate here"
// direction bit in the switch header layout (spec §4.1).
const switchHeaderTerminateOffset = 7

// terminatesHere reports whether a decrypted switch-bound frame's header
// says this node is the final hop.
func terminatesHere(frame []byte) bool {
	return len(frame) > switchHeaderTerminateOffset && frame[switchHeaderTerminateOffset] == 1
}

// preEstablishedPingRate implements the "at most once every 7
// pre-Established frames" opportunistic ping admission (spec §4.1, §9:
// pingCount % 7 is an independent counter-on-the-same-field).
func preEstablishedPingRate(pingCount uint64) bool {
	return pingCount%7 == 0
}
