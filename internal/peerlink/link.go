package peerlink

import (
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/meshwired/linkctl/internal/transport"
)

// BeaconMode is a LinkInterface's beacon send/accept posture (spec §3).
type BeaconMode uint8

const (
	// BeaconOff neither sends nor accepts beacons; unknown inbound
	// sources are never admitted.
	BeaconOff BeaconMode = iota
	// BeaconAccept admits beacons and unknown inbound sources but does
	// not advertise the local node.
	BeaconAccept
	// BeaconSend implies BeaconAccept and additionally emits periodic
	// self-beacons.
	BeaconSend
)

// String returns the human-readable name of the beacon mode.
func (m BeaconMode) String() string {
	switch m {
	case BeaconOff:
		return "Off"
	case BeaconAccept:
		return "Accept"
	case BeaconSend:
		return "Send"
	default:
		return "Unknown"
	}
}

// LinkInterface is one registered link-layer transport (spec §3).
type LinkInterface struct {
	scope *Scope

	name       string
	ifNum      int
	peers      map[LLAddr]*Peer
	beaconMode BeaconMode
	broadcast  LLAddr
	transport  transport.Transport

	controller *Controller

	logger *slog.Logger
}

// Name returns the link's human-readable identifier.
func (l *LinkInterface) Name() string { return l.name }

// IfNum returns the link's dense CLI-facing index.
func (l *LinkInterface) IfNum() int { return l.ifNum }

// BeaconMode returns the link's current beacon posture.
func (l *LinkInterface) BeaconMode() BeaconMode { return l.beaconMode }

// PeerCount returns the number of peers currently mapped on this link.
func (l *LinkInterface) PeerCount() int { return len(l.peers) }

// deliverInbound implements §4.2's demux: broadcast frames go to the
// beacon handler, lladdr hits go to the matching peer, misses go to the
// unknown-source handler. Runt frames are dropped silently with a debug
// log.
func (l *LinkInterface) deliverInbound(raw []byte) {
	addr, broadcast, payload, err := DecodeFrame(raw)
	if err != nil {
		l.logger.Debug("runt frame dropped", slog.String("link", l.name))
		return
	}

	if broadcast {
		l.controller.handleBeacon(l, addr, payload)
		return
	}

	if peer, ok := l.peers[addr]; ok {
		l.controller.deliverToPeer(peer, payload)
		return
	}

	l.controller.handleUnknownSource(l, addr, payload)
}

// relocationCandidate returns another Established peer on this link
// sharing key, if one exists besides exclude.
func (l *LinkInterface) relocationCandidate(key [32]byte, exclude *Peer) *Peer {
	for _, p := range l.peers {
		if p == exclude {
			continue
		}
		if p.hasKey && p.key == key && p.state == StateEstablished {
			return p
		}
	}
	return nil
}

// pingCandidate returns at most one peer to visit on this ping tick: the
// first peer found scanning the peer map from a uniformly random offset
// whose silence and last-ping age both clear pingAfter. The randomized
// start is deliberate: it prevents a single misbehaving peer at the head
// of the map from monopolizing the link's one ping slot per tick.
func (l *LinkInterface) pingCandidate(now time.Time, pingAfter time.Duration) *Peer {
	n := len(l.peers)
	if n == 0 {
		return nil
	}

	all := make([]*Peer, 0, n)
	for _, p := range l.peers {
		all = append(all, p)
	}

	offset := rand.IntN(n) //nolint:gosec // fairness shuffle, not security-sensitive
	for i := 0; i < n; i++ {
		p := all[(offset+i)%n]
		if now.Sub(p.timeOfLastMessage) >= pingAfter && now.Sub(p.timeOfLastPing) >= pingAfter {
			return p
		}
	}
	return nil
}
