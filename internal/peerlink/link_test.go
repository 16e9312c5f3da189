package peerlink

import (
	"testing"
	"time"
)

func TestBeaconModeString(t *testing.T) {
	t.Parallel()

	cases := map[BeaconMode]string{
		BeaconOff:      "Off",
		BeaconAccept:   "Accept",
		BeaconSend:     "Send",
		BeaconMode(99): "Unknown",
	}
	for mode, want := range cases {
		if got := mode.String(); got != want {
			t.Errorf("BeaconMode(%d).String() = %q, want %q", mode, got, want)
		}
	}
}

func newTestLink(n int) *LinkInterface {
	link := &LinkInterface{
		peers: make(map[LLAddr]*Peer),
	}
	for i := 0; i < n; i++ {
		addr := NewLLAddr([]byte{byte(i)})
		link.peers[addr] = &Peer{lladdr: addr, link: link}
	}
	return link
}

func TestPingCandidateEmptyLink(t *testing.T) {
	t.Parallel()

	link := newTestLink(0)
	if got := link.pingCandidate(time.Now(), time.Second); got != nil {
		t.Fatalf("pingCandidate on empty link = %v, want nil", got)
	}
}

func TestPingCandidateReturnsNilWhenNoPeerIsStaleEnough(t *testing.T) {
	t.Parallel()

	now := time.Now()
	pingAfter := 3072 * time.Millisecond
	link := newTestLink(0)
	for i := 0; i < 5; i++ {
		addr := NewLLAddr([]byte{byte(i)})
		link.peers[addr] = &Peer{
			lladdr:            addr,
			link:              link,
			timeOfLastMessage: now,
			timeOfLastPing:    now,
		}
	}

	if got := link.pingCandidate(now, pingAfter); got != nil {
		t.Fatalf("pingCandidate = %v, want nil", got)
	}
}

func TestPingCandidateRequiresBothTimingPredicates(t *testing.T) {
	t.Parallel()

	now := time.Now()
	pingAfter := 3072 * time.Millisecond
	link := newTestLink(0)

	// Silent long enough, but pinged too recently: not a candidate.
	recentlyPinged := &Peer{
		lladdr:            NewLLAddr([]byte{1}),
		link:              link,
		timeOfLastMessage: now.Add(-2 * pingAfter),
		timeOfLastPing:    now,
	}
	// Silent long enough and never pinged: the only eligible candidate.
	eligible := &Peer{
		lladdr:            NewLLAddr([]byte{2}),
		link:              link,
		timeOfLastMessage: now.Add(-2 * pingAfter),
	}
	link.peers[recentlyPinged.lladdr] = recentlyPinged
	link.peers[eligible.lladdr] = eligible

	got := link.pingCandidate(now, pingAfter)
	if got != eligible {
		t.Fatalf("pingCandidate = %v, want %v", got, eligible)
	}
}

func TestPingCandidatePicksAtMostOnePerCall(t *testing.T) {
	t.Parallel()

	now := time.Now()
	pingAfter := 3072 * time.Millisecond
	link := newTestLink(0)
	for i := 0; i < 6; i++ {
		addr := NewLLAddr([]byte{byte(i)})
		link.peers[addr] = &Peer{
			lladdr:            addr,
			link:              link,
			timeOfLastMessage: now.Add(-2 * pingAfter),
		}
	}

	got := link.pingCandidate(now, pingAfter)
	if got == nil {
		t.Fatal("pingCandidate = nil, want one eligible peer")
	}
}

func TestRelocationCandidateFindsEstablishedDuplicateKey(t *testing.T) {
	t.Parallel()

	link := newTestLink(0)
	var key [32]byte
	key[0] = 0xaa

	oldPeer := &Peer{lladdr: NewLLAddr([]byte{1}), link: link, hasKey: true, key: key, state: StateEstablished}
	newPeer := &Peer{lladdr: NewLLAddr([]byte{2}), link: link, hasKey: true, key: key, state: StateHandshake3}
	link.peers[oldPeer.lladdr] = oldPeer
	link.peers[newPeer.lladdr] = newPeer

	got := link.relocationCandidate(key, newPeer)
	if got != oldPeer {
		t.Fatalf("relocationCandidate = %v, want %v", got, oldPeer)
	}
}

func TestRelocationCandidateIgnoresNonEstablishedDuplicates(t *testing.T) {
	t.Parallel()

	link := newTestLink(0)
	var key [32]byte
	key[0] = 0xbb

	handshaking := &Peer{lladdr: NewLLAddr([]byte{1}), link: link, hasKey: true, key: key, state: StateHandshake1}
	newPeer := &Peer{lladdr: NewLLAddr([]byte{2}), link: link, hasKey: true, key: key, state: StateHandshake3}
	link.peers[handshaking.lladdr] = handshaking
	link.peers[newPeer.lladdr] = newPeer

	if got := link.relocationCandidate(key, newPeer); got != nil {
		t.Fatalf("relocationCandidate = %v, want nil", got)
	}
}

func TestRelocationCandidateNoneWhenAlone(t *testing.T) {
	t.Parallel()

	link := newTestLink(0)
	var key [32]byte
	key[0] = 0xcc

	onlyPeer := &Peer{lladdr: NewLLAddr([]byte{1}), link: link, hasKey: true, key: key, state: StateEstablished}
	link.peers[onlyPeer.lladdr] = onlyPeer

	if got := link.relocationCandidate(key, onlyPeer); got != nil {
		t.Fatalf("relocationCandidate = %v, want nil", got)
	}
}
