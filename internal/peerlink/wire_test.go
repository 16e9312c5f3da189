package peerlink_test

import (
	"bytes"
	"testing"

	"github.com/meshwired/linkctl/internal/peerlink"
)

func TestFrameRoundTrip(t *testing.T) {
	t.Parallel()

	addr := peerlink.NewLLAddr([]byte{1, 2, 3, 4})
	payload := []byte("hello")

	raw := peerlink.EncodeFrame(addr, true, payload)

	gotAddr, broadcast, gotPayload, err := peerlink.DecodeFrame(raw)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if !broadcast {
		t.Error("expected broadcast flag set")
	}
	if gotAddr != addr {
		t.Errorf("addr = %+v, want %+v", gotAddr, addr)
	}
	if !bytes.Equal(gotPayload, payload) {
		t.Errorf("payload = %q, want %q", gotPayload, payload)
	}
}

func TestDecodeFrameRunt(t *testing.T) {
	t.Parallel()

	_, _, _, err := peerlink.DecodeFrame([]byte{0})
	if err != peerlink.ErrRuntFrame {
		t.Fatalf("err = %v, want ErrRuntFrame", err)
	}

	// flags/addrLen claim an 8-byte address but only 2 bytes follow.
	_, _, _, err = peerlink.DecodeFrame([]byte{0, 8, 1, 2})
	if err != peerlink.ErrRuntFrame {
		t.Fatalf("err = %v, want ErrRuntFrame", err)
	}
}

func TestBeaconRoundTrip(t *testing.T) {
	t.Parallel()

	var b peerlink.Beacon
	b.PublicKey[0] = 0xAB
	b.ProtocolVersion = 7
	copy(b.Password[:], []byte("sharedsecret"))

	buf := make([]byte, peerlink.BeaconSize)
	n, err := peerlink.MarshalBeacon(&b, buf)
	if err != nil {
		t.Fatalf("MarshalBeacon: %v", err)
	}
	if n != peerlink.BeaconSize {
		t.Fatalf("n = %d, want %d", n, peerlink.BeaconSize)
	}

	var got peerlink.Beacon
	if err := peerlink.UnmarshalBeacon(buf, &got); err != nil {
		t.Fatalf("UnmarshalBeacon: %v", err)
	}
	if got != b {
		t.Errorf("got %+v, want %+v", got, b)
	}
}

func TestUnmarshalBeaconRunt(t *testing.T) {
	t.Parallel()

	var b peerlink.Beacon
	if err := peerlink.UnmarshalBeacon(make([]byte, peerlink.BeaconSize-1), &b); err != peerlink.ErrRuntFrame {
		t.Fatalf("err = %v, want ErrRuntFrame", err)
	}
}

func TestDeriveIP6BeginsWithMeshPrefix(t *testing.T) {
	t.Parallel()

	var key [32]byte
	key[0] = 1

	ip6 := peerlink.DeriveIP6(key)
	if !peerlink.IsValidMeshAddr(ip6) {
		t.Fatalf("derived ip6 %x does not start with mesh prefix", ip6)
	}
}

func TestPeerEventRoundTrip(t *testing.T) {
	t.Parallel()

	e := peerlink.PeerEvent{
		Kind:         peerlink.EventKindPeer,
		PathfinderID: peerlink.BroadcastPathfinder,
		Path:         0xAAAA,
		Metric:       peerlink.DirectMetric,
		Version:      22,
	}
	e.PublicKey[0] = 9
	e.IP6[0] = peerlink.MeshPrefix

	buf := make([]byte, peerlink.PeerEventSize)
	if _, err := peerlink.MarshalPeerEvent(&e, buf); err != nil {
		t.Fatalf("MarshalPeerEvent: %v", err)
	}

	var got peerlink.PeerEvent
	if err := peerlink.UnmarshalPeerEvent(buf, &got); err != nil {
		t.Fatalf("UnmarshalPeerEvent: %v", err)
	}
	if got != e {
		t.Errorf("got %+v, want %+v", got, e)
	}
}
