package peerlink

import (
	"bytes"
	"crypto/sha512"
	"encoding/binary"
	"fmt"
)

// This file implements the wire codecs referenced by §4.3 and §6 of the
// design: the link-layer address header, the beacon payload, and the
// peer-event payload published on the event bus. The marshal/unmarshal
// style — small functions operating on byte slices via encoding/binary,
// header validation split out of the hot path — mirrors the BFD Control
// packet codec this module is modelled on.

// MeshPrefix is the leading byte every valid mesh ip6 address must carry.
const MeshPrefix byte = 0xfc

// LLAddrMaxLen bounds the opaque link-layer address length so it fits in
// a fixed-size, comparable map key.
const LLAddrMaxLen = 32

// LLAddr is an opaque, byte-compared link-layer address. It is comparable
// so it can key the peers map directly.
type LLAddr struct {
	Len   uint8
	Bytes [LLAddrMaxLen]byte
}

// NewLLAddr builds an LLAddr from a raw address, truncating silently past
// LLAddrMaxLen (transports in this module never produce longer addresses).
func NewLLAddr(raw []byte) LLAddr {
	var a LLAddr
	n := len(raw)
	if n > LLAddrMaxLen {
		n = LLAddrMaxLen
	}
	a.Len = uint8(n)
	copy(a.Bytes[:], raw[:n])
	return a
}

// Slice returns the address bytes.
func (a LLAddr) Slice() []byte {
	return a.Bytes[:a.Len]
}

// llFlagBroadcast marks a frame as a beacon/broadcast frame in the
// link-layer header's flags byte.
const llFlagBroadcast = 1 << 0

// llHeaderFixedLen is the flags + address-length bytes preceding the
// address itself.
const llHeaderFixedLen = 2

// ErrRuntFrame is returned by DecodeFrame when the input is shorter than
// the minimum link-layer header.
var ErrRuntFrame = fmt.Errorf("peerlink: runt frame")

// DecodeFrame splits a raw inbound frame into its link-layer address, the
// broadcast flag, and the remaining payload. It implements §4.2's "runt
// frames... are dropped silently" rule by returning ErrRuntFrame for any
// input too short to contain its declared address.
func DecodeFrame(raw []byte) (addr LLAddr, broadcast bool, payload []byte, err error) {
	if len(raw) < llHeaderFixedLen {
		return LLAddr{}, false, nil, ErrRuntFrame
	}

	flags := raw[0]
	addrLen := int(raw[1])
	if addrLen > LLAddrMaxLen || len(raw) < llHeaderFixedLen+addrLen {
		return LLAddr{}, false, nil, ErrRuntFrame
	}

	addr = NewLLAddr(raw[llHeaderFixedLen : llHeaderFixedLen+addrLen])
	broadcast = flags&llFlagBroadcast != 0
	payload = raw[llHeaderFixedLen+addrLen:]
	return addr, broadcast, payload, nil
}

// EncodeFrame prepends a link-layer header to payload.
func EncodeFrame(addr LLAddr, broadcast bool, payload []byte) []byte {
	out := make([]byte, llHeaderFixedLen+int(addr.Len)+len(payload))
	if broadcast {
		out[0] = llFlagBroadcast
	}
	out[1] = addr.Len
	copy(out[llHeaderFixedLen:], addr.Slice())
	copy(out[llHeaderFixedLen+int(addr.Len):], payload)
	return out
}

// BeaconPasswordLen is the fixed password length carried in a beacon
// (Headers_Beacon_PASSWORD_LEN in the external interface table).
const BeaconPasswordLen = 16

// BeaconSize is the fixed beacon payload size: publicKey[32] +
// protocolVersion(4) + password[BeaconPasswordLen].
const BeaconSize = 32 + 4 + BeaconPasswordLen

// Beacon is the local node's self-advertisement, broadcast on links with
// beaconMode = Send.
type Beacon struct {
	PublicKey       [32]byte
	ProtocolVersion uint32
	Password        [BeaconPasswordLen]byte
}

// MarshalBeacon encodes b into buf, which must be at least BeaconSize
// bytes. Returns the number of bytes written.
func MarshalBeacon(b *Beacon, buf []byte) (int, error) {
	if len(buf) < BeaconSize {
		return 0, fmt.Errorf("peerlink: beacon buffer too small: %d < %d", len(buf), BeaconSize)
	}

	w := bytes.NewBuffer(buf[:0])
	if err := binary.Write(w, binary.BigEndian, b.PublicKey); err != nil {
		return 0, fmt.Errorf("marshal beacon public key: %w", err)
	}
	if err := binary.Write(w, binary.BigEndian, b.ProtocolVersion); err != nil {
		return 0, fmt.Errorf("marshal beacon version: %w", err)
	}
	if err := binary.Write(w, binary.BigEndian, b.Password); err != nil {
		return 0, fmt.Errorf("marshal beacon password: %w", err)
	}
	return BeaconSize, nil
}

// UnmarshalBeacon decodes a Beacon from buf. Per §4.3, a payload shorter
// than BeaconSize is a runt: UnmarshalBeacon returns ErrRuntFrame for it
// and decodes nothing. Bytes past BeaconSize are ignored.
func UnmarshalBeacon(buf []byte, b *Beacon) error {
	if len(buf) < BeaconSize {
		return ErrRuntFrame
	}

	r := bytes.NewReader(buf[:BeaconSize])
	if err := binary.Read(r, binary.BigEndian, &b.PublicKey); err != nil {
		return fmt.Errorf("unmarshal beacon public key: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &b.ProtocolVersion); err != nil {
		return fmt.Errorf("unmarshal beacon version: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &b.Password); err != nil {
		return fmt.Errorf("unmarshal beacon password: %w", err)
	}
	return nil
}

// DeriveIP6 computes the mesh ip6 address for a public key: the MeshPrefix
// byte followed by the first 15 bytes of a double SHA-512 of the key, per
// §6's "ip6 = prefix(H(publicKey))" address derivation.
func DeriveIP6(publicKey [32]byte) [16]byte {
	first := sha512.Sum512(publicKey[:])
	second := sha512.Sum512(first[:])

	var ip6 [16]byte
	ip6[0] = MeshPrefix
	copy(ip6[1:], second[:15])
	return ip6
}

// IsValidMeshAddr reports whether ip6 begins with MeshPrefix.
func IsValidMeshAddr(ip6 [16]byte) bool {
	return ip6[0] == MeshPrefix
}

// EventKind distinguishes Peer from Peer-Gone on the event bus wire
// format.
type EventKind uint32

const (
	// EventKindPeer announces a live (or newly learned) peer.
	EventKindPeer EventKind = iota
	// EventKindPeerGone announces peer removal or loss of liveness.
	EventKindPeerGone
)

// BroadcastPathfinder addresses an event to every subscribed pathfinder.
const BroadcastPathfinder uint32 = 0xffffffff

// DirectMetric is the metric value meaning "directly connected"; every
// peer this controller publishes is, by definition, directly connected.
const DirectMetric uint32 = 0xffffffff

// PeerEventSize is the fixed wire size of a PeerEvent payload.
const PeerEventSize = 4 + 4 + 16 + 32 + 8 + 4 + 4

// PeerEvent is the wire payload published on the event bus, per §6.
type PeerEvent struct {
	Kind        EventKind
	PathfinderID uint32
	IP6         [16]byte
	PublicKey   [32]byte
	Path        uint64
	Metric      uint32
	Version     uint32
}

// MarshalPeerEvent encodes e into buf, which must be at least
// PeerEventSize bytes.
func MarshalPeerEvent(e *PeerEvent, buf []byte) (int, error) {
	if len(buf) < PeerEventSize {
		return 0, fmt.Errorf("peerlink: peer event buffer too small: %d < %d", len(buf), PeerEventSize)
	}

	w := bytes.NewBuffer(buf[:0])
	for _, field := range []any{
		uint32(e.Kind), e.PathfinderID, e.IP6, e.PublicKey, e.Path, e.Metric, e.Version,
	} {
		if err := binary.Write(w, binary.BigEndian, field); err != nil {
			return 0, fmt.Errorf("marshal peer event: %w", err)
		}
	}
	return PeerEventSize, nil
}

// UnmarshalPeerEvent decodes a PeerEvent from buf.
func UnmarshalPeerEvent(buf []byte, e *PeerEvent) error {
	if len(buf) < PeerEventSize {
		return fmt.Errorf("peerlink: peer event payload too short: %d < %d", len(buf), PeerEventSize)
	}

	r := bytes.NewReader(buf[:PeerEventSize])
	var kind uint32
	if err := binary.Read(r, binary.BigEndian, &kind); err != nil {
		return fmt.Errorf("unmarshal peer event kind: %w", err)
	}
	e.Kind = EventKind(kind)
	if err := binary.Read(r, binary.BigEndian, &e.PathfinderID); err != nil {
		return fmt.Errorf("unmarshal peer event pathfinder id: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &e.IP6); err != nil {
		return fmt.Errorf("unmarshal peer event ip6: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &e.PublicKey); err != nil {
		return fmt.Errorf("unmarshal peer event public key: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &e.Path); err != nil {
		return fmt.Errorf("unmarshal peer event path: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &e.Metric); err != nil {
		return fmt.Errorf("unmarshal peer event metric: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &e.Version); err != nil {
		return fmt.Errorf("unmarshal peer event version: %w", err)
	}
	return nil
}
