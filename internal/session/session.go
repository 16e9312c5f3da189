// Package session defines the cryptographic session contract the peer
// link controller relies on (spec §6: "Cryptographic session (external)")
// and a reference implementation used by tests and the demo daemon. A
// production deployment is expected to supply its own Factory backed by a
// vetted handshake; AEADFactory here exists to make the controller
// runnable and testable in isolation.
package session

import "errors"

// State mirrors the subset of session progress the controller's peer FSM
// drives from: New, Handshake1..3, Established.
type State uint8

const (
	StateNew State = iota
	StateHandshake1
	StateHandshake2
	StateHandshake3
	StateEstablished
)

// ReplayStats reports the replay-protector counters surfaced through
// getPeerStats.
type ReplayStats struct {
	Duplicates        uint64
	LostPackets        uint64
	ReceivedOutOfRange uint64
}

// ErrUndeliverable is returned by Encrypt/Decrypt when the session itself
// could not process the frame (e.g. handshake not yet complete, or a
// transient transport failure reported by the underlying mode). The
// controller's outbound path drops a frame whose Encrypt returns it; the
// switch-out callback has no return value, so no Undeliverable is ever
// reported back to the switch.
var ErrUndeliverable = errors.New("session: undeliverable")

// ErrRejected is returned by Decrypt when an inbound-mode session rejects
// the very first frame from an unknown source; the controller destroys
// the speculative Peer silently when it sees this error.
var ErrRejected = errors.New("session: rejected")

// Session is one peer's authenticated, encrypted channel.
type Session interface {
	// State returns the session's current handshake/established state.
	State() State

	// HerPublicKey returns the remote long-term public key, valid once
	// State is at least Handshake1 for inbound-mode sessions (outbound
	// sessions know it from creation).
	HerPublicKey() [32]byte

	// User returns an optional label for stats (empty string if unset).
	User() string

	// ReplayStats returns the replay-protector counters.
	ReplayStats() ReplayStats

	// SetAuth installs or rotates the pre-shared password used to
	// authenticate the peer.
	SetAuth(password []byte)

	// Encrypt wraps a plaintext switch frame for transmission. Returns
	// ErrUndeliverable if the session cannot currently produce a frame.
	Encrypt(plaintext []byte) ([]byte, error)

	// Decrypt unwraps an inbound wire frame, driving the handshake
	// forward if needed. Returns ErrRejected if an inbound-mode session
	// rejects the very first frame from an unknown source.
	Decrypt(frame []byte) ([]byte, error)
}

// Factory creates Sessions. Inbound-mode sessions (WrapInbound) take no
// remote key and accept it from the handshake itself.
type Factory interface {
	// WrapOutbound creates a session targeting a known remote public key,
	// pre-seeded with password (may be nil).
	WrapOutbound(herPublicKey [32]byte, password []byte) (Session, error)

	// WrapInbound creates a session that learns the remote's public key
	// from the handshake.
	WrapInbound(password []byte) (Session, error)

	// LocalPublicKey returns this node's long-term public key.
	LocalPublicKey() [32]byte

	// AddUser registers password as an accepted inbound credential under
	// label (spec §6: addUser).
	AddUser(password []byte, label string)
}
