package peerlink

import "errors"

// Admin-call sentinel errors, returned by Controller's admin surface and
// mapped to HTTP status codes by internal/server.
var (
	// ErrBadIfnum is returned when an admin call names an ifNum that does
	// not exist.
	ErrBadIfnum = errors.New("peerlink: bad ifnum")

	// ErrBadKey is returned when a supplied public key does not derive a
	// valid mesh address, or equals the local key.
	ErrBadKey = errors.New("peerlink: bad key")

	// ErrOutOfSpace is returned when the switch has no free interface
	// slots for a new peer.
	ErrOutOfSpace = errors.New("peerlink: switch out of space")

	// ErrInternal names an invariant violation reported to an admin
	// caller. No Controller operation currently returns it, and the data
	// path does not panic on invariant breaks: a failed relocation swap,
	// for one, is logged and both peers are kept.
	ErrInternal = errors.New("peerlink: internal error")

	// ErrNotFound is returned by disconnectPeer when no peer with the
	// given key exists.
	ErrNotFound = errors.New("peerlink: not found")

	// ErrInvalidState is returned by beaconState when the requested mode
	// is not one of Off, Accept, Send.
	ErrInvalidState = errors.New("peerlink: invalid beacon state")

	// ErrScopeReleased names the already-released-scope condition. No
	// operation returns it: Scope.Defer on a released scope runs the
	// cleanup immediately instead.
	ErrScopeReleased = errors.New("peerlink: scope already released")
)
