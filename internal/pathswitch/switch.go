// Package pathswitch defines the packet switch and switch-ping client
// contracts the controller plugs into (spec §6: "Switch (external)") and
// an in-memory reference implementation for tests and the demo daemon.
package pathswitch

import "errors"

// ErrOutOfSpace is returned by AddInterface when the switch has no free
// slots left.
var ErrOutOfSpace = errors.New("pathswitch: out of space")

// Switch is the path-labelled forwarding fabric a Peer registers with.
type Switch interface {
	// AddInterface registers a new interface at the given priority and
	// returns its assigned path label. onSwitchOut is invoked by the
	// switch whenever it has a frame to deliver outbound to this peer
	// (spec §4.7's "switch sends a message on a Peer's switch
	// interface"); it must not block.
	AddInterface(priority int, onSwitchOut func(frame []byte)) (pathLabel uint64, err error)

	// RemoveInterface releases a previously assigned path label.
	RemoveInterface(pathLabel uint64)

	// SwapInterfaces exchanges the path labels and slot contents of a and
	// b. Used by relocation to transplant a superseded peer's label onto
	// the peer that is replacing it.
	SwapInterfaces(a, b uint64) error

	// Send hands a decrypted frame to the switch for routing. Implements
	// the inbound half of the data path (Peer.switchIn).
	Send(pathLabel uint64, frame []byte) error
}

// PingResponse is delivered asynchronously on a Pinger's Responses
// channel once a switch-ping round trip completes.
type PingResponse struct {
	PathLabel uint64
	Version   uint32
}

// Pinger is the switch-ping client used to learn a peer's protocol
// version and confirm its path label (spec §4.6).
type Pinger interface {
	// Ping issues a fire-and-forget switch-ping for pathLabel; the result
	// (if any) arrives later on Responses.
	Ping(pathLabel uint64)

	// Responses delivers one PingResponse per completed ping.
	Responses() <-chan PingResponse
}
