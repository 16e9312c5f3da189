// Package transport defines the link-layer transport contract a
// LinkInterface delivers framed messages over (spec §1: "link-layer
// transports... out of scope") and a UDP broadcast reference
// implementation. Frames crossing this boundary are opaque: the
// link-layer address header and payload encoding are peerlink's concern
// (internal/peerlink/wire.go), not the transport's.
package transport

import "context"

// Transport is a bidirectional frame channel. Implementations deliver
// raw, already link-layer-addressed frames; Recv/Send never inspect
// frame contents.
type Transport interface {
	// Send transmits frame. It may block briefly but must respect ctx
	// cancellation.
	Send(ctx context.Context, frame []byte) error

	// Recv blocks until one frame arrives or ctx is cancelled.
	Recv(ctx context.Context) ([]byte, error)

	// Close releases the underlying transport resources.
	Close() error
}
