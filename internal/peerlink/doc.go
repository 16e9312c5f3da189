// Package peerlink implements the peer link controller of a mesh overlay
// router: per-neighbor authenticated session lifecycle, liveness pinging,
// beacon-based discovery, and the bidirectional bridge between a link-layer
// transport and a packet switch.
//
// The package is organized leaves-first: Peer owns one neighbor on one
// link, LinkInterface owns the peers on one transport, and Controller owns
// the set of LinkInterfaces plus the periodic ticks and the event-bus
// endpoint.
package peerlink
