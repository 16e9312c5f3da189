package peerlink

import "time"

// Tuning holds the controller-wide timing constants. Defaults match the
// reference mesh router's values; an operator may override any of them
// through internal/config.
type Tuning struct {
	// UnresponsiveAfter is how long an Established peer may stay silent
	// before it is marked Unresponsive.
	UnresponsiveAfter time.Duration

	// PingAfter is how long a peer may stay silent before it is
	// considered lazy and becomes a ping candidate.
	PingAfter time.Duration

	// PingInterval is the period of the ping tick.
	PingInterval time.Duration

	// PingTimeout bounds how long the controller waits for a single
	// switch-ping response.
	PingTimeout time.Duration

	// ForgetAfter is how long an incoming Unresponsive peer may stay
	// silent before it is destroyed.
	ForgetAfter time.Duration

	// BeaconInterval is the period of the beacon tick on Send links.
	BeaconInterval time.Duration
}

// DefaultTuning returns the reference constants, all in milliseconds per
// the external interface table.
func DefaultTuning() Tuning {
	return Tuning{
		UnresponsiveAfter: 20480 * time.Millisecond,
		PingAfter:         3072 * time.Millisecond,
		PingInterval:      1024 * time.Millisecond,
		PingTimeout:       2048 * time.Millisecond,
		ForgetAfter:       262144 * time.Millisecond,
		BeaconInterval:    32768 * time.Millisecond,
	}
}
