package linkmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "linkctl"
	subsystem = "peerlink"
)

// Label names.
const (
	labelLink      = "link"
	labelState     = "state"
	labelDirection = "direction"
	labelFromState = "from_state"
	labelToState   = "to_state"
	labelReason    = "reason"
)

// -------------------------------------------------------------------------
// Collector — Prometheus peer link controller metrics
// -------------------------------------------------------------------------

// Collector holds every Prometheus metric the controller exports.
type Collector struct {
	// Peers tracks the number of peers currently in each state, per link.
	Peers *prometheus.GaugeVec

	// BytesTotal counts payload bytes moved through the data path, per
	// link and direction ("in"/"out").
	BytesTotal *prometheus.CounterVec

	// PingsSent counts switch-pings issued by the ping tick, per link.
	PingsSent *prometheus.CounterVec

	// PingTimeouts counts pings that got no response within PingTimeout,
	// swept at the start of each ping tick, per link.
	PingTimeouts *prometheus.CounterVec

	// StateTransitions counts peer FSM transitions, labeled by old and
	// new state, for alerting on flaps.
	StateTransitions *prometheus.CounterVec

	// BeaconsSent counts self-beacons emitted on Send links.
	BeaconsSent *prometheus.CounterVec

	// BeaconsAccepted counts inbound beacons that admitted or refreshed
	// a peer.
	BeaconsAccepted *prometheus.CounterVec

	// BeaconsRejected counts inbound beacons dropped for any reason
	// (self-beacon, bad prefix, version mismatch, runt).
	BeaconsRejected *prometheus.CounterVec
}

// NewCollector creates a Collector with every metric registered against
// reg. If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.Peers,
		c.BytesTotal,
		c.PingsSent,
		c.PingTimeouts,
		c.StateTransitions,
		c.BeaconsSent,
		c.BeaconsAccepted,
		c.BeaconsRejected,
	)

	return c
}

func newMetrics() *Collector {
	linkLabels := []string{labelLink}
	peerLabels := []string{labelLink, labelState}
	directionLabels := []string{labelLink, labelDirection}
	transitionLabels := []string{labelLink, labelFromState, labelToState}
	reasonLabels := []string{labelLink, labelReason}

	return &Collector{
		Peers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "peers",
			Help:      "Number of peers currently in each FSM state, per link.",
		}, peerLabels),

		BytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "bytes_total",
			Help:      "Total payload bytes moved through the data path.",
		}, directionLabels),

		PingsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pings_sent_total",
			Help:      "Total switch-pings issued by the ping tick.",
		}, linkLabels),

		PingTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "ping_timeouts_total",
			Help:      "Total switch-pings that never received a response.",
		}, linkLabels),

		StateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "state_transitions_total",
			Help:      "Total peer FSM state transitions.",
		}, transitionLabels),

		BeaconsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "beacons_sent_total",
			Help:      "Total self-beacons emitted on Send links.",
		}, reasonLabels),

		BeaconsAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "beacons_accepted_total",
			Help:      "Total inbound beacons that admitted or refreshed a peer.",
		}, reasonLabels),

		BeaconsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "beacons_rejected_total",
			Help:      "Total inbound beacons dropped.",
		}, reasonLabels),
	}
}

// -------------------------------------------------------------------------
// Peer lifecycle
// -------------------------------------------------------------------------

// SetPeerCount sets the gauge for the number of peers in state on link.
func (c *Collector) SetPeerCount(link, state string, count float64) {
	c.Peers.WithLabelValues(link, state).Set(count)
}

// -------------------------------------------------------------------------
// Data path
// -------------------------------------------------------------------------

// AddBytesIn adds n to the inbound byte counter for link.
func (c *Collector) AddBytesIn(link string, n int) {
	c.BytesTotal.WithLabelValues(link, "in").Add(float64(n))
}

// AddBytesOut adds n to the outbound byte counter for link.
func (c *Collector) AddBytesOut(link string, n int) {
	c.BytesTotal.WithLabelValues(link, "out").Add(float64(n))
}

// -------------------------------------------------------------------------
// Pings
// -------------------------------------------------------------------------

// IncPingsSent increments the pings-sent counter for link.
func (c *Collector) IncPingsSent(link string) {
	c.PingsSent.WithLabelValues(link).Inc()
}

// IncPingTimeouts increments the ping-timeouts counter for link.
func (c *Collector) IncPingTimeouts(link string) {
	c.PingTimeouts.WithLabelValues(link).Inc()
}

// -------------------------------------------------------------------------
// State transitions
// -------------------------------------------------------------------------

// RecordStateTransition increments the transition counter for a link's
// from->to FSM move.
func (c *Collector) RecordStateTransition(link, from, to string) {
	c.StateTransitions.WithLabelValues(link, from, to).Inc()
}

// -------------------------------------------------------------------------
// Beacons
// -------------------------------------------------------------------------

// IncBeaconsSent increments the beacons-sent counter for link.
func (c *Collector) IncBeaconsSent(link, reason string) {
	c.BeaconsSent.WithLabelValues(link, reason).Inc()
}

// IncBeaconsAccepted increments the beacons-accepted counter for link.
func (c *Collector) IncBeaconsAccepted(link, reason string) {
	c.BeaconsAccepted.WithLabelValues(link, reason).Inc()
}

// IncBeaconsRejected increments the beacons-rejected counter for link.
func (c *Collector) IncBeaconsRejected(link, reason string) {
	c.BeaconsRejected.WithLabelValues(link, reason).Inc()
}
