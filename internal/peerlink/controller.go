package peerlink

import (
	"context"
	cryptorand "crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/meshwired/linkctl/internal/eventbus"
	linkmetrics "github.com/meshwired/linkctl/internal/metrics"
	"github.com/meshwired/linkctl/internal/pathswitch"
	"github.com/meshwired/linkctl/internal/session"
	"github.com/meshwired/linkctl/internal/transport"
)

// ProtocolVersion is this build's wire protocol version, carried in every
// beacon and checked against a remote's beacon before admission.
const ProtocolVersion uint32 = 22

// Controller owns every LinkInterface and drives the peer FSM from a
// single goroutine (spec §5). All mutation of links, peers, and the
// peer-by-key index happens inside that goroutine; every exported admin
// method hands a closure to it through commands and blocks for the
// result, the same single-writer discipline the reference mesh router
// gets from its own event loop.
type Controller struct {
	scope *Scope

	sessions session.Factory
	sw       pathswitch.Switch
	pinger   pathswitch.Pinger
	bus      eventbus.Bus

	tuning Tuning
	now    func() time.Time

	logger  *slog.Logger
	metrics *linkmetrics.Collector

	localBeacon Beacon

	links       []*LinkInterface
	peersByKey  map[[32]byte]*Peer
	pendingPing map[uint64]*Peer
	pingSentAt  map[uint64]time.Time

	runCtx      context.Context
	commands    chan func()
	inbound     chan inboundFrame
	switchOutCh chan switchOutFrame
}

type inboundFrame struct {
	link  *LinkInterface
	frame []byte
}

type switchOutFrame struct {
	peer  *Peer
	frame []byte
}

// NewController builds a Controller with no links registered. Call Run in
// its own goroutine, then NewIface/BootstrapPeer and the rest of the
// admin surface.
func NewController(sessions session.Factory, sw pathswitch.Switch, pinger pathswitch.Pinger, bus eventbus.Bus, tuning Tuning, logger *slog.Logger) (*Controller, error) {
	var pw [BeaconPasswordLen]byte
	if _, err := cryptorand.Read(pw[:]); err != nil {
		return nil, fmt.Errorf("generate beacon password: %w", err)
	}

	return &Controller{
		scope:    NewScope(),
		sessions: sessions,
		sw:       sw,
		pinger:   pinger,
		bus:      bus,
		tuning:   tuning,
		now:      time.Now,
		logger:   logger,
		localBeacon: Beacon{
			PublicKey:       sessions.LocalPublicKey(),
			ProtocolVersion: ProtocolVersion,
			Password:        pw,
		},
		peersByKey:  make(map[[32]byte]*Peer),
		pendingPing: make(map[uint64]*Peer),
		pingSentAt:  make(map[uint64]time.Time),
		commands:    make(chan func()),
		inbound:     make(chan inboundFrame, 256),
		switchOutCh: make(chan switchOutFrame, 256),
	}, nil
}

// SetMetrics attaches a Prometheus collector. Must be called before Run;
// a nil collector (the default) disables metrics entirely.
func (c *Controller) SetMetrics(m *linkmetrics.Collector) {
	c.metrics = m
}

// Run is the controller's single event loop. It returns when ctx is
// cancelled, after releasing every link's and peer's scope.
func (c *Controller) Run(ctx context.Context) error {
	c.runCtx = ctx

	pingTicker := time.NewTicker(c.tuning.PingInterval)
	defer pingTicker.Stop()
	beaconTicker := time.NewTicker(c.tuning.BeaconInterval)
	defer beaconTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.scope.Release()
			return ctx.Err()

		case fn := <-c.commands:
			fn()

		case in := <-c.inbound:
			in.link.deliverInbound(in.frame)

		case so := <-c.switchOutCh:
			c.handleSwitchOut(so.peer, so.frame)

		case resp := <-c.pinger.Responses():
			c.handlePingResponse(resp)

		case q := <-c.bus.Queries():
			c.handleEnumerateQuery(q)

		case now := <-pingTicker.C:
			c.pingTick(now)

		case now := <-beaconTicker.C:
			c.beaconTick(now)
		}
	}
}

// do submits fn to the event loop and blocks for its result. Run must
// already be executing in its own goroutine.
func (c *Controller) do(fn func() error) error {
	errCh := make(chan error, 1)
	select {
	case c.commands <- func() { errCh <- fn() }:
	case <-c.runCtx.Done():
		return c.runCtx.Err()
	}
	select {
	case err := <-errCh:
		return err
	case <-c.runCtx.Done():
		return c.runCtx.Err()
	}
}

func (c *Controller) linkByNum(ifNum int) (*LinkInterface, error) {
	if ifNum < 0 || ifNum >= len(c.links) {
		return nil, ErrBadIfnum
	}
	return c.links[ifNum], nil
}

// NewIface registers a link-layer transport under a fresh, dense ifNum
// and starts its receive loop (spec §6's newIface admin call).
func (c *Controller) NewIface(name string, tr transport.Transport, mode BeaconMode) (int, error) {
	var ifNum int
	err := c.do(func() error {
		link := &LinkInterface{
			scope:      NewScope(),
			name:       name,
			ifNum:      len(c.links),
			peers:      make(map[LLAddr]*Peer),
			beaconMode: mode,
			transport:  tr,
			controller: c,
			logger:     c.logger,
		}
		ifNum = link.ifNum
		c.links = append(c.links, link)

		c.scope.Defer(link.scope.Release)
		link.scope.Defer(func() { _ = tr.Close() })
		c.startReceiver(link)
		return nil
	})
	return ifNum, err
}

func (c *Controller) startReceiver(link *LinkInterface) {
	go func() {
		for {
			frame, err := link.transport.Recv(c.runCtx)
			if err != nil {
				if c.runCtx.Err() != nil {
					return
				}
				c.logger.Warn("link recv error", slog.String("link", link.name), slog.Any("err", err))
				continue
			}

			select {
			case c.inbound <- inboundFrame{link: link, frame: frame}:
			case <-c.runCtx.Done():
				return
			}
		}
	}()
}

// BootstrapPeer creates an outbound peer with a known public key (spec
// §4.5). Bootstrapping an address that already has a peer is a no-op.
func (c *Controller) BootstrapPeer(ifNum int, rawAddr []byte, key [32]byte, password []byte) error {
	return c.do(func() error {
		link, err := c.linkByNum(ifNum)
		if err != nil {
			return err
		}

		if key == c.sessions.LocalPublicKey() {
			return ErrBadKey
		}
		ip6 := DeriveIP6(key)
		if !IsValidMeshAddr(ip6) {
			return ErrBadKey
		}

		addr := NewLLAddr(rawAddr)
		if _, exists := link.peers[addr]; exists {
			return nil
		}

		sess, err := c.sessions.WrapOutbound(key, password)
		if err != nil {
			return fmt.Errorf("wrap outbound session: %w", err)
		}

		peer, err := c.newPeer(link, addr, sess, false)
		if err != nil {
			return err
		}
		peer.key = key
		peer.hasKey = true
		peer.ip6 = ip6

		c.flushPendingOutbound(peer)
		return nil
	})
}

// DisconnectPeer destroys the peer with the given public key, wherever it
// is mapped (spec §6's disconnectPeer admin call).
func (c *Controller) DisconnectPeer(key [32]byte) error {
	return c.do(func() error {
		peer := c.peersByKey[key]
		if peer == nil {
			peer = c.findPeerByKey(key)
		}
		if peer == nil {
			return ErrNotFound
		}
		c.advanceFSM(peer, EventDestroy)
		return nil
	})
}

// BeaconState sets a link's beacon posture (spec §6's beaconState admin
// call).
func (c *Controller) BeaconState(ifNum int, mode BeaconMode) error {
	if mode != BeaconOff && mode != BeaconAccept && mode != BeaconSend {
		return ErrInvalidState
	}
	return c.do(func() error {
		link, err := c.linkByNum(ifNum)
		if err != nil {
			return err
		}
		link.beaconMode = mode
		return nil
	})
}

// GetPeerStats returns a snapshot of one peer's stats (spec §6's
// getPeerStats admin call).
func (c *Controller) GetPeerStats(key [32]byte) (Stats, error) {
	var stats Stats
	err := c.do(func() error {
		peer := c.peersByKey[key]
		if peer == nil {
			peer = c.findPeerByKey(key)
		}
		if peer == nil {
			return ErrNotFound
		}
		stats = peer.Stats()
		return nil
	})
	return stats, err
}

// ListPeers snapshots every peer on every link, for the admin surface's
// list endpoint.
func (c *Controller) ListPeers() []Stats {
	var out []Stats
	_ = c.do(func() error {
		for _, link := range c.links {
			for _, p := range link.peers {
				out = append(out, p.Stats())
			}
		}
		return nil
	})
	return out
}

func (c *Controller) findPeerByKey(key [32]byte) *Peer {
	for _, link := range c.links {
		for _, p := range link.peers {
			if p.hasKey && p.key == key {
				return p
			}
		}
	}
	return nil
}

// newPeer allocates a switch interface and registers a new Peer on link.
// The onSwitchOut callback captures the peer by pointer so it can be
// wired before the peer's path label is known.
func (c *Controller) newPeer(link *LinkInterface, addr LLAddr, sess session.Session, incoming bool) (*Peer, error) {
	now := c.now()
	peer := &Peer{
		scope:             NewScope(),
		link:              link,
		lladdr:            addr,
		state:             StateUnauthenticated,
		session:           sess,
		isIncoming:        incoming,
		timeOfLastMessage: now.Add(-c.tuning.PingAfter - time.Second),
	}

	label, err := c.sw.AddInterface(0, func(frame []byte) { c.submitSwitchOut(peer, frame) })
	if err != nil {
		return nil, ErrOutOfSpace
	}
	peer.pathLabel = label

	link.peers[addr] = peer
	peer.scope.Defer(func() { c.sw.RemoveInterface(peer.pathLabel) })
	peer.scope.Defer(func() { c.refreshPeerGauge(link) })
	peer.scope.Defer(func() { delete(link.peers, addr) })
	link.scope.Defer(peer.scope.Release)

	c.refreshPeerGauge(link)
	return peer, nil
}

func (c *Controller) destroyPeer(peer *Peer) {
	if peer.hasKey {
		if existing, ok := c.peersByKey[peer.key]; ok && existing == peer {
			delete(c.peersByKey, peer.key)
		}
	}
	peer.scope.Release()
}

// relocate implements §4.1's relocation: when peer just reached
// Established, any other Established peer on the same link sharing its
// key is superseded. The two switch interfaces are swapped before the
// old peer is destroyed, so the stable path label survives on peer.
func (c *Controller) relocate(peer *Peer) {
	old := peer.link.relocationCandidate(peer.key, peer)
	if old == nil {
		return
	}

	if err := c.sw.SwapInterfaces(peer.pathLabel, old.pathLabel); err != nil {
		c.logger.Warn("relocation swap failed", slog.Any("err", err))
		return
	}
	peer.pathLabel, old.pathLabel = old.pathLabel, peer.pathLabel

	c.destroyPeer(old)
}

func (c *Controller) publishPeer(peer *Peer, kind EventKind) {
	ev := PeerEvent{
		Kind:         kind,
		PathfinderID: BroadcastPathfinder,
		IP6:          peer.ip6,
		PublicKey:    peer.key,
		Path:         peer.pathLabel,
		Metric:       DirectMetric,
		Version:      peer.protocolVersion,
	}

	buf := make([]byte, PeerEventSize)
	if _, err := MarshalPeerEvent(&ev, buf); err != nil {
		c.logger.Error("marshal peer event", slog.Any("err", err))
		return
	}
	c.bus.Publish(buf)

	if kind == EventKindPeer && peer.hasKey {
		c.peersByKey[peer.key] = peer
	}
}

// handleEnumerateQuery answers an enumerate-peers query with one Peer
// event per currently Established peer (spec §4.8).
func (c *Controller) handleEnumerateQuery(q eventbus.Query) {
	for _, link := range c.links {
		for _, peer := range link.peers {
			if peer.state != StateEstablished {
				continue
			}

			ev := PeerEvent{
				Kind:         EventKindPeer,
				PathfinderID: q.PathfinderID,
				IP6:          peer.ip6,
				PublicKey:    peer.key,
				Path:         peer.pathLabel,
				Metric:       DirectMetric,
				Version:      peer.protocolVersion,
			}
			buf := make([]byte, PeerEventSize)
			if _, err := MarshalPeerEvent(&ev, buf); err != nil {
				continue
			}
			c.bus.Reply(q.PathfinderID, buf)
		}
	}
}

func (c *Controller) advanceFSM(peer *Peer, event Event) {
	result := ApplyEvent(peer.state, event)
	if !result.Changed && len(result.Actions) == 0 {
		return
	}
	from := peer.state
	peer.state = result.NewState
	if c.metrics != nil && from != peer.state {
		c.metrics.RecordStateTransition(peer.link.name, from.String(), peer.state.String())
		c.refreshPeerGauge(peer.link)
	}
	for _, action := range result.Actions {
		c.runAction(peer, action)
	}
}

// refreshPeerGauge recomputes the per-state peer gauge for link. Called
// after any event that can change how peers are distributed across
// states, so the gauge stays a live view rather than drifting.
func (c *Controller) refreshPeerGauge(link *LinkInterface) {
	if c.metrics == nil {
		return
	}
	var counts [StateUnresponsive + 1]int
	for _, p := range link.peers {
		counts[p.state]++
	}
	for s, n := range counts {
		c.metrics.SetPeerCount(link.name, State(s).String(), float64(n))
	}
}

func (c *Controller) runAction(peer *Peer, action Action) {
	switch action {
	case ActionRunRelocation:
		c.relocate(peer)
	case ActionPublishPeer:
		c.publishPeer(peer, EventKindPeer)
	case ActionPublishPeerGone:
		c.publishPeer(peer, EventKindPeerGone)
	case ActionDestroy:
		c.destroyPeer(peer)
	}
}

// pendingOutboundSource is satisfied by the reference AEADSession; it is
// not part of session.Session because handshake framing is an
// implementation detail of the crypto engine, not the contract.
type pendingOutboundSource interface {
	PendingOutbound() ([]byte, bool)
}

func sessionPendingOutbound(s session.Session) ([]byte, bool) {
	if p, ok := s.(pendingOutboundSource); ok {
		return p.PendingOutbound()
	}
	return nil, false
}

func (c *Controller) flushPendingOutbound(peer *Peer) {
	if pending, ok := sessionPendingOutbound(peer.session); ok {
		c.sendToPeer(peer, pending)
	}
}

func (c *Controller) sendToPeer(peer *Peer, payload []byte) {
	wire := EncodeFrame(peer.lladdr, false, payload)
	if err := peer.link.transport.Send(c.runCtx, wire); err != nil {
		c.logger.Warn("send failed", slog.String("link", peer.link.name), slog.Any("err", err))
	}
}

// deliverToPeer decrypts an inbound frame addressed to peer, drives the
// FSM from the session's resulting state, and forwards a terminating
// plaintext payload to the switch. It reports false only when Decrypt
// returned session.ErrRejected; the unknown-source path uses that to tear
// down the speculative peer it just created.
func (c *Controller) deliverToPeer(peer *Peer, payload []byte) bool {
	plaintext, err := peer.session.Decrypt(payload)
	if err != nil {
		return !errors.Is(err, session.ErrRejected)
	}

	peer.bytesIn += uint64(len(payload))
	peer.timeOfLastMessage = c.now()
	if c.metrics != nil {
		c.metrics.AddBytesIn(peer.link.name, len(payload))
	}

	if pending, ok := sessionPendingOutbound(peer.session); ok {
		c.sendToPeer(peer, pending)
	}

	if peer.session.State() != session.StateNew {
		peer.syncKeyFromSession()
	}

	if event, ok := sessionEvent(peer.state, peer.session.State()); ok {
		c.advanceFSM(peer, event)
	}

	if plaintext == nil {
		return true
	}

	if peer.state != StateEstablished && peer.state != StateUnresponsive && !terminatesHere(plaintext) {
		peer.pingCount++
		if preEstablishedPingRate(peer.pingCount) {
			c.ping(peer)
		}
		return true
	}

	if err := c.sw.Send(peer.pathLabel, plaintext); err != nil {
		c.logger.Warn("switch send failed", slog.Any("err", err))
	}
	return true
}

func (c *Controller) handleBeacon(link *LinkInterface, addr LLAddr, payload []byte) {
	if link.beaconMode == BeaconOff {
		return
	}

	var b Beacon
	if err := UnmarshalBeacon(payload, &b); err != nil {
		c.rejectBeacon(link, "unmarshal_failed")
		return
	}
	if b.PublicKey == c.sessions.LocalPublicKey() {
		c.rejectBeacon(link, "self_beacon")
		return
	}
	ip6 := DeriveIP6(b.PublicKey)
	if !IsValidMeshAddr(ip6) {
		c.rejectBeacon(link, "bad_mesh_addr")
		return
	}
	if b.ProtocolVersion != ProtocolVersion {
		c.rejectBeacon(link, "version_mismatch")
		return
	}

	if peer, ok := link.peers[addr]; ok {
		peer.session.SetAuth(b.Password[:])
		if c.metrics != nil {
			c.metrics.IncBeaconsAccepted(link.name, "password_refresh")
		}
		return
	}

	c.admitBeaconPeer(link, addr, b)
}

func (c *Controller) rejectBeacon(link *LinkInterface, reason string) {
	if c.metrics != nil {
		c.metrics.IncBeaconsRejected(link.name, reason)
	}
}

func (c *Controller) admitBeaconPeer(link *LinkInterface, addr LLAddr, b Beacon) {
	sess, err := c.sessions.WrapInbound(b.Password[:])
	if err != nil {
		c.logger.Warn("wrap inbound session", slog.Any("err", err))
		c.rejectBeacon(link, "session_setup_failed")
		return
	}

	peer, err := c.newPeer(link, addr, sess, true)
	if err != nil {
		c.logger.Warn("admit beacon peer", slog.Any("err", err))
		c.rejectBeacon(link, "out_of_space")
		return
	}
	peer.key = b.PublicKey
	peer.hasKey = true
	peer.ip6 = DeriveIP6(b.PublicKey)
	peer.protocolVersion = b.ProtocolVersion
	if c.metrics != nil {
		c.metrics.IncBeaconsAccepted(link.name, "new_peer")
	}
}

// handleUnknownSource implements §4.4: a non-broadcast frame from an
// unmapped lladdr is admitted speculatively on a link with beacon-accept
// on, and the speculative peer is torn down again if that very first
// frame turns out to be unauthenticated garbage.
func (c *Controller) handleUnknownSource(link *LinkInterface, addr LLAddr, payload []byte) {
	if link.beaconMode == BeaconOff {
		return
	}

	sess, err := c.sessions.WrapInbound(nil)
	if err != nil {
		c.logger.Warn("wrap inbound session", slog.Any("err", err))
		return
	}

	peer, err := c.newPeer(link, addr, sess, true)
	if err != nil {
		return
	}

	if !c.deliverToPeer(peer, payload) {
		c.destroyPeer(peer)
	}
}

func (c *Controller) submitSwitchOut(peer *Peer, frame []byte) {
	select {
	case c.switchOutCh <- switchOutFrame{peer: peer, frame: frame}:
	default:
		c.logger.Warn("switch-out queue full, dropping frame")
	}
}

// handleSwitchOut implements the outbound data path (spec §4.7). A frame
// handed to an already-Unresponsive peer is cloned before encryption even
// though the peer will most likely just discard it: preserved as-is per
// the design's open question rather than special-cased away.
func (c *Controller) handleSwitchOut(peer *Peer, frame []byte) {
	if !peer.scope.Live() {
		return
	}

	wasUnresponsive := peer.state == StateUnresponsive
	if wasUnresponsive {
		frame = append([]byte(nil), frame...)
	}

	out, err := peer.session.Encrypt(frame)
	if err != nil {
		if !wasUnresponsive && !errors.Is(err, session.ErrUndeliverable) {
			c.logger.Warn("encrypt failed", slog.Any("err", err))
		}
		return
	}

	c.sendToPeer(peer, out)
	peer.bytesOut += uint64(len(out))
	if c.metrics != nil {
		c.metrics.AddBytesOut(peer.link.name, len(out))
	}
}

// handlePingResponse implements the response half of §4.6: timeOfLastPing
// only advances here, never at send time, so a peer that never answers
// never throttles its own retry cadence. A response reporting an
// incompatible protocol version is logged and otherwise ignored — it
// still closes out the pending ping, but does not touch the peer.
func (c *Controller) handlePingResponse(resp pathswitch.PingResponse) {
	peer, ok := c.pendingPing[resp.PathLabel]
	if !ok {
		return
	}
	delete(c.pendingPing, resp.PathLabel)
	delete(c.pingSentAt, resp.PathLabel)

	if resp.Version != ProtocolVersion {
		c.logger.Warn("ping response version mismatch",
			slog.String("link", peer.link.name), slog.Uint64("version", uint64(resp.Version)))
		return
	}

	peer.protocolVersion = resp.Version
	peer.timeOfLastPing = c.now()

	if peer.state == StateEstablished {
		c.publishPeer(peer, EventKindPeer)
	}
}

// pingTick implements §4.6: for each link, at most one candidate peer —
// found by scanning from a randomized offset for the first peer whose
// silence and last-ping age both clear pingAfter — is visited.
func (c *Controller) pingTick(now time.Time) {
	c.sweepPingTimeouts(now)

	for _, link := range c.links {
		if peer := link.pingCandidate(now, c.tuning.PingAfter); peer != nil {
			c.tickPeer(peer, now)
		}
	}
}

// sweepPingTimeouts drops pending switch-pings that have outlived
// PingTimeout without a response, freeing the peer to become a ping
// candidate again on a later tick.
func (c *Controller) sweepPingTimeouts(now time.Time) {
	for label, sentAt := range c.pingSentAt {
		if now.Sub(sentAt) <= c.tuning.PingTimeout {
			continue
		}
		peer := c.pendingPing[label]
		delete(c.pendingPing, label)
		delete(c.pingSentAt, label)
		if c.metrics != nil && peer != nil {
			c.metrics.IncPingTimeouts(peer.link.name)
		}
	}
}

// tickPeer applies §4.6's liveness ladder to a single ping candidate,
// independent of its current FSM state.
func (c *Controller) tickPeer(peer *Peer, now time.Time) {
	silence := now.Sub(peer.timeOfLastMessage)

	if peer.isIncoming && silence >= c.tuning.ForgetAfter {
		c.advanceFSM(peer, EventDestroy)
		return
	}

	if silence >= c.tuning.UnresponsiveAfter {
		c.advanceFSM(peer, EventSilenceTimeout)
		if peer.pingCount%8 == 0 {
			c.ping(peer)
		}
		peer.pingCount++
		return
	}

	c.ping(peer)
	peer.pingCount++
}

func (c *Controller) ping(peer *Peer) {
	c.pendingPing[peer.pathLabel] = peer
	c.pingSentAt[peer.pathLabel] = c.now()
	c.pinger.Ping(peer.pathLabel)
	if c.metrics != nil {
		c.metrics.IncPingsSent(peer.link.name)
	}
}

// beaconTick implements §4.3's send side: every link with beaconMode
// Send emits one local self-beacon.
func (c *Controller) beaconTick(_ time.Time) {
	buf := make([]byte, BeaconSize)
	if _, err := MarshalBeacon(&c.localBeacon, buf); err != nil {
		c.logger.Error("marshal local beacon", slog.Any("err", err))
		return
	}
	wire := EncodeFrame(LLAddr{}, true, buf)

	for _, link := range c.links {
		if link.beaconMode != BeaconSend {
			continue
		}
		if err := link.transport.Send(c.runCtx, wire); err != nil {
			c.logger.Warn("beacon send failed", slog.String("link", link.name), slog.Any("err", err))
			continue
		}
		if c.metrics != nil {
			c.metrics.IncBeaconsSent(link.name, "periodic")
		}
	}
}
