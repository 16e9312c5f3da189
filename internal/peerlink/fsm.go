package peerlink

// This file implements the peer state machine. Like the BFD session FSM it
// is modelled on, it is a pure function over a transition table — no side
// effects, no Peer dependency — which makes it trivially testable in
// isolation from the controller and the transport.
//
// The four non-final states and Established correspond one-to-one to the
// cryptographic session's own states; the controller reads the session
// state on every valid inbound frame and drives the FSM with the matching
// EventSession* event. Unresponsive is the one controller-only state: it
// is entered by the ping tick and left on a valid inbound frame, never
// driven by the session's own state.

// State is one of the six peer lifecycle states.
type State uint8

const (
	// StateUnauthenticated is the initial state of every new peer.
	StateUnauthenticated State = iota

	// StateHandshake1 through StateHandshake3 mirror the cryptographic
	// session's own handshake progress.
	StateHandshake1
	StateHandshake2
	StateHandshake3

	// StateEstablished is reached once the session completes its
	// handshake; the data path is open.
	StateEstablished

	// StateUnresponsive is entered when an Established peer has been
	// silent past UnresponsiveAfter. It is left again on any valid
	// inbound frame while the session itself is still Established.
	StateUnresponsive
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "Unauthenticated"
	case StateHandshake1:
		return "Handshake1"
	case StateHandshake2:
		return "Handshake2"
	case StateHandshake3:
		return "Handshake3"
	case StateEstablished:
		return "Established"
	case StateUnresponsive:
		return "Unresponsive"
	default:
		return "Unknown"
	}
}

// Event is a peer FSM event.
type Event uint8

const (
	// EventSessionHandshake1 through EventSessionHandshake3 report that
	// the cryptographic session advanced to the matching handshake state.
	EventSessionHandshake1 Event = iota
	EventSessionHandshake2
	EventSessionHandshake3

	// EventSessionEstablished reports that the session reached
	// Established.
	EventSessionEstablished

	// EventSilenceTimeout is raised by the ping tick when a peer has been
	// silent past UnresponsiveAfter; only Established has a transition
	// for it.
	EventSilenceTimeout

	// EventValidFrame is raised on any valid decrypted inbound frame
	// while the session itself is still Established; besides
	// EventDestroy, it is the only event accepted from Unresponsive.
	EventValidFrame

	// EventDestroy is raised by an explicit disconnect and by the ping
	// tick when it forgets a silent incoming peer. A peer whose scope is
	// released directly (link teardown, controller shutdown, relocation)
	// does not pass through the FSM and publishes no Peer-Gone event.
	EventDestroy
)

// String returns the human-readable name of the event.
func (e Event) String() string {
	switch e {
	case EventSessionHandshake1:
		return "SessionHandshake1"
	case EventSessionHandshake2:
		return "SessionHandshake2"
	case EventSessionHandshake3:
		return "SessionHandshake3"
	case EventSessionEstablished:
		return "SessionEstablished"
	case EventSilenceTimeout:
		return "SilenceTimeout"
	case EventValidFrame:
		return "ValidFrame"
	case EventDestroy:
		return "Destroy"
	default:
		return "Unknown"
	}
}

// Action is a side effect the caller must execute after a transition. The
// FSM never performs these itself.
type Action uint8

const (
	// ActionRunRelocation scans the owning LinkInterface for another
	// Established peer sharing the same public key and supersedes it.
	ActionRunRelocation Action = iota + 1

	// ActionPublishPeer publishes a Peer event on the event bus.
	ActionPublishPeer

	// ActionPublishPeerGone publishes a Peer-Gone event on the event bus.
	ActionPublishPeerGone

	// ActionDestroy releases the peer's scope.
	ActionDestroy
)

// String returns the human-readable name of the action.
func (a Action) String() string {
	switch a {
	case ActionRunRelocation:
		return "RunRelocation"
	case ActionPublishPeer:
		return "PublishPeer"
	case ActionPublishPeerGone:
		return "PublishPeerGone"
	case ActionDestroy:
		return "Destroy"
	default:
		return "Unknown"
	}
}

// stateEvent is the FSM transition table key: current state + incoming
// event.
type stateEvent struct {
	state State
	event Event
}

// transition describes the target state and side effects of one FSM
// transition.
type transition struct {
	newState State
	actions  []Action
}

// FSMResult holds the outcome of applying an event to the FSM.
type FSMResult struct {
	OldState State
	NewState State
	Actions  []Action
	Changed  bool
}

// fsmTable is the complete peer FSM transition table (spec §4.1).
//
//nolint:gochecknoglobals // transition table is intentionally package-level.
var fsmTable = map[stateEvent]transition{
	{StateUnauthenticated, EventSessionHandshake1}: {newState: StateHandshake1},
	{StateUnauthenticated, EventSessionHandshake2}: {newState: StateHandshake2},
	{StateUnauthenticated, EventSessionHandshake3}: {newState: StateHandshake3},

	{StateHandshake1, EventSessionHandshake2}: {newState: StateHandshake2},
	{StateHandshake1, EventSessionHandshake3}: {newState: StateHandshake3},
	{StateHandshake2, EventSessionHandshake3}: {newState: StateHandshake3},

	// Handshake_* + session reaches Established -> Established.
	// Learning the key and deriving ip6 are done by the caller before it
	// invokes the FSM (it needs the decoded key off the wire, which the
	// FSM has no access to); relocation and publishing follow afterwards,
	// as ActionRunRelocation and ActionPublishPeer.
	{StateHandshake1, EventSessionEstablished}: {
		newState: StateEstablished,
		actions:  []Action{ActionRunRelocation, ActionPublishPeer},
	},
	{StateHandshake2, EventSessionEstablished}: {
		newState: StateEstablished,
		actions:  []Action{ActionRunRelocation, ActionPublishPeer},
	},
	{StateHandshake3, EventSessionEstablished}: {
		newState: StateEstablished,
		actions:  []Action{ActionRunRelocation, ActionPublishPeer},
	},
	{StateUnauthenticated, EventSessionEstablished}: {
		newState: StateEstablished,
		actions:  []Action{ActionRunRelocation, ActionPublishPeer},
	},

	// Established + silence past UnresponsiveAfter -> Unresponsive.
	{StateEstablished, EventSilenceTimeout}: {
		newState: StateUnresponsive,
		actions:  []Action{ActionPublishPeerGone},
	},

	// Unresponsive + valid frame while session still Established ->
	// Established. No re-publish: see the open question in spec §9.
	{StateUnresponsive, EventValidFrame}: {
		newState: StateEstablished,
	},

	// any + EventDestroy -> destroyed. newState is
	// left equal to the current state: once ActionDestroy runs the Peer
	// is removed from its map and the state value is no longer observed.
	{StateUnauthenticated, EventDestroy}: {newState: StateUnauthenticated, actions: []Action{ActionPublishPeerGone, ActionDestroy}},
	{StateHandshake1, EventDestroy}:      {newState: StateHandshake1, actions: []Action{ActionPublishPeerGone, ActionDestroy}},
	{StateHandshake2, EventDestroy}:      {newState: StateHandshake2, actions: []Action{ActionPublishPeerGone, ActionDestroy}},
	{StateHandshake3, EventDestroy}:      {newState: StateHandshake3, actions: []Action{ActionPublishPeerGone, ActionDestroy}},
	{StateEstablished, EventDestroy}:     {newState: StateEstablished, actions: []Action{ActionPublishPeerGone, ActionDestroy}},
	{StateUnresponsive, EventDestroy}:    {newState: StateUnresponsive, actions: []Action{ActionPublishPeerGone, ActionDestroy}},
}

// ApplyEvent applies an FSM event to the given state and returns the
// result. It is a pure function: the caller executes the returned actions.
// Unlisted (state, event) pairs are silently ignored.
func ApplyEvent(current State, event Event) FSMResult {
	tr, ok := fsmTable[stateEvent{state: current, event: event}]
	if !ok {
		return FSMResult{OldState: current, NewState: current}
	}

	return FSMResult{
		OldState: current,
		NewState: tr.newState,
		Actions:  tr.actions,
		Changed:  current != tr.newState,
	}
}
