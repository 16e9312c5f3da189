package peerlink_test

import (
	"slices"
	"testing"

	"github.com/meshwired/linkctl/internal/peerlink"
)

func TestApplyEvent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		state       peerlink.State
		event       peerlink.Event
		wantState   peerlink.State
		wantChanged bool
		wantActions []peerlink.Action
	}{
		{
			name:        "unauthenticated to handshake1",
			state:       peerlink.StateUnauthenticated,
			event:       peerlink.EventSessionHandshake1,
			wantState:   peerlink.StateHandshake1,
			wantChanged: true,
		},
		{
			name:        "handshake3 to established runs relocation and publishes",
			state:       peerlink.StateHandshake3,
			event:       peerlink.EventSessionEstablished,
			wantState:   peerlink.StateEstablished,
			wantChanged: true,
			wantActions: []peerlink.Action{peerlink.ActionRunRelocation, peerlink.ActionPublishPeer},
		},
		{
			name:        "established to unresponsive on silence publishes peer-gone",
			state:       peerlink.StateEstablished,
			event:       peerlink.EventSilenceTimeout,
			wantState:   peerlink.StateUnresponsive,
			wantChanged: true,
			wantActions: []peerlink.Action{peerlink.ActionPublishPeerGone},
		},
		{
			name:        "unresponsive recovers on valid frame without re-publish",
			state:       peerlink.StateUnresponsive,
			event:       peerlink.EventValidFrame,
			wantState:   peerlink.StateEstablished,
			wantChanged: true,
			wantActions: nil,
		},
		{
			name:        "established self-loop on unrelated event is a no-op",
			state:       peerlink.StateEstablished,
			event:       peerlink.EventSessionHandshake1,
			wantState:   peerlink.StateEstablished,
			wantChanged: false,
		},
		{
			name:        "destroy from established publishes and destroys",
			state:       peerlink.StateEstablished,
			event:       peerlink.EventDestroy,
			wantState:   peerlink.StateEstablished,
			wantChanged: false,
			wantActions: []peerlink.Action{peerlink.ActionPublishPeerGone, peerlink.ActionDestroy},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := peerlink.ApplyEvent(tc.state, tc.event)

			if got.NewState != tc.wantState {
				t.Errorf("NewState = %s, want %s", got.NewState, tc.wantState)
			}
			if got.Changed != tc.wantChanged {
				t.Errorf("Changed = %v, want %v", got.Changed, tc.wantChanged)
			}
			if !slices.Equal(got.Actions, tc.wantActions) {
				t.Errorf("Actions = %v, want %v", got.Actions, tc.wantActions)
			}
		})
	}
}

func TestApplyEventUnknownTransitionIsIgnored(t *testing.T) {
	t.Parallel()

	got := peerlink.ApplyEvent(peerlink.StateUnauthenticated, peerlink.EventValidFrame)
	if got.Changed {
		t.Fatalf("expected no transition, got Changed=true NewState=%s", got.NewState)
	}
	if got.Actions != nil {
		t.Fatalf("expected no actions, got %v", got.Actions)
	}
}
