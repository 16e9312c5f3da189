package server_test

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meshwired/linkctl/internal/eventbus"
	"github.com/meshwired/linkctl/internal/pathswitch"
	"github.com/meshwired/linkctl/internal/peerlink"
	"github.com/meshwired/linkctl/internal/server"
	"github.com/meshwired/linkctl/internal/session"
	"github.com/meshwired/linkctl/internal/transport"
)

func testTuning() peerlink.Tuning {
	return peerlink.Tuning{
		UnresponsiveAfter: 50 * time.Millisecond,
		PingAfter:         10 * time.Millisecond,
		PingInterval:      5 * time.Millisecond,
		PingTimeout:       20 * time.Millisecond,
		ForgetAfter:       100 * time.Millisecond,
		BeaconInterval:    15 * time.Millisecond,
	}
}

// setupTestServer builds a running Controller and wraps it in the admin
// HTTP handler, returning a client pointed at an httptest server.
func setupTestServer(t *testing.T) (*httptest.Server, *eventbus.Local) {
	t.Helper()

	factory, err := session.NewAEADFactory()
	require.NoError(t, err)

	bus := eventbus.NewLocal()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ctrl, err := peerlink.NewController(
		factory,
		pathswitch.NewMemSwitch(),
		pathswitch.NewMemPinger(1),
		bus,
		testTuning(),
		logger,
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = ctrl.Run(ctx) }()

	transports := func(kind, iface, group string, port int) (transport.Transport, error) {
		switch kind {
		case "mem":
			return transport.NewMemTransport(), nil
		default:
			return nil, fmt.Errorf("unsupported test transport kind %q", kind)
		}
	}

	handler := server.New(ctrl, bus, transports, logger)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return srv, bus
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestNewIface(t *testing.T) {
	t.Parallel()

	srv, _ := setupTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/v1/interfaces", map[string]any{
		"name": "eth0",
		"kind": "mem",
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	var out struct {
		IfNum int `json:"ifnum"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	if out.IfNum != 0 {
		t.Errorf("ifnum = %d, want 0", out.IfNum)
	}
}

func TestNewIfaceUnknownKind(t *testing.T) {
	t.Parallel()

	srv, _ := setupTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/v1/interfaces", map[string]any{
		"name": "eth0",
		"kind": "carrier-pigeon",
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestBootstrapAndListPeers(t *testing.T) {
	t.Parallel()

	srv, _ := setupTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/v1/interfaces", map[string]any{
		"name": "eth0",
		"kind": "mem",
	})
	var iface struct {
		IfNum int `json:"ifnum"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&iface))
	resp.Body.Close()

	var key [32]byte
	key[0] = 0xaa

	resp = doJSON(t, http.MethodPost, srv.URL+"/v1/peers", map[string]any{
		"ifnum": iface.IfNum,
		"addr":  hex.EncodeToString([]byte("peerA")),
		"key":   hex.EncodeToString(key[:]),
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("bootstrapPeer status = %d, want 204", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/v1/peers", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("getPeerStats status = %d, want 200", resp.StatusCode)
	}

	var peers []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&peers))
	if len(peers) != 1 {
		t.Fatalf("len(peers) = %d, want 1", len(peers))
	}
}

func TestDisconnectPeerNotFound(t *testing.T) {
	t.Parallel()

	srv, _ := setupTestServer(t)

	var key [32]byte
	key[0] = 0xbb

	resp := doJSON(t, http.MethodDelete, srv.URL+"/v1/peers/"+hex.EncodeToString(key[:]), nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestBeaconStateInvalidMode(t *testing.T) {
	t.Parallel()

	srv, _ := setupTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/v1/interfaces", map[string]any{
		"name": "eth0",
		"kind": "mem",
	})
	var iface struct {
		IfNum int `json:"ifnum"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&iface))
	resp.Body.Close()

	resp = doJSON(t, http.MethodPut, fmt.Sprintf("%s/v1/interfaces/%d/beacon", srv.URL, iface.IfNum), map[string]any{
		"mode": "loud",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestBeaconStateValid(t *testing.T) {
	t.Parallel()

	srv, _ := setupTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/v1/interfaces", map[string]any{
		"name": "eth0",
		"kind": "mem",
	})
	var iface struct {
		IfNum int `json:"ifnum"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&iface))
	resp.Body.Close()

	resp = doJSON(t, http.MethodPut, fmt.Sprintf("%s/v1/interfaces/%d/beacon", srv.URL, iface.IfNum), map[string]any{
		"mode": "send",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}
}
