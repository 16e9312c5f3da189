// Package server implements the plain HTTP/JSON admin surface for the
// peer-link controller: interface and peer management, beacon posture, peer
// stats, and a server-sent-events stream of peer up/down notifications.
package server

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/meshwired/linkctl/internal/eventbus"
	"github.com/meshwired/linkctl/internal/peerlink"
	"github.com/meshwired/linkctl/internal/transport"
)

// Sentinel errors for the server package.
var (
	// ErrUnknownTransportKind indicates a newIface request named a
	// transport kind this daemon does not know how to build.
	ErrUnknownTransportKind = errors.New("unknown transport kind")

	// ErrInvalidKey indicates a request's key field was not 32 bytes of
	// hex.
	ErrInvalidKey = errors.New("key must be 32 bytes of hex")

	// ErrInvalidBeaconMode indicates a beaconState request's mode field
	// was not one of "off", "accept", "send".
	ErrInvalidBeaconMode = errors.New("mode must be off, accept, or send")
)

// TransportFactory builds a transport.Transport for a newIface request,
// given the requested kind and its kind-specific parameters. The daemon
// wires this to the same transport constructors it uses for links declared
// in static configuration (internal/transport's UDP and in-memory
// implementations).
type TransportFactory func(kind, iface, group string, port int) (transport.Transport, error)

// Server is the admin HTTP surface over a running Controller.
type Server struct {
	controller *peerlink.Controller
	bus        *eventbus.Local
	transports TransportFactory
	logger     *slog.Logger
}

// New builds the admin mux. bus is the same eventbus.Local the controller
// publishes peer events on; transports builds link-layer transports for
// newIface requests.
func New(ctrl *peerlink.Controller, bus *eventbus.Local, transports TransportFactory, logger *slog.Logger) http.Handler {
	s := &Server{
		controller: ctrl,
		bus:        bus,
		transports: transports,
		logger:     logger.With(slog.String("component", "server")),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/interfaces", s.handleNewIface)
	mux.HandleFunc("POST /v1/peers", s.handleBootstrapPeer)
	mux.HandleFunc("DELETE /v1/peers/{key}", s.handleDisconnectPeer)
	mux.HandleFunc("PUT /v1/interfaces/{ifnum}/beacon", s.handleBeaconState)
	mux.HandleFunc("GET /v1/peers", s.handleGetPeerStats)
	mux.HandleFunc("GET /v1/events", s.handleWatchEvents)

	return RecoveryMiddleware(s.logger)(LoggingMiddleware(s.logger)(mux))
}

// -------------------------------------------------------------------------
// POST /v1/interfaces
// -------------------------------------------------------------------------

type newIfaceRequest struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Interface string `json:"interface,omitempty"`
	Group     string `json:"group,omitempty"`
	Port      int    `json:"port,omitempty"`
	Beacon    string `json:"beacon,omitempty"`
}

type newIfaceResponse struct {
	IfNum int `json:"ifnum"`
}

func (s *Server) handleNewIface(w http.ResponseWriter, r *http.Request) {
	var req newIfaceRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	mode, err := parseBeaconMode(req.Beacon)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	tr, err := s.transports(req.Kind, req.Interface, req.Group, req.Port)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %q", ErrUnknownTransportKind, req.Kind))
		return
	}

	ifNum, err := s.controller.NewIface(req.Name, tr, mode)
	if err != nil {
		_ = tr.Close()
		writeError(w, statusForControllerErr(err), err)
		return
	}

	writeJSON(w, http.StatusCreated, newIfaceResponse{IfNum: ifNum})
}

// -------------------------------------------------------------------------
// POST /v1/peers
// -------------------------------------------------------------------------

type bootstrapPeerRequest struct {
	IfNum    int    `json:"ifnum"`
	Addr     string `json:"addr"`
	Key      string `json:"key"`
	Password string `json:"password,omitempty"`
}

func (s *Server) handleBootstrapPeer(w http.ResponseWriter, r *http.Request) {
	var req bootstrapPeerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	addr, err := hex.DecodeString(req.Addr)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("addr: %w", err))
		return
	}

	key, err := decodeKey(req.Key)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	password, err := hex.DecodeString(req.Password)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("password: %w", err))
		return
	}

	if err := s.controller.BootstrapPeer(req.IfNum, addr, key, password); err != nil {
		writeError(w, statusForControllerErr(err), err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// -------------------------------------------------------------------------
// DELETE /v1/peers/{key}
// -------------------------------------------------------------------------

func (s *Server) handleDisconnectPeer(w http.ResponseWriter, r *http.Request) {
	key, err := decodeKey(r.PathValue("key"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.controller.DisconnectPeer(key); err != nil {
		writeError(w, statusForControllerErr(err), err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// -------------------------------------------------------------------------
// PUT /v1/interfaces/{ifnum}/beacon
// -------------------------------------------------------------------------

type beaconStateRequest struct {
	Mode string `json:"mode"`
}

func (s *Server) handleBeaconState(w http.ResponseWriter, r *http.Request) {
	ifNum, err := strconv.Atoi(r.PathValue("ifnum"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("ifnum: %w", err))
		return
	}

	var req beaconStateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	mode, err := parseBeaconMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.controller.BeaconState(ifNum, mode); err != nil {
		writeError(w, statusForControllerErr(err), err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// -------------------------------------------------------------------------
// GET /v1/peers[?key=]
// -------------------------------------------------------------------------

type peerStatsView struct {
	LLAddr             string `json:"ll_addr"`
	Key                string `json:"key"`
	State              string `json:"state"`
	TimeOfLastMessage  string `json:"time_of_last_message"`
	BytesIn            uint64 `json:"bytes_in"`
	BytesOut           uint64 `json:"bytes_out"`
	IsIncoming         bool   `json:"is_incoming"`
	User               string `json:"user"`
	Duplicates         uint64 `json:"duplicates"`
	LostPackets        uint64 `json:"lost_packets"`
	ReceivedOutOfRange uint64 `json:"received_out_of_range"`
}

func statsView(st peerlink.Stats) peerStatsView {
	return peerStatsView{
		LLAddr:             hex.EncodeToString(st.LLAddr.Slice()),
		Key:                hex.EncodeToString(st.Key[:]),
		State:              st.State.String(),
		TimeOfLastMessage:  st.TimeOfLastMessage.UTC().Format("2006-01-02T15:04:05.000Z"),
		BytesIn:            st.BytesIn,
		BytesOut:           st.BytesOut,
		IsIncoming:         st.IsIncoming,
		User:               st.User,
		Duplicates:         st.Duplicates,
		LostPackets:        st.LostPackets,
		ReceivedOutOfRange: st.ReceivedOutOfRange,
	}
}

func (s *Server) handleGetPeerStats(w http.ResponseWriter, r *http.Request) {
	keyParam := r.URL.Query().Get("key")
	if keyParam == "" {
		peers := s.controller.ListPeers()
		views := make([]peerStatsView, 0, len(peers))
		for _, p := range peers {
			views = append(views, statsView(p))
		}
		writeJSON(w, http.StatusOK, views)
		return
	}

	key, err := decodeKey(keyParam)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	stats, err := s.controller.GetPeerStats(key)
	if err != nil {
		writeError(w, statusForControllerErr(err), err)
		return
	}

	writeJSON(w, http.StatusOK, statsView(stats))
}

// -------------------------------------------------------------------------
// GET /v1/events?pathfinder={id}
// -------------------------------------------------------------------------

type peerEventView struct {
	Kind         string `json:"kind"`
	PathfinderID uint32 `json:"pathfinder_id"`
	IP6          string `json:"ip6"`
	PublicKey    string `json:"public_key"`
	Path         uint64 `json:"path"`
	Metric       uint32 `json:"metric"`
	Version      uint32 `json:"version"`
}

func eventView(e peerlink.PeerEvent) peerEventView {
	kind := "peer"
	if e.Kind == peerlink.EventKindPeerGone {
		kind = "peer-gone"
	}
	return peerEventView{
		Kind:         kind,
		PathfinderID: e.PathfinderID,
		IP6:          hex.EncodeToString(e.IP6[:]),
		PublicKey:    hex.EncodeToString(e.PublicKey[:]),
		Path:         e.Path,
		Metric:       e.Metric,
		Version:      e.Version,
	}
}

// handleWatchEvents streams Peer/Peer-Gone events as server-sent events.
// Every subscriber receives every broadcast event. A valid pathfinder
// query parameter additionally requests a replay of the current peers,
// addressed to this stream's own bus subscriber id.
func (s *Server) handleWatchEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	id, events, cancel := s.bus.Subscribe()
	defer cancel()

	if pf := r.URL.Query().Get("pathfinder"); pf != "" {
		if _, err := strconv.ParseUint(pf, 10, 32); err == nil {
			s.bus.RequestEnumerate(id)
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-events:
			if !ok {
				return
			}
			var e peerlink.PeerEvent
			if err := peerlink.UnmarshalPeerEvent(payload, &e); err != nil {
				s.logger.Warn("unmarshal peer event for sse", slog.Any("err", err), slog.Uint64("subscriber", uint64(id)))
				continue
			}
			body, err := json.Marshal(eventView(e))
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", body)
			flusher.Flush()
		}
	}
}

// -------------------------------------------------------------------------
// Helpers
// -------------------------------------------------------------------------

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil {
		writeError(w, http.StatusBadRequest, errors.New("missing request body"))
		return false
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return false
	}
	return true
}

func decodeKey(s string) ([32]byte, error) {
	var key [32]byte
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 32 {
		return key, ErrInvalidKey
	}
	copy(key[:], raw)
	return key, nil
}

func parseBeaconMode(mode string) (peerlink.BeaconMode, error) {
	switch strings.ToLower(mode) {
	case "", "off":
		return peerlink.BeaconOff, nil
	case "accept":
		return peerlink.BeaconAccept, nil
	case "send":
		return peerlink.BeaconSend, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidBeaconMode, mode)
	}
}

func statusForControllerErr(err error) int {
	switch {
	case errors.Is(err, peerlink.ErrNotFound), errors.Is(err, peerlink.ErrBadIfnum):
		return http.StatusNotFound
	case errors.Is(err, peerlink.ErrBadKey), errors.Is(err, peerlink.ErrInvalidState):
		return http.StatusBadRequest
	case errors.Is(err, peerlink.ErrOutOfSpace):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
