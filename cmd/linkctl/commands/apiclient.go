package commands

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrRequestFailed wraps a non-2xx admin API response, carrying the
// server's JSON error message when present.
var ErrRequestFailed = errors.New("admin api request failed")

// PeerStats mirrors the admin API's getPeerStats JSON view.
type PeerStats struct {
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

// PeerEvent mirrors the admin API's SSE event payload.
type PeerEvent struct {
	Kind         string `json:"kind"`
	PathfinderID uint32 `json:"pathfinder_id"`
	IP6          string `json:"ip6"`
	PublicKey    string `json:"public_key"`
	Path         uint64 `json:"path"`
	Metric       uint32 `json:"metric"`
	Version      uint32 `json:"version"`
}

// Client is a thin wrapper over the linkctld admin HTTP API.
type Client struct {
	http    *http.Client
	baseURL string
}

// NewClient returns a Client talking to the admin API at baseURL (e.g.
// "http://localhost:8080").
func NewClient(baseURL string) *Client {
	return &Client{http: http.DefaultClient, baseURL: strings.TrimSuffix(baseURL, "/")}
}

// NewIface creates a link interface and returns its ifnum.
func (c *Client) NewIface(ctx context.Context, name, kind, iface, group string, port int, beacon string) (int, error) {
	body := map[string]any{
		"name":      name,
		"kind":      kind,
		"interface": iface,
		"group":     group,
		"port":      port,
		"beacon":    beacon,
	}

	var out struct {
		IfNum int `json:"ifnum"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/interfaces", body, &out); err != nil {
		return 0, err
	}
	return out.IfNum, nil
}

// BootstrapPeer registers an outbound peer on ifNum.
func (c *Client) BootstrapPeer(ctx context.Context, ifNum int, addrHex, keyHex, passwordHex string) error {
	body := map[string]any{
		"ifnum":    ifNum,
		"addr":     addrHex,
		"key":      keyHex,
		"password": passwordHex,
	}
	return c.do(ctx, http.MethodPost, "/v1/peers", body, nil)
}

// DisconnectPeer tears down the peer identified by keyHex.
func (c *Client) DisconnectPeer(ctx context.Context, keyHex string) error {
	return c.do(ctx, http.MethodDelete, "/v1/peers/"+keyHex, nil, nil)
}

// BeaconState sets ifNum's beacon posture.
func (c *Client) BeaconState(ctx context.Context, ifNum int, mode string) error {
	path := fmt.Sprintf("/v1/interfaces/%d/beacon", ifNum)
	return c.do(ctx, http.MethodPut, path, map[string]any{"mode": mode}, nil)
}

// ListPeers returns every peer's stats.
func (c *Client) ListPeers(ctx context.Context) ([]PeerStats, error) {
	var out []PeerStats
	if err := c.do(ctx, http.MethodGet, "/v1/peers", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetPeerStats returns one peer's stats.
func (c *Client) GetPeerStats(ctx context.Context, keyHex string) (PeerStats, error) {
	var out PeerStats
	err := c.do(ctx, http.MethodGet, "/v1/peers?key="+keyHex, nil, &out)
	return out, err
}

// WatchEvents opens the server-sent-events stream and delivers decoded
// events on the returned channel until ctx is cancelled or the stream
// ends, at which point the channel is closed.
func (c *Client) WatchEvents(ctx context.Context, pathfinderID uint32) (<-chan PeerEvent, error) {
	path := fmt.Sprintf("/v1/events?pathfinder=%d", pathfinderID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connect to admin api: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, fmt.Errorf("%w: status %d", ErrRequestFailed, resp.StatusCode)
	}

	events := make(chan PeerEvent)
	go func() {
		defer close(events)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			data, ok := strings.CutPrefix(line, "data: ")
			if !ok {
				continue
			}

			var e PeerEvent
			if err := json.Unmarshal([]byte(data), &e); err != nil {
				continue
			}

			select {
			case events <- e:
			case <-ctx.Done():
				return
			}
		}
	}()

	return events, nil
}

// do issues an HTTP request with an optional JSON body and decodes a JSON
// response into out, if out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("connect to admin api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var errBody struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		if errBody.Error != "" {
			return fmt.Errorf("%w: %s", ErrRequestFailed, errBody.Error)
		}
		return fmt.Errorf("%w: status %d", ErrRequestFailed, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
