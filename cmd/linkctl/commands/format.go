package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/olekukonko/tablewriter"
)

const (
	formatJSON  = "json"
	formatTable = "table"
	valueNA     = "N/A"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

// formatPeers renders a slice of peers in the requested format.
func formatPeers(peers []PeerStats, format string) (string, error) {
	switch format {
	case formatJSON:
		return formatJSONValue(peers)
	case formatTable:
		return formatPeersTable(peers), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// formatPeer renders a single peer in the requested format.
func formatPeer(peer PeerStats, format string) (string, error) {
	switch format {
	case formatJSON:
		return formatJSONValue(peer)
	case formatTable:
		return formatPeerDetail(peer), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// formatEvent renders a peer event in the requested format.
func formatEvent(event PeerEvent, format string) (string, error) {
	switch format {
	case formatJSON:
		return formatJSONValue(event)
	case formatTable:
		return formatEventLine(event), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// --- Table formatters ---

func formatPeersTable(peers []PeerStats) string {
	var buf strings.Builder
	table := tablewriter.NewWriter(&buf)
	table.SetHeader([]string{"Key", "LLAddr", "State", "In", "Out", "Incoming", "Last Seen"})

	for _, p := range peers {
		table.Append([]string{
			shortKey(p.Key),
			p.LLAddr,
			p.State,
			fmt.Sprintf("%d", p.BytesIn),
			fmt.Sprintf("%d", p.BytesOut),
			fmt.Sprintf("%t", p.IsIncoming),
			valueOr(p.TimeOfLastMessage, valueNA),
		})
	}

	table.Render()

	return buf.String()
}

func formatPeerDetail(p PeerStats) string {
	var buf strings.Builder
	table := tablewriter.NewWriter(&buf)
	table.SetHeader([]string{"Field", "Value"})

	table.Append([]string{"Key", p.Key})
	table.Append([]string{"LLAddr", p.LLAddr})
	table.Append([]string{"State", p.State})
	table.Append([]string{"Incoming", fmt.Sprintf("%t", p.IsIncoming)})
	table.Append([]string{"User", valueOr(p.User, valueNA)})
	table.Append([]string{"Bytes In", fmt.Sprintf("%d", p.BytesIn)})
	table.Append([]string{"Bytes Out", fmt.Sprintf("%d", p.BytesOut)})
	table.Append([]string{"Duplicates", fmt.Sprintf("%d", p.Duplicates)})
	table.Append([]string{"Lost Packets", fmt.Sprintf("%d", p.LostPackets)})
	table.Append([]string{"Received Out Of Range", fmt.Sprintf("%d", p.ReceivedOutOfRange)})
	table.Append([]string{"Time Of Last Message", valueOr(p.TimeOfLastMessage, valueNA)})

	table.Render()

	return buf.String()
}

func formatEventLine(event PeerEvent) string {
	return fmt.Sprintf("[%s] pathfinder=%d ip6=%s key=%s path=%d metric=%d version=%d",
		event.Kind,
		event.PathfinderID,
		event.IP6,
		shortKey(event.PublicKey),
		event.Path,
		event.Metric,
		event.Version,
	)
}

// --- JSON formatter ---

func formatJSONValue(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal to JSON: %w", err)
	}

	return string(data) + "\n", nil
}

// --- small helpers ---

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// shortKey truncates a hex-encoded public key for table display.
func shortKey(hexKey string) string {
	if len(hexKey) <= 16 {
		return hexKey
	}
	return hexKey[:16] + "…"
}
