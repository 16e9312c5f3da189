package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// errKeyRequired is returned when a peer command is missing its --key flag.
var errKeyRequired = errors.New("--key flag is required")

func peerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "peer",
		Short: "Manage link peers",
	}

	cmd.AddCommand(peerListCmd())
	cmd.AddCommand(peerShowCmd())
	cmd.AddCommand(peerBootstrapCmd())
	cmd.AddCommand(peerDisconnectCmd())

	return cmd
}

func peerListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all peers",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			peers, err := client.ListPeers(context.Background())
			if err != nil {
				return fmt.Errorf("list peers: %w", err)
			}

			out, err := formatPeers(peers, outputFormat)
			if err != nil {
				return fmt.Errorf("format peers: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}
}

func peerShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <key-hex>",
		Short: "Show details of a single peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			peer, err := client.GetPeerStats(context.Background(), args[0])
			if err != nil {
				return fmt.Errorf("get peer stats: %w", err)
			}

			out, err := formatPeer(peer, outputFormat)
			if err != nil {
				return fmt.Errorf("format peer: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}
}

func peerBootstrapCmd() *cobra.Command {
	var (
		ifNum    int
		addr     string
		key      string
		password string
	)

	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Bootstrap an outbound peer connection",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if key == "" {
				return errKeyRequired
			}

			if err := client.BootstrapPeer(context.Background(), ifNum, addr, key, password); err != nil {
				return fmt.Errorf("bootstrap peer: %w", err)
			}

			fmt.Println("Peer bootstrapped.")

			return nil
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&ifNum, "ifnum", -1, "link interface number (required)")
	flags.StringVar(&addr, "addr", "", "peer link-local address, hex encoded")
	flags.StringVar(&key, "key", "", "peer public key, hex encoded (required)")
	flags.StringVar(&password, "password", "", "session password, hex encoded")
	_ = cmd.MarkFlagRequired("ifnum")
	_ = cmd.MarkFlagRequired("key")

	return cmd
}

func peerDisconnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect <key-hex>",
		Short: "Disconnect a peer by public key",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if err := client.DisconnectPeer(context.Background(), args[0]); err != nil {
				return fmt.Errorf("disconnect peer: %w", err)
			}

			fmt.Println("Peer disconnected.")

			return nil
		},
	}
}

// parseIfNum validates a numeric ifnum CLI argument.
func parseIfNum(s string) (int, error) {
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return 0, fmt.Errorf("parse ifnum %q: %w", s, err)
	}
	return n, nil
}
