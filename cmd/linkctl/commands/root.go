package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// client is the admin HTTP API client, initialized in PersistentPreRunE.
	client *Client

	// outputFormat controls the output format for all commands (table or json).
	outputFormat string

	// serverAddr is the linkctld admin API base URL.
	serverAddr string
)

// rootCmd is the top-level cobra command for linkctl.
var rootCmd = &cobra.Command{
	Use:   "linkctl",
	Short: "CLI client for the linkctl peer-link controller",
	Long:  "linkctl communicates with linkctld's admin HTTP API to manage mesh links and peers.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		client = NewClient(serverAddr)
		return nil
	},
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "http://localhost:8080",
		"linkctld admin API base URL")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", formatTable,
		"output format: table, json")

	rootCmd.AddCommand(ifaceCmd())
	rootCmd.AddCommand(peerCmd())
	rootCmd.AddCommand(monitorCmd())
	rootCmd.AddCommand(versionCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
