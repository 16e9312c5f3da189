package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func ifaceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "iface",
		Short: "Manage link interfaces",
	}

	cmd.AddCommand(ifaceNewCmd())
	cmd.AddCommand(ifaceBeaconCmd())

	return cmd
}

func ifaceNewCmd() *cobra.Command {
	var (
		name   string
		kind   string
		iface  string
		group  string
		port   int
		beacon string
	)

	cmd := &cobra.Command{
		Use:   "new",
		Short: "Create a new link interface",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ifNum, err := client.NewIface(context.Background(), name, kind, iface, group, port, beacon)
			if err != nil {
				return fmt.Errorf("new iface: %w", err)
			}

			fmt.Printf("Interface %q created as ifnum %d.\n", name, ifNum)

			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&name, "name", "", "link name (required)")
	flags.StringVar(&kind, "kind", "udp", "transport kind: udp, mem")
	flags.StringVar(&iface, "interface", "", "network interface name")
	flags.StringVar(&group, "group", "", "multicast group address")
	flags.IntVar(&port, "port", 0, "UDP port")
	flags.StringVar(&beacon, "beacon", "off", "beacon mode: off, accept, send")

	return cmd
}

func ifaceBeaconCmd() *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "beacon <ifnum>",
		Short: "Set a link interface's beacon mode",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			ifNum, err := parseIfNum(args[0])
			if err != nil {
				return err
			}

			if err := client.BeaconState(context.Background(), ifNum, mode); err != nil {
				return fmt.Errorf("beacon state: %w", err)
			}

			fmt.Printf("Interface %d beacon mode set to %q.\n", ifNum, mode)

			return nil
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "", "beacon mode: off, accept, send (required)")
	_ = cmd.MarkFlagRequired("mode")

	return cmd
}
