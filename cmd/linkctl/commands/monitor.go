package commands

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func monitorCmd() *cobra.Command {
	var pathfinderID uint32

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Stream peer events",
		Long:  "Connects to linkctld and streams peer/peer-gone events until interrupted (Ctrl+C).",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			events, err := client.WatchEvents(ctx, pathfinderID)
			if err != nil {
				return fmt.Errorf("watch events: %w", err)
			}

			for {
				select {
				case e, ok := <-events:
					if !ok {
						return nil
					}

					out, fmtErr := formatEvent(e, outputFormat)
					if fmtErr != nil {
						return fmt.Errorf("format event: %w", fmtErr)
					}

					fmt.Println(out)
				case <-ctx.Done():
					if errors.Is(ctx.Err(), context.Canceled) {
						return nil
					}
					return ctx.Err()
				}
			}
		},
	}

	cmd.Flags().Uint32Var(&pathfinderID, "pathfinder", 0,
		"pathfinder ID to request a replay of current peers from before streaming changes")

	return cmd
}
