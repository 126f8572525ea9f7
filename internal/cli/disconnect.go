package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

type DisconnectCmd struct{}

func NewDisconnectCmd() *DisconnectCmd { return &DisconnectCmd{} }

func (c *DisconnectCmd) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect <ip>",
		Short: "Tear down the peering session with a given peer.",
		Args:  cobra.ExactArgs(1),
		RunE: withLogger(func(ctx context.Context, flags globalFlags, cmd *cobra.Command, args []string) error {
			req := map[string]any{"ip": args[0]}
			if err := adminClient(flags).Post("/disconnect", req, nil); err != nil {
				return fmt.Errorf("failed to disconnect %s: %w", args[0], err)
			}
			fmt.Println("disconnected")
			return nil
		}),
	}
}
