package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/vx0net/overlayd/internal/bootstrap"
)

type ConnectCmd struct{}

func NewConnectCmd() *ConnectCmd { return &ConnectCmd{} }

func (c *ConnectCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connect <ip> <asn>",
		Short: "Establish an outbound peering session with a given peer.",
		Args:  cobra.ExactArgs(2),
		RunE: withLogger(func(ctx context.Context, flags globalFlags, cmd *cobra.Command, args []string) error {
			asn, err := strconv.ParseUint(args[1], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid asn %q: %w", args[1], err)
			}
			req := map[string]any{"ip": args[0], "asn": uint32(asn), "port": bootstrap.PeeringPort}
			if err := adminClient(flags).Post("/connect", req, nil); err != nil {
				return fmt.Errorf("failed to connect to %s: %w", args[0], err)
			}
			fmt.Println("session established")
			return nil
		}),
	}
	return cmd
}
