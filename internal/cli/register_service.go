package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

type RegisterServiceCmd struct{}

func NewRegisterServiceCmd() *RegisterServiceCmd { return &RegisterServiceCmd{} }

func (c *RegisterServiceCmd) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "register-service <name> <domain> <port>",
		Short: "Advertise a hosted service under the reserved namespace.",
		Args:  cobra.ExactArgs(3),
		RunE: withLogger(func(ctx context.Context, flags globalFlags, cmd *cobra.Command, args []string) error {
			port, err := strconv.ParseUint(args[2], 10, 16)
			if err != nil {
				return fmt.Errorf("invalid port %q: %w", args[2], err)
			}
			req := map[string]any{"name": args[0], "domain": args[1], "port": uint16(port)}
			if err := adminClient(flags).Post("/services", req, nil); err != nil {
				return fmt.Errorf("failed to register service: %w", err)
			}
			fmt.Println("registered")
			return nil
		}),
	}
}
