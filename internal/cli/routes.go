package cli

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

type RoutesCmd struct{}

func NewRoutesCmd() *RoutesCmd { return &RoutesCmd{} }

func (c *RoutesCmd) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "List peering sessions by FSM state.",
		RunE: withLogger(func(ctx context.Context, flags globalFlags, cmd *cobra.Command, args []string) error {
			var sessions map[string]string
			if err := adminClient(flags).Get("/routes", &sessions); err != nil {
				return fmt.Errorf("failed to fetch sessions: %w", err)
			}
			ips := make([]string, 0, len(sessions))
			for ip := range sessions {
				ips = append(ips, ip)
			}
			sort.Strings(ips)
			for _, ip := range ips {
				fmt.Printf("%s\t%s\n", ip, sessions[ip])
			}
			return nil
		}),
	}
}
