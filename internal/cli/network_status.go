package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

type NetworkStatusCmd struct{}

func NewNetworkStatusCmd() *NetworkStatusCmd { return &NetworkStatusCmd{} }

type networkStatusResponse struct {
	Started      bool `json:"started"`
	PeerCount    int  `json:"peer_count"`
	ServiceCount int  `json:"service_count"`
}

func (c *NetworkStatusCmd) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "network-status",
		Short: "Summarize peer and service counts for this node.",
		RunE: withLogger(func(ctx context.Context, flags globalFlags, cmd *cobra.Command, args []string) error {
			var status networkStatusResponse
			if err := adminClient(flags).Get("/network-status", &status); err != nil {
				return fmt.Errorf("failed to fetch network status: %w", err)
			}
			fmt.Printf("started=%t peers=%d services=%d\n", status.Started, status.PeerCount, status.ServiceCount)
			return nil
		}),
	}
}
