package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

type StatusCmd struct{}

func NewStatusCmd() *StatusCmd { return &StatusCmd{} }

func (c *StatusCmd) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether the node is reachable and running.",
		RunE: withLogger(func(ctx context.Context, flags globalFlags, cmd *cobra.Command, args []string) error {
			var info infoResponse
			if err := adminClient(flags).Get("/info", &info); err != nil {
				fmt.Println("not running:", err)
				return nil
			}
			if info.Started {
				fmt.Printf("running: %s (asn %d, %s tier, %d peers)\n", info.Hostname, info.ASN, info.Tier, info.Peers)
			} else {
				fmt.Println("reachable but stopped")
			}
			return nil
		}),
	}
}

// infoResponse mirrors adminapi's response shape for GET /info.
type infoResponse struct {
	NodeID   string `json:"node_id"`
	Hostname string `json:"hostname"`
	ASN      uint32 `json:"asn"`
	Tier     string `json:"tier"`
	Started  bool   `json:"started"`
	Peers    int    `json:"peer_count"`
}
