package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

type PeersCmd struct{}

func NewPeersCmd() *PeersCmd { return &PeersCmd{} }

type peerView struct {
	PeerID   string `json:"PeerID"`
	PeerASN  uint32 `json:"PeerASN"`
	PeerAddr string `json:"PeerAddr"`
	Status   int    `json:"Status"`
}

func (c *PeersCmd) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "peers",
		Short: "List admitted peer connections.",
		RunE: withLogger(func(ctx context.Context, flags globalFlags, cmd *cobra.Command, args []string) error {
			var peers []peerView
			if err := adminClient(flags).Get("/peers", &peers); err != nil {
				return fmt.Errorf("failed to fetch peers: %w", err)
			}
			if len(peers) == 0 {
				fmt.Println("no peers")
				return nil
			}
			for _, p := range peers {
				fmt.Printf("%s\tasn=%d\taddr=%s\n", p.PeerID, p.PeerASN, p.PeerAddr)
			}
			return nil
		}),
	}
}
