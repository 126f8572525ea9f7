package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vx0net/overlayd/internal/bootstrap"
	"github.com/vx0net/overlayd/internal/tier"
)

type ScanASNsCmd struct{}

func NewScanASNsCmd() *ScanASNsCmd { return &ScanASNsCmd{} }

func (c *ScanASNsCmd) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "scan-asns <tier>",
		Short: "Find the smallest free ASN in a tier's range (Backbone, Regional, or Edge).",
		Args:  cobra.ExactArgs(1),
		RunE: withLogger(func(ctx context.Context, flags globalFlags, cmd *cobra.Command, args []string) error {
			t, ok := tier.ParseLegacy(args[0])
			if !ok {
				return fmt.Errorf("unknown tier %q (want Backbone, Regional, or Edge)", args[0])
			}
			asn, err := bootstrap.AutoAssignASN(ctx, 0, t, bootstrap.DefaultUsedASNProbe)
			if err != nil {
				return fmt.Errorf("no free asn in %s range: %w", t, err)
			}
			fmt.Printf("%d\n", asn)
			return nil
		}),
	}
}
