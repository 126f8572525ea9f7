package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type InfoCmd struct{}

func NewInfoCmd() *InfoCmd { return &InfoCmd{} }

func (c *InfoCmd) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Print the node's identity and peer count as JSON.",
		RunE: withLogger(func(ctx context.Context, flags globalFlags, cmd *cobra.Command, args []string) error {
			var info infoResponse
			if err := adminClient(flags).Get("/info", &info); err != nil {
				return fmt.Errorf("failed to fetch node info: %w", err)
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(info)
		}),
	}
}
