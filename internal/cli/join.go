package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

type JoinCmd struct{}

func NewJoinCmd() *JoinCmd { return &JoinCmd{} }

func (c *JoinCmd) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "join",
		Short: "Run the open-join bootstrap sequence against a running node.",
		RunE: withLogger(func(ctx context.Context, flags globalFlags, cmd *cobra.Command, args []string) error {
			if err := adminClient(flags).Post("/join", map[string]any{}, nil); err != nil {
				return fmt.Errorf("bootstrap join failed: %w", err)
			}
			fmt.Println("joined")
			return nil
		}),
	}
}
