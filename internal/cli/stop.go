package cli

import (
	"context"
	"fmt"
	"syscall"

	"github.com/spf13/cobra"
)

type StopCmd struct{}

func NewStopCmd() *StopCmd { return &StopCmd{} }

func (c *StopCmd) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Signal a running node (started with start) to shut down.",
		RunE: withLogger(func(ctx context.Context, flags globalFlags, cmd *cobra.Command, args []string) error {
			pid, err := readPIDFile(flags.pidFile)
			if err != nil {
				return fmt.Errorf("no running node found at pid file %s: %w", flags.pidFile, err)
			}
			if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
				return fmt.Errorf("failed to signal pid %d: %w", pid, err)
			}
			loggerFromContext(ctx).Info("sent shutdown signal", "pid", pid)
			return nil
		}),
	}
}
