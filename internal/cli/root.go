package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

type ExitCode int

type contextKey string

const contextKeyLog contextKey = "log"

const (
	exitCodeSuccess = 0
	exitCodeError   = 1
)

// Run builds the root command and executes it, returning a process
// exit code.
func Run() ExitCode {
	rootCmd := &cobra.Command{
		Use:   "overlayd",
		Short: "Run and control an overlay network node.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().String("config", envWithDefault("OVERLAYD_CONFIG_FILE", ""), "path to the node's YAML config file (env: OVERLAYD_CONFIG_FILE)")
	rootCmd.PersistentFlags().String("log-level", envWithDefault("OVERLAYD_LOG_LEVEL", ""), "debug, info, warn, or error (overrides monitoring.log_level)")
	rootCmd.PersistentFlags().String("pid-file", defaultPIDFile(), "path to the pid file written by start and read by stop")
	rootCmd.PersistentFlags().String("admin-host", "127.0.0.1", "host the admin API is reachable on, for administrative subcommands")
	rootCmd.PersistentFlags().Int("admin-port", 0, "port the admin API is reachable on (0 = adminapi.DefaultPort)")

	rootCmd.AddCommand(
		NewStartCmd().Command(),
		NewStopCmd().Command(),
		NewStatusCmd().Command(),
		NewInfoCmd().Command(),
		NewConnectCmd().Command(),
		NewDisconnectCmd().Command(),
		NewRoutesCmd().Command(),
		NewPeersCmd().Command(),
		NewRegisterServiceCmd().Command(),
		NewJoinCmd().Command(),
		NewNetworkStatusCmd().Command(),
		NewScanASNsCmd().Command(),
	)

	if err := rootCmd.Execute(); err != nil {
		return exitCodeError
	}
	return exitCodeSuccess
}

func newLogger(level string) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(level)}))
}

// globalFlags pulls the persistent --config/--log-level/--pid-file/
// --admin-host/--admin-port flags off the root command.
type globalFlags struct {
	configPath string
	logLevel   string
	pidFile    string
	adminHost  string
	adminPort  int
}

func readGlobalFlags(cmd *cobra.Command) (globalFlags, error) {
	flags := cmd.Root().PersistentFlags()

	configPath, err := flags.GetString("config")
	if err != nil {
		return globalFlags{}, fmt.Errorf("failed to get config flag: %w", err)
	}
	logLevel, err := flags.GetString("log-level")
	if err != nil {
		return globalFlags{}, fmt.Errorf("failed to get log-level flag: %w", err)
	}
	pidFile, err := flags.GetString("pid-file")
	if err != nil {
		return globalFlags{}, fmt.Errorf("failed to get pid-file flag: %w", err)
	}
	adminHost, err := flags.GetString("admin-host")
	if err != nil {
		return globalFlags{}, fmt.Errorf("failed to get admin-host flag: %w", err)
	}
	adminPort, err := flags.GetInt("admin-port")
	if err != nil {
		return globalFlags{}, fmt.Errorf("failed to get admin-port flag: %w", err)
	}
	return globalFlags{configPath: configPath, logLevel: logLevel, pidFile: pidFile, adminHost: adminHost, adminPort: adminPort}, nil
}

// withLogger runs f with a context carrying a logger built from the
// global --log-level flag (falling back to the config document's
// monitoring.log_level once loaded).
func withLogger(f func(ctx context.Context, flags globalFlags, cmd *cobra.Command, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		flags, err := readGlobalFlags(cmd)
		if err != nil {
			return err
		}
		log := newLogger(flags.logLevel)
		ctx = context.WithValue(ctx, contextKeyLog, log)

		if err := f(ctx, flags, cmd, args); err != nil {
			log.Error("command failed", "error", err)
			return err
		}
		return nil
	}
}

func envWithDefault(envVar, defaultValue string) string {
	if value := os.Getenv(envVar); value != "" {
		return value
	}
	return defaultValue
}

func loggerFromContext(ctx context.Context) *slog.Logger {
	if log, ok := ctx.Value(contextKeyLog).(*slog.Logger); ok {
		return log
	}
	return slog.Default()
}
