package cli

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vx0net/overlayd/internal/adminapi"
	"github.com/vx0net/overlayd/internal/bootstrap"
	"github.com/vx0net/overlayd/internal/metrics"
)

type StartCmd struct{}

func NewStartCmd() *StartCmd { return &StartCmd{} }

func (c *StartCmd) Command() *cobra.Command {
	var joinNetwork bool
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the node in the foreground: peering daemon, admin API, and metrics.",
		RunE: withLogger(func(ctx context.Context, flags globalFlags, cmd *cobra.Command, args []string) error {
			return runStart(ctx, flags, joinNetwork)
		}),
	}
	cmd.Flags().BoolVar(&joinNetwork, "join-network", false, "run the open-join bootstrap sequence before serving")
	return cmd
}

func runStart(ctx context.Context, flags globalFlags, joinNetwork bool) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	log := loggerFromContext(ctx)

	cfg, err := loadConfig(flags.configPath)
	if err != nil {
		return err
	}
	if flags.logLevel == "" {
		log = newLogger(cfg.Monitoring.LogLevel)
	}

	a, err := newApp(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to construct node: %w", err)
	}
	a.node.Start()

	if err := writePIDFile(flags.pidFile); err != nil {
		log.Warn("failed to write pid file", "path", flags.pidFile, "error", err)
	}
	defer os.Remove(flags.pidFile)

	if joinNetwork {
		candidates, err := discoverAndJoin(ctx, a)
		if err != nil {
			log.Warn("initial bootstrap join did not fully succeed", "error", err)
		} else {
			log.Info("bootstrap join completed", "candidates", len(candidates))
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.daemon.Start(gctx)
	})

	if cfg.Monitoring.EnableMetrics {
		g.Go(func() error {
			return metrics.Serve(net.JoinHostPort("0.0.0.0", strconv.Itoa(cfg.Monitoring.MetricsPort)))
		})
	}

	adminAddr := adminBaseURLListenAddr(flags)
	adminSrv := &http.Server{Addr: adminAddr, Handler: a.adminServer().Handler()}
	g.Go(func() error {
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		a.joiner.StartPeriodicTopUp(gctx, a.node.Resolver)
		return nil
	})

	ikeAddr := net.JoinHostPort("0.0.0.0", strconv.Itoa(cfg.Security.IKE.ListenPort))
	g.Go(func() error {
		return a.node.Tunnels.Listen(gctx, ikeAddr, a.node.IPv4.String(), a.joiner.PSK, log)
	})

	g.Go(func() error {
		<-gctx.Done()
		a.daemon.Shutdown()
		_ = adminSrv.Close()
		a.node.Stop()
		return nil
	})

	log.Info("node started", "hostname", cfg.Node.Hostname, "asn", cfg.Node.ASN, "tier", cfg.Node.Tier, "admin_addr", adminAddr, "ike_addr", ikeAddr)
	return g.Wait()
}

func discoverAndJoin(ctx context.Context, a *app) ([]bootstrap.EntryPoint, error) {
	candidates, err := bootstrap.DiscoverEntryPoints(ctx, a.node.Resolver)
	if err != nil {
		return nil, err
	}
	if err := a.joiner.Join(ctx, candidates); err != nil {
		return candidates, err
	}
	return candidates, nil
}

func adminBaseURLListenAddr(flags globalFlags) string {
	port := flags.adminPort
	if port == 0 {
		port = adminapi.DefaultPort
	}
	return net.JoinHostPort("0.0.0.0", strconv.Itoa(port))
}
