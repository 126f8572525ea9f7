// Package cli implements the overlayd command-line surface: a root
// command with global --config/--log-level flags and one subcommand
// per operation in the node lifecycle (start, stop, status, info,
// connect, disconnect, routes, peers, register-service, join,
// network-status, scan-asns).
package cli

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/vx0net/overlayd/internal/adminapi"
	"github.com/vx0net/overlayd/internal/bootstrap"
	"github.com/vx0net/overlayd/internal/config"
	"github.com/vx0net/overlayd/internal/daemon"
	"github.com/vx0net/overlayd/internal/node"
	"github.com/vx0net/overlayd/internal/policy"
	"github.com/vx0net/overlayd/internal/rib"
)

// defaultPIDFile is where `start` records its process id so `stop` can
// find it. Overridable with --pid-file.
func defaultPIDFile() string {
	return filepath.Join(os.TempDir(), "overlayd.pid")
}

// app bundles the constructed runtime objects one invocation of `start`
// operates on. The administrative subcommands build no app; they call
// the admin API of a node that `start` is already running.
type app struct {
	cfg    *config.Config
	node   *node.Node
	daemon *daemon.Daemon
	joiner *bootstrap.Joiner
	log    *slog.Logger
}

func newApp(cfg *config.Config, log *slog.Logger) (*app, error) {
	t, err := cfg.Node.ParseTier()
	if err != nil {
		return nil, err
	}

	n, err := node.New(cfg.Node.ASN, t, cfg.Node.Hostname,
		net.ParseIP(cfg.Node.IPv4Address), net.ParseIP(cfg.Node.IPv6Address),
		node.GeographicLocation{
			Country:   cfg.Node.Location.Country,
			Region:    cfg.Node.Location.Region,
			City:      cfg.Node.Location.City,
			Latitude:  cfg.Node.Location.Latitude,
			Longitude: cfg.Node.Location.Longitude,
		})
	if err != nil {
		return nil, err
	}

	r := rib.New()
	filter := policy.New(cfg.Node.ASN, t)
	listenPort := cfg.Network.BGP.ListenPort
	d := daemon.New(cfg.Node.ASN, n.IPv4, &listenPort, cfg.Network.BGP.HoldTime(), r, filter, log)

	var psk []byte
	if cfg.PSK != nil {
		psk = []byte(cfg.PSK.Default)
	}
	joiner := bootstrap.NewJoiner(n, psk, log)

	return &app{cfg: cfg, node: n, daemon: d, joiner: joiner, log: log}, nil
}

func (a *app) adminServer() *adminapi.Server {
	return &adminapi.Server{Node: a.node, Daemon: a.daemon, Joiner: a.joiner, Resolver: a.node.Resolver}
}

// adminBaseURL resolves the admin API base URL a short-lived
// administrative command should call, defaulting to loopback on
// adminapi.DefaultPort.
func adminBaseURL(host string, port int) string {
	if port == 0 {
		port = adminapi.DefaultPort
	}
	if host == "" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port))
}

func parseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func writePIDFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(string(data))
}

// connectivityTimeout bounds how long administrative subcommands wait
// for the admin API to answer before giving up.
const connectivityTimeout = 5 * time.Second

func adminClient(flags globalFlags) *adminapi.Client {
	c := adminapi.NewClient(adminBaseURL(flags.adminHost, flags.adminPort))
	c.HTTP.Timeout = connectivityTimeout
	return c
}
