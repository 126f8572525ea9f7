// Package metrics defines the prometheus gauges and counters exported
// by the daemon: RIB version, session state transitions, tunnel
// traffic, and bootstrap join attempts.
package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "overlayd_build_info",
		Help: "Build information of the overlay daemon.",
	}, []string{"version", "commit"})

	RIBVersion = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "overlayd_rib_version", Help: "Current monotonic version counter of the route information base.",
	})
	RIBRoutes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "overlayd_rib_routes", Help: "Number of best routes currently installed in the RIB.",
	})

	SessionStateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "overlayd_session_state_transitions_total", Help: "Peering session FSM transitions, by resulting state.",
	}, []string{"state"})
	SessionsEstablished = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "overlayd_sessions_established", Help: "Number of peering sessions currently in the Established state.",
	})
	UpdatesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "overlayd_updates_received_total", Help: "Update messages received, by peer ASN.",
	}, []string{"peer_asn"})

	TunnelBytesIn = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "overlayd_tunnel_bytes_in_total", Help: "Bytes received through established tunnels.",
	}, []string{"tunnel_id"})
	TunnelBytesOut = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "overlayd_tunnel_bytes_out_total", Help: "Bytes sent through established tunnels.",
	}, []string{"tunnel_id"})
	TunnelRekeys = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "overlayd_tunnel_rekeys_total", Help: "Tunnel rekey attempts, by outcome.",
	}, []string{"outcome"})

	BootstrapJoinAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "overlayd_bootstrap_join_attempts_total", Help: "Bootstrap join attempts, by outcome.",
	}, []string{"outcome"})
	BootstrapPeersDiscovered = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "overlayd_bootstrap_peers_discovered", Help: "Entry points discovered in the most recent bootstrap round.",
	})
)

// Serve starts the prometheus exposition endpoint on addr and blocks
// until the listener fails. Callers run it in its own goroutine.
func Serve(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.Serve(listener, mux)
}
