// Package bootstrap implements the open-join protocol (C11): ASN
// auto-assignment, entry-point discovery merged from three sources,
// and the initial and periodic top-up join sequences.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/vx0net/overlayd/internal/errkind"
	"github.com/vx0net/overlayd/internal/metrics"
	"github.com/vx0net/overlayd/internal/node"
	"github.com/vx0net/overlayd/internal/resolver"
	"github.com/vx0net/overlayd/internal/tier"
)

// PeeringPort is the well-known TCP port entry points are probed and
// connected on.
const PeeringPort = 1179

// TopUpInterval is how often the periodic top-up task re-evaluates
// peer count against max_peers/2 (a supplemented feature: spec.md
// doesn't fix an interval, the reference source uses 5 minutes).
const TopUpInterval = 5 * time.Minute

const connectivityProbeTimeout = 5 * time.Second

// EntryPoint is one candidate bootstrap peer: a hostname, address, and
// claimed ASN.
type EntryPoint struct {
	Hostname string
	IP       net.IP
	ASN      uint32
}

// compiledInDirectory is the directory of well-known seed nodes baked
// into the binary. Real deployments would populate this from a signed
// manifest; this stub lists a small fixed set.
func compiledInDirectory() []EntryPoint {
	return []EntryPoint{
		{Hostname: "seed1.vx0", IP: net.ParseIP("10.0.0.10"), ASN: 65000},
		{Hostname: "seed2.vx0", IP: net.ParseIP("10.0.0.11"), ASN: 65001},
	}
}

// UsedASNProbe reports ASNs already claimed on the network. The stub
// implementation (matching the reference source) always returns an
// empty set.
type UsedASNProbe func(ctx context.Context) ([]uint32, error)

// DefaultUsedASNProbe is the stub probe: no network-wide ASN registry
// is consulted, so every ASN in range is considered free.
func DefaultUsedASNProbe(ctx context.Context) ([]uint32, error) {
	return nil, nil
}

// AutoAssignASN accepts the configured ASN if it already falls in the
// tier's range; otherwise it probes for used ASNs and picks the
// smallest unused in-range value. ConfigError("no ASNs") if the range
// is exhausted.
func AutoAssignASN(ctx context.Context, configured uint32, t tier.Tier, probe UsedASNProbe) (uint32, error) {
	if tier.InRange(t, configured) {
		return configured, nil
	}
	if probe == nil {
		probe = DefaultUsedASNProbe
	}

	used, err := probe(ctx)
	if err != nil {
		return 0, errkind.NewNetworkError("probe used ASNs", err)
	}
	usedSet := make(map[uint32]bool, len(used))
	for _, a := range used {
		usedSet[a] = true
	}

	min, max := tier.ASNRange(t)
	for asn := min; asn <= max; asn++ {
		if !usedSet[asn] {
			return asn, nil
		}
	}
	return 0, errkind.NewConfigError("no ASNs available in %s tier range (%d-%d)", t, min, max)
}

// BroadcastProbe stubs a multicast/broadcast probe on the local
// broadcast domain. The reference source sends to 255.255.255.255 and
// never collects a synchronous reply; this implementation mirrors
// that by always returning an empty result.
func BroadcastProbe(ctx context.Context) ([]EntryPoint, error) {
	return nil, nil
}

// resolverWellKnownNames are the names resolver-based discovery
// consults. Resolved names carry no ASN of their own; they are
// attributed to the Backbone tier's minimum ASN, since the gateway
// and nameserver roles are core infrastructure by convention.
var resolverWellKnownNames = []string{
	"gateway." + resolver.ReservedTLD,
	"ns1." + resolver.ReservedTLD,
	"ns2." + resolver.ReservedTLD,
}

// ResolverDiscovery looks up the well-known reserved names through r
// and returns any that resolve as entry-point candidates.
func ResolverDiscovery(r *resolver.Resolver) []EntryPoint {
	backboneMin, _ := tier.ASNRange(tier.Backbone)
	var out []EntryPoint
	for _, name := range resolverWellKnownNames {
		ip, ok := r.Resolve(name)
		if !ok {
			continue
		}
		out = append(out, EntryPoint{Hostname: name, IP: ip, ASN: backboneMin})
	}
	return out
}

// MergeEntryPoints combines entry points from multiple sources,
// deduplicating by IP address.
func MergeEntryPoints(sources ...[]EntryPoint) []EntryPoint {
	seen := make(map[string]bool)
	var merged []EntryPoint
	for _, src := range sources {
		for _, ep := range src {
			key := ep.IP.String()
			if seen[key] {
				continue
			}
			seen[key] = true
			merged = append(merged, ep)
		}
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Hostname < merged[j].Hostname })
	return merged
}

// DiscoverEntryPoints merges the compiled-in directory, a broadcast
// probe, and resolver-based discovery, per spec.md §4.11.
func DiscoverEntryPoints(ctx context.Context, r *resolver.Resolver) ([]EntryPoint, error) {
	broadcast, err := BroadcastProbe(ctx)
	if err != nil {
		return nil, err
	}
	return MergeEntryPoints(compiledInDirectory(), broadcast, ResolverDiscovery(r)), nil
}

// Joiner drives the open-join protocol for one node.
type Joiner struct {
	Node *node.Node
	PSK  []byte
	log  *slog.Logger
}

// NewJoiner constructs a Joiner for n, authenticating tunnels with the
// given default PSK.
func NewJoiner(n *node.Node, psk []byte, log *slog.Logger) *Joiner {
	if log == nil {
		log = slog.Default()
	}
	return &Joiner{Node: n, PSK: psk, log: log}
}

// tcpReachable tests a candidate over TCP, retrying twice with a
// 500ms delay between attempts (matching the join protocol's original
// connect_to_bootstrap_node retry cadence).
func tcpReachable(ip net.IP, timeout time.Duration) bool {
	addr := net.JoinHostPort(ip.String(), fmt.Sprintf("%d", PeeringPort))
	probe := func() error {
		conn, err := net.DialTimeout("tcp", addr, timeout)
		if err != nil {
			return err
		}
		conn.Close()
		return nil
	}
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(500*time.Millisecond), 2)
	return backoff.Retry(probe, b) == nil
}

// filterSurvivors discards candidates whose tier can't peer with this
// node or that fail a TCP connectivity test.
func (j *Joiner) filterSurvivors(candidates []EntryPoint) []EntryPoint {
	var survivors []EntryPoint
	for _, c := range candidates {
		peerTier := tier.Classify(c.ASN)
		if !tier.CanPeer(j.Node.Tier, peerTier) {
			continue
		}
		if !tcpReachable(c.IP, connectivityProbeTimeout) {
			continue
		}
		survivors = append(survivors, c)
	}
	return survivors
}

// Join attempts to establish sessions with up to min(3, N) surviving
// candidates out of candidates. It succeeds if at least one
// connection succeeds; otherwise it fails with NetworkError.
func (j *Joiner) Join(ctx context.Context, candidates []EntryPoint) error {
	metrics.BootstrapPeersDiscovered.Set(float64(len(candidates)))
	survivors := j.filterSurvivors(candidates)

	limit := 3
	if len(survivors) < limit {
		limit = len(survivors)
	}

	successes := 0
	for i := 0; i < limit; i++ {
		c := survivors[i]
		peerID := uuid.New()
		tunnelAddr := net.JoinHostPort(c.IP.String(), "500")

		if _, err := j.Node.CreateSecureTunnel(peerID, tunnelAddr, j.PSK); err != nil {
			j.log.Warn("bootstrap tunnel failed", "entry_point", c.Hostname, "error", err)
			continue
		}
		if err := j.Node.AddPeer(node.PeerConnection{
			PeerID:   peerID,
			PeerASN:  c.ASN,
			PeerAddr: c.IP,
			Status:   node.Authenticated,
			LastSeen: time.Now(),
		}); err != nil {
			j.log.Warn("bootstrap peer admission failed", "entry_point", c.Hostname, "error", err)
			continue
		}
		successes++
	}

	if successes == 0 {
		metrics.BootstrapJoinAttempts.WithLabelValues("failure").Inc()
		return errkind.NewNetworkError("bootstrap join", errors.New("no entry point connections succeeded"))
	}
	metrics.BootstrapJoinAttempts.WithLabelValues("success").Inc()
	return nil
}

// alreadyPeeredASNs returns the set of ASNs this node currently has a
// peer connection with.
func (j *Joiner) alreadyPeeredASNs() map[uint32]bool {
	out := make(map[uint32]bool)
	for _, p := range j.Node.Peers() {
		out[p.PeerASN] = true
	}
	return out
}

// TopUp runs one top-up pass: if the current peer count is below
// max_peers(tier)/2, it attempts to join additional entry points not
// already peered with.
func (j *Joiner) TopUp(ctx context.Context, candidates []EntryPoint) error {
	maxPeers := tier.MaxPeers(j.Node.Tier)
	if j.Node.PeerCount() >= maxPeers/2 {
		return nil
	}

	peered := j.alreadyPeeredASNs()
	var fresh []EntryPoint
	for _, c := range candidates {
		if !peered[c.ASN] {
			fresh = append(fresh, c)
		}
	}
	if len(fresh) == 0 {
		return nil
	}
	return j.Join(ctx, fresh)
}

// StartPeriodicTopUp runs TopUp on TopUpInterval until ctx is
// cancelled, re-discovering entry points on every tick.
func (j *Joiner) StartPeriodicTopUp(ctx context.Context, r *resolver.Resolver) {
	ticker := time.NewTicker(TopUpInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			candidates, err := DiscoverEntryPoints(ctx, r)
			if err != nil {
				j.log.Warn("top-up discovery failed", "error", err)
				continue
			}
			if err := j.TopUp(ctx, candidates); err != nil {
				j.log.Debug("top-up join attempt found nothing reachable", "error", err)
			}
		}
	}
}
