// Package node implements the node orchestrator (C10): identity
// generation, the peer map, the service list, and the peer-to-tunnel
// index, plus admission checks that delegate to packages tier and
// tunnel.
package node

import (
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vx0net/overlayd/internal/errkind"
	"github.com/vx0net/overlayd/internal/resolver"
	"github.com/vx0net/overlayd/internal/tier"
	"github.com/vx0net/overlayd/internal/tunnel"
)

// NodeId is a 128-bit node identifier.
type NodeId = uuid.UUID

// ConnectionStatus is a peer connection's lifecycle status.
type ConnectionStatus int

const (
	Disconnected ConnectionStatus = iota
	Connecting
	Connected
	Authenticated
	PeerFailed
)

func (s ConnectionStatus) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Authenticated:
		return "Authenticated"
	case PeerFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// ConnectionMetrics tracks a peer connection's observed health.
type ConnectionMetrics struct {
	LatencyMS        uint64
	PacketLoss       float32
	BytesSent        uint64
	BytesReceived    uint64
	RoutesAdvertised uint32
	RoutesReceived   uint32
}

// PeerConnection is one admitted peering relationship.
type PeerConnection struct {
	PeerID   NodeId
	PeerASN  uint32
	PeerAddr net.IP
	Status   ConnectionStatus
	Metrics  ConnectionMetrics
	LastSeen time.Time
}

// ServiceType enumerates the kinds of service a node can host,
// adopted from the reference source's concrete enum rather than
// leaving the field a bare string.
type ServiceType int

const (
	ServiceWebServer ServiceType = iota
	ServiceEmailServer
	ServiceFileServer
	ServiceChatServer
	ServiceDatabase
	ServiceCustom
)

// Service is one service this node advertises under the reserved
// namespace. CustomType carries the label when Type is ServiceCustom.
type Service struct {
	ServiceID  uuid.UUID
	Name       string
	Type       ServiceType
	CustomType string
	Domain     string
	Port       uint16
	Metadata   map[string]string
}

// GeographicLocation is informational placement metadata carried on
// the node identity.
type GeographicLocation struct {
	Country   string
	Region    string
	City      string
	Latitude  float64
	Longitude float64
}

// Node is the orchestrator: it owns the peer map, the service list,
// and the peer-to-tunnel index, and it delegates key agreement and
// encryption to packages ike and tunnel.
type Node struct {
	ID       NodeId
	ASN      uint32
	Tier     tier.Tier
	Location GeographicLocation
	Hostname string
	IPv4     net.IP
	IPv6     net.IP

	Tunnels  *tunnel.Manager
	Resolver *resolver.Resolver

	mu             sync.RWMutex
	peers          map[NodeId]*PeerConnection
	services       []Service
	peerTunnel     map[NodeId]tunnel.TunnelId
	started        bool
}

// New constructs a Node, validating that asn is in range for tier
// (spec.md §4.10). Construction fails with a ConfigError otherwise.
func New(asn uint32, t tier.Tier, hostname string, ipv4, ipv6 net.IP, location GeographicLocation) (*Node, error) {
	if !tier.InRange(t, asn) {
		min, max := tier.ASNRange(t)
		return nil, errkind.NewConfigError("ASN %d not valid for %s tier (valid range: %d-%d)", asn, t, min, max)
	}

	return &Node{
		ID:         uuid.New(),
		ASN:        asn,
		Tier:       t,
		Location:   location,
		Hostname:   hostname,
		IPv4:       ipv4,
		IPv6:       ipv6,
		Tunnels:    tunnel.New(),
		Resolver:   resolver.New(),
		peers:      make(map[NodeId]*PeerConnection),
		peerTunnel: make(map[NodeId]tunnel.TunnelId),
	}, nil
}

// AddPeer admits a peer if the current peer count is below
// max_peers(tier) and the tier pair is peerable; otherwise a
// NetworkError is returned and the peer map is unchanged.
func (n *Node) AddPeer(pc PeerConnection) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if len(n.peers) >= tier.MaxPeers(n.Tier) {
		return errkind.NewNetworkError("add peer", errkind.NewConfigError(
			"maximum peer limit reached for %s tier (%d/%d)", n.Tier, len(n.peers), tier.MaxPeers(n.Tier)))
	}

	peerTier := tier.Classify(pc.PeerASN)
	if !tier.CanPeer(n.Tier, peerTier) {
		return errkind.NewNetworkError("add peer", errkind.NewConfigError(
			"%s nodes cannot peer with %s nodes", n.Tier, peerTier))
	}

	if pc.Status == 0 && pc.LastSeen.IsZero() {
		pc.Status = Disconnected
		pc.LastSeen = time.Now()
	}
	stored := pc
	n.peers[pc.PeerID] = &stored
	return nil
}

// RemovePeer drops a peer connection and any tunnel index entry it
// had, without closing the underlying tunnel.
func (n *Node) RemovePeer(peerID NodeId) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.peers, peerID)
	delete(n.peerTunnel, peerID)
}

// PeerCount returns the current number of admitted peers.
func (n *Node) PeerCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.peers)
}

// Peers returns a snapshot of every admitted peer connection.
func (n *Node) Peers() []PeerConnection {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]PeerConnection, 0, len(n.peers))
	for _, p := range n.peers {
		out = append(out, *p)
	}
	return out
}

// RegisterService adds a hosted service. The domain must end in the
// resolver's reserved namespace; anything else is a ConfigError.
func (n *Node) RegisterService(svc Service) error {
	if !strings.HasSuffix(svc.Domain, "."+resolver.ReservedTLD) && svc.Domain != resolver.GatewayName {
		return errkind.NewConfigError("service domain %q must end with .%s or equal %s", svc.Domain, resolver.ReservedTLD, resolver.GatewayName)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.services = append(n.services, svc)
	return nil
}

// Services returns a snapshot of every registered service.
func (n *Node) Services() []Service {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]Service, len(n.services))
	copy(out, n.services)
	return out
}

// CreateSecureTunnel runs the key-agreement session to Established
// (package ike, via the tunnel manager) and records peer_id -> tunnel_id
// on success.
func (n *Node) CreateSecureTunnel(peerID NodeId, peerAddr string, psk []byte) (tunnel.TunnelId, error) {
	id, err := n.Tunnels.Create(n.IPv4.String(), peerAddr, peerAddr, psk)
	if err != nil {
		return tunnel.TunnelId{}, err
	}

	n.mu.Lock()
	n.peerTunnel[peerID] = id
	n.mu.Unlock()
	return id, nil
}

// SendSecure looks up the tunnel for a peer and seals bytes through
// it, delegating the crypto to the tunnel manager.
func (n *Node) SendSecure(peerID NodeId, plaintext []byte) ([]byte, error) {
	n.mu.RLock()
	id, ok := n.peerTunnel[peerID]
	n.mu.RUnlock()
	if !ok {
		return nil, errkind.NewProtocolError("no tunnel registered for peer %s", peerID)
	}
	return n.Tunnels.Send(id, plaintext)
}

// TunnelHealth returns peer_id -> established? for every peer with a
// registered tunnel.
func (n *Node) TunnelHealth() map[NodeId]bool {
	n.mu.RLock()
	index := make(map[NodeId]tunnel.TunnelId, len(n.peerTunnel))
	for k, v := range n.peerTunnel {
		index[k] = v
	}
	n.mu.RUnlock()

	out := make(map[NodeId]bool, len(index))
	for peerID, tunnelID := range index {
		out[peerID] = n.Tunnels.IsEstablished(tunnelID)
	}
	return out
}

// Start marks the node as running. It is a light lifecycle hook;
// packages daemon/bootstrap own the actual listener and probe tasks.
func (n *Node) Start() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.started = true
}

// Stop marks every peer Disconnected and records the node as stopped.
// It is idempotent.
func (n *Node) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.started = false
	for _, p := range n.peers {
		p.Status = Disconnected
	}
}

// IsStarted reports whether Start has been called without a matching
// Stop.
func (n *Node) IsStarted() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.started
}
