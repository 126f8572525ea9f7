// Package tier implements the pure, stateless tiered autonomous-system
// peering model: ASN range classification, the peering matrix, and
// tier-aware route advertisement policy.
package tier

import "fmt"

// Tier is the tagged variant {Backbone, Regional, Edge} from the overlay's
// membership model.
type Tier int

const (
	Backbone Tier = iota
	Regional
	Edge
)

func (t Tier) String() string {
	switch t {
	case Backbone:
		return "Backbone"
	case Regional:
		return "Regional"
	case Edge:
		return "Edge"
	default:
		return fmt.Sprintf("Tier(%d)", int(t))
	}
}

// AdvertisePolicy is the per-tier route acceptance/advertisement policy
// consumed by the route-policy filter (package policy).
type AdvertisePolicy int

const (
	FullTable AdvertisePolicy = iota
	RegionalFilter
	DefaultOnly
)

func (p AdvertisePolicy) String() string {
	switch p {
	case FullTable:
		return "FullTable"
	case RegionalFilter:
		return "RegionalFilter"
	case DefaultOnly:
		return "DefaultOnly"
	default:
		return "Unknown"
	}
}

type asnRange struct {
	min, max uint32
}

var ranges = map[Tier]asnRange{
	Backbone: {65000, 65099},
	Regional: {65100, 65999},
	Edge:     {66000, 69999},
}

var maxPeersByTier = map[Tier]int{
	Backbone: 50,
	Regional: 20,
	Edge:     5,
}

var policyByTier = map[Tier]AdvertisePolicy{
	Backbone: FullTable,
	Regional: RegionalFilter,
	Edge:     DefaultOnly,
}

// Classify maps an ASN to its tier by range lookup. ASNs outside every
// known range default to Edge.
func Classify(asn uint32) Tier {
	switch {
	case asn >= ranges[Backbone].min && asn <= ranges[Backbone].max:
		return Backbone
	case asn >= ranges[Regional].min && asn <= ranges[Regional].max:
		return Regional
	case asn >= ranges[Edge].min && asn <= ranges[Edge].max:
		return Edge
	default:
		return Edge
	}
}

// ASNRange returns the inclusive [min, max] ASN range for a tier.
func ASNRange(t Tier) (min, max uint32) {
	r := ranges[t]
	return r.min, r.max
}

// InRange reports whether asn falls within t's declared ASN range.
func InRange(t Tier, asn uint32) bool {
	r := ranges[t]
	return asn >= r.min && asn <= r.max
}

// MaxPeers returns the peering fan-out ceiling for a tier.
func MaxPeers(t Tier) int {
	return maxPeersByTier[t]
}

// AdvertisementPolicy returns the route advertisement policy for a tier.
func AdvertisementPolicy(t Tier) AdvertisePolicy {
	return policyByTier[t]
}

// peeringMatrix enumerates the legal (initiator, peer) tier pairs. Backbone
// <-> Backbone, Backbone <-> Regional, Regional <-> Regional, Regional <->
// Edge are legal; Edge <-> Edge and Backbone <-> Edge are not.
var peeringMatrix = map[Tier]map[Tier]bool{
	Backbone: {Backbone: true, Regional: true, Edge: false},
	Regional: {Backbone: true, Regional: true, Edge: true},
	Edge:     {Backbone: false, Regional: true, Edge: false},
}

// CanPeer reports whether tier a may establish a peering session with tier
// b. The matrix is symmetric by construction: CanPeer(a, b) == CanPeer(b, a).
func CanPeer(a, b Tier) bool {
	row, ok := peeringMatrix[a]
	if !ok {
		return false
	}
	return row[b]
}

// ParseLegacy parses a tier name, accepting the legacy Tier1/Tier2 aliases
// alongside Backbone/Regional/Edge.
func ParseLegacy(s string) (Tier, bool) {
	switch s {
	case "Backbone", "Tier1":
		return Backbone, true
	case "Regional", "Tier2":
		return Regional, true
	case "Edge":
		return Edge, true
	default:
		return Edge, false
	}
}
