// Package policy implements the route-policy filter (C3): accept and
// advertise decisions per tier-aware advertisement policy, and AS-path
// prepending. Best-path tie-breaking lives in package rib (rib.BestOf).
package policy

import (
	"net"

	"github.com/vx0net/overlayd/internal/rib"
	"github.com/vx0net/overlayd/internal/tier"
)

// defaultPrefixes are the default routes recognized by DefaultOnly policy:
// the global default and the overlay's own default aggregate.
var defaultPrefixes = []string{"0.0.0.0/0", "10.0.0.0/8"}

// Filter evaluates accept/advertise decisions for one local node against
// its configured tier and ASN.
type Filter struct {
	LocalASN uint32
	Tier     tier.Tier
}

// New constructs a Filter for a local ASN and tier.
func New(localASN uint32, t tier.Tier) *Filter {
	return &Filter{LocalASN: localASN, Tier: t}
}

func isDefaultRoute(route rib.RouteEntry) bool {
	for _, d := range defaultPrefixes {
		if route.Network.String() == mustPrefixString(d) {
			return true
		}
	}
	return false
}

func mustPrefixString(s string) string {
	p, err := rib.ParsePrefix(s)
	if err != nil {
		panic(err)
	}
	return p.String()
}

func containsASN(path []uint32, asn uint32) bool {
	for _, a := range path {
		if a == asn {
			return true
		}
	}
	return false
}

// Accept decides whether an inbound route, announced by peerASN, should be
// installed given the local tier's advertisement policy.
func (f *Filter) Accept(route rib.RouteEntry, peerASN uint32) bool {
	switch tier.AdvertisementPolicy(f.Tier) {
	case tier.FullTable:
		return !containsASN(route.ASPath, f.LocalASN)

	case tier.RegionalFilter:
		if containsASN(route.ASPath, f.LocalASN) {
			return false
		}
		peerTier := tier.Classify(peerASN)
		switch peerTier {
		case tier.Backbone:
			return true
		case tier.Regional:
			return len(route.ASPath) <= 3
		case tier.Edge:
			return route.Network.PrefixLen() >= 24
		}
		return false

	case tier.DefaultOnly:
		if isDefaultRoute(route) {
			return true
		}
		return len(route.ASPath) == 1 && route.ASPath[0] == peerASN

	default:
		return false
	}
}

// Advertise decides whether route should be sent to a peer of peerASN.
func (f *Filter) Advertise(route rib.RouteEntry, peerASN uint32) bool {
	switch tier.AdvertisementPolicy(f.Tier) {
	case tier.FullTable:
		return !containsASN(route.ASPath, peerASN)

	case tier.RegionalFilter:
		peerTier := tier.Classify(peerASN)
		switch peerTier {
		case tier.Backbone:
			return route.Network.PrefixLen() <= 16
		case tier.Regional:
			return !containsASN(route.ASPath, peerASN)
		case tier.Edge:
			return isDefaultRoute(route) || (route.Network.PrefixLen() >= 24 && route.LocalPref >= rib.DefaultLocalPref)
		}
		return false

	case tier.DefaultOnly:
		return len(route.ASPath) > 0 && route.ASPath[0] == f.LocalASN

	default:
		return false
	}
}

// Prepend returns a copy of path with asn inserted at the front, as done
// to an announcement's as_path by each AS hop it crosses (§4.4: "the
// route is installed with the peer prepended to as_path").
func Prepend(path []uint32, asn uint32) []uint32 {
	out := make([]uint32, 0, len(path)+1)
	out = append(out, asn)
	out = append(out, path...)
	return out
}

// NextHopLess provides a deterministic lower-IP comparator, exposed for
// callers that need the same ordering rib.BestOf uses internally.
func NextHopLess(a, b net.IP) bool {
	return string(a.To16()) < string(b.To16())
}
