// Package resolver implements the authoritative namespace resolver
// (C9): a name service restricted to exactly one reserved top-level
// label and one reserved apex name. Every other name is refused
// unconditionally — this is the isolation invariant the rest of the
// overlay depends on.
package resolver

import (
	"net"
	"strings"
	"sync"
	"time"

	"github.com/vx0net/overlayd/internal/errkind"
)

const (
	// ReservedTLD is the only top-level label this resolver serves.
	ReservedTLD = "vx0"
	// GatewayName is the single reserved apex name outside ReservedTLD.
	GatewayName = "vx0.network"

	defaultTTL = 300
)

// RecordType enumerates the record kinds this resolver stores. Only A
// is ever produced by register/resolve; the others exist so records()
// inspection has somewhere to grow without a breaking change.
type RecordType int

const (
	TypeA RecordType = iota
	TypeAAAA
	TypeCNAME
	TypeTXT
	TypeMX
	TypeSRV
	TypePTR
)

func (t RecordType) String() string {
	switch t {
	case TypeA:
		return "A"
	case TypeAAAA:
		return "AAAA"
	case TypeCNAME:
		return "CNAME"
	case TypeTXT:
		return "TXT"
	case TypeMX:
		return "MX"
	case TypeSRV:
		return "SRV"
	case TypePTR:
		return "PTR"
	default:
		return "UNKNOWN"
	}
}

// Record is one stored name-to-address mapping.
type Record struct {
	Name      string
	Type      RecordType
	Data      string
	TTL       uint32
	Timestamp time.Time
}

// Resolver is authoritative over *.vx0 and vx0.network. All other
// names resolve to nothing, unconditionally.
type Resolver struct {
	mu      sync.RWMutex
	records map[string][]Record
}

// New constructs a Resolver preseeded with the gateway and nameserver
// records spec.md §4.9 requires.
func New() *Resolver {
	r := &Resolver{records: make(map[string][]Record)}
	r.seed(GatewayName, "10.0.1.1")
	r.seed("gateway."+ReservedTLD, "10.0.0.1")
	r.seed("ns1."+ReservedTLD, "10.0.0.2")
	r.seed("ns2."+ReservedTLD, "10.0.0.3")
	return r
}

func (r *Resolver) seed(name, ip string) {
	r.records[name] = []Record{{
		Name:      name,
		Type:      TypeA,
		Data:      ip,
		TTL:       defaultTTL,
		Timestamp: time.Now(),
	}}
}

// inNamespace reports whether name is within the reserved namespace:
// a subdomain of ReservedTLD or exactly GatewayName.
func inNamespace(name string) bool {
	return strings.HasSuffix(name, "."+ReservedTLD) || name == GatewayName
}

// Register adds an A record for name, ttl=300. name must end in
// ".vx0" or equal "vx0.network"; anything else is InvalidDomain.
func (r *Resolver) Register(name string, ip net.IP) error {
	if !inNamespace(name) {
		return errkind.NewConfigError("invalid domain %q: outside reserved namespace", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[name] = append(r.records[name], Record{
		Name:      name,
		Type:      TypeA,
		Data:      ip.String(),
		TTL:       defaultTTL,
		Timestamp: time.Now(),
	})
	return nil
}

// Resolve looks up name. Names outside the reserved namespace always
// return (nil, false) — no recursion, no forward, no fallback. Within
// the namespace, an absent name falls through to a stub
// "distributed overlay" lookup that only ever answers for GatewayName.
func (r *Resolver) Resolve(name string) (net.IP, bool) {
	if !inNamespace(name) {
		return nil, false
	}

	r.mu.RLock()
	recs, ok := r.records[name]
	r.mu.RUnlock()
	if ok {
		for _, rec := range recs {
			if rec.Type == TypeA {
				if ip := net.ParseIP(rec.Data); ip != nil {
					return ip, true
				}
			}
		}
	}

	return r.queryDistributedOverlay(name)
}

// queryDistributedOverlay stubs out consulting other overlay nodes for
// a name this resolver doesn't have locally. Only the gateway name
// resolves; everything else is a genuine miss.
func (r *Resolver) queryDistributedOverlay(name string) (net.IP, bool) {
	if name == GatewayName {
		return net.ParseIP("10.0.1.1"), true
	}
	return nil, false
}

// Records returns a copy of every record stored for name, for
// inspection.
func (r *Resolver) Records(name string) []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	recs := r.records[name]
	out := make([]Record, len(recs))
	copy(out, recs)
	return out
}
