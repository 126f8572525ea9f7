package bootstrap

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vx0net/overlayd/internal/ike"
	"github.com/vx0net/overlayd/internal/node"
	"github.com/vx0net/overlayd/internal/resolver"
	"github.com/vx0net/overlayd/internal/tier"
)

func TestAutoAssignASNAcceptsConfiguredInRange(t *testing.T) {
	asn, err := AutoAssignASN(context.Background(), 65050, tier.Backbone, DefaultUsedASNProbe)
	require.NoError(t, err)
	assert.Equal(t, uint32(65050), asn)
}

func TestAutoAssignASNPicksSmallestUnused(t *testing.T) {
	probe := func(ctx context.Context) ([]uint32, error) {
		return []uint32{65000, 65001}, nil
	}
	asn, err := AutoAssignASN(context.Background(), 0, tier.Backbone, probe)
	require.NoError(t, err)
	assert.Equal(t, uint32(65002), asn)
}

func TestAutoAssignASNFailsWhenRangeExhausted(t *testing.T) {
	min, max := tier.ASNRange(tier.Backbone)
	var all []uint32
	for asn := min; asn <= max; asn++ {
		all = append(all, asn)
	}
	probe := func(ctx context.Context) ([]uint32, error) { return all, nil }

	_, err := AutoAssignASN(context.Background(), 0, tier.Backbone, probe)
	assert.Error(t, err)
}

func TestMergeEntryPointsDeduplicatesByIP(t *testing.T) {
	a := []EntryPoint{{Hostname: "a", IP: net.ParseIP("10.0.0.1"), ASN: 65000}}
	b := []EntryPoint{{Hostname: "b", IP: net.ParseIP("10.0.0.1"), ASN: 65000}, {Hostname: "c", IP: net.ParseIP("10.0.0.2"), ASN: 65001}}

	merged := MergeEntryPoints(a, b)
	assert.Len(t, merged, 2)
}

func TestResolverDiscoveryFindsPreseededEntries(t *testing.T) {
	r := resolver.New()
	entries := ResolverDiscovery(r)
	assert.Len(t, entries, 3)
	for _, e := range entries {
		assert.NotNil(t, e.IP)
	}
}

func TestJoinFiltersUnpeerableTierAndUnreachableAddr(t *testing.T) {
	n, err := node.New(66001, tier.Edge, "edge", net.ParseIP("10.0.0.1"), net.ParseIP("::1"), node.GeographicLocation{})
	require.NoError(t, err)

	j := NewJoiner(n, []byte("psk"), nil)

	candidates := []EntryPoint{
		{Hostname: "peer-edge", IP: net.ParseIP("127.0.0.1"), ASN: 66002},         // unpeerable: Edge<->Edge
		{Hostname: "peer-unreachable", IP: net.ParseIP("127.0.0.1"), ASN: 65101}, // peerable tier, nothing listening
	}

	err = j.Join(context.Background(), candidates)
	assert.Error(t, err)
	assert.Empty(t, n.Peers())
}

func TestJoinSucceedsWithReachablePeerableCandidate(t *testing.T) {
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", "1179"))
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	// Join doesn't just TCP-probe the survivor, it also negotiates a
	// real tunnel with it over the key-agreement port; a listener is
	// needed here for that handshake to have anyone to talk to.
	psk := []byte("psk")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l := ike.NewListener(psk, nil, nil)
	go l.Serve(ctx, net.JoinHostPort("127.0.0.1", "500"))
	time.Sleep(20 * time.Millisecond)

	n, err := node.New(65001, tier.Backbone, "backbone", net.ParseIP("10.0.0.1"), net.ParseIP("::1"), node.GeographicLocation{})
	require.NoError(t, err)

	j := NewJoiner(n, psk, nil)
	candidates := []EntryPoint{{Hostname: "seed", IP: net.ParseIP("127.0.0.1"), ASN: 65101}}

	err = j.Join(context.Background(), candidates)
	require.NoError(t, err)
	assert.Len(t, n.Peers(), 1)
}

func TestTopUpSkipsWhenAboveHalfMaxPeers(t *testing.T) {
	n, err := node.New(66001, tier.Edge, "edge", net.ParseIP("10.0.0.1"), net.ParseIP("::1"), node.GeographicLocation{})
	require.NoError(t, err)

	// Edge max_peers is 5; 3 admitted peers is already >= 5/2.
	for i := 0; i < 3; i++ {
		require.NoError(t, n.AddPeer(node.PeerConnection{PeerID: uuid.New(), PeerASN: 65101, PeerAddr: net.ParseIP("10.0.1.1")}))
	}

	j := NewJoiner(n, []byte("psk"), nil)
	err = j.TopUp(context.Background(), []EntryPoint{{Hostname: "seed", IP: net.ParseIP("127.0.0.1"), ASN: 65101}})
	assert.NoError(t, err)
	assert.Len(t, n.Peers(), 3)
}
