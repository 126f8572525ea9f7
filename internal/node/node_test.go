package node

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vx0net/overlayd/internal/ike"
	"github.com/vx0net/overlayd/internal/tier"
)

func TestNewRejectsASNOutsideTierRange(t *testing.T) {
	_, err := New(66000, tier.Backbone, "bad-host", net.ParseIP("10.0.0.1"), net.ParseIP("::1"), GeographicLocation{})
	assert.Error(t, err)
}

func TestEdgeEdgePeeringRejected(t *testing.T) {
	e1, err := New(66001, tier.Edge, "e1", net.ParseIP("10.0.0.1"), net.ParseIP("::1"), GeographicLocation{})
	require.NoError(t, err)

	err = e1.AddPeer(PeerConnection{PeerID: uuid.New(), PeerASN: 66002, PeerAddr: net.ParseIP("10.0.0.2")})
	assert.Error(t, err)
	assert.Empty(t, e1.Peers())
}

func TestBackboneRegionalPeeringAccepted(t *testing.T) {
	b1, err := New(65001, tier.Backbone, "b1", net.ParseIP("10.0.0.1"), net.ParseIP("::1"), GeographicLocation{})
	require.NoError(t, err)
	r1, err := New(65101, tier.Regional, "r1", net.ParseIP("10.0.0.2"), net.ParseIP("::2"), GeographicLocation{})
	require.NoError(t, err)

	require.NoError(t, b1.AddPeer(PeerConnection{PeerID: r1.ID, PeerASN: r1.ASN, PeerAddr: r1.IPv4}))
	require.NoError(t, r1.AddPeer(PeerConnection{PeerID: b1.ID, PeerASN: b1.ASN, PeerAddr: b1.IPv4}))
}

func TestMaxPeersEnforced(t *testing.T) {
	e, err := New(66001, tier.Edge, "e", net.ParseIP("10.0.0.1"), net.ParseIP("::1"), GeographicLocation{})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, e.AddPeer(PeerConnection{PeerID: uuid.New(), PeerASN: 65101, PeerAddr: net.ParseIP("10.0.1.1")}))
	}
	err = e.AddPeer(PeerConnection{PeerID: uuid.New(), PeerASN: 65101, PeerAddr: net.ParseIP("10.0.1.2")})
	assert.Error(t, err)
}

func TestRegisterServiceRejectsNonReservedDomain(t *testing.T) {
	n, err := New(65001, tier.Backbone, "n", net.ParseIP("10.0.0.1"), net.ParseIP("::1"), GeographicLocation{})
	require.NoError(t, err)

	err = n.RegisterService(Service{ServiceID: uuid.New(), Name: "web", Type: ServiceWebServer, Domain: "example.com", Port: 443})
	assert.Error(t, err)

	err = n.RegisterService(Service{ServiceID: uuid.New(), Name: "web", Type: ServiceWebServer, Domain: "web.vx0", Port: 443})
	assert.NoError(t, err)
	assert.Len(t, n.Services(), 1)
}

func TestStopDisconnectsAllPeers(t *testing.T) {
	b1, err := New(65001, tier.Backbone, "b1", net.ParseIP("10.0.0.1"), net.ParseIP("::1"), GeographicLocation{})
	require.NoError(t, err)
	require.NoError(t, b1.AddPeer(PeerConnection{PeerID: uuid.New(), PeerASN: 65101, PeerAddr: net.ParseIP("10.0.1.1"), Status: Connected}))

	b1.Start()
	assert.True(t, b1.IsStarted())
	b1.Stop()
	assert.False(t, b1.IsStarted())

	for _, p := range b1.Peers() {
		assert.Equal(t, Disconnected, p.Status)
	}
}

func TestCreateSecureTunnelAndSendSecure(t *testing.T) {
	psk := []byte("psk")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l := ike.NewListener(psk, nil, nil)
	go l.Serve(ctx, "127.0.0.1:6600")
	time.Sleep(20 * time.Millisecond)

	n, err := New(65001, tier.Backbone, "n", net.ParseIP("10.0.0.1"), net.ParseIP("::1"), GeographicLocation{})
	require.NoError(t, err)

	peerID := uuid.New()
	_, err = n.CreateSecureTunnel(peerID, "127.0.0.1:6600", psk)
	require.NoError(t, err)

	health := n.TunnelHealth()
	assert.True(t, health[peerID])

	sealed, err := n.SendSecure(peerID, []byte("hello"))
	require.NoError(t, err)
	assert.NotEmpty(t, sealed)
}
