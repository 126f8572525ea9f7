package daemon

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vx0net/overlayd/internal/policy"
	"github.com/vx0net/overlayd/internal/rib"
	"github.com/vx0net/overlayd/internal/tier"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestInboundOutboundSessionsEstablish(t *testing.T) {
	port := freePort(t)

	serverRIB := rib.New()
	serverFilter := policy.New(65001, tier.Backbone)
	server := New(65001, net.ParseIP("10.0.0.1"), &port, 300*time.Millisecond, serverRIB, serverFilter, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go server.Start(ctx)
	time.Sleep(30 * time.Millisecond)

	clientRIB := rib.New()
	clientFilter := policy.New(65101, tier.Regional)
	client := New(65101, net.ParseIP("127.0.0.1"), nil, 300*time.Millisecond, clientRIB, clientFilter, nil)

	done := make(chan error, 1)
	go func() { done <- client.Connect(ctx, net.ParseIP("127.0.0.1"), 65001, port) }()

	time.Sleep(100 * time.Millisecond)
	sessions := server.Sessions()
	require.Len(t, sessions, 1)

	cancel()
	<-done
}

func TestConstructOnlyDaemonNeverBinds(t *testing.T) {
	r := rib.New()
	f := policy.New(65001, tier.Backbone)
	d := New(65001, net.ParseIP("10.0.0.1"), nil, 300*time.Millisecond, r, f, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Start(ctx) }()

	cancel()
	err := <-errCh
	assert.NoError(t, err)
	assert.Nil(t, d.listener)
}

func TestConnectFailsWhenPeerUnreachable(t *testing.T) {
	r := rib.New()
	f := policy.New(65101, tier.Regional)
	d := New(65101, net.ParseIP("10.0.0.2"), nil, 300*time.Millisecond, r, f, nil)

	closedPort := freePort(t)
	err := d.Connect(context.Background(), net.ParseIP("127.0.0.1"), 65001, closedPort)
	assert.Error(t, err)
}
