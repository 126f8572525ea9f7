package tunnel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vx0net/overlayd/internal/errkind"
	"github.com/vx0net/overlayd/internal/ike"
)

// startTestResponder binds a key-agreement listener at addr so
// Manager.Create (the initiator side) has a real peer to negotiate
// with over UDP, mirroring how a running node answers another node's
// Create call in production.
func startTestResponder(t *testing.T, addr string, psk []byte) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	l := ike.NewListener(psk, nil, nil)
	go l.Serve(ctx, addr)
	time.Sleep(20 * time.Millisecond)
}

func TestCreateSendReceiveRoundTrip(t *testing.T) {
	psk := []byte("default-psk")
	startTestResponder(t, "127.0.0.1:6500", psk)

	m := New()
	id, err := m.Create("10.0.0.1", "127.0.0.1:6500", "127.0.0.1:6500", psk)
	require.NoError(t, err)
	assert.True(t, m.IsEstablished(id))

	sealed, err := m.Send(id, []byte("hello peer"))
	require.NoError(t, err)

	plaintext, err := m.Receive(id, sealed)
	require.NoError(t, err)
	assert.Equal(t, "hello peer", string(plaintext))

	stats, ok := m.Stats(id)
	require.True(t, ok)
	assert.Equal(t, uint64(1), stats.PacketsOut)
	assert.Equal(t, uint64(1), stats.PacketsIn)
}

func TestDialAndEstablishFailsWithoutAReachableResponder(t *testing.T) {
	_, err := ike.DialAndEstablish("127.0.0.1:6599", []byte("psk"), 100*time.Millisecond)
	assert.Error(t, err)
}

func TestSendRejectsUnknownTunnel(t *testing.T) {
	m := New()
	_, err := m.Send(uuidZero(), []byte("x"))
	assert.Error(t, err)
}

func TestReceiveFailsOnTamperedCiphertextWithoutCounting(t *testing.T) {
	psk := []byte("psk")
	startTestResponder(t, "127.0.0.1:6501", psk)

	m := New()
	id, err := m.Create("10.0.0.1", "127.0.0.1:6501", "127.0.0.1:6501", psk)
	require.NoError(t, err)

	sealed, err := m.Send(id, []byte("payload"))
	require.NoError(t, err)
	sealed[len(sealed)-1] ^= 0xFF

	_, err = m.Receive(id, sealed)
	assert.ErrorIs(t, err, errkind.ErrIkeCrypto)

	stats, _ := m.Stats(id)
	assert.Equal(t, uint64(0), stats.PacketsIn)
}

func TestNonceNeverRepeatsAcrossSends(t *testing.T) {
	psk := []byte("psk")
	startTestResponder(t, "127.0.0.1:6502", psk)

	m := New()
	id, err := m.Create("10.0.0.1", "127.0.0.1:6502", "127.0.0.1:6502", psk)
	require.NoError(t, err)

	first, err := m.Send(id, []byte("a"))
	require.NoError(t, err)
	second, err := m.Send(id, []byte("b"))
	require.NoError(t, err)

	assert.NotEqual(t, first[:12], second[:12], "per-send nonce prefix must differ")
}

func TestCleanupFailedRemovesOnlyFailedTunnels(t *testing.T) {
	psk := []byte("psk")
	startTestResponder(t, "127.0.0.1:6503", psk)

	m := New()
	id, err := m.Create("10.0.0.1", "127.0.0.1:6503", "127.0.0.1:6503", psk)
	require.NoError(t, err)

	m.markFailed(mustTunnel(t, m, id))
	m.CleanupFailed()

	_, ok := m.Get(id)
	assert.False(t, ok)
}

func TestCloseRemovesFromRegistry(t *testing.T) {
	psk := []byte("psk")
	startTestResponder(t, "127.0.0.1:6504", psk)

	m := New()
	id, err := m.Create("10.0.0.1", "127.0.0.1:6504", "127.0.0.1:6504", psk)
	require.NoError(t, err)

	m.Close(id)
	_, ok := m.Get(id)
	assert.False(t, ok)
}

func TestListenRegistersTunnelFromInboundHandshake(t *testing.T) {
	psk := []byte("psk")
	m := New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Listen(ctx, "127.0.0.1:6505", "10.0.0.1", psk, nil)
	time.Sleep(20 * time.Millisecond)

	session, err := ike.DialAndEstablish("127.0.0.1:6505", psk, ike.DefaultExchangeTimeout)
	require.NoError(t, err)
	assert.True(t, session.IsEstablished())

	time.Sleep(20 * time.Millisecond)
	m.mu.RLock()
	count := len(m.tunnels)
	m.mu.RUnlock()
	assert.Equal(t, 1, count)
}

func mustTunnel(t *testing.T, m *Manager, id TunnelId) *Tunnel {
	t.Helper()
	tn, ok := m.tunnels[id]
	require.True(t, ok)
	return tn
}

func uuidZero() TunnelId {
	return TunnelId{}
}
