// Package tunnel implements the tunnel manager (C8): authenticated
// encryption tunnels keyed by the key schedule produced by package ike,
// identified by opaque TunnelIds, with traffic accounting and rekey.
package tunnel

import (
	"context"
	"encoding/binary"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vx0net/overlayd/internal/crypto"
	"github.com/vx0net/overlayd/internal/errkind"
	"github.com/vx0net/overlayd/internal/ike"
	"github.com/vx0net/overlayd/internal/metrics"
)

// TunnelId identifies one tunnel in the manager's registry.
type TunnelId = uuid.UUID

// Status is a tunnel's lifecycle state.
type Status int

const (
	Negotiating Status = iota
	Established
	Rekeying
	Failed
	Closed
)

func (s Status) String() string {
	switch s {
	case Negotiating:
		return "Negotiating"
	case Established:
		return "Established"
	case Rekeying:
		return "Rekeying"
	case Failed:
		return "Failed"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// TrafficStats accumulates per-tunnel byte/packet counters.
type TrafficStats struct {
	BytesIn      uint64
	BytesOut     uint64
	PacketsIn    uint64
	PacketsOut   uint64
	LastActivity time.Time
}

// Tunnel is one secure channel between this node and a peer.
type Tunnel struct {
	ID         TunnelId
	LocalAddr  string
	RemoteAddr string
	PeerAddr   string
	Status     Status
	Stats      TrafficStats
	CreatedAt  time.Time

	session    *ike.Session
	sendNonce  uint64
}

// sealNonce renders a monotonically increasing counter into a 96-bit
// (12 byte) nonce, the layout both crypto.Algorithm ciphers expect.
func sealNonce(counter uint64) []byte {
	n := make([]byte, crypto.NonceSize)
	binary.BigEndian.PutUint64(n[4:], counter)
	return n
}

// Manager owns the tunnel registry. Mutations take the exclusive lock;
// inspection takes the shared lock; no lock is held across I/O or the
// key-agreement handshake.
type Manager struct {
	mu      sync.RWMutex
	tunnels map[TunnelId]*Tunnel
}

// New constructs an empty tunnel manager.
func New() *Manager {
	return &Manager{tunnels: make(map[TunnelId]*Tunnel)}
}

// Create runs the key-agreement handshake (package ike) against the
// peer's key-agreement listener at peerAddr over UDP and, on success,
// registers a new tunnel. A caller that already drove the exchange
// itself (e.g. the responder side inside Listen) should call
// CreateFromSession directly instead.
func (m *Manager) Create(localAddr, remoteAddr, peerAddr string, psk []byte) (TunnelId, error) {
	session, err := ike.DialAndEstablish(peerAddr, psk, ike.DefaultExchangeTimeout)
	if err != nil {
		return TunnelId{}, err
	}
	return m.CreateFromSession(localAddr, remoteAddr, peerAddr, session)
}

// Listen binds a UDP key-agreement listener at addr and registers an
// established tunnel for every responder-side handshake it completes,
// until ctx is cancelled. It is the tunnel manager's counterpart to
// daemon.Daemon's peering accept loop: the one long-running task that
// answers inbound Create calls from other nodes.
func (m *Manager) Listen(ctx context.Context, addr, localAddr string, psk []byte, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	l := ike.NewListener(psk, func(peerAddr string, sess *ike.Session) {
		if _, err := m.CreateFromSession(localAddr, addr, peerAddr, sess); err != nil {
			log.Warn("failed to register tunnel from inbound key-agreement", "peer_addr", peerAddr, "error", err)
		}
	}, log)
	return l.Serve(ctx, addr)
}

// CreateFromSession registers a tunnel backed by an already-Established
// key-agreement session, for callers that drove the handshake over the
// wire themselves.
func (m *Manager) CreateFromSession(localAddr, remoteAddr, peerAddr string, session *ike.Session) (TunnelId, error) {
	if !session.IsEstablished() {
		return TunnelId{}, errkind.NewProtocolError("tunnel create requires an established key-agreement session")
	}

	id := uuid.New()
	t := &Tunnel{
		ID:         id,
		LocalAddr:  localAddr,
		RemoteAddr: remoteAddr,
		PeerAddr:   peerAddr,
		Status:     Established,
		Stats:      TrafficStats{LastActivity: time.Now()},
		CreatedAt:  time.Now(),
		session:    session,
	}

	m.mu.Lock()
	m.tunnels[id] = t
	m.mu.Unlock()
	return id, nil
}

func (m *Manager) lookup(id TunnelId) (*Tunnel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tunnels[id]
	return t, ok
}

// Send seals plaintext under the tunnel's current key and a fresh
// per-tunnel nonce, updating traffic counters on success. The tunnel
// must be Established.
func (m *Manager) Send(id TunnelId, plaintext []byte) ([]byte, error) {
	t, ok := m.lookup(id)
	if !ok {
		return nil, errkind.NewProtocolError("tunnel not found")
	}

	m.mu.Lock()
	if t.Status != Established {
		m.mu.Unlock()
		return nil, errkind.NewProtocolError("tunnel not established")
	}
	nonce := sealNonce(t.sendNonce)
	t.sendNonce++
	m.mu.Unlock()

	sealed, err := t.session.Algorithm.Seal(t.session.EncKey, nonce, plaintext)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	t.Stats.BytesOut += uint64(len(sealed))
	t.Stats.PacketsOut++
	t.Stats.LastActivity = time.Now()
	m.mu.Unlock()

	metrics.TunnelBytesOut.WithLabelValues(id.String()).Add(float64(len(sealed)))
	return append(nonce, sealed...), nil
}

// Receive opens a sealed packet (nonce||ciphertext||tag, as produced by
// Send) under the tunnel's current key. A tag mismatch returns
// errkind.ErrIkeCrypto and does not update counters; the caller should treat it as a dropped packet, not
// a fatal tunnel error.
func (m *Manager) Receive(id TunnelId, sealed []byte) ([]byte, error) {
	t, ok := m.lookup(id)
	if !ok {
		return nil, errkind.NewProtocolError("tunnel not found")
	}
	if len(sealed) < crypto.NonceSize {
		return nil, errkind.NewProtocolError("sealed packet shorter than nonce")
	}

	m.mu.RLock()
	status := t.Status
	m.mu.RUnlock()
	if status != Established {
		return nil, errkind.NewProtocolError("tunnel not established")
	}

	nonce, ciphertext := sealed[:crypto.NonceSize], sealed[crypto.NonceSize:]
	plaintext, err := t.session.Algorithm.Open(t.session.EncKey, nonce, ciphertext)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	t.Stats.BytesIn += uint64(len(sealed))
	t.Stats.PacketsIn++
	t.Stats.LastActivity = time.Now()
	m.mu.Unlock()

	metrics.TunnelBytesIn.WithLabelValues(id.String()).Add(float64(len(sealed)))
	return plaintext, nil
}

// Rekey runs a fresh key-agreement Phase 1 under the existing session
// identity. The tunnel is Rekeying for the whole exchange, and Send and
// Receive refuse it meanwhile. The session's keys are overwritten in
// place as soon as the peer's SA_INIT reply is processed; old keys are
// not kept, so a packet sealed under them no longer opens afterwards.
// On success the tunnel returns to Established and the send nonce
// counter resets; on any failure it is marked Failed.
func (m *Manager) Rekey(id TunnelId, peer *ike.Session, psk []byte) error {
	t, ok := m.lookup(id)
	if !ok {
		return errkind.NewProtocolError("tunnel not found")
	}

	m.mu.Lock()
	t.Status = Rekeying
	m.mu.Unlock()

	saInit, err := t.session.Rekey()
	if err != nil {
		m.markFailed(t)
		return err
	}
	saResp, err := peer.HandleSAInit(saInit)
	if err != nil {
		m.markFailed(t)
		return err
	}
	if err := t.session.CompleteSAInit(saResp); err != nil {
		m.markFailed(t)
		return err
	}

	initAuth, err := t.session.BuildAuth(psk)
	if err != nil {
		m.markFailed(t)
		return err
	}
	peerAuth, err := peer.BuildAuth(psk)
	if err != nil {
		m.markFailed(t)
		return err
	}
	if err := peer.HandleAuth(initAuth, psk); err != nil {
		m.markFailed(t)
		return err
	}
	if err := t.session.HandleAuth(peerAuth, psk); err != nil {
		m.markFailed(t)
		return err
	}

	m.mu.Lock()
	t.Status = Established
	t.sendNonce = 0
	m.mu.Unlock()
	metrics.TunnelRekeys.WithLabelValues("success").Inc()
	return nil
}

func (m *Manager) markFailed(t *Tunnel) {
	m.mu.Lock()
	t.Status = Failed
	m.mu.Unlock()
	metrics.TunnelRekeys.WithLabelValues("failure").Inc()
}

// Close marks a tunnel Closed and removes it from the registry.
func (m *Manager) Close(id TunnelId) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tunnels[id]; ok {
		t.Status = Closed
		t.session.Close()
		delete(m.tunnels, id)
	}
}

// CleanupFailed removes every tunnel currently in the Failed state.
func (m *Manager) CleanupFailed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, t := range m.tunnels {
		if t.Status == Failed {
			delete(m.tunnels, id)
		}
	}
}

// Get returns a copy of a tunnel's state for inspection.
func (m *Manager) Get(id TunnelId) (Tunnel, bool) {
	t, ok := m.lookup(id)
	if !ok {
		return Tunnel{}, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return *t, true
}

// Stats returns a copy of a tunnel's traffic counters.
func (m *Manager) Stats(id TunnelId) (TrafficStats, bool) {
	t, ok := m.lookup(id)
	if !ok {
		return TrafficStats{}, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return t.Stats, true
}

// IsEstablished reports whether a tunnel is currently Established.
func (m *Manager) IsEstablished(id TunnelId) bool {
	t, ok := m.lookup(id)
	if !ok {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return t.Status == Established
}
