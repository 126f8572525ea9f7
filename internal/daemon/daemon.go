// Package daemon implements the peering daemon (C5): an accept loop
// that dispatches a session driver per connection, a peer_ip -> session
// registry, and support for initiating outbound sessions alongside
// inbound ones.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vx0net/overlayd/internal/errkind"
	"github.com/vx0net/overlayd/internal/policy"
	"github.com/vx0net/overlayd/internal/rib"
	"github.com/vx0net/overlayd/internal/session"
)

// ConnectTimeout bounds outbound TCP connection attempts (spec.md §5).
const ConnectTimeout = 10 * time.Second

// Daemon binds a listener for the peering protocol and maintains the
// registry of active sessions. ListenPort nil means construct-only:
// no listener is bound, matching the explicit "do not bind" mode
// spec.md §9 asks to make non-overloaded.
type Daemon struct {
	LocalASN   uint32
	RouterID   net.IP
	ListenPort *int
	HoldTime   time.Duration

	rib    *rib.RIB
	filter *policy.Filter
	log    *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*session.Session

	listener net.Listener
}

// New constructs a Daemon. A nil listenPort means the daemon never
// binds a listener and only supports outbound sessions via Connect.
func New(localASN uint32, routerID net.IP, listenPort *int, holdTime time.Duration, r *rib.RIB, f *policy.Filter, log *slog.Logger) *Daemon {
	if log == nil {
		log = slog.Default()
	}
	return &Daemon{
		LocalASN:   localASN,
		RouterID:   routerID,
		ListenPort: listenPort,
		HoldTime:   holdTime,
		rib:        r,
		filter:     f,
		log:        log,
		sessions:   make(map[string]*session.Session),
	}
}

// Start binds the listener (if ListenPort is set) and runs the accept
// loop until ctx is cancelled. It returns once the listener is closed.
func (d *Daemon) Start(ctx context.Context) error {
	if d.ListenPort == nil {
		<-ctx.Done()
		return nil
	}

	listenAddr := fmt.Sprintf("0.0.0.0:%d", *d.ListenPort)
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return errkind.NewNetworkError("bind peering listener", err)
	}
	d.mu.Lock()
	d.listener = ln
	d.mu.Unlock()
	d.log.Info("peering daemon listening", "addr", listenAddr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		ln.Close()
		return nil
	})
	g.Go(func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				select {
				case <-gctx.Done():
					return nil
				default:
					return errkind.NewNetworkError("accept peering connection", err)
				}
			}
			go d.handleInbound(ctx, conn)
		}
	})
	return g.Wait()
}

func (d *Daemon) handleInbound(ctx context.Context, conn net.Conn) {
	peerIP := conn.RemoteAddr().(*net.TCPAddr).IP
	d.log.Info("peering connection accepted", "peer_ip", peerIP)

	sess := session.New(d.LocalASN, 0, peerIP, d.RouterID, d.HoldTime, d.rib, d.filter, d.log)
	d.register(peerIP.String(), sess)
	defer d.unregister(peerIP.String())

	if err := sess.RunPassive(ctx, conn); err != nil {
		d.log.Warn("peering session ended", "peer_ip", peerIP, "error", err)
	}
}

// Connect initiates an outbound session to peerIP:port with the given
// expected peer ASN. It blocks until the session's driver loop exits.
func (d *Daemon) Connect(ctx context.Context, peerIP net.IP, peerASN uint32, port int) error {
	addr := fmt.Sprintf("%s:%d", peerIP.String(), port)
	dialer := net.Dialer{Timeout: ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return errkind.NewNetworkError(fmt.Sprintf("connect to peer %s", addr), err)
	}

	sess := session.New(d.LocalASN, peerASN, peerIP, d.RouterID, d.HoldTime, d.rib, d.filter, d.log)
	d.register(peerIP.String(), sess)
	defer d.unregister(peerIP.String())

	return sess.RunActive(ctx, conn)
}

func (d *Daemon) register(peerIP string, s *session.Session) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessions[peerIP] = s
}

func (d *Daemon) unregister(peerIP string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.sessions, peerIP)
}

// Session returns the active session for a peer IP, if any.
func (d *Daemon) Session(peerIP string) (*session.Session, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.sessions[peerIP]
	return s, ok
}

// Sessions returns a snapshot of peer_ip -> FSM state for inspection.
func (d *Daemon) Sessions() map[string]session.State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]session.State, len(d.sessions))
	for ip, s := range d.sessions {
		out[ip] = s.State()
	}
	return out
}

// Shutdown closes the listener, if bound. Each session's own ctx
// cancellation drives its return to Idle; Shutdown itself only tears
// down the listener and is idempotent.
func (d *Daemon) Shutdown() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listener != nil {
		d.listener.Close()
		d.listener = nil
	}
}
