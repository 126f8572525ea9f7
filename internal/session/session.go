// Package session implements the peering session state machine (C4):
// a BGP-like Idle/Connect/Active/OpenSent/OpenConfirm/Established
// progression over a reliable, length-prefixed byte stream, with
// keepalive/hold timers and Update application through the route
// policy filter.
package session

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/vx0net/overlayd/internal/errkind"
	"github.com/vx0net/overlayd/internal/metrics"
	"github.com/vx0net/overlayd/internal/policy"
	"github.com/vx0net/overlayd/internal/rib"
)

// State is a peering session's FSM state.
type State int

const (
	Idle State = iota
	Connect
	Active
	OpenSent
	OpenConfirm
	Established
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Connect:
		return "Connect"
	case Active:
		return "Active"
	case OpenSent:
		return "OpenSent"
	case OpenConfirm:
		return "OpenConfirm"
	case Established:
		return "Established"
	default:
		return "Unknown"
	}
}

const (
	// DefaultHoldTime is the hold timer used when a caller doesn't
	// configure one (spec.md §5).
	DefaultHoldTime = 90 * time.Second
)

// Session drives one peering relationship over one connection. It
// holds a shared reference to the RIB and the local route-policy
// filter; it never holds the RIB's lock across I/O.
type Session struct {
	LocalASN  uint32
	PeerASN   uint32
	PeerIP    net.IP
	RouterID  net.IP
	HoldTime  time.Duration

	rib    *rib.RIB
	filter *policy.Filter
	log    *slog.Logger

	mu    sync.Mutex
	state State

	// installedFromPeer tracks which prefixes currently in the RIB
	// were installed because of an announcement from this peer, so
	// a withdrawal only removes what this peer actually put there.
	installedFromPeer map[string]bool
}

// New constructs a Session in the Idle state.
func New(localASN, peerASN uint32, peerIP, routerID net.IP, holdTime time.Duration, r *rib.RIB, f *policy.Filter, log *slog.Logger) *Session {
	if holdTime <= 0 {
		holdTime = DefaultHoldTime
	}
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		LocalASN:          localASN,
		PeerASN:           peerASN,
		PeerIP:            peerIP,
		RouterID:          routerID,
		HoldTime:          holdTime,
		rib:               r,
		filter:            f,
		log:               log,
		state:             Idle,
		installedFromPeer: make(map[string]bool),
	}
}

// State returns the session's current FSM state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	prev := s.state
	s.state = st
	s.mu.Unlock()

	metrics.SessionStateTransitions.WithLabelValues(st.String()).Inc()
	if st == Established && prev != Established {
		metrics.SessionsEstablished.Inc()
	} else if prev == Established && st != Established {
		metrics.SessionsEstablished.Dec()
	}
}

func (s *Session) keepaliveInterval() time.Duration {
	return s.HoldTime / 3
}

// RunActive drives the session as the connection initiator: Idle ->
// Connect -> OpenSent -> OpenConfirm -> Established, over conn.
func (s *Session) RunActive(ctx context.Context, conn net.Conn) error {
	s.setState(Connect)

	if err := s.sendOpen(conn); err != nil {
		s.teardown(conn)
		return err
	}
	s.setState(OpenSent)

	open, err := s.awaitOpen(conn)
	if err != nil {
		s.teardown(conn)
		return err
	}
	if open.ASN != s.PeerASN {
		s.teardown(conn)
		return errkind.NewProtocolError("peer ASN mismatch: expected %d, got %d", s.PeerASN, open.ASN)
	}
	if err := s.sendKeepalive(conn); err != nil {
		s.teardown(conn)
		return err
	}
	s.setState(OpenConfirm)

	if _, err := s.awaitKeepalive(conn); err != nil {
		s.teardown(conn)
		return err
	}
	s.setState(Established)

	return s.drive(ctx, conn)
}

// RunPassive drives the session as the accepting side: Idle -> Active
// -> OpenConfirm -> Established, over conn.
func (s *Session) RunPassive(ctx context.Context, conn net.Conn) error {
	s.setState(Active)

	open, err := s.awaitOpen(conn)
	if err != nil {
		s.teardown(conn)
		return err
	}
	// A PeerASN of 0 means the peer is not known in advance (an
	// inbound connection): the ASN announced in its Open is adopted.
	if s.PeerASN == 0 {
		s.PeerASN = open.ASN
	} else if open.ASN != s.PeerASN {
		s.teardown(conn)
		return errkind.NewProtocolError("peer ASN mismatch: expected %d, got %d", s.PeerASN, open.ASN)
	}
	// The reply is this side's own Open (local ASN and router ID); the
	// peer's ASN is not echoed back in router_id.
	if err := s.sendOpen(conn); err != nil {
		s.teardown(conn)
		return err
	}
	s.setState(OpenConfirm)

	// Wait for the initiator's Keepalive before sending ours, so the two
	// sides never block writing to each other at the same time.
	if _, err := s.awaitKeepalive(conn); err != nil {
		s.teardown(conn)
		return err
	}
	if err := s.sendKeepalive(conn); err != nil {
		s.teardown(conn)
		return err
	}
	s.setState(Established)

	return s.drive(ctx, conn)
}

func (s *Session) sendOpen(conn net.Conn) error {
	return writeFrame(conn, &Message{
		MessageType: Open,
		ASN:         s.LocalASN,
		RouterID:    s.RouterID.String(),
		Timestamp:   time.Now(),
	})
}

func (s *Session) sendKeepalive(conn net.Conn) error {
	return writeFrame(conn, &Message{
		MessageType: Keepalive,
		ASN:         s.LocalASN,
		RouterID:    s.RouterID.String(),
		Timestamp:   time.Now(),
	})
}

func (s *Session) awaitOpen(conn net.Conn) (*Message, error) {
	conn.SetReadDeadline(time.Now().Add(s.HoldTime))
	msg, err := readFrame(conn)
	if err != nil {
		return nil, err
	}
	if msg.MessageType != Open {
		return nil, errkind.NewProtocolError("expected Open, got %s", msg.MessageType)
	}
	return msg, nil
}

func (s *Session) awaitKeepalive(conn net.Conn) (*Message, error) {
	conn.SetReadDeadline(time.Now().Add(s.HoldTime))
	msg, err := readFrame(conn)
	if err != nil {
		return nil, err
	}
	if msg.MessageType != Keepalive {
		return nil, errkind.NewProtocolError("expected Keepalive, got %s", msg.MessageType)
	}
	return msg, nil
}

// drive is the Established-state read loop: it resets the hold
// deadline on every valid message, applies Updates through the route
// policy filter, and answers Notification/close/hold-timer-expiry by
// returning to Idle.
func (s *Session) drive(ctx context.Context, conn net.Conn) error {
	defer s.teardown(conn)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.keepaliveLoop(ctx, conn, stop)
	}()
	defer func() {
		close(stop)
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			s.sendNotification(conn, "shutdown")
			return nil
		default:
		}

		conn.SetReadDeadline(time.Now().Add(s.HoldTime))
		msg, err := readFrame(conn)
		if err != nil {
			s.setState(Idle)
			return err
		}

		switch msg.MessageType {
		case Keepalive:
			// Hold timer reset happens on the next loop iteration's
			// SetReadDeadline call; nothing else to do.
		case Update:
			s.applyUpdate(msg)
		case Notification:
			s.setState(Idle)
			return nil
		default:
			s.setState(Idle)
			return errkind.NewProtocolError("unexpected message type %s while Established", msg.MessageType)
		}
	}
}

func (s *Session) keepaliveLoop(ctx context.Context, conn net.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(s.keepaliveInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.sendKeepalive(conn); err != nil {
				s.log.Warn("keepalive send failed", "peer_asn", s.PeerASN, "error", err)
				return
			}
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// applyUpdate processes one Update message's withdrawals and
// announcements against the route-policy filter, mutating the RIB.
func (s *Session) applyUpdate(msg *Message) {
	metrics.UpdatesReceived.WithLabelValues(formatASN(s.PeerASN)).Inc()

	for _, prefixStr := range msg.Withdrawn {
		if !s.installedFromPeer[prefixStr] {
			continue
		}
		prefix, err := rib.ParsePrefix(prefixStr)
		if err != nil {
			s.log.Warn("withdrawal with unparseable prefix", "peer_asn", s.PeerASN, "prefix", prefixStr)
			continue
		}
		if _, ok := s.rib.RemoveRoute(prefix); ok {
			delete(s.installedFromPeer, prefixStr)
		}
	}

	for _, wr := range msg.Routes {
		entry, err := fromWireRoute(wr)
		if err != nil {
			s.log.Warn("announcement with malformed route", "peer_asn", s.PeerASN, "error", err)
			continue
		}
		if !s.filter.Accept(entry, s.PeerASN) {
			continue
		}
		entry.ASPath = policy.Prepend(entry.ASPath, s.PeerASN)
		s.rib.AddRoute(entry)
		s.installedFromPeer[entry.Network.String()] = true
	}

	metrics.RIBVersion.Set(float64(s.rib.Version()))
	metrics.RIBRoutes.Set(float64(len(s.rib.Snapshot())))
}

func formatASN(asn uint32) string {
	return strconv.FormatUint(uint64(asn), 10)
}

func (s *Session) sendNotification(conn net.Conn, reason string) {
	_ = writeFrame(conn, &Message{
		MessageType: Notification,
		ASN:         s.LocalASN,
		RouterID:    s.RouterID.String(),
		Reason:      reason,
		Timestamp:   time.Now(),
	})
}

// Close tears down the session: sends a cease Notification and
// returns the state to Idle.
func (s *Session) Close(conn net.Conn) {
	s.sendNotification(conn, "cease")
	s.teardown(conn)
}

func (s *Session) teardown(conn net.Conn) {
	s.setState(Idle)
	conn.Close()
}
