// transport.go drives the key-agreement protocol over UDP: Listener
// runs the responder side against any initiator that reaches it,
// DialAndEstablish runs the initiator side against one peer. Neither
// the tunnel manager nor any other caller drives both sides of a
// handshake in-process; every established Session crossed a real
// socket to get there.
package ike

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/vx0net/overlayd/internal/errkind"
)

// DefaultExchangeTimeout bounds how long the initiator waits for each
// reply datagram before giving up.
const DefaultExchangeTimeout = 5 * time.Second

// OnEstablished is called with the remote address and the completed
// session every time the listener finishes a responder-side exchange.
type OnEstablished func(peerAddr string, session *Session)

// Listener binds a UDP socket and drives the responder side of the
// key-agreement protocol, one Session per remote address — the
// key-agreement counterpart to the peering daemon's TCP accept loop.
type Listener struct {
	psk           []byte
	onEstablished OnEstablished
	log           *slog.Logger

	conn *net.UDPConn

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewListener constructs a Listener. onEstablished may be nil if the
// caller only wants the side effect of answering peers.
func NewListener(psk []byte, onEstablished OnEstablished, log *slog.Logger) *Listener {
	if log == nil {
		log = slog.Default()
	}
	return &Listener{psk: psk, onEstablished: onEstablished, log: log, sessions: make(map[string]*Session)}
}

// Serve binds addr and processes datagrams until ctx is cancelled.
func (l *Listener) Serve(ctx context.Context, addr string) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return errkind.NewNetworkError("resolve key-agreement listen address", err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return errkind.NewNetworkError("bind key-agreement listener", err)
	}
	l.conn = conn
	l.log.Info("key-agreement listener bound", "addr", addr)

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, MaxDatagramSize)
	for {
		n, remote, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return errkind.NewNetworkError("read key-agreement datagram", err)
			}
		}
		msg, err := UnmarshalMessage(buf[:n])
		if err != nil {
			l.log.Warn("dropped malformed key-agreement datagram", "remote", remote.String(), "error", err)
			continue
		}
		l.handle(remote, msg)
	}
}

// handle dispatches one decoded datagram by exchange type, tracking
// the in-progress responder session for remote by address.
func (l *Listener) handle(remote *net.UDPAddr, msg *Message) {
	key := remote.String()

	switch msg.Header.ExchangeType {
	case IkeSaInit:
		sess, err := NewSession(key)
		if err != nil {
			l.log.Warn("failed to allocate responder session", "remote", key, "error", err)
			return
		}
		resp, err := sess.HandleSAInit(msg)
		if err != nil {
			l.log.Warn("sa_init rejected", "remote", key, "error", err)
			return
		}
		l.mu.Lock()
		l.sessions[key] = sess
		l.mu.Unlock()
		l.send(remote, resp)

	case IkeAuth:
		l.mu.Lock()
		sess, ok := l.sessions[key]
		l.mu.Unlock()
		if !ok {
			l.log.Warn("auth received with no in-progress sa_init", "remote", key)
			return
		}

		resp, err := sess.BuildAuth(l.psk)
		if err != nil {
			l.log.Warn("failed to build auth response", "remote", key, "error", err)
			l.forget(key)
			return
		}
		if err := sess.HandleAuth(msg, l.psk); err != nil {
			l.log.Warn("auth verification failed", "remote", key, "error", err)
			l.forget(key)
			return
		}

		l.send(remote, resp)
		l.forget(key)
		if l.onEstablished != nil {
			l.onEstablished(key, sess)
		}

	default:
		l.log.Debug("ignoring unsupported key-agreement exchange type", "remote", key, "exchange_type", msg.Header.ExchangeType)
	}
}

func (l *Listener) forget(key string) {
	l.mu.Lock()
	delete(l.sessions, key)
	l.mu.Unlock()
}

func (l *Listener) send(remote *net.UDPAddr, msg *Message) {
	payload, err := MarshalMessage(msg)
	if err != nil {
		l.log.Warn("failed to encode key-agreement response", "remote", remote.String(), "error", err)
		return
	}
	if _, err := l.conn.WriteToUDP(payload, remote); err != nil {
		l.log.Warn("failed to send key-agreement response", "remote", remote.String(), "error", err)
	}
}

// DialAndEstablish runs the initiator side of the key-agreement
// protocol against peerAddr over UDP: build SA_INIT, send it, await
// the responder's reply, complete phase 1, then run phase 2 AUTH the
// same way. It returns once the session reaches Established.
func DialAndEstablish(peerAddr string, psk []byte, timeout time.Duration) (*Session, error) {
	raddr, err := net.ResolveUDPAddr("udp", peerAddr)
	if err != nil {
		return nil, errkind.NewNetworkError("resolve key-agreement peer address", err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, errkind.NewNetworkError("dial key-agreement peer", err)
	}
	defer conn.Close()

	sess, err := NewSession(peerAddr)
	if err != nil {
		return nil, err
	}

	saInit, err := sess.BuildSAInit()
	if err != nil {
		return nil, err
	}
	saResp, err := exchange(conn, timeout, saInit)
	if err != nil {
		return nil, err
	}
	if err := sess.CompleteSAInit(saResp); err != nil {
		return nil, err
	}

	authMsg, err := sess.BuildAuth(psk)
	if err != nil {
		return nil, err
	}
	authResp, err := exchange(conn, timeout, authMsg)
	if err != nil {
		return nil, err
	}
	if err := sess.HandleAuth(authResp, psk); err != nil {
		return nil, err
	}
	return sess, nil
}

func exchange(conn *net.UDPConn, timeout time.Duration, msg *Message) (*Message, error) {
	payload, err := MarshalMessage(msg)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Write(payload); err != nil {
		return nil, errkind.NewNetworkError("send key-agreement datagram", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, errkind.NewNetworkError("set key-agreement read deadline", err)
	}
	buf := make([]byte, MaxDatagramSize)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, errkind.NewNetworkError("read key-agreement datagram", err)
	}
	return UnmarshalMessage(buf[:n])
}
