// Package ike implements the key-agreement session (C7): a two-phase
// SA_INIT/AUTH exchange that yields an authenticated shared key schedule
// for the tunnel manager. The reference source (see original_source/)
// simulated the DH exchange and derived keys with XOR; this package
// performs a real X25519 exchange and derives keys with HKDF-SHA256
// (package crypto), per spec.md §9. DH private material never leaves
// the Session that owns it.
package ike

import (
	"crypto/subtle"
	"encoding/binary"

	"golang.org/x/crypto/curve25519"

	"github.com/vx0net/overlayd/internal/crypto"
	"github.com/vx0net/overlayd/internal/errkind"
)

// ExchangeType mirrors IKEv2 exchange codes, reused for the internal
// encoding (spec.md §6's key-agreement wire format).
type ExchangeType uint8

const (
	IkeSaInit     ExchangeType = 34
	IkeAuth       ExchangeType = 35
	CreateChildSa ExchangeType = 36
	Informational ExchangeType = 37
)

// DHGroup identifies the negotiated Diffie-Hellman group. Only group 19
// (X25519) is implemented; groups 14 and 20 are accepted in proposals
// for wire compatibility but a responder never selects them.
type DHGroup uint16

const (
	DHGroupMODP14 DHGroup = 14
	DHGroupX25519 DHGroup = 19
	DHGroupMODP20 DHGroup = 20
)

// EncryptionID and IntegrityID mirror the transform IDs offered in the
// SA proposal (spec.md §4.7).
type EncryptionID uint16

const (
	EncAES256GCM        EncryptionID = 20
	EncChaCha20Poly1305 EncryptionID = 28
)

// Proposal is one offered or chosen combination of transforms.
type Proposal struct {
	Encryption EncryptionID `json:"encryption"`
	DHGroup    DHGroup      `json:"dh_group"`
}

// defaultProposals is the offered transform set (spec.md §4.7), most
// preferred first: both AEAD ciphers paired with X25519, then
// AES-256-GCM with group 14 and ChaCha20-Poly1305 with group 20.
func defaultProposals() []Proposal {
	return []Proposal{
		{Encryption: EncAES256GCM, DHGroup: DHGroupX25519},
		{Encryption: EncChaCha20Poly1305, DHGroup: DHGroupX25519},
		{Encryption: EncAES256GCM, DHGroup: DHGroupMODP14},
		{Encryption: EncChaCha20Poly1305, DHGroup: DHGroupMODP20},
	}
}

// acceptable reports whether a responder can honor p: only X25519 is
// actually implemented, regardless of what was offered.
func acceptable(p Proposal) bool {
	return p.DHGroup == DHGroupX25519 && (p.Encryption == EncAES256GCM || p.Encryption == EncChaCha20Poly1305)
}

func (e EncryptionID) algorithm() crypto.Algorithm {
	if e == EncChaCha20Poly1305 {
		return crypto.ChaCha20Poly1305
	}
	return crypto.AES256GCM
}

// State is the key-agreement session's lifecycle state.
type State int

const (
	Initial State = iota
	SaInitState
	AuthState
	Established
	Rekeying
	Deleted
)

func (s State) String() string {
	switch s {
	case Initial:
		return "Initial"
	case SaInitState:
		return "SaInit"
	case AuthState:
		return "Auth"
	case Established:
		return "Established"
	case Rekeying:
		return "Rekeying"
	case Deleted:
		return "Deleted"
	default:
		return "Unknown"
	}
}

// Header is the fixed portion of the wire message (spec.md §6).
type Header struct {
	InitiatorSPI uint64       `json:"initiator_spi"`
	ResponderSPI uint64       `json:"responder_spi"`
	NextPayload  uint8        `json:"next_payload"`
	Version      uint8        `json:"version"`
	ExchangeType ExchangeType `json:"exchange_type"`
	Flags        uint8        `json:"flags"`
	MessageID    uint32       `json:"message_id"`
	Length       uint32       `json:"length"`
}

// Message is one key-agreement datagram: a header plus the payloads
// relevant to its exchange type. See wire.go for the encoding this
// type is sent and received with.
type Message struct {
	Header  Header     `json:"header"`
	SA      []Proposal `json:"sa,omitempty"`
	KEGroup DHGroup    `json:"ke_group,omitempty"`
	KEData  []byte     `json:"ke_data,omitempty"`
	Nonce   []byte     `json:"nonce,omitempty"`
	Auth    []byte     `json:"auth,omitempty"`
}

// Session is one in-progress or established key-agreement exchange.
// It holds no network connection; callers (the tunnel manager) push
// messages in and pull messages out.
type Session struct {
	LocalSPI  uint64
	RemoteSPI uint64
	State     State
	PeerAddr  string
	Algorithm crypto.Algorithm

	localPriv   [32]byte
	localPub    [32]byte
	localNonce  []byte
	remoteNonce []byte

	sharedSecret []byte
	EncKey       []byte
	AuthKey      []byte
}

// NewSession allocates a session with a fresh CSPRNG local SPI and
// X25519 keypair. peerAddr is advisory (logging/lookup key), not used
// for I/O by this package.
func NewSession(peerAddr string) (*Session, error) {
	spiBytes, err := crypto.RandBytes(8)
	if err != nil {
		return nil, err
	}
	s := &Session{
		LocalSPI: binary.BigEndian.Uint64(spiBytes),
		PeerAddr: peerAddr,
		State:    Initial,
	}
	if err := s.freshKeypair(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) freshKeypair() error {
	priv, err := crypto.RandBytes(32)
	if err != nil {
		return err
	}
	copy(s.localPriv[:], priv)
	pub, err := curve25519.X25519(s.localPriv[:], curve25519.Basepoint)
	if err != nil {
		return errkind.ErrIkeCrypto
	}
	copy(s.localPub[:], pub)
	return nil
}

// BuildSAInit produces the initiator's IKE_SA_INIT message: proposal
// set, DH public value, and nonce.
func (s *Session) BuildSAInit() (*Message, error) {
	nonce, err := crypto.RandBytes(32)
	if err != nil {
		return nil, err
	}
	s.localNonce = nonce
	s.State = SaInitState

	return &Message{
		Header: Header{
			InitiatorSPI: s.LocalSPI,
			ResponderSPI: 0,
			Version:      0x20,
			ExchangeType: IkeSaInit,
			Flags:        0x08,
		},
		SA:      defaultProposals(),
		KEGroup: DHGroupX25519,
		KEData:  append([]byte(nil), s.localPub[:]...),
		Nonce:   nonce,
	}, nil
}

// HandleSAInit is the responder side: selects the first acceptable
// proposal, derives the shared secret and key schedule, and returns
// the response message to send back.
func (s *Session) HandleSAInit(req *Message) (*Message, error) {
	var chosen *Proposal
	for i := range req.SA {
		if acceptable(req.SA[i]) {
			chosen = &req.SA[i]
			break
		}
	}
	if chosen == nil {
		return nil, errkind.NewProtocolError("no acceptable SA proposal offered")
	}
	if len(req.KEData) != 32 {
		return nil, errkind.NewProtocolError("malformed key exchange payload")
	}

	s.RemoteSPI = req.Header.InitiatorSPI
	s.remoteNonce = req.Nonce
	s.Algorithm = chosen.Encryption.algorithm()
	s.State = SaInitState

	respNonce, err := crypto.RandBytes(32)
	if err != nil {
		return nil, err
	}
	s.localNonce = respNonce

	if err := s.deriveShared(req.KEData); err != nil {
		return nil, err
	}
	if err := s.deriveKeySchedule(); err != nil {
		return nil, err
	}

	return &Message{
		Header: Header{
			InitiatorSPI: s.RemoteSPI,
			ResponderSPI: s.LocalSPI,
			Version:      0x20,
			ExchangeType: IkeSaInit,
			Flags:        0,
		},
		SA:      []Proposal{*chosen},
		KEGroup: DHGroupX25519,
		KEData:  append([]byte(nil), s.localPub[:]...),
		Nonce:   respNonce,
	}, nil
}

// CompleteSAInit is the initiator side: consumes the responder's
// SA_INIT reply and derives the shared secret and key schedule.
func (s *Session) CompleteSAInit(resp *Message) error {
	if len(resp.SA) != 1 || !acceptable(resp.SA[0]) {
		return errkind.NewProtocolError("responder chose an unsupported proposal")
	}
	if len(resp.KEData) != 32 {
		return errkind.NewProtocolError("malformed key exchange payload")
	}

	s.RemoteSPI = resp.Header.ResponderSPI
	s.remoteNonce = resp.Nonce
	s.Algorithm = resp.SA[0].Encryption.algorithm()

	if err := s.deriveShared(resp.KEData); err != nil {
		return err
	}
	return s.deriveKeySchedule()
}

func (s *Session) deriveShared(peerPub []byte) error {
	secret, err := curve25519.X25519(s.localPriv[:], peerPub)
	if err != nil {
		return errkind.ErrIkeCrypto
	}
	s.sharedSecret = secret
	return nil
}

func (s *Session) deriveKeySchedule() error {
	enc, err := crypto.KDF(s.sharedSecret, "enc", crypto.KeySize)
	if err != nil {
		return err
	}
	auth, err := crypto.KDF(s.sharedSecret, "auth", crypto.KeySize)
	if err != nil {
		return err
	}
	s.EncKey = enc
	s.AuthKey = auth
	return nil
}

// authTag computes hmac(psk, shared_secret || ownNonce || peerNonce),
// per spec.md §4.7's phase-2 contract.
func authTag(psk, shared, ownNonce, peerNonce []byte) []byte {
	data := append(append(append([]byte(nil), shared...), ownNonce...), peerNonce...)
	return crypto.HMAC(crypto.HMACSHA256, psk, data)
}

// BuildAuth produces this side's phase-2 AUTH payload.
func (s *Session) BuildAuth(psk []byte) (*Message, error) {
	if s.sharedSecret == nil {
		return nil, errkind.NewProtocolError("auth attempted before SA_INIT completed")
	}
	s.State = AuthState
	tag := authTag(psk, s.sharedSecret, s.localNonce, s.remoteNonce)
	return &Message{
		Header: Header{
			InitiatorSPI: s.LocalSPI,
			ResponderSPI: s.RemoteSPI,
			Version:      0x20,
			ExchangeType: IkeAuth,
			Flags:        0x08,
		},
		Auth: tag,
	}, nil
}

// HandleAuth verifies the peer's phase-2 AUTH payload. A mismatch is
// fatal: the session moves to Deleted and ErrIkeAuthenticationFailed
// is returned.
func (s *Session) HandleAuth(msg *Message, psk []byte) error {
	expected := authTag(psk, s.sharedSecret, s.remoteNonce, s.localNonce)
	if subtle.ConstantTimeCompare(expected, msg.Auth) != 1 {
		s.State = Deleted
		return errkind.ErrIkeAuthenticationFailed
	}
	s.State = Established
	return nil
}

// Rekey runs a fresh Phase 1 under the existing session identity: a
// new ephemeral keypair and nonce are generated, and on success the
// new key schedule atomically replaces the old one. The caller drives
// the message exchange the same way as initial establishment.
func (s *Session) Rekey() (*Message, error) {
	if s.State != Established {
		return nil, errkind.NewProtocolError("rekey attempted while not established")
	}
	s.State = Rekeying
	if err := s.freshKeypair(); err != nil {
		return nil, err
	}
	msg, err := s.BuildSAInit()
	if err != nil {
		return nil, err
	}
	s.State = Rekeying
	return msg, nil
}

// IsEstablished reports whether the session has completed both
// phases and holds a live key schedule.
func (s *Session) IsEstablished() bool {
	return s.State == Established
}

// Close marks the session Deleted. It does not zero key material in
// place; callers that need that guarantee should drop all references
// to the Session immediately after Close.
func (s *Session) Close() {
	s.State = Deleted
}
