package session

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"net"
	"time"

	"github.com/vx0net/overlayd/internal/errkind"
	"github.com/vx0net/overlayd/internal/rib"
)

// MaxPayloadSize is the largest frame this protocol accepts (spec.md §6).
const MaxPayloadSize = 65536

// MessageType enumerates the peering protocol's message kinds.
type MessageType string

const (
	Open         MessageType = "Open"
	Update       MessageType = "Update"
	Keepalive    MessageType = "Keepalive"
	Notification MessageType = "Notification"
)

// WireRoute is one announced route as it appears on the wire.
type WireRoute struct {
	Network   string   `json:"network"`
	NextHop   string   `json:"next_hop"`
	ASPath    []uint32 `json:"as_path"`
	Origin    string   `json:"origin"`
	LocalPref uint32   `json:"local_pref"`
	MED       uint32   `json:"med"`
}

// Message is one frame of the peering wire protocol. Withdrawn extends
// the minimal schema in spec.md §6 with an explicit withdrawn-prefix
// list, needed to carry Update's withdrawal half (§4.4) over a
// self-describing encoding both ends agree on.
type Message struct {
	MessageType MessageType `json:"message_type"`
	ASN         uint32      `json:"asn"`
	RouterID    string      `json:"router_id"`
	Routes      []WireRoute `json:"routes,omitempty"`
	Withdrawn   []string    `json:"withdrawn,omitempty"`
	Reason      string      `json:"reason,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

func originString(o rib.Origin) string {
	return o.String()
}

func parseOrigin(s string) rib.Origin {
	switch s {
	case "EGP":
		return rib.OriginEGP
	case "Incomplete":
		return rib.OriginIncomplete
	default:
		return rib.OriginIGP
	}
}

func toWireRoute(e rib.RouteEntry) WireRoute {
	return WireRoute{
		Network:   e.Network.String(),
		NextHop:   e.NextHop.String(),
		ASPath:    e.ASPath,
		Origin:    originString(e.Origin),
		LocalPref: e.LocalPref,
		MED:       e.MED,
	}
}

func fromWireRoute(w WireRoute) (rib.RouteEntry, error) {
	prefix, err := rib.ParsePrefix(w.Network)
	if err != nil {
		return rib.RouteEntry{}, errkind.NewSerializationError(err)
	}
	nextHop := net.ParseIP(w.NextHop)
	if nextHop == nil {
		return rib.RouteEntry{}, errkind.NewProtocolError("malformed next_hop %q", w.NextHop)
	}
	return rib.RouteEntry{
		Network:   prefix,
		NextHop:   nextHop,
		ASPath:    append([]uint32(nil), w.ASPath...),
		Origin:    parseOrigin(w.Origin),
		LocalPref: w.LocalPref,
		MED:       w.MED,
		Timestamp: time.Now(),
	}, nil
}

// writeFrame writes a uint32-be length prefix followed by the JSON
// encoding of msg. Oversized frames are rejected before anything is
// written to the wire.
func writeFrame(w io.Writer, msg *Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return errkind.NewSerializationError(err)
	}
	if len(payload) > MaxPayloadSize {
		return errkind.NewProtocolError("encoded message of %d bytes exceeds max payload size", len(payload))
	}

	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(payload)))
	if _, err := w.Write(header); err != nil {
		return errkind.NewNetworkError("write frame header", err)
	}
	if _, err := w.Write(payload); err != nil {
		return errkind.NewNetworkError("write frame payload", err)
	}
	return nil
}

// readFrame reads one length-prefixed frame and decodes it.
func readFrame(r io.Reader) (*Message, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, errkind.NewNetworkError("read frame header", err)
	}
	length := binary.BigEndian.Uint32(header)
	if length > MaxPayloadSize {
		return nil, errkind.NewProtocolError("frame of %d bytes exceeds max payload size", length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, errkind.NewNetworkError("read frame payload", err)
	}

	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, errkind.NewSerializationError(err)
	}
	return &msg, nil
}
