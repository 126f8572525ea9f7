package ike

import (
	"encoding/json"

	"github.com/vx0net/overlayd/internal/errkind"
)

// MaxDatagramSize bounds one key-agreement datagram (spec.md §6); the
// UDP transport in transport.go requires every message to fit in a
// single packet, with room to spare below typical path MTUs.
const MaxDatagramSize = 8192

// MarshalMessage encodes msg for transmission as a single UDP datagram.
func MarshalMessage(msg *Message) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, errkind.NewSerializationError(err)
	}
	if len(payload) > MaxDatagramSize {
		return nil, errkind.NewProtocolError("encoded key-agreement message of %d bytes exceeds max datagram size", len(payload))
	}
	return payload, nil
}

// UnmarshalMessage decodes one key-agreement datagram.
func UnmarshalMessage(data []byte) (*Message, error) {
	if len(data) > MaxDatagramSize {
		return nil, errkind.NewProtocolError("key-agreement datagram of %d bytes exceeds max datagram size", len(data))
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, errkind.NewSerializationError(err)
	}
	return &msg, nil
}
