package ike

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalUnmarshalMessageRoundTrip(t *testing.T) {
	msg := &Message{
		Header: Header{
			InitiatorSPI: 1,
			ResponderSPI: 2,
			Version:      0x20,
			ExchangeType: IkeSaInit,
			Flags:        0x08,
		},
		SA:      defaultProposals(),
		KEGroup: DHGroupX25519,
		KEData:  []byte{1, 2, 3, 4},
		Nonce:   []byte{5, 6, 7, 8},
	}

	payload, err := MarshalMessage(msg)
	require.NoError(t, err)

	decoded, err := UnmarshalMessage(payload)
	require.NoError(t, err)
	assert.Equal(t, msg.Header, decoded.Header)
	assert.Equal(t, msg.SA, decoded.SA)
	assert.Equal(t, msg.KEGroup, decoded.KEGroup)
	assert.Equal(t, msg.KEData, decoded.KEData)
	assert.Equal(t, msg.Nonce, decoded.Nonce)
}

func TestUnmarshalMessageRejectsOversizedDatagram(t *testing.T) {
	_, err := UnmarshalMessage(make([]byte, MaxDatagramSize+1))
	assert.Error(t, err)
}

func TestUnmarshalMessageRejectsMalformedJSON(t *testing.T) {
	_, err := UnmarshalMessage([]byte("not json"))
	assert.Error(t, err)
}
