package ike

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vx0net/overlayd/internal/errkind"
)

func establishPair(t *testing.T, psk []byte) (*Session, *Session) {
	t.Helper()

	initiator, err := NewSession("10.0.0.2:500")
	require.NoError(t, err)
	responder, err := NewSession("10.0.0.1:500")
	require.NoError(t, err)

	saInit, err := initiator.BuildSAInit()
	require.NoError(t, err)

	saResp, err := responder.HandleSAInit(saInit)
	require.NoError(t, err)
	require.NoError(t, initiator.CompleteSAInit(saResp))

	initAuth, err := initiator.BuildAuth(psk)
	require.NoError(t, err)
	respAuth, err := responder.BuildAuth(psk)
	require.NoError(t, err)

	require.NoError(t, responder.HandleAuth(initAuth, psk))
	require.NoError(t, initiator.HandleAuth(respAuth, psk))

	return initiator, responder
}

func TestHandshakeEstablishesMatchingKeySchedule(t *testing.T) {
	psk := []byte("shared-secret-passphrase")
	initiator, responder := establishPair(t, psk)

	assert.True(t, initiator.IsEstablished())
	assert.True(t, responder.IsEstablished())
	assert.Equal(t, initiator.EncKey, responder.EncKey)
	assert.Equal(t, initiator.AuthKey, responder.AuthKey)
	assert.Equal(t, initiator.LocalSPI, responder.RemoteSPI)
	assert.Equal(t, responder.LocalSPI, initiator.RemoteSPI)
}

func TestHandshakeFailsOnPSKMismatch(t *testing.T) {
	initiator, err := NewSession("10.0.0.2:500")
	require.NoError(t, err)
	responder, err := NewSession("10.0.0.1:500")
	require.NoError(t, err)

	saInit, err := initiator.BuildSAInit()
	require.NoError(t, err)
	saResp, err := responder.HandleSAInit(saInit)
	require.NoError(t, err)
	require.NoError(t, initiator.CompleteSAInit(saResp))

	initAuth, err := initiator.BuildAuth([]byte("correct-psk"))
	require.NoError(t, err)

	err = responder.HandleAuth(initAuth, []byte("wrong-psk"))
	assert.ErrorIs(t, err, errkind.ErrIkeAuthenticationFailed)
	assert.Equal(t, Deleted, responder.State)
}

func TestRekeyReplacesKeySchedule(t *testing.T) {
	psk := []byte("shared-secret-passphrase")
	initiator, responder := establishPair(t, psk)
	oldEncKey := append([]byte(nil), initiator.EncKey...)

	rekeyInit, err := initiator.Rekey()
	require.NoError(t, err)
	assert.Equal(t, Rekeying, initiator.State)

	rekeyResp, err := responder.HandleSAInit(rekeyInit)
	require.NoError(t, err)
	require.NoError(t, initiator.CompleteSAInit(rekeyResp))

	initAuth, err := initiator.BuildAuth(psk)
	require.NoError(t, err)
	respAuth, err := responder.BuildAuth(psk)
	require.NoError(t, err)
	require.NoError(t, responder.HandleAuth(initAuth, psk))
	require.NoError(t, initiator.HandleAuth(respAuth, psk))

	assert.True(t, initiator.IsEstablished())
	assert.NotEqual(t, oldEncKey, initiator.EncKey)
	assert.Equal(t, initiator.EncKey, responder.EncKey)
}

func TestHandleSAInitRejectsUnsupportedProposal(t *testing.T) {
	responder, err := NewSession("10.0.0.1:500")
	require.NoError(t, err)

	bogus := &Message{
		Header: Header{ExchangeType: IkeSaInit},
		SA:     []Proposal{{Encryption: EncAES256GCM, DHGroup: DHGroupMODP14}},
		KEData: make([]byte, 32),
	}
	_, err = responder.HandleSAInit(bogus)
	assert.Error(t, err)
}
