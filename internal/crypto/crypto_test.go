package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	for _, alg := range []Algorithm{AES256GCM, ChaCha20Poly1305} {
		key, err := RandBytes(KeySize)
		require.NoError(t, err)
		nonce, err := RandBytes(NonceSize)
		require.NoError(t, err)

		plaintext := []byte("hello overlay")
		sealed, err := alg.Seal(key, nonce, plaintext)
		require.NoError(t, err)

		opened, err := alg.Open(key, nonce, sealed)
		require.NoError(t, err)
		assert.Equal(t, plaintext, opened)
	}
}

func TestOpenFailsOnModifiedCiphertext(t *testing.T) {
	key, _ := RandBytes(KeySize)
	nonce, _ := RandBytes(NonceSize)
	sealed, err := AES256GCM.Seal(key, nonce, []byte("hello overlay"))
	require.NoError(t, err)

	sealed[0] ^= 0xFF
	_, err = AES256GCM.Open(key, nonce, sealed)
	assert.Error(t, err)
}

func TestHMACSignVerify(t *testing.T) {
	key := []byte("pre-shared-key")
	data := []byte("authenticate me")

	for _, alg := range []HMACAlgorithm{HMACSHA256, HMACSHA384, HMACSHA512} {
		mac := HMAC(alg, key, data)
		assert.True(t, HMACVerify(alg, key, data, mac))
		assert.False(t, HMACVerify(alg, key, []byte("tampered"), mac))
	}
}

func TestKDFDeterministicPerLabel(t *testing.T) {
	secret := []byte("shared-secret-material")

	enc1, err := KDF(secret, "enc", 32)
	require.NoError(t, err)
	enc2, err := KDF(secret, "enc", 32)
	require.NoError(t, err)
	auth, err := KDF(secret, "auth", 32)
	require.NoError(t, err)

	assert.Equal(t, enc1, enc2, "KDF must be deterministic for the same label")
	assert.NotEqual(t, enc1, auth, "different labels must yield different key material")
	assert.Len(t, enc1, 32)
}

func TestRandBytesLength(t *testing.T) {
	b, err := RandBytes(16)
	require.NoError(t, err)
	assert.Len(t, b, 16)
}
