package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveKeyEmptyPassphrase(t *testing.T) {
	key := DeriveKey("")
	require.Len(t, key, KeySize)
	assert.Equal(t, make([]byte, KeySize), key, "empty passphrase must yield the all-zero key")
}

func TestDeriveKeyDeterministic(t *testing.T) {
	k1 := DeriveKey("some passphrase")
	k2 := DeriveKey("some passphrase")
	k3 := DeriveKey("another passphrase")

	require.Len(t, k1, KeySize)
	assert.Equal(t, k1, k2, "same passphrase must derive the same key")
	assert.NotEqual(t, k1, k3, "different passphrases must derive different keys")
	assert.NotEqual(t, make([]byte, KeySize), k1)
}

func TestNewPayloadCipherRejectsBadKey(t *testing.T) {
	_, err := NewPayloadCipher(make([]byte, 16))
	assert.Error(t, err)

	_, err = NewPayloadCipher(nil)
	assert.Error(t, err)
}

func TestEncryptDecryptRoundtrip(t *testing.T) {
	pc, err := NewPayloadCipher(make([]byte, KeySize))
	require.NoError(t, err)

	iv, err := pc.NewIV()
	require.NoError(t, err)
	require.Len(t, iv, IVSize)

	plaintext := []byte("Hello, secure world!")
	ciphertext, err := pc.Encrypt(iv, plaintext)
	require.NoError(t, err)
	assert.Len(t, ciphertext, len(plaintext), "ctr mode must not pad")
	assert.False(t, bytes.Equal(plaintext, ciphertext), "ciphertext must differ from plaintext")

	decrypted, err := pc.Decrypt(iv, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestEncryptEmptyPayload(t *testing.T) {
	pc, err := NewPayloadCipher(make([]byte, KeySize))
	require.NoError(t, err)

	iv, err := pc.NewIV()
	require.NoError(t, err)

	ciphertext, err := pc.Encrypt(iv, nil)
	require.NoError(t, err)
	assert.Empty(t, ciphertext)
}

func TestFreshIVsDiffer(t *testing.T) {
	pc, err := NewPayloadCipher(make([]byte, KeySize))
	require.NoError(t, err)

	iv1, err := pc.NewIV()
	require.NoError(t, err)
	iv2, err := pc.NewIV()
	require.NoError(t, err)

	assert.NotEqual(t, iv1, iv2)
}

func TestRejectsBadIV(t *testing.T) {
	pc, err := NewPayloadCipher(make([]byte, KeySize))
	require.NoError(t, err)

	_, err = pc.Encrypt(make([]byte, 8), []byte("data"))
	assert.Error(t, err)
}
