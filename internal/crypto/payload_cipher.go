package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// KeySize is the AES-256 key size in bytes.
	KeySize = 32

	// IVSize is the AES-CTR initialization vector size in bytes.
	IVSize = 16
)

// keyDerivationSalt is fixed: both peers must derive the same key from the
// same passphrase without any negotiation.
var keyDerivationSalt = []byte("battlego.packet.v1")

const keyDerivationIters = 4096

// DeriveKey derives the 32-byte pre-shared packet key from a passphrase
// using PBKDF2-SHA256. An empty passphrase yields the all-zero key, which is
// what the reference clients use out of the box.
func DeriveKey(passphrase string) []byte {
	if passphrase == "" {
		return make([]byte, KeySize)
	}
	return pbkdf2.Key([]byte(passphrase), keyDerivationSalt, keyDerivationIters, KeySize, sha256.New)
}

// PayloadCipher encrypts and decrypts packet payloads with AES-256 in
// counter mode. CTR is a stream cipher: ciphertext length equals plaintext
// length and no padding is involved.
type PayloadCipher struct {
	block cipher.Block
}

// NewPayloadCipher creates a cipher from a 32-byte pre-shared key.
func NewPayloadCipher(key []byte) (*PayloadCipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("payload cipher: key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("payload cipher: %w", err)
	}
	return &PayloadCipher{block: block}, nil
}

// NewIV draws a fresh random IV for one packet.
func (pc *PayloadCipher) NewIV() ([]byte, error) {
	iv := make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("generating iv: %w", err)
	}
	return iv, nil
}

// Encrypt encrypts plaintext with the given IV and returns the ciphertext.
func (pc *PayloadCipher) Encrypt(iv, plaintext []byte) ([]byte, error) {
	return pc.apply(iv, plaintext)
}

// Decrypt decrypts ciphertext with the given IV and returns the plaintext.
func (pc *PayloadCipher) Decrypt(iv, ciphertext []byte) ([]byte, error) {
	return pc.apply(iv, ciphertext)
}

func (pc *PayloadCipher) apply(iv, data []byte) ([]byte, error) {
	if len(iv) != IVSize {
		return nil, fmt.Errorf("payload cipher: iv must be %d bytes, got %d", IVSize, len(iv))
	}
	out := make([]byte, len(data))
	cipher.NewCTR(pc.block, iv).XORKeyStream(out, data)
	return out, nil
}
