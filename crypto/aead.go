package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

const (
	// AESKeyLength is the AES-256 key size.
	AESKeyLength = 32

	// AESGCMNonceLength is the 96-bit nonce recommended for GCM.
	AESGCMNonceLength = 12

	// AESGCMTagLength is the GCM authentication tag size.
	AESGCMTagLength = 16
)

// RandomBytes returns n bytes from crypto/rand.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return b, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != AESKeyLength {
		return nil, fmt.Errorf("%w: AES-256 key must be %d bytes, got %d", ErrInvalidKeySize, AESKeyLength, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aead, nil
}

// SealAESGCM encrypts plaintext with AES-256-GCM and returns the ciphertext
// and the 16-byte tag separately, as the keystore record stores them apart.
func SealAESGCM(key, nonce, plaintext []byte) (ciphertext, tag []byte, err error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}
	if len(nonce) != aead.NonceSize() {
		return nil, nil, fmt.Errorf("%w: GCM nonce must be %d bytes, got %d", ErrInvalidKeySize, aead.NonceSize(), len(nonce))
	}

	sealed := aead.Seal(nil, nonce, plaintext, nil)
	split := len(sealed) - aead.Overhead()
	ciphertext = make([]byte, split)
	copy(ciphertext, sealed[:split])
	tag = make([]byte, aead.Overhead())
	copy(tag, sealed[split:])
	return ciphertext, tag, nil
}

// OpenAESGCM authenticates and decrypts ciphertext||tag.
// Any authentication failure returns ErrDecrypt.
func OpenAESGCM(key, nonce, ciphertext, tag []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != aead.NonceSize() || len(tag) != aead.Overhead() {
		return nil, ErrDecrypt
	}

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}
