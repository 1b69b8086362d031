package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"runtime"
	"sync"
)

// Zeroize securely overwrites a byte slice with zeros.
// Used to clear sensitive data (secret keys, derived keys) from memory.
//
// subtle.XORBytes(b, b, b) XORs each byte with itself. Unlike a plain loop it is
// not recognized as a dead store, and runtime.KeepAlive keeps b live until the
// zeroing is done.
func Zeroize(b []byte) {
	if len(b) == 0 {
		return
	}
	subtle.XORBytes(b, b, b)
	runtime.KeepAlive(b)
}

// SecretKey owns a 64-byte Ed25519 secret key (seed || public key).
// The bytes are only reachable through Sign and Bytes; Wipe zeroes them and
// makes every later use fail with ErrKeyWiped. Safe for concurrent use.
type SecretKey struct {
	mu    sync.RWMutex
	key   ed25519.PrivateKey
	wiped bool
}

// NewSecretKey takes ownership of a copy of data.
// The caller should zero data after this call returns.
func NewSecretKey(data []byte) (*SecretKey, error) {
	if len(data) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: ed25519 secret key must be %d bytes, got %d",
			ErrInvalidKeySize, ed25519.PrivateKeySize, len(data))
	}
	key := make(ed25519.PrivateKey, ed25519.PrivateKeySize)
	copy(key, data)
	return &SecretKey{key: key}, nil
}

// Sign produces a detached Ed25519 signature over data.
func (k *SecretKey) Sign(data []byte) ([]byte, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.wiped {
		return nil, ErrKeyWiped
	}
	return ed25519.Sign(k.key, data), nil
}

// Bytes returns a copy of the raw secret key.
// WARNING: the copy is the caller's to Zeroize.
func (k *SecretKey) Bytes() ([]byte, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.wiped {
		return nil, ErrKeyWiped
	}
	out := make([]byte, len(k.key))
	copy(out, k.key)
	return out, nil
}

// Wipe zeroes the secret. Safe to call multiple times.
func (k *SecretKey) Wipe() {
	if k == nil {
		return
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.wiped {
		return
	}
	Zeroize(k.key)
	k.wiped = true
}

// Wiped reports whether Wipe has been called.
func (k *SecretKey) Wiped() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.wiped
}

// KeyPair is an Ed25519 public key together with its scoped secret.
type KeyPair struct {
	PublicKey ed25519.PublicKey
	Secret    *SecretKey
}

// GenerateKeyPair creates a fresh keypair from crypto/rand.
func GenerateKeyPair() (*KeyPair, error) {
	return generateKeyPair(rand.Reader)
}

func generateKeyPair(r io.Reader) (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(r)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ed25519 key: %w", err)
	}
	defer Zeroize(priv)
	secret, err := NewSecretKey(priv)
	if err != nil {
		return nil, err
	}
	return &KeyPair{PublicKey: pub, Secret: secret}, nil
}

// KeyPairFromSeed derives a keypair from a 32-byte seed.
// Intended for deterministic test vectors.
func KeyPairFromSeed(seed []byte) (*KeyPair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: ed25519 seed must be %d bytes, got %d",
			ErrInvalidKeySize, ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	defer Zeroize(priv)
	secret, err := NewSecretKey(priv)
	if err != nil {
		return nil, err
	}
	pub := make(ed25519.PublicKey, ed25519.PublicKeySize)
	copy(pub, priv[ed25519.SeedSize:])
	return &KeyPair{PublicKey: pub, Secret: secret}, nil
}

// KeyPairFromSecret rebuilds a keypair from a decrypted 64-byte secret key.
// The public half is checked against pub so a record whose public key field
// was swapped cannot produce a mismatched pair.
func KeyPairFromSecret(secret, pub []byte) (*KeyPair, error) {
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: ed25519 public key must be %d bytes, got %d",
			ErrInvalidKeySize, ed25519.PublicKeySize, len(pub))
	}
	sk, err := NewSecretKey(secret)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare(secret[ed25519.SeedSize:], pub) != 1 {
		sk.Wipe()
		return nil, fmt.Errorf("%w: secret key does not match public key", ErrInvalidKeySize)
	}
	pk := make(ed25519.PublicKey, ed25519.PublicKeySize)
	copy(pk, pub)
	return &KeyPair{PublicKey: pk, Secret: sk}, nil
}

// Address returns the address derived from the public key.
func (kp *KeyPair) Address() Address {
	return DeriveAddress(kp.PublicKey)
}

// PublicKeyBase64 returns the standard base64 encoding of the public key.
func (kp *KeyPair) PublicKeyBase64() string {
	return base64.StdEncoding.EncodeToString(kp.PublicKey)
}

// Wipe zeroes the secret half. Safe on a nil receiver.
func (kp *KeyPair) Wipe() {
	if kp == nil {
		return
	}
	kp.Secret.Wipe()
}

// VerifySignature checks a detached Ed25519 signature.
// Wrong-length keys or signatures yield false rather than a panic.
func VerifySignature(pub, data, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), data, sig)
}
