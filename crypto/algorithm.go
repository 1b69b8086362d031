// Package crypto provides the key material, address derivation and symmetric
// primitives used by the wallet keystore and transaction signer.
package crypto

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
)

// Scheme identifies a transaction signature scheme.
// The value is carried verbatim in envelopes and keystore records.
type Scheme string

const (
	// SchemeEd25519 is the only scheme the wallet signs and verifies.
	// Public key: 32 bytes, secret key: 64 bytes (seed || public key), signature: 64 bytes.
	SchemeEd25519 Scheme = "Ed25519"
)

// String returns the string representation of the scheme.
func (s Scheme) String() string {
	return string(s)
}

// IsValid returns true if the scheme is a recognized type.
func (s Scheme) IsValid() bool {
	switch s {
	case SchemeEd25519:
		return true
	default:
		return false
	}
}

// PublicKeySize returns the expected public key size in bytes.
func (s Scheme) PublicKeySize() int {
	switch s {
	case SchemeEd25519:
		return ed25519.PublicKeySize
	default:
		return 0
	}
}

// SecretKeySize returns the expected secret key size in bytes.
func (s Scheme) SecretKeySize() int {
	switch s {
	case SchemeEd25519:
		return ed25519.PrivateKeySize
	default:
		return 0
	}
}

// SignatureSize returns the expected signature size in bytes.
func (s Scheme) SignatureSize() int {
	switch s {
	case SchemeEd25519:
		return ed25519.SignatureSize
	default:
		return 0
	}
}

// MarshalJSON implements json.Marshaler.
func (s Scheme) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements json.Unmarshaler.
// Unknown schemes are accepted here and rejected by the verifier, so that a
// foreign envelope still decodes and can be reported as unsupported.
func (s *Scheme) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("scheme must be a string: %w", err)
	}
	*s = Scheme(str)
	return nil
}
