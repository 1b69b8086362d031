// Package keystore stores Ed25519 secret keys encrypted under a
// password-derived key and keeps the non-secret account registry.
package keystore

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/blockberries/airgap-wallet/crypto"
	"github.com/blockberries/airgap-wallet/types"
)

const (
	// CipherAES256GCM is the cipher identifier stored in records.
	CipherAES256GCM = "AES-256-GCM"

	// IDLength is the number of random bytes in an account id.
	IDLength = 16
)

// KDFParams is the persisted form of the key-derivation parameters.
type KDFParams struct {
	Salt        string `json:"salt_b64"`
	Time        uint32 `json:"t_cost"`
	MemoryKiB   uint32 `json:"m_cost"`
	Parallelism uint8  `json:"p"`
	KeyLength   uint32 `json:"dk_len"`
}

// CipherParams is the persisted form of the AEAD parameters.
type CipherParams struct {
	Nonce string `json:"nonce_b64"`
}

// Record is one encrypted keystore entry.
//
// INVARIANT: Checksum is computed last, over the canonical JSON of every
// other field, and is excluded from its own input.
//
// The checksum is an unkeyed SHA-256: it detects accidental corruption, not a
// deliberate edit (an attacker can recompute it). Confidentiality and
// integrity of the secret key rest on the AES-GCM tag.
type Record struct {
	ID           string        `json:"id"`
	KDF          string        `json:"kdf"`
	KDFParams    KDFParams     `json:"kdf_params"`
	Cipher       string        `json:"cipher"`
	CipherParams CipherParams  `json:"cipher_params"`
	Ciphertext   string        `json:"ciphertext_b64"`
	Tag          string        `json:"tag_b64"`
	PublicKey    string        `json:"pubkey_b64"`
	Scheme       crypto.Scheme `json:"scheme"`
	Created      string        `json:"created"`
	Checksum     string        `json:"checksum"`
}

// CanonicalMap implements types.CanonicalMapper. Checksum is omitted.
func (r *Record) CanonicalMap() map[string]any {
	return map[string]any{
		"id":  r.ID,
		"kdf": r.KDF,
		"kdf_params": map[string]any{
			"salt_b64": r.KDFParams.Salt,
			"t_cost":   r.KDFParams.Time,
			"m_cost":   r.KDFParams.MemoryKiB,
			"p":        r.KDFParams.Parallelism,
			"dk_len":   r.KDFParams.KeyLength,
		},
		"cipher": r.Cipher,
		"cipher_params": map[string]any{
			"nonce_b64": r.CipherParams.Nonce,
		},
		"ciphertext_b64": r.Ciphertext,
		"tag_b64":        r.Tag,
		"pubkey_b64":     r.PublicKey,
		"scheme":         string(r.Scheme),
		"created":        r.Created,
	}
}

// ComputeChecksum returns the lowercase hex SHA-256 of the canonical record.
func (r *Record) ComputeChecksum() (string, error) {
	canonical, err := types.Canonicalize(r)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize record: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Seal computes and stores the checksum. Must be the last mutation.
func (r *Record) Seal() error {
	sum, err := r.ComputeChecksum()
	if err != nil {
		return err
	}
	r.Checksum = sum
	return nil
}

// VerifyChecksum recomputes the checksum and compares it in constant time.
func (r *Record) VerifyChecksum() error {
	sum, err := r.ComputeChecksum()
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrTamperedRecord, err)
	}
	if subtle.ConstantTimeCompare([]byte(sum), []byte(r.Checksum)) != 1 {
		return fmt.Errorf("%w: record %s", types.ErrTamperedRecord, r.ID)
	}
	return nil
}

// Argon2Params returns the stored KDF cost parameters.
func (r *Record) Argon2Params() crypto.Argon2Params {
	return crypto.Argon2Params{
		Time:        r.KDFParams.Time,
		MemoryKiB:   r.KDFParams.MemoryKiB,
		Parallelism: r.KDFParams.Parallelism,
		KeyLength:   r.KDFParams.KeyLength,
	}
}

// decodedRecord holds the binary fields of a record.
type decodedRecord struct {
	salt       []byte
	nonce      []byte
	ciphertext []byte
	tag        []byte
	publicKey  []byte
}

// decode validates identifiers and decodes every base64 field.
func (r *Record) decode() (*decodedRecord, error) {
	if r.KDF != crypto.KDFArgon2id {
		return nil, fmt.Errorf("%w: unsupported kdf %q", types.ErrMalformedInput, r.KDF)
	}
	if r.Cipher != CipherAES256GCM {
		return nil, fmt.Errorf("%w: unsupported cipher %q", types.ErrMalformedInput, r.Cipher)
	}
	if !r.Scheme.IsValid() {
		return nil, fmt.Errorf("%w: %q", types.ErrUnsupportedScheme, r.Scheme)
	}

	out := &decodedRecord{}
	fields := []struct {
		name string
		src  string
		dst  *[]byte
		size int
	}{
		{"salt", r.KDFParams.Salt, &out.salt, crypto.SaltLength},
		{"nonce", r.CipherParams.Nonce, &out.nonce, crypto.AESGCMNonceLength},
		{"ciphertext", r.Ciphertext, &out.ciphertext, r.Scheme.SecretKeySize()},
		{"tag", r.Tag, &out.tag, crypto.AESGCMTagLength},
		{"public key", r.PublicKey, &out.publicKey, r.Scheme.PublicKeySize()},
	}

	for _, f := range fields {
		b, err := base64.StdEncoding.DecodeString(f.src)
		if err != nil {
			return nil, fmt.Errorf("%w: %s is not valid base64: %v", types.ErrMalformedInput, f.name, err)
		}
		if len(b) != f.size {
			return nil, fmt.Errorf("%w: %s must be %d bytes, got %d", types.ErrMalformedInput, f.name, f.size, len(b))
		}
		*f.dst = b
	}
	return out, nil
}

// EncodeRecord renders a record as indented JSON.
func EncodeRecord(r *Record) ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}
	return data, nil
}

// DecodeRecord parses a stored record. It does not verify the checksum.
func DecodeRecord(data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: failed to parse record: %v", types.ErrMalformedInput, err)
	}
	return &r, nil
}

// NewAccountID returns a fresh random 16-byte id rendered as lowercase hex.
func NewAccountID() (string, error) {
	b, err := crypto.RandomBytes(IDLength)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// ValidateAccountID checks an id is 32 lowercase hex digits, which also makes
// it safe to use as a file name.
func ValidateAccountID(id string) error {
	if len(id) != IDLength*2 {
		return fmt.Errorf("%w: account id must be %d hex digits", types.ErrMalformedInput, IDLength*2)
	}
	for _, c := range id {
		if !(c >= '0' && c <= '9') && !(c >= 'a' && c <= 'f') {
			return fmt.Errorf("%w: account id must be lowercase hex", types.ErrMalformedInput)
		}
	}
	return nil
}
