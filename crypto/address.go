package crypto

import (
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

const (
	// AddressLength is the number of hash bytes kept for an address.
	AddressLength = 20

	// AddressPrefix is prepended to the hex rendering.
	AddressPrefix = "0x"
)

// Address is a 20-byte value rendered as "0x" followed by 40 lowercase hex digits.
type Address string

// DeriveAddress maps an arbitrary byte sequence (normally a 32-byte Ed25519
// public key) to an address: the last 20 bytes of its Keccak-256 digest.
//
// Keccak-256 here is the pre-standard padding used by Ethereum, not FIPS-202
// SHA3-256; the two produce different digests for the same input.
// The function is total and pure.
func DeriveAddress(pub []byte) Address {
	h := sha3.NewLegacyKeccak256()
	h.Write(pub)
	digest := h.Sum(nil)
	return Address(AddressPrefix + hex.EncodeToString(digest[len(digest)-AddressLength:]))
}

// String returns the address text.
func (a Address) String() string {
	return string(a)
}

// Validate checks the canonical form: "0x" prefix and 40 lowercase hex digits.
func (a Address) Validate() error {
	s := string(a)
	if !strings.HasPrefix(s, AddressPrefix) {
		return fmt.Errorf("%w: missing %q prefix", ErrInvalidAddress, AddressPrefix)
	}
	body := s[len(AddressPrefix):]
	if len(body) != AddressLength*2 {
		return fmt.Errorf("%w: expected %d hex digits, got %d", ErrInvalidAddress, AddressLength*2, len(body))
	}
	for _, c := range body {
		if !(c >= '0' && c <= '9') && !(c >= 'a' && c <= 'f') {
			return fmt.Errorf("%w: non lowercase-hex character %q", ErrInvalidAddress, c)
		}
	}
	return nil
}

// ParseAddress normalizes s to lowercase and validates it.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[:2] == "0X") {
		s = AddressPrefix + s[2:]
	}
	addr := Address(strings.ToLower(s))
	if err := addr.Validate(); err != nil {
		return "", err
	}
	return addr, nil
}
