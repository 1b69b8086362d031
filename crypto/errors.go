package crypto

import "errors"

var (
	// ErrInvalidKeySize is returned when key material has the wrong length.
	ErrInvalidKeySize = errors.New("invalid key size")

	// ErrKeyWiped is returned when a secret key is used after Wipe.
	ErrKeyWiped = errors.New("secret key has been wiped")

	// ErrUnsupportedScheme is returned when a signature scheme is not recognized.
	ErrUnsupportedScheme = errors.New("unsupported signature scheme")

	// ErrInvalidKDFParams is returned when Argon2id parameters are out of range.
	ErrInvalidKDFParams = errors.New("invalid KDF parameters")

	// ErrDecrypt is returned when AES-GCM authentication fails.
	// Wrong key and corrupted ciphertext are indistinguishable.
	ErrDecrypt = errors.New("authenticated decryption failed")

	// ErrPoolClosed is returned when work is submitted to a closed KDF pool.
	ErrPoolClosed = errors.New("KDF pool is closed")

	// ErrInvalidAddress is returned when an address string is malformed.
	ErrInvalidAddress = errors.New("invalid address")
)
