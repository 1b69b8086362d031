package types

import "errors"

var (
	// ErrDuplicateName indicates an account with the same display name exists
	ErrDuplicateName = errors.New("duplicate account name")

	// ErrNotFound indicates an account, record or file was not found
	ErrNotFound = errors.New("not found")

	// ErrTamperedRecord indicates a keystore record failed its checksum.
	// The record is never decrypted.
	ErrTamperedRecord = errors.New("keystore record checksum mismatch")

	// ErrWrongPasswordOrCorrupt indicates AEAD authentication failed.
	// SECURITY: wrong password and corrupt ciphertext are deliberately not distinguished.
	ErrWrongPasswordOrCorrupt = errors.New("wrong password or corrupt keystore")

	// ErrUnsupportedScheme indicates an unknown signature scheme
	ErrUnsupportedScheme = errors.New("unsupported signature scheme")

	// ErrInvalidSignature indicates the signature does not verify
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrAddressMismatch indicates tx.from is not derived from the public key
	ErrAddressMismatch = errors.New("sender address does not match public key")

	// ErrReplayedNonce indicates the sender's nonce was already consumed
	ErrReplayedNonce = errors.New("nonce already used")

	// ErrMalformedInput indicates bad base64, hex, JSON or numeric input
	ErrMalformedInput = errors.New("malformed input")

	// ErrRateLimited indicates too many unlock attempts for one account
	ErrRateLimited = errors.New("too many unlock attempts")

	// ErrInternal indicates an unexpected failure
	ErrInternal = errors.New("internal error")
)

// Kind is the stable, machine-readable name of an error category.
type Kind string

// Error kinds reported across the boundary.
const (
	KindNone                   Kind = ""
	KindDuplicateName          Kind = "DuplicateName"
	KindNotFound               Kind = "NotFound"
	KindTamperedRecord         Kind = "TamperedRecord"
	KindWrongPasswordOrCorrupt Kind = "WrongPasswordOrCorrupt"
	KindUnsupportedScheme      Kind = "UnsupportedScheme"
	KindInvalidSignature       Kind = "InvalidSignature"
	KindAddressMismatch        Kind = "AddressMismatch"
	KindReplayedNonce          Kind = "ReplayedNonce"
	KindMalformedInput         Kind = "MalformedInput"
	KindRateLimited            Kind = "RateLimited"
	KindInternalError          Kind = "InternalError"
)

var kindTable = []struct {
	err  error
	kind Kind
}{
	{ErrDuplicateName, KindDuplicateName},
	{ErrNotFound, KindNotFound},
	{ErrTamperedRecord, KindTamperedRecord},
	{ErrWrongPasswordOrCorrupt, KindWrongPasswordOrCorrupt},
	{ErrUnsupportedScheme, KindUnsupportedScheme},
	{ErrInvalidSignature, KindInvalidSignature},
	{ErrAddressMismatch, KindAddressMismatch},
	{ErrReplayedNonce, KindReplayedNonce},
	{ErrMalformedInput, KindMalformedInput},
	{ErrRateLimited, KindRateLimited},
	{ErrInternal, KindInternalError},
}

// KindOf classifies err. Unrecognized errors are InternalError; nil is KindNone.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	for _, entry := range kindTable {
		if errors.Is(err, entry.err) {
			return entry.kind
		}
	}
	return KindInternalError
}
