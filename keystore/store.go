package keystore

import "errors"

// ErrRecordExists is returned when a record id is already taken.
var ErrRecordExists = errors.New("keystore record already exists")

// ErrStoreClosed is returned when operations are attempted on a closed store.
var ErrStoreClosed = errors.New("keystore record store is closed")

// RecordStore persists encoded keystore records by account id.
// Implementations must be thread-safe. Records are opaque bytes at this layer;
// decoding and checksum validation belong to the Vault.
type RecordStore interface {
	// Put stores a new record.
	// Returns ErrRecordExists if the id is already present.
	Put(id string, data []byte) error

	// Get returns the encoded record.
	// Returns types.ErrNotFound if the id is absent or not a valid id.
	Get(id string) ([]byte, error)

	// Delete removes a record. Deleting an absent record is not an error.
	Delete(id string) error

	// List returns all stored ids.
	List() ([]string, error)

	// Close releases resources. Later calls return ErrStoreClosed.
	Close() error
}

// ErrKeychainUnavailable is returned when the OS keychain cannot be reached.
var ErrKeychainUnavailable = errors.New("os keychain unavailable")
