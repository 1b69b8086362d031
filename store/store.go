// Package store provides the persistence primitives shared by the keystore
// registry and the nonce ledger: lock-serialized JSON documents on disk and an
// IAVL-backed key-value store with merkle proofs.
package store

import (
	"errors"
)

var (
	// ErrNotFound is returned when a key is not found in the store
	ErrNotFound = errors.New("key not found")

	// ErrInvalidKey is returned when a key is invalid
	ErrInvalidKey = errors.New("invalid key")

	// ErrIteratorClosed is returned when an iterator is used after being closed
	ErrIteratorClosed = errors.New("iterator closed")

	// ErrStoreNil is returned when a store is nil
	ErrStoreNil = errors.New("store is nil")

	// ErrStoreClosed is returned when a closed store is used
	ErrStoreClosed = errors.New("store is closed")

	// ErrCorruptDocument is returned when a document on disk cannot be decoded
	ErrCorruptDocument = errors.New("corrupt document")
)

// Serializer handles serialization and deserialization of objects
type Serializer[T any] interface {
	// Marshal converts an object to bytes
	Marshal(obj T) ([]byte, error)

	// Unmarshal converts bytes to an object
	Unmarshal(data []byte) (T, error)
}

// BackingStore is the underlying key-value storage interface
type BackingStore interface {
	// Get retrieves raw bytes by key
	Get(key []byte) ([]byte, error)

	// Set stores raw bytes with the given key
	Set(key []byte, value []byte) error

	// Has checks if a key exists
	Has(key []byte) (bool, error)

	// Iterator returns an iterator over a range of keys
	Iterator(start, end []byte) (RawIterator, error)

	// Flush writes pending changes
	Flush() error

	// Close releases resources
	Close() error
}

// RawIterator is an iterator over raw key-value pairs
type RawIterator interface {
	// Valid returns true if positioned at a valid entry
	Valid() bool

	// Next advances to the next entry
	Next()

	// Key returns the current key
	Key() []byte

	// Value returns the current value
	Value() []byte

	// Error returns any error that occurred during iteration
	Error() error

	// Close releases iterator resources
	Close() error
}

// validateKey checks if a key is valid
func validateKey(key []byte) error {
	if len(key) == 0 {
		return ErrInvalidKey
	}
	return nil
}

// copyBytes returns an independent copy of b; nil stays nil.
func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	result := make([]byte, len(b))
	copy(result, b)
	return result
}

// PrefixEnd returns the exclusive upper bound for iterating all keys with prefix.
// Returns nil when the prefix is all 0xff bytes (iterate to the end).
func PrefixEnd(prefix []byte) []byte {
	end := copyBytes(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
