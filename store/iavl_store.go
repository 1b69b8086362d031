package store

import (
	"fmt"
	"sync"

	"cosmossdk.io/log"
	dbm "github.com/cosmos/cosmos-db"
	ics23 "github.com/cosmos/ics23/go"
	"github.com/cosmos/iavl"
)

// IAVLStore is an IAVL-backed implementation of BackingStore.
// It wraps github.com/cosmos/iavl MutableTree and provides thread-safe
// operations, versioning and merkle proof generation.
type IAVLStore struct {
	mu      sync.RWMutex
	tree    *iavl.MutableTree
	version int64
	closed  bool
}

// NewIAVLStore creates a new IAVL-backed store on db and loads its latest
// saved version. cacheSize is the IAVL node cache size (0 means no cache).
func NewIAVLStore(db dbm.DB, cacheSize int, logger log.Logger) (*IAVLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database cannot be nil")
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}

	tree := iavl.NewMutableTree(db, cacheSize, false, logger)

	version, err := tree.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load tree: %w", err)
	}

	return &IAVLStore{
		tree:    tree,
		version: version,
	}, nil
}

// Get retrieves raw bytes by key
func (s *IAVLStore) Get(key []byte) ([]byte, error) {
	if s == nil {
		return nil, ErrStoreNil
	}
	if err := validateKey(key); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	value, err := s.tree.Get(key)
	if err != nil {
		return nil, fmt.Errorf("failed to get key: %w", err)
	}
	if value == nil {
		return nil, ErrNotFound
	}
	return copyBytes(value), nil
}

// Set stores raw bytes with the given key. The change is pending until Flush
// or SaveVersion.
func (s *IAVLStore) Set(key []byte, value []byte) error {
	if s == nil {
		return ErrStoreNil
	}
	if err := validateKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if _, err := s.tree.Set(copyBytes(key), copyBytes(value)); err != nil {
		return fmt.Errorf("failed to set key: %w", err)
	}
	return nil
}

// Has checks if a key exists
func (s *IAVLStore) Has(key []byte) (bool, error) {
	if s == nil {
		return false, ErrStoreNil
	}
	if err := validateKey(key); err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false, ErrStoreClosed
	}

	has, err := s.tree.Has(key)
	if err != nil {
		return false, fmt.Errorf("failed to check key: %w", err)
	}
	return has, nil
}

// Iterator returns an ascending iterator over [start, end).
func (s *IAVLStore) Iterator(start, end []byte) (RawIterator, error) {
	if s == nil {
		return nil, ErrStoreNil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	iter, err := s.tree.Iterator(start, end, true)
	if err != nil {
		return nil, fmt.Errorf("failed to create iterator: %w", err)
	}
	return &iavlIterator{iter: iter}, nil
}

// Flush writes pending changes by saving a new version
func (s *IAVLStore) Flush() error {
	_, _, err := s.SaveVersion()
	return err
}

// SaveVersion saves the current state as a new version.
// Returns the merkle root hash and version number.
func (s *IAVLStore) SaveVersion() ([]byte, int64, error) {
	if s == nil {
		return nil, 0, ErrStoreNil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, 0, ErrStoreClosed
	}

	hash, version, err := s.tree.SaveVersion()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to save version: %w", err)
	}
	s.version = version
	return copyBytes(hash), version, nil
}

// GetProof generates a merkle proof for a key at the current saved version.
func (s *IAVLStore) GetProof(key []byte) (*ics23.CommitmentProof, error) {
	if s == nil {
		return nil, ErrStoreNil
	}
	if err := validateKey(key); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	proof, err := s.tree.GetVersionedProof(key, s.version)
	if err != nil {
		return nil, fmt.Errorf("failed to get proof: %w", err)
	}
	return proof, nil
}

// Version returns the current version number
func (s *IAVLStore) Version() int64 {
	if s == nil {
		return 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.version
}

// Hash returns the merkle root hash of the working tree
func (s *IAVLStore) Hash() []byte {
	if s == nil {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil
	}
	return copyBytes(s.tree.Hash())
}

// Close marks the store closed. The underlying database is owned by the caller.
func (s *IAVLStore) Close() error {
	if s == nil {
		return ErrStoreNil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

// iavlIterator wraps a dbm iterator to implement RawIterator
type iavlIterator struct {
	mu     sync.Mutex
	iter   dbm.Iterator
	closed bool
}

// Valid returns true if positioned at a valid entry
func (it *iavlIterator) Valid() bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	return !it.closed && it.iter.Valid()
}

// Next advances to the next entry
func (it *iavlIterator) Next() {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.closed {
		return
	}
	it.iter.Next()
}

// Key returns a copy of the current key
func (it *iavlIterator) Key() []byte {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.closed || !it.iter.Valid() {
		return nil
	}
	return copyBytes(it.iter.Key())
}

// Value returns a copy of the current value
func (it *iavlIterator) Value() []byte {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.closed || !it.iter.Valid() {
		return nil
	}
	return copyBytes(it.iter.Value())
}

// Error returns any error that occurred during iteration
func (it *iavlIterator) Error() error {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.closed {
		return ErrIteratorClosed
	}
	return it.iter.Error()
}

// Close releases iterator resources
func (it *iavlIterator) Close() error {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.closed {
		return nil
	}
	it.closed = true
	if err := it.iter.Close(); err != nil {
		return fmt.Errorf("failed to close IAVL iterator: %w", err)
	}
	return nil
}

// Verify IAVLStore implements BackingStore interface.
var _ BackingStore = (*IAVLStore)(nil)
