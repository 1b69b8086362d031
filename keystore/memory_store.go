package keystore

import (
	"fmt"
	"sort"
	"sync"

	"github.com/blockberries/airgap-wallet/types"
)

// MemoryRecordStore keeps encoded records in a map.
// Thread-safe via RWMutex. Suitable for tests and ephemeral vaults.
type MemoryRecordStore struct {
	mu      sync.RWMutex
	records map[string][]byte
	closed  bool
}

// NewMemoryRecordStore creates an empty in-memory record store.
func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{
		records: make(map[string][]byte, 16),
	}
}

// Put stores a copy of data.
func (ms *MemoryRecordStore) Put(id string, data []byte) error {
	if err := ValidateAccountID(id); err != nil {
		return err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.closed {
		return ErrStoreClosed
	}
	if _, ok := ms.records[id]; ok {
		return ErrRecordExists
	}
	ms.records[id] = append([]byte(nil), data...)
	return nil
}

// Get returns a copy of the stored record.
func (ms *MemoryRecordStore) Get(id string) ([]byte, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	if ms.closed {
		return nil, ErrStoreClosed
	}
	data, ok := ms.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: keystore %q", types.ErrNotFound, id)
	}
	return append([]byte(nil), data...), nil
}

// Delete removes a record if present.
func (ms *MemoryRecordStore) Delete(id string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.closed {
		return ErrStoreClosed
	}
	delete(ms.records, id)
	return nil
}

// List returns stored ids, sorted.
func (ms *MemoryRecordStore) List() ([]string, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	if ms.closed {
		return nil, ErrStoreClosed
	}
	ids := make([]string, 0, len(ms.records))
	for id := range ms.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close clears all records and marks the store closed.
func (ms *MemoryRecordStore) Close() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.closed = true
	ms.records = nil
	return nil
}

// Tamper replaces a stored record in place. Tests use it to simulate on-disk
// corruption.
func (ms *MemoryRecordStore) Tamper(id string, fn func([]byte) []byte) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	data, ok := ms.records[id]
	if !ok {
		return fmt.Errorf("%w: keystore %q", types.ErrNotFound, id)
	}
	ms.records[id] = fn(append([]byte(nil), data...))
	return nil
}

var _ RecordStore = (*MemoryRecordStore)(nil)
