package keystore

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/zalando/go-keyring"

	"github.com/blockberries/airgap-wallet/types"
)

const (
	// keychainRecordPrefix namespaces record entries within the service.
	keychainRecordPrefix = "record:"
	// keychainIndexKey holds a comma-separated id index; keychain APIs have
	// no native enumeration.
	keychainIndexKey = "_records"
)

// KeychainRecordStore keeps encoded records in the OS keychain:
//   - macOS: Keychain
//   - Windows: Credential Store
//   - Linux: Secret Service (libsecret)
//
// Records are still Argon2id/AES-GCM sealed; the keychain only adds OS-level
// access control on top. Thread-safe via RWMutex.
//
// Size limits are platform-dependent (Windows caps at 2560 bytes). A keystore
// record is well under 1KB.
type KeychainRecordStore struct {
	serviceName string
	mu          sync.RWMutex
	closed      bool
}

// NewKeychainRecordStore probes the keychain and returns a store scoped to
// serviceName. Returns ErrKeychainUnavailable when no keychain service can be
// reached (for example a headless Linux box without D-Bus).
func NewKeychainRecordStore(serviceName string) (*KeychainRecordStore, error) {
	if serviceName == "" {
		return nil, fmt.Errorf("keychain service name cannot be empty")
	}

	_, err := keyring.Get(serviceName, keychainIndexKey)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrKeychainUnavailable, err)
	}

	return &KeychainRecordStore{serviceName: serviceName}, nil
}

// Put stores a new record and adds it to the index.
func (ks *KeychainRecordStore) Put(id string, data []byte) error {
	if err := ValidateAccountID(id); err != nil {
		return err
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()

	if ks.closed {
		return ErrStoreClosed
	}

	key := keychainRecordPrefix + id
	_, err := keyring.Get(ks.serviceName, key)
	if err == nil {
		return ErrRecordExists
	}
	if !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to check existing record: %w", err)
	}

	if err := keyring.Set(ks.serviceName, key, string(data)); err != nil {
		return fmt.Errorf("failed to store record in keychain: %w", err)
	}

	if err := ks.addToIndex(id); err != nil {
		// Rollback
		_ = keyring.Delete(ks.serviceName, key)
		return err
	}
	return nil
}

// Get reads a record from the keychain.
func (ks *KeychainRecordStore) Get(id string) ([]byte, error) {
	if ValidateAccountID(id) != nil {
		return nil, fmt.Errorf("%w: keystore %q", types.ErrNotFound, id)
	}

	ks.mu.RLock()
	defer ks.mu.RUnlock()

	if ks.closed {
		return nil, ErrStoreClosed
	}

	s, err := keyring.Get(ks.serviceName, keychainRecordPrefix+id)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, fmt.Errorf("%w: keystore %s", types.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load record from keychain: %w", err)
	}
	return []byte(s), nil
}

// Delete removes a record and its index entry.
func (ks *KeychainRecordStore) Delete(id string) error {
	if ValidateAccountID(id) != nil {
		return nil
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()

	if ks.closed {
		return ErrStoreClosed
	}

	err := keyring.Delete(ks.serviceName, keychainRecordPrefix+id)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete record from keychain: %w", err)
	}
	return ks.removeFromIndex(id)
}

// List returns indexed ids, sorted.
func (ks *KeychainRecordStore) List() ([]string, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	if ks.closed {
		return nil, ErrStoreClosed
	}

	ids, err := ks.readIndex()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

// Close marks the store as closed. Safe to call multiple times.
func (ks *KeychainRecordStore) Close() error {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.closed = true
	return nil
}

// readIndex must be called with at least a read lock held.
func (ks *KeychainRecordStore) readIndex() ([]string, error) {
	s, err := keyring.Get(ks.serviceName, keychainIndexKey)
	if errors.Is(err, keyring.ErrNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read keychain index: %w", err)
	}

	ids := []string{}
	for _, id := range strings.Split(s, ",") {
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// addToIndex must be called with the write lock held.
func (ks *KeychainRecordStore) addToIndex(id string) error {
	ids, err := ks.readIndex()
	if err != nil {
		return err
	}
	for _, existing := range ids {
		if existing == id {
			return nil
		}
	}
	ids = append(ids, id)
	if err := keyring.Set(ks.serviceName, keychainIndexKey, strings.Join(ids, ",")); err != nil {
		return fmt.Errorf("failed to update keychain index: %w", err)
	}
	return nil
}

// removeFromIndex must be called with the write lock held.
func (ks *KeychainRecordStore) removeFromIndex(id string) error {
	ids, err := ks.readIndex()
	if err != nil {
		return err
	}
	kept := ids[:0]
	for _, existing := range ids {
		if existing != id {
			kept = append(kept, existing)
		}
	}
	if err := keyring.Set(ks.serviceName, keychainIndexKey, strings.Join(kept, ",")); err != nil {
		return fmt.Errorf("failed to update keychain index: %w", err)
	}
	return nil
}

var _ RecordStore = (*KeychainRecordStore)(nil)
