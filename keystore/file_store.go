package keystore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/blockberries/airgap-wallet/store"
	"github.com/blockberries/airgap-wallet/types"
)

// recordFileExtension is the suffix of keystore files.
const recordFileExtension = ".json"

// FileRecordStore keeps one "<id>.json" file per account in a directory.
// Files are created 0600 in a 0700 directory and written by atomic rename.
// Thread-safe via RWMutex. Implements io.Closer.
type FileRecordStore struct {
	dir    string
	mu     sync.RWMutex
	closed bool
}

// NewFileRecordStore creates the directory if it doesn't exist.
func NewFileRecordStore(dir string) (*FileRecordStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("keystore directory path is empty")
	}
	if err := os.MkdirAll(dir, store.DirPermissions); err != nil {
		return nil, fmt.Errorf("failed to create keystore directory: %w", err)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to stat keystore directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("keystore path %s is not a directory", dir)
	}
	return &FileRecordStore{dir: dir}, nil
}

// Dir returns the keystore directory.
func (fs *FileRecordStore) Dir() string {
	return fs.dir
}

// Put writes a new record file.
func (fs *FileRecordStore) Put(id string, data []byte) error {
	if err := ValidateAccountID(id); err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.closed {
		return ErrStoreClosed
	}

	path := fs.recordPath(id)
	if _, err := os.Stat(path); err == nil {
		return ErrRecordExists
	}
	if err := store.WriteFileAtomic(path, data, store.FilePermissions); err != nil {
		return fmt.Errorf("failed to write keystore file: %w", err)
	}
	return nil
}

// Get reads a record file.
func (fs *FileRecordStore) Get(id string) ([]byte, error) {
	if ValidateAccountID(id) != nil {
		return nil, fmt.Errorf("%w: keystore %q", types.ErrNotFound, id)
	}

	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if fs.closed {
		return nil, ErrStoreClosed
	}

	data, err := os.ReadFile(fs.recordPath(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: keystore %s", types.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read keystore file: %w", err)
	}
	return data, nil
}

// Delete removes a record file; an absent file is not an error.
func (fs *FileRecordStore) Delete(id string) error {
	if ValidateAccountID(id) != nil {
		return nil
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.closed {
		return ErrStoreClosed
	}

	err := os.Remove(fs.recordPath(id))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete keystore file: %w", err)
	}
	return nil
}

// List returns the ids of all record files, sorted.
func (fs *FileRecordStore) List() ([]string, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if fs.closed {
		return nil, ErrStoreClosed
	}

	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read keystore directory: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, recordFileExtension) {
			continue
		}
		id := strings.TrimSuffix(name, recordFileExtension)
		if ValidateAccountID(id) == nil {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Close marks the store as closed. Safe to call multiple times.
func (fs *FileRecordStore) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.closed = true
	return nil
}

func (fs *FileRecordStore) recordPath(id string) string {
	return filepath.Join(fs.dir, id+recordFileExtension)
}

// Verify FileRecordStore implements RecordStore interface.
var _ RecordStore = (*FileRecordStore)(nil)
