package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"cosmossdk.io/log"
	"github.com/gofrs/flock"
)

const (
	// FilePermissions - restrictive: owner read/write only
	FilePermissions = 0o600
	// DirPermissions - restrictive: owner only
	DirPermissions = 0o700

	lockFileSuffix = ".lock"
)

// JSONFile is a single JSON document on disk whose read-modify-write cycles
// are serialized both within the process (mutex) and across processes
// (advisory flock on a sibling ".lock" file). Writes are atomic renames, so a
// reader never observes a half-written document.
type JSONFile[T any] struct {
	path       string
	serializer Serializer[T]
	init       func() T
	rebuild    func() (T, error)
	logger     log.Logger

	mu   sync.Mutex
	lock *flock.Flock
}

// JSONFileOption configures a JSONFile.
type JSONFileOption[T any] func(*JSONFile[T])

// WithRecover makes an undecodable document recoverable. On the first access
// that finds it corrupt, the bad bytes are copied to
// "<path>.corrupt-<unix nanos>" and the document is replaced by what rebuild
// returns. If rebuild fails nothing on disk changes and the access fails with
// ErrCorruptDocument.
//
// Only appropriate for documents whose content can be derived from elsewhere.
func WithRecover[T any](rebuild func() (T, error)) JSONFileOption[T] {
	return func(f *JSONFile[T]) { f.rebuild = rebuild }
}

// WithLogger sets the logger used for recovery warnings.
func WithLogger[T any](logger log.Logger) JSONFileOption[T] {
	return func(f *JSONFile[T]) { f.logger = logger }
}

// NewJSONFile prepares a document at path. The parent directory is created
// if absent; the document itself is created lazily on first access.
func NewJSONFile[T any](path string, init func() T, opts ...JSONFileOption[T]) (*JSONFile[T], error) {
	if path == "" {
		return nil, fmt.Errorf("document path is empty")
	}
	if init == nil {
		panic("init function cannot be nil")
	}
	if err := os.MkdirAll(filepath.Dir(path), DirPermissions); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	f := &JSONFile[T]{
		path:       path,
		serializer: NewJSONSerializer[T](),
		init:       init,
		logger:     log.NewNopLogger(),
		lock:       flock.New(path + lockFileSuffix),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Path returns the document path.
func (f *JSONFile[T]) Path() string {
	return f.path
}

// Read returns the current document, creating it from the initial value if
// it does not exist yet.
func (f *JSONFile[T]) Read() (T, error) {
	var doc T
	err := f.withLock(func() error {
		var created bool
		var err error
		doc, created, err = f.load()
		if err != nil {
			return err
		}
		if created {
			return f.save(doc)
		}
		return nil
	})
	return doc, err
}

// Update loads the document, applies fn and writes the result, all under the
// document lock. If fn returns an error nothing is written.
func (f *JSONFile[T]) Update(fn func(doc *T) error) error {
	return f.withLock(func() error {
		doc, _, err := f.load()
		if err != nil {
			return err
		}
		if err := fn(&doc); err != nil {
			return err
		}
		return f.save(doc)
	})
}

func (f *JSONFile[T]) withLock(fn func() error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock %s: %w", f.path, err)
	}
	defer func() {
		if err := f.lock.Unlock(); err != nil {
			f.logger.Error("failed to release document lock", "path", f.path, "err", err)
		}
	}()

	return fn()
}

// load must be called with the lock held. created reports that the document
// did not exist and doc is the initial value, not yet written.
func (f *JSONFile[T]) load() (doc T, created bool, err error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return f.init(), true, nil
	}
	if err != nil {
		return f.init(), false, fmt.Errorf("failed to read %s: %w", f.path, err)
	}

	doc, err = f.serializer.Unmarshal(data)
	if err == nil {
		return doc, false, nil
	}
	if f.rebuild == nil {
		return f.init(), false, fmt.Errorf("%w: %s: %v", ErrCorruptDocument, f.path, err)
	}
	doc, err = f.recoverCorrupt(data, err)
	return doc, false, err
}

// recoverCorrupt must be called with the lock held. The corrupt bytes are kept
// aside before the rebuilt document replaces them.
func (f *JSONFile[T]) recoverCorrupt(data []byte, cause error) (T, error) {
	doc, err := f.rebuild()
	if err != nil {
		return f.init(), fmt.Errorf("%w: %s: %v; rebuild failed: %v", ErrCorruptDocument, f.path, cause, err)
	}

	aside := fmt.Sprintf("%s.corrupt-%d", f.path, time.Now().UnixNano())
	if err := WriteFileAtomic(aside, data, FilePermissions); err != nil {
		return f.init(), fmt.Errorf("failed to keep corrupt %s: %w", f.path, err)
	}
	if err := f.save(doc); err != nil {
		return f.init(), err
	}
	f.logger.Error("document corrupt, rebuilt", "path", f.path, "kept", aside, "err", cause)
	return doc, nil
}

// save must be called with the lock held.
func (f *JSONFile[T]) save(doc T) error {
	data, err := f.serializer.Marshal(doc)
	if err != nil {
		return err
	}
	return WriteFileAtomic(f.path, data, FilePermissions)
}

// WriteFileAtomic writes data to a temporary file in the target directory,
// syncs it and renames it over path.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		cleanup()
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("failed to rename into place: %w", err)
	}
	return nil
}
