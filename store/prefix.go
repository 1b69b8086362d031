package store

import (
	"bytes"
	"sync"
)

// PrefixStore namespaces a BackingStore: every key is stored as prefix||key
// and iteration is confined to the prefix. Flush goes to the parent; Close
// only detaches, since the parent is usually shared.
type PrefixStore struct {
	mu     sync.RWMutex
	parent BackingStore
	prefix []byte
	closed bool
}

// NewPrefixStore creates a view of parent under prefix.
func NewPrefixStore(parent BackingStore, prefix []byte) *PrefixStore {
	if parent == nil {
		panic("parent store cannot be nil")
	}
	if len(prefix) == 0 {
		panic("prefix cannot be empty")
	}
	return &PrefixStore{parent: parent, prefix: copyBytes(prefix)}
}

// Prefix returns a copy of the namespace prefix.
func (ps *PrefixStore) Prefix() []byte {
	return copyBytes(ps.prefix)
}

// FullKey returns the key as stored in the parent, which is what a merkle
// proof from the parent is keyed by.
func (ps *PrefixStore) FullKey(key []byte) []byte {
	full := make([]byte, len(ps.prefix)+len(key))
	copy(full, ps.prefix)
	copy(full[len(ps.prefix):], key)
	return full
}

func (ps *PrefixStore) check(key []byte) error {
	if ps.closed {
		return ErrStoreClosed
	}
	return validateKey(key)
}

// Get retrieves raw bytes by key
func (ps *PrefixStore) Get(key []byte) ([]byte, error) {
	if ps == nil {
		return nil, ErrStoreNil
	}
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	if err := ps.check(key); err != nil {
		return nil, err
	}
	return ps.parent.Get(ps.FullKey(key))
}

// Set stores raw bytes with the given key
func (ps *PrefixStore) Set(key []byte, value []byte) error {
	if ps == nil {
		return ErrStoreNil
	}
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	if err := ps.check(key); err != nil {
		return err
	}
	return ps.parent.Set(ps.FullKey(key), value)
}

// Has checks if a key exists
func (ps *PrefixStore) Has(key []byte) (bool, error) {
	if ps == nil {
		return false, ErrStoreNil
	}
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	if err := ps.check(key); err != nil {
		return false, err
	}
	return ps.parent.Has(ps.FullKey(key))
}

// Iterator returns an ascending iterator over [start, end) within the
// namespace. Nil bounds mean the start or end of the namespace. Keys are
// returned without the prefix.
func (ps *PrefixStore) Iterator(start, end []byte) (RawIterator, error) {
	if ps == nil {
		return nil, ErrStoreNil
	}
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	if ps.closed {
		return nil, ErrStoreClosed
	}

	lo := ps.prefix
	if start != nil {
		lo = ps.FullKey(start)
	}
	hi := PrefixEnd(ps.prefix)
	if end != nil {
		hi = ps.FullKey(end)
	}

	iter, err := ps.parent.Iterator(lo, hi)
	if err != nil {
		return nil, err
	}
	return &prefixIterator{parent: iter, prefix: ps.prefix}, nil
}

// Flush writes pending changes of the parent.
func (ps *PrefixStore) Flush() error {
	if ps == nil {
		return ErrStoreNil
	}
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	if ps.closed {
		return ErrStoreClosed
	}
	return ps.parent.Flush()
}

// Close detaches the view. The parent stays open.
func (ps *PrefixStore) Close() error {
	if ps == nil {
		return ErrStoreNil
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.closed = true
	return nil
}

// prefixIterator strips the namespace prefix from keys.
type prefixIterator struct {
	mu     sync.Mutex
	parent RawIterator
	prefix []byte
	closed bool
}

func (pi *prefixIterator) Valid() bool {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	return !pi.closed && pi.parent.Valid() && bytes.HasPrefix(pi.parent.Key(), pi.prefix)
}

func (pi *prefixIterator) Next() {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	if !pi.closed {
		pi.parent.Next()
	}
}

func (pi *prefixIterator) Key() []byte {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	if pi.closed || !pi.parent.Valid() {
		return nil
	}
	key := pi.parent.Key()
	if !bytes.HasPrefix(key, pi.prefix) {
		return nil
	}
	return copyBytes(key[len(pi.prefix):])
}

func (pi *prefixIterator) Value() []byte {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	if pi.closed {
		return nil
	}
	return pi.parent.Value()
}

func (pi *prefixIterator) Error() error {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	if pi.closed {
		return ErrIteratorClosed
	}
	return pi.parent.Error()
}

func (pi *prefixIterator) Close() error {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	if pi.closed {
		return nil
	}
	pi.closed = true
	return pi.parent.Close()
}

var _ BackingStore = (*PrefixStore)(nil)
