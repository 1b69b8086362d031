// Package ledger records which transaction nonces each sender has consumed.
//
// The ledger only grows: a nonce, once committed for an address, is never
// removed. Verification reads it; only the transfer workflow commits to it,
// and only after a successful verification.
package ledger

import (
	"errors"
	"fmt"
	"sync"

	"cosmossdk.io/log"

	"github.com/blockberries/airgap-wallet/crypto"
	"github.com/blockberries/airgap-wallet/types"
)

// ErrLedgerClosed is returned after Close.
var ErrLedgerClosed = errors.New("nonce ledger is closed")

// Backend persists the spent-nonce set.
// Implementations must be safe for concurrent use and must have durably
// stored a nonce before Insert returns.
type Backend interface {
	// Has reports whether nonce is recorded for addr.
	Has(addr crypto.Address, nonce uint64) (bool, error)

	// Insert records nonce for addr.
	// Returns types.ErrReplayedNonce if it is already present.
	Insert(addr crypto.Address, nonce uint64) error

	// Snapshot returns every address with its nonces in ascending order.
	Snapshot() (map[crypto.Address][]uint64, error)

	Close() error
}

// Ledger serializes check-then-commit per address on top of a Backend.
type Ledger struct {
	backend Backend
	locks   *keyedMutex
	logger  log.Logger

	mu     sync.RWMutex
	closed bool
}

// New wraps backend. A nil logger discards output.
func New(backend Backend, logger log.Logger) *Ledger {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Ledger{
		backend: backend,
		locks:   newKeyedMutex(),
		logger:  logger,
	}
}

// Contains reports whether nonce has been consumed by addr.
func (l *Ledger) Contains(addr crypto.Address, nonce uint64) (bool, error) {
	if err := l.checkOpen(); err != nil {
		return false, err
	}
	return l.backend.Has(addr, nonce)
}

// Commit records nonce for addr and persists it before returning.
// Returns types.ErrReplayedNonce if it was already consumed.
func (l *Ledger) Commit(addr crypto.Address, nonce uint64) error {
	return l.Guard(addr, func(tx *Txn) error {
		return tx.Commit(nonce)
	})
}

// Guard runs fn while holding addr's critical section. Two guards on the
// same address never overlap, so a Contains followed by a Commit inside fn
// cannot race another caller admitting the same nonce.
func (l *Ledger) Guard(addr crypto.Address, fn func(tx *Txn) error) error {
	if err := l.checkOpen(); err != nil {
		return err
	}

	unlock := l.locks.lock(string(addr))
	defer unlock()

	return fn(&Txn{ledger: l, addr: addr})
}

// Snapshot returns the full ledger contents.
func (l *Ledger) Snapshot() (map[crypto.Address][]uint64, error) {
	if err := l.checkOpen(); err != nil {
		return nil, err
	}
	return l.backend.Snapshot()
}

// Backend returns the underlying backend.
func (l *Ledger) Backend() Backend {
	return l.backend
}

// Close closes the backend. Safe to call multiple times.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.backend.Close()
}

func (l *Ledger) checkOpen() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrLedgerClosed
	}
	return nil
}

// Txn is the view of one address inside Guard. It is only valid until fn
// returns.
type Txn struct {
	ledger *Ledger
	addr   crypto.Address
}

// Address returns the guarded address.
func (tx *Txn) Address() crypto.Address {
	return tx.addr
}

// Contains reports whether nonce is consumed for any address. Lookups for
// other addresses are allowed but are not protected by this guard.
func (tx *Txn) Contains(addr crypto.Address, nonce uint64) (bool, error) {
	return tx.ledger.backend.Has(addr, nonce)
}

// Commit records nonce for the guarded address.
func (tx *Txn) Commit(nonce uint64) error {
	if err := tx.ledger.backend.Insert(tx.addr, nonce); err != nil {
		if errors.Is(err, types.ErrReplayedNonce) {
			return err
		}
		return fmt.Errorf("%w: failed to persist nonce: %v", types.ErrInternal, err)
	}
	tx.ledger.logger.Debug("nonce committed", "address", tx.addr, "nonce", nonce)
	return nil
}

// keyedMutex hands out one mutex per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedEntry)}
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
