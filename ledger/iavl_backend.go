package ledger

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"cosmossdk.io/log"
	dbm "github.com/cosmos/cosmos-db"
	ics23 "github.com/cosmos/ics23/go"

	"github.com/blockberries/airgap-wallet/crypto"
	"github.com/blockberries/airgap-wallet/store"
	"github.com/blockberries/airgap-wallet/types"
)

// IAVLDBName is the database name used under the data directory.
const IAVLDBName = "nonce_ledger"

var (
	spentPrefix = []byte("n/")
	spentValue  = []byte{1}
)

// IAVLBackend keeps spent nonces as keys of a merkleized IAVL tree.
// Every Insert saves a new tree version, so each spent nonce can be proven
// against the root hash with an ics23 membership proof.
type IAVLBackend struct {
	mu    sync.Mutex
	store *store.IAVLStore
	spent *store.PrefixStore
	db    dbm.DB
	root  []byte
}

// NewIAVLBackend opens the tree stored in db. The backend closes db on Close.
func NewIAVLBackend(db dbm.DB, logger log.Logger) (*IAVLBackend, error) {
	s, err := store.NewIAVLStore(db, 0, logger)
	if err != nil {
		return nil, err
	}
	return &IAVLBackend{
		store: s,
		spent: store.NewPrefixStore(s, spentPrefix),
		db:    db,
		root:  s.Hash(),
	}, nil
}

// OpenIAVLBackend opens (or creates) a goleveldb database in dir.
func OpenIAVLBackend(dir string, logger log.Logger) (*IAVLBackend, error) {
	db, err := dbm.NewDB(IAVLDBName, dbm.GoLevelDBBackend, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open nonce ledger database: %w", err)
	}
	b, err := NewIAVLBackend(db, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

// nonceKey is address || "/" || big-endian nonce, stored under spentPrefix.
func nonceKey(addr crypto.Address, nonce uint64) []byte {
	key := make([]byte, 0, len(addr)+1+8)
	key = append(key, addr...)
	key = append(key, '/')
	return binary.BigEndian.AppendUint64(key, nonce)
}

// spentKey is the full tree key of a spent nonce, as proofs reference it.
func spentKey(addr crypto.Address, nonce uint64) []byte {
	return append(append([]byte(nil), spentPrefix...), nonceKey(addr, nonce)...)
}

func parseNonceKey(key []byte) (crypto.Address, uint64, bool) {
	if len(key) < 1+8 || key[len(key)-9] != '/' {
		return "", 0, false
	}
	nonce := binary.BigEndian.Uint64(key[len(key)-8:])
	return crypto.Address(key[:len(key)-9]), nonce, true
}

// Has checks the working tree.
func (b *IAVLBackend) Has(addr crypto.Address, nonce uint64) (bool, error) {
	return b.spent.Has(nonceKey(addr, nonce))
}

// Insert sets the key and saves a new version.
func (b *IAVLBackend) Insert(addr crypto.Address, nonce uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := nonceKey(addr, nonce)
	has, err := b.spent.Has(key)
	if err != nil {
		return err
	}
	if has {
		return fmt.Errorf("%w: %s nonce %d", types.ErrReplayedNonce, addr, nonce)
	}
	if err := b.spent.Set(key, spentValue); err != nil {
		return err
	}
	root, _, err := b.store.SaveVersion()
	if err != nil {
		return err
	}
	b.root = root
	return nil
}

// Snapshot walks every spent key in order.
func (b *IAVLBackend) Snapshot() (map[crypto.Address][]uint64, error) {
	iter, err := b.spent.Iterator(nil, nil)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	out := make(map[crypto.Address][]uint64)
	for ; iter.Valid(); iter.Next() {
		addr, nonce, ok := parseNonceKey(iter.Key())
		if !ok {
			continue
		}
		out[addr] = append(out[addr], nonce)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return out, nil
}

// RootHash returns the root hash of the last saved version.
func (b *IAVLBackend) RootHash() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.root...)
}

// Version returns the last saved version.
func (b *IAVLBackend) Version() int64 {
	return b.store.Version()
}

// SpentProof is a membership proof that addr consumed nonce, valid against
// Root at Version.
type SpentProof struct {
	Address crypto.Address
	Nonce   uint64
	Version int64
	Root    []byte
	Proof   *ics23.CommitmentProof
}

// Proof returns a membership proof for a spent nonce.
// Returns types.ErrNotFound if the nonce was never committed.
func (b *IAVLBackend) Proof(addr crypto.Address, nonce uint64) (*SpentProof, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	has, err := b.spent.Has(nonceKey(addr, nonce))
	if err != nil {
		return nil, err
	}
	if !has {
		return nil, fmt.Errorf("%w: %s nonce %d not spent", types.ErrNotFound, addr, nonce)
	}
	proof, err := b.store.GetProof(spentKey(addr, nonce))
	if err != nil {
		return nil, err
	}
	return &SpentProof{
		Address: addr,
		Nonce:   nonce,
		Version: b.store.Version(),
		Root:    append([]byte(nil), b.root...),
		Proof:   proof,
	}, nil
}

// Verify checks the proof against its own root. Callers that hold a trusted
// root should compare it with p.Root first.
func (p *SpentProof) Verify() bool {
	if p == nil || p.Proof == nil {
		return false
	}
	return VerifySpent(p.Proof, p.Root, p.Address, p.Nonce)
}

// VerifySpent checks an ics23 membership proof for (addr, nonce) under root.
func VerifySpent(proof *ics23.CommitmentProof, root []byte, addr crypto.Address, nonce uint64) bool {
	return ics23.VerifyMembership(ics23.IavlSpec, root, proof, spentKey(addr, nonce), spentValue)
}

// Close closes the tree and its database.
func (b *IAVLBackend) Close() error {
	return errors.Join(b.spent.Close(), b.store.Close(), b.db.Close())
}

var _ Backend = (*IAVLBackend)(nil)
