package ledger

import (
	"fmt"
	"sort"

	"cosmossdk.io/log"

	"github.com/blockberries/airgap-wallet/crypto"
	"github.com/blockberries/airgap-wallet/store"
	"github.com/blockberries/airgap-wallet/types"
)

// fileDoc is the on-disk shape: address to ascending nonces.
type fileDoc map[string][]uint64

func emptyFileDoc() fileDoc {
	return fileDoc{}
}

// FileBackend keeps the ledger in a single JSON document.
//
// A missing file is an empty ledger. A corrupt file is an error, never an
// empty ledger: silently resetting would re-admit every spent nonce.
type FileBackend struct {
	doc *store.JSONFile[fileDoc]
}

// NewFileBackend opens the ledger document at path.
func NewFileBackend(path string, logger log.Logger) (*FileBackend, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	doc, err := store.NewJSONFile(path, emptyFileDoc, store.WithLogger[fileDoc](logger))
	if err != nil {
		return nil, err
	}
	return &FileBackend{doc: doc}, nil
}

// Path returns the document path.
func (b *FileBackend) Path() string {
	return b.doc.Path()
}

// Has reads the document and searches addr's nonces.
func (b *FileBackend) Has(addr crypto.Address, nonce uint64) (bool, error) {
	doc, err := b.doc.Read()
	if err != nil {
		return false, err
	}
	return containsNonce(doc[string(addr)], nonce), nil
}

// Insert adds nonce under the document lock, re-checking for presence so a
// second process cannot admit the same nonce.
func (b *FileBackend) Insert(addr crypto.Address, nonce uint64) error {
	return b.doc.Update(func(doc *fileDoc) error {
		if *doc == nil {
			*doc = fileDoc{}
		}
		nonces := (*doc)[string(addr)]
		if containsNonce(nonces, nonce) {
			return fmt.Errorf("%w: %s nonce %d", types.ErrReplayedNonce, addr, nonce)
		}
		nonces = append(nonces, nonce)
		sort.Slice(nonces, func(i, j int) bool { return nonces[i] < nonces[j] })
		(*doc)[string(addr)] = nonces
		return nil
	})
}

// Snapshot returns a copy of the document.
func (b *FileBackend) Snapshot() (map[crypto.Address][]uint64, error) {
	doc, err := b.doc.Read()
	if err != nil {
		return nil, err
	}
	out := make(map[crypto.Address][]uint64, len(doc))
	for addr, nonces := range doc {
		cp := append([]uint64(nil), nonces...)
		sort.Slice(cp, func(i, j int) bool { return cp[i] < cp[j] })
		out[crypto.Address(addr)] = cp
	}
	return out, nil
}

// Close is a no-op; every operation opens and closes the file.
func (b *FileBackend) Close() error {
	return nil
}

// containsNonce tolerates hand-edited, unsorted lists.
func containsNonce(nonces []uint64, nonce uint64) bool {
	for _, n := range nonces {
		if n == nonce {
			return true
		}
	}
	return false
}

var _ Backend = (*FileBackend)(nil)
