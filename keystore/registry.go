package keystore

import (
	"fmt"
	"strings"

	"cosmossdk.io/log"
	"golang.org/x/text/unicode/norm"

	"github.com/blockberries/airgap-wallet/crypto"
	"github.com/blockberries/airgap-wallet/store"
	"github.com/blockberries/airgap-wallet/types"
)

// Account is the non-secret registry entry for one keystore.
type Account struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Address   crypto.Address `json:"address"`
	PublicKey string         `json:"pubkey_b64"`
	Created   string         `json:"created"`
}

// registryDoc is the on-disk shape of the registry file.
type registryDoc struct {
	Accounts []Account `json:"accounts"`
}

func emptyRegistry() registryDoc {
	return registryDoc{Accounts: []Account{}}
}

// Registry is the account list persisted as a single JSON document.
// It holds no secrets. A missing file reads as empty. An undecodable file is
// kept aside and the list is rebuilt from the keystore records, with
// placeholder names since records do not store them.
type Registry struct {
	doc     *store.JSONFile[registryDoc]
	records RecordStore
	logger  log.Logger
}

// NewRegistry opens the registry document at path. records is the source for
// rebuilding a corrupt registry; with nil a corrupt registry rebuilds empty.
func NewRegistry(path string, records RecordStore, logger log.Logger) (*Registry, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	r := &Registry{records: records, logger: logger}
	doc, err := store.NewJSONFile(path, emptyRegistry,
		store.WithRecover(r.rebuild),
		store.WithLogger[registryDoc](logger),
	)
	if err != nil {
		return nil, err
	}
	r.doc = doc
	return r, nil
}

// NormalizeName returns the form of a display name used for uniqueness:
// trimmed, in Unicode NFC.
func NormalizeName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

// List returns all accounts in insertion order.
func (r *Registry) List() ([]Account, error) {
	doc, err := r.doc.Read()
	if err != nil {
		return nil, err
	}
	if doc.Accounts == nil {
		return []Account{}, nil
	}
	return doc.Accounts, nil
}

// Get returns the account with the given id.
func (r *Registry) Get(id string) (Account, error) {
	accounts, err := r.List()
	if err != nil {
		return Account{}, err
	}
	for _, a := range accounts {
		if a.ID == id {
			return a, nil
		}
	}
	return Account{}, fmt.Errorf("%w: account %q", types.ErrNotFound, id)
}

// CheckName returns ErrDuplicateName if a normalized name is already taken.
// It is advisory: Add repeats the check under the document lock.
func (r *Registry) CheckName(name string) error {
	accounts, err := r.List()
	if err != nil {
		return err
	}
	return checkUnique(accounts, NormalizeName(name))
}

// Add appends an entry. The name check and the write happen under one lock,
// so concurrent adds of the same name admit exactly one.
func (r *Registry) Add(a Account) error {
	return r.doc.Update(func(doc *registryDoc) error {
		if err := checkUnique(doc.Accounts, NormalizeName(a.Name)); err != nil {
			return err
		}
		for _, existing := range doc.Accounts {
			if existing.ID == a.ID {
				return fmt.Errorf("%w: account id %s already registered", types.ErrInternal, a.ID)
			}
		}
		doc.Accounts = append(doc.Accounts, a)
		return nil
	})
}

// Remove deletes the entry with the given id. Removing an absent id is not an
// error.
func (r *Registry) Remove(id string) error {
	return r.doc.Update(func(doc *registryDoc) error {
		kept := make([]Account, 0, len(doc.Accounts))
		for _, a := range doc.Accounts {
			if a.ID != id {
				kept = append(kept, a)
			}
		}
		doc.Accounts = kept
		return nil
	})
}

func checkUnique(accounts []Account, normalized string) error {
	for _, a := range accounts {
		if NormalizeName(a.Name) == normalized {
			return fmt.Errorf("%w: %q", types.ErrDuplicateName, normalized)
		}
	}
	return nil
}
