package keystore

import (
	"errors"
	"fmt"
	"sort"

	"github.com/blockberries/airgap-wallet/crypto"
	"github.com/blockberries/airgap-wallet/types"
)

// RecoveredNamePrefix starts the placeholder name given to accounts restored
// from their keystore records. Records do not carry display names.
const RecoveredNamePrefix = "recovered-"

// RecoveredName returns the placeholder name for a restored account.
func RecoveredName(id string) string {
	return RecoveredNamePrefix + id
}

// rebuild reconstructs the registry from the keystore records. Records that
// fail to decode or whose checksum does not match are skipped and logged;
// they could not be unlocked anyway. Entries are ordered by creation time.
func (r *Registry) rebuild() (registryDoc, error) {
	doc := emptyRegistry()
	if r.records == nil {
		return doc, nil
	}

	ids, err := r.records.List()
	if err != nil {
		return doc, fmt.Errorf("failed to list keystore records: %w", err)
	}
	for _, id := range ids {
		data, err := r.records.Get(id)
		if errors.Is(err, types.ErrNotFound) {
			continue
		}
		if err != nil {
			return doc, fmt.Errorf("failed to read keystore record %s: %w", id, err)
		}
		account, err := accountFromRecord(id, data)
		if err != nil {
			r.logger.Error("skipping keystore record during registry rebuild", "id", id, "err", err)
			continue
		}
		doc.Accounts = append(doc.Accounts, account)
	}

	sort.SliceStable(doc.Accounts, func(i, j int) bool {
		a, b := doc.Accounts[i], doc.Accounts[j]
		if a.Created != b.Created {
			return a.Created < b.Created
		}
		return a.ID < b.ID
	})
	r.logger.Info("registry rebuilt from keystore records", "accounts", len(doc.Accounts))
	return doc, nil
}

func accountFromRecord(id string, data []byte) (Account, error) {
	record, err := DecodeRecord(data)
	if err != nil {
		return Account{}, err
	}
	if err := record.VerifyChecksum(); err != nil {
		return Account{}, err
	}
	if record.ID != id {
		return Account{}, fmt.Errorf("%w: record id %q stored under %q", types.ErrTamperedRecord, record.ID, id)
	}
	fields, err := record.decode()
	if err != nil {
		return Account{}, err
	}
	return Account{
		ID:        id,
		Name:      RecoveredName(id),
		Address:   crypto.DeriveAddress(fields.publicKey),
		PublicKey: record.PublicKey,
		Created:   record.Created,
	}, nil
}
