package keystore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"cosmossdk.io/log"

	"github.com/blockberries/airgap-wallet/crypto"
	"github.com/blockberries/airgap-wallet/types"
)

// CreatedAccount is what CreateAccount reports back. It carries no secret.
type CreatedAccount struct {
	ID        string         `json:"id"`
	Address   crypto.Address `json:"address"`
	PublicKey string         `json:"pubkey_b64"`
}

// Vault creates, unlocks and deletes password-protected accounts.
//
// Each account is two artifacts: an encrypted Record in a RecordStore and a
// non-secret entry in the Registry. Create writes the record first and the
// registry entry second, so a crash between the two leaves an orphan record
// and never a registry entry without a key.
//
// Safe for concurrent use.
type Vault struct {
	records  RecordStore
	registry *Registry
	pool     *crypto.KDFPool
	ownsPool bool
	params   crypto.Argon2Params
	limiter  *UnlockLimiter
	logger   log.Logger
	now      func() time.Time
}

// VaultOption configures a Vault.
type VaultOption func(*Vault)

// WithKDFParams sets the Argon2id parameters used for new accounts.
// Unlock always uses the parameters stored in the record.
func WithKDFParams(p crypto.Argon2Params) VaultOption {
	return func(v *Vault) { v.params = p }
}

// WithKDFPool shares a KDF pool between vaults. The caller keeps ownership.
func WithKDFPool(pool *crypto.KDFPool) VaultOption {
	return func(v *Vault) {
		v.pool = pool
		v.ownsPool = false
	}
}

// WithUnlockLimiter enables per-account unlock throttling.
func WithUnlockLimiter(l *UnlockLimiter) VaultOption {
	return func(v *Vault) { v.limiter = l }
}

// WithVaultLogger sets the logger.
func WithVaultLogger(logger log.Logger) VaultOption {
	return func(v *Vault) { v.logger = logger }
}

// WithClock overrides the time source used for creation timestamps and
// throttling.
func WithClock(now func() time.Time) VaultOption {
	return func(v *Vault) { v.now = now }
}

// NewVault builds a vault over a record store and registry.
func NewVault(records RecordStore, registry *Registry, opts ...VaultOption) (*Vault, error) {
	if records == nil {
		return nil, fmt.Errorf("record store cannot be nil")
	}
	if registry == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}

	v := &Vault{
		records:  records,
		registry: registry,
		params:   crypto.DefaultArgon2Params(),
		logger:   log.NewNopLogger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.pool == nil {
		v.pool = crypto.NewKDFPool(1)
		v.ownsPool = true
	}
	if err := v.params.Validate(); err != nil {
		return nil, err
	}
	return v, nil
}

// CreateAccount generates a keypair, seals its secret under password and
// registers it under name.
//
// Returns types.ErrDuplicateName if the normalized name is taken and
// types.ErrMalformedInput if the name is blank.
func (v *Vault) CreateAccount(ctx context.Context, name, password string) (CreatedAccount, error) {
	if NormalizeName(name) == "" {
		return CreatedAccount{}, fmt.Errorf("%w: account name is empty", types.ErrMalformedInput)
	}
	// Fail fast before spending a KDF slot; Add repeats the check atomically.
	if err := v.registry.CheckName(name); err != nil {
		return CreatedAccount{}, err
	}

	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		return CreatedAccount{}, fmt.Errorf("%w: %v", types.ErrInternal, err)
	}
	defer kp.Wipe()

	id, err := NewAccountID()
	if err != nil {
		return CreatedAccount{}, fmt.Errorf("%w: %v", types.ErrInternal, err)
	}

	record, err := v.seal(ctx, id, kp, password)
	if err != nil {
		return CreatedAccount{}, err
	}
	data, err := EncodeRecord(record)
	if err != nil {
		return CreatedAccount{}, fmt.Errorf("%w: %v", types.ErrInternal, err)
	}
	if err := v.records.Put(id, data); err != nil {
		return CreatedAccount{}, fmt.Errorf("%w: failed to store keystore: %v", types.ErrInternal, err)
	}

	account := Account{
		ID:        id,
		Name:      NormalizeName(name),
		Address:   kp.Address(),
		PublicKey: kp.PublicKeyBase64(),
		Created:   record.Created,
	}
	if err := v.registry.Add(account); err != nil {
		// Lost a race on the name; the record is unreachable, remove it.
		if delErr := v.records.Delete(id); delErr != nil {
			v.logger.Error("failed to remove orphan keystore", "id", id, "err", delErr)
		}
		if errors.Is(err, types.ErrDuplicateName) {
			return CreatedAccount{}, err
		}
		return CreatedAccount{}, fmt.Errorf("%w: failed to update registry: %v", types.ErrInternal, err)
	}

	v.logger.Info("account created", "id", id, "address", account.Address)
	return CreatedAccount{ID: id, Address: account.Address, PublicKey: account.PublicKey}, nil
}

// seal encrypts kp's secret into a new checksummed record.
func (v *Vault) seal(ctx context.Context, id string, kp *crypto.KeyPair, password string) (*Record, error) {
	salt, err := crypto.RandomBytes(crypto.SaltLength)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInternal, err)
	}
	nonce, err := crypto.RandomBytes(crypto.AESGCMNonceLength)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInternal, err)
	}

	pw := []byte(password)
	defer crypto.Zeroize(pw)

	kek, err := v.pool.Derive(ctx, pw, salt, v.params)
	if err != nil {
		return nil, wrapKDFError(err)
	}
	defer crypto.Zeroize(kek)

	secret, err := kp.Secret.Bytes()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInternal, err)
	}
	defer crypto.Zeroize(secret)

	ciphertext, tag, err := crypto.SealAESGCM(kek, nonce, secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInternal, err)
	}

	enc := base64.StdEncoding
	r := &Record{
		ID:  id,
		KDF: crypto.KDFArgon2id,
		KDFParams: KDFParams{
			Salt:        enc.EncodeToString(salt),
			Time:        v.params.Time,
			MemoryKiB:   v.params.MemoryKiB,
			Parallelism: v.params.Parallelism,
			KeyLength:   v.params.KeyLength,
		},
		Cipher:       CipherAES256GCM,
		CipherParams: CipherParams{Nonce: enc.EncodeToString(nonce)},
		Ciphertext:   enc.EncodeToString(ciphertext),
		Tag:          enc.EncodeToString(tag),
		PublicKey:    kp.PublicKeyBase64(),
		Scheme:       crypto.SchemeEd25519,
		Created:      types.FormatTimestamp(v.now()),
	}
	if err := r.Seal(); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInternal, err)
	}
	return r, nil
}

// Unlock decrypts the account's keypair. The caller owns the result and must
// Wipe it; prefer WithKey.
//
// Errors: types.ErrNotFound, types.ErrTamperedRecord (checksum mismatch, the
// record is never decrypted), types.ErrWrongPasswordOrCorrupt (AEAD failure,
// wrong password and corrupt ciphertext are not distinguished),
// types.ErrRateLimited.
func (v *Vault) Unlock(ctx context.Context, id, password string) (*crypto.KeyPair, error) {
	if ValidateAccountID(id) != nil {
		return nil, fmt.Errorf("%w: account %q", types.ErrNotFound, id)
	}
	data, err := v.records.Get(id)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: failed to read keystore: %v", types.ErrInternal, err)
	}

	// Only existing accounts get a bucket.
	if !v.limiter.Allow(id, v.now()) {
		return nil, fmt.Errorf("%w: account %s", types.ErrRateLimited, id)
	}

	record, err := DecodeRecord(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrTamperedRecord, err)
	}
	if err := record.VerifyChecksum(); err != nil {
		v.logger.Error("keystore checksum mismatch", "id", id)
		return nil, err
	}
	if record.ID != id {
		return nil, fmt.Errorf("%w: record id %q stored under %q", types.ErrTamperedRecord, record.ID, id)
	}
	fields, err := record.decode()
	if err != nil {
		if errors.Is(err, types.ErrUnsupportedScheme) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", types.ErrTamperedRecord, err)
	}
	params := record.Argon2Params()
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrTamperedRecord, err)
	}

	pw := []byte(password)
	defer crypto.Zeroize(pw)

	kek, err := v.pool.Derive(ctx, pw, fields.salt, params)
	if err != nil {
		return nil, wrapKDFError(err)
	}
	defer crypto.Zeroize(kek)

	secret, err := crypto.OpenAESGCM(kek, fields.nonce, fields.ciphertext, fields.tag)
	if err != nil {
		return nil, fmt.Errorf("%w: account %s", types.ErrWrongPasswordOrCorrupt, id)
	}
	defer crypto.Zeroize(secret)

	kp, err := crypto.KeyPairFromSecret(secret, fields.publicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrTamperedRecord, err)
	}
	return kp, nil
}

// WithKey unlocks the account, hands the keypair to fn and wipes it on every
// exit path, including a panic in fn.
func (v *Vault) WithKey(ctx context.Context, id, password string, fn func(*crypto.KeyPair) error) error {
	kp, err := v.Unlock(ctx, id, password)
	if err != nil {
		return err
	}
	defer kp.Wipe()
	return fn(kp)
}

// ListAccounts returns the registry entries.
func (v *Vault) ListAccounts() ([]Account, error) {
	accounts, err := v.registry.List()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInternal, err)
	}
	return accounts, nil
}

// DeleteAccount removes the keystore record and then the registry entry.
// Deleting an unknown id is not an error.
func (v *Vault) DeleteAccount(id string) error {
	if err := v.records.Delete(id); err != nil {
		return fmt.Errorf("%w: failed to delete keystore: %v", types.ErrInternal, err)
	}
	if err := v.registry.Remove(id); err != nil {
		return fmt.Errorf("%w: failed to update registry: %v", types.ErrInternal, err)
	}
	v.logger.Info("account deleted", "id", id)
	return nil
}

// Close releases the record store and, if the vault created it, the KDF pool.
func (v *Vault) Close() error {
	var errs []error
	if v.ownsPool {
		errs = append(errs, v.pool.Close())
	}
	errs = append(errs, v.records.Close())
	return errors.Join(errs...)
}

func wrapKDFError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: key derivation failed: %v", types.ErrInternal, err)
}
