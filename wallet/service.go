// Package wallet exposes the wallet operations to an outer shell (desktop UI,
// CLI). Every operation returns a Response and never panics.
package wallet

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"cosmossdk.io/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/blockberries/airgap-wallet/config"
	"github.com/blockberries/airgap-wallet/crypto"
	"github.com/blockberries/airgap-wallet/keystore"
	"github.com/blockberries/airgap-wallet/ledger"
	"github.com/blockberries/airgap-wallet/signing"
	"github.com/blockberries/airgap-wallet/types"
	"github.com/blockberries/airgap-wallet/workflow"
)

// ErrProofsUnsupported is returned by ProveNonceSpent on a ledger backend
// without merkle proofs.
var ErrProofsUnsupported = errors.New("nonce ledger backend does not support proofs")

// Service is the wallet boundary.
type Service struct {
	vault    *keystore.Vault
	pool     *crypto.KDFPool
	ledger   *ledger.Ledger
	workflow *workflow.Workflow
	signer   *signing.Signer
	logger   log.Logger
}

type options struct {
	logger     log.Logger
	registerer prometheus.Registerer
	kdfParams  *crypto.Argon2Params
	now        func() time.Time
}

// Option configures Open.
type Option func(*options)

// WithLogger sets the logger shared by every component.
func WithLogger(logger log.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRegisterer sets where metrics are registered when enabled.
// Defaults to prometheus.DefaultRegisterer.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithKDFParams overrides the Argon2id cost for new accounts.
func WithKDFParams(p crypto.Argon2Params) Option {
	return func(o *options) { o.kdfParams = &p }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Open builds a Service from cfg, creating the data directory layout as
// needed.
func Open(cfg config.Config, opts ...Option) (svc *Service, err error) {
	o := options{
		logger:     log.NewNopLogger(),
		registerer: prometheus.DefaultRegisterer,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var closers []func() error
	defer func() {
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				_ = closers[i]()
			}
		}
	}()

	var records keystore.RecordStore
	switch cfg.RecordBackend {
	case config.RecordBackendKeychain:
		records, err = keystore.NewKeychainRecordStore(cfg.KeychainService)
	default:
		records, err = keystore.NewFileRecordStore(cfg.KeystoreDir())
	}
	if err != nil {
		return nil, err
	}
	closers = append(closers, records.Close)

	registry, err := keystore.NewRegistry(cfg.RegistryPath(), records, o.logger.With("module", "registry"))
	if err != nil {
		return nil, err
	}

	pool := crypto.NewKDFPool(cfg.KDFWorkers)
	closers = append(closers, pool.Close)

	vaultOpts := []keystore.VaultOption{
		keystore.WithKDFPool(pool),
		keystore.WithUnlockLimiter(keystore.NewUnlockLimiter(cfg.UnlockRate, cfg.UnlockBurst, 0)),
		keystore.WithVaultLogger(o.logger.With("module", "vault")),
		keystore.WithClock(o.now),
	}
	if o.kdfParams != nil {
		vaultOpts = append(vaultOpts, keystore.WithKDFParams(*o.kdfParams))
	}
	vault, err := keystore.NewVault(records, registry, vaultOpts...)
	if err != nil {
		return nil, err
	}

	var backend ledger.Backend
	switch cfg.LedgerBackend {
	case config.LedgerBackendIAVL:
		backend, err = ledger.OpenIAVLBackend(cfg.DataDir, o.logger.With("module", "iavl"))
	default:
		backend, err = ledger.NewFileBackend(cfg.LedgerPath(), o.logger.With("module", "ledger"))
	}
	if err != nil {
		return nil, err
	}
	l := ledger.New(backend, o.logger.With("module", "ledger"))
	closers = append(closers, l.Close)

	wfOpts := []workflow.Option{workflow.WithLogger(o.logger.With("module", "workflow"))}
	if cfg.MetricsEnabled {
		m, err := workflow.NewMetrics(o.registerer)
		if err != nil {
			return nil, err
		}
		wfOpts = append(wfOpts, workflow.WithMetrics(m))
	}
	wf, err := workflow.New(workflow.DirsUnder(cfg.DataDir), l, wfOpts...)
	if err != nil {
		return nil, err
	}

	return &Service{
		vault:    vault,
		pool:     pool,
		ledger:   l,
		workflow: wf,
		signer:   signing.NewSigner(o.now),
		logger:   o.logger,
	}, nil
}

// Close releases the vault, the KDF workers and the ledger.
func (s *Service) Close() error {
	return errors.Join(s.vault.Close(), s.pool.Close(), s.ledger.Close())
}

// ListAccounts returns every registered account.
func (s *Service) ListAccounts(ctx context.Context) Response[[]keystore.Account] {
	return run(s, "ListAccounts", func() ([]keystore.Account, error) {
		return s.vault.ListAccounts()
	})
}

// CreateAccountRequest carries the inputs of CreateAccount.
type CreateAccountRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

// CreateAccount generates and stores a new account.
func (s *Service) CreateAccount(ctx context.Context, req CreateAccountRequest) Response[keystore.CreatedAccount] {
	return run(s, "CreateAccount", func() (keystore.CreatedAccount, error) {
		if req.Password == "" {
			return keystore.CreatedAccount{}, fmt.Errorf("%w: password is empty", types.ErrMalformedInput)
		}
		return s.vault.CreateAccount(ctx, req.Name, req.Password)
	})
}

// DeleteAccount removes an account. Unknown ids succeed.
func (s *Service) DeleteAccount(ctx context.Context, id string) Response[struct{}] {
	return run(s, "DeleteAccount", func() (struct{}, error) {
		return struct{}{}, s.vault.DeleteAccount(id)
	})
}

// AddressInfo identifies an unlocked account.
type AddressInfo struct {
	ID        string         `json:"id"`
	Address   crypto.Address `json:"address"`
	PublicKey string         `json:"pubkey_b64"`
}

// UnlockAndDeriveAddress proves the password by decrypting the key and
// reports the address derived from it. The key is wiped before returning.
func (s *Service) UnlockAndDeriveAddress(ctx context.Context, id, password string) Response[AddressInfo] {
	return run(s, "UnlockAndDeriveAddress", func() (AddressInfo, error) {
		var info AddressInfo
		err := s.vault.WithKey(ctx, id, password, func(kp *crypto.KeyPair) error {
			info = AddressInfo{ID: id, Address: kp.Address(), PublicKey: kp.PublicKeyBase64()}
			return nil
		})
		return info, err
	})
}

// SignTransactionRequest carries the inputs of SignTransaction.
type SignTransactionRequest struct {
	AccountID string  `json:"account_id"`
	Password  string  `json:"password"`
	To        string  `json:"to"`
	Value     string  `json:"value"`
	Nonce     string  `json:"nonce"`
	Data      *string `json:"data_hex,omitempty"`
}

// SignedTransaction is the result of SignTransaction.
type SignedTransaction struct {
	Filename string          `json:"filename"`
	Envelope *types.Envelope `json:"envelope"`
}

// SignTransaction validates the request, signs it with the account key and
// writes the envelope to the outbox.
func (s *Service) SignTransaction(ctx context.Context, req SignTransactionRequest) Response[SignedTransaction] {
	return run(s, "SignTransaction", func() (SignedTransaction, error) {
		signReq, err := req.validate()
		if err != nil {
			return SignedTransaction{}, err
		}

		var env *types.Envelope
		err = s.vault.WithKey(ctx, req.AccountID, req.Password, func(kp *crypto.KeyPair) error {
			var err error
			env, err = s.signer.Sign(signReq, kp)
			return err
		})
		if err != nil {
			return SignedTransaction{}, err
		}

		name, err := s.workflow.WriteSigned(env)
		if err != nil {
			return SignedTransaction{}, err
		}
		return SignedTransaction{Filename: name, Envelope: env}, nil
	})
}

// validate applies the boundary's format policy; the signer itself accepts
// any strings.
func (req SignTransactionRequest) validate() (types.SignRequest, error) {
	to, err := crypto.ParseAddress(req.To)
	if err != nil {
		return types.SignRequest{}, fmt.Errorf("%w: to: %v", types.ErrMalformedInput, err)
	}
	value := strings.TrimSpace(req.Value)
	if !isDecimal(value) {
		return types.SignRequest{}, fmt.Errorf("%w: value %q is not a non-negative integer", types.ErrMalformedInput, req.Value)
	}
	nonce, err := types.ParseNonce(req.Nonce)
	if err != nil {
		return types.SignRequest{}, err
	}

	out := types.SignRequest{
		To:    string(to),
		Value: value,
		Nonce: fmt.Sprintf("%d", nonce),
	}
	if req.Data != nil && strings.TrimSpace(*req.Data) != "" {
		data := strings.ToLower(strings.TrimSpace(*req.Data))
		body := strings.TrimPrefix(data, "0x")
		if _, err := hex.DecodeString(body); err != nil {
			return types.SignRequest{}, fmt.Errorf("%w: data is not hex: %v", types.ErrMalformedInput, err)
		}
		data = "0x" + body
		out.Data = &data
	}
	return out, nil
}

func isDecimal(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// ListOutbox lists signed envelopes.
func (s *Service) ListOutbox(ctx context.Context) Response[[]workflow.FileInfo] {
	return s.list("ListOutbox", workflow.StateSigned)
}

// ListInbox lists envelopes awaiting verification.
func (s *Service) ListInbox(ctx context.Context) Response[[]workflow.FileInfo] {
	return s.list("ListInbox", workflow.StatePending)
}

// ListVerified lists accepted envelopes.
func (s *Service) ListVerified(ctx context.Context) Response[[]workflow.FileInfo] {
	return s.list("ListVerified", workflow.StateVerified)
}

func (s *Service) list(op string, state workflow.State) Response[[]workflow.FileInfo] {
	return run(s, op, func() ([]workflow.FileInfo, error) {
		return s.workflow.List(state)
	})
}

// TransportOutboxItem copies an outbox envelope into the inbox and returns
// its inbox file name.
func (s *Service) TransportOutboxItem(ctx context.Context, filename string) Response[string] {
	return run(s, "TransportOutboxItem", func() (string, error) {
		return s.workflow.Transport(filename)
	})
}

// ImportInboxItem copies an envelope file from outside the data directory,
// such as removable media, into the inbox.
func (s *Service) ImportInboxItem(ctx context.Context, path string) Response[string] {
	return run(s, "ImportInboxItem", func() (string, error) {
		return s.workflow.Import(path)
	})
}

// VerificationResult describes an accepted inbox item.
type VerificationResult struct {
	Tx           types.TxFields `json:"tx"`
	VerifiedName string         `json:"verified_name"`
}

// VerifyInboxItem verifies an inbox envelope. A rejection is a failed
// Response whose Kind names the failed check.
func (s *Service) VerifyInboxItem(ctx context.Context, filename string) Response[VerificationResult] {
	return run(s, "VerifyInboxItem", func() (VerificationResult, error) {
		out, err := s.workflow.Verify(filename)
		if err != nil {
			return VerificationResult{}, err
		}
		if !out.Verdict.Accepted {
			return VerificationResult{}, out.Verdict.Err()
		}
		return VerificationResult{Tx: out.Envelope.Tx, VerifiedName: out.VerifiedName}, nil
	})
}

// NonceProof is a portable spent-nonce proof.
type NonceProof struct {
	Address crypto.Address `json:"address"`
	Nonce   uint64         `json:"nonce"`
	Version int64          `json:"version"`
	Root    string         `json:"root_hex"`
	Proof   string         `json:"proof_b64"`
}

// ProveNonceSpent returns an ics23 membership proof that addr consumed
// nonce. Only the iavl ledger backend supports it.
func (s *Service) ProveNonceSpent(ctx context.Context, addr string, nonce uint64) Response[NonceProof] {
	return run(s, "ProveNonceSpent", func() (NonceProof, error) {
		backend, ok := s.ledger.Backend().(*ledger.IAVLBackend)
		if !ok {
			return NonceProof{}, ErrProofsUnsupported
		}
		address, err := crypto.ParseAddress(addr)
		if err != nil {
			return NonceProof{}, fmt.Errorf("%w: %v", types.ErrMalformedInput, err)
		}
		p, err := backend.Proof(address, nonce)
		if err != nil {
			return NonceProof{}, err
		}
		raw, err := p.Proof.Marshal()
		if err != nil {
			return NonceProof{}, fmt.Errorf("%w: failed to encode proof: %v", types.ErrInternal, err)
		}
		return NonceProof{
			Address: p.Address,
			Nonce:   p.Nonce,
			Version: p.Version,
			Root:    hex.EncodeToString(p.Root),
			Proof:   base64.StdEncoding.EncodeToString(raw),
		}, nil
	})
}
