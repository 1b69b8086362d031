package wallet

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"

	ics23 "github.com/cosmos/ics23/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockberries/airgap-wallet/config"
	"github.com/blockberries/airgap-wallet/crypto"
	"github.com/blockberries/airgap-wallet/ledger"
	"github.com/blockberries/airgap-wallet/types"
)

var testParams = crypto.Argon2Params{Time: 1, MemoryKiB: 64, Parallelism: 1, KeyLength: 32}

func newTestService(t *testing.T, mutate func(*config.Config)) (*Service, config.Config) {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.UnlockRate = 0
	cfg.UnlockBurst = 0
	if mutate != nil {
		mutate(&cfg)
	}
	svc, err := Open(cfg,
		WithKDFParams(testParams),
		WithRegisterer(prometheus.NewRegistry()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc, cfg
}

func createAccount(t *testing.T, svc *Service, name string) AddressInfo {
	t.Helper()
	resp := svc.CreateAccount(context.Background(), CreateAccountRequest{Name: name, Password: "pw-" + name})
	require.True(t, resp.Success, resp.Error)
	return AddressInfo{ID: resp.Data.ID, Address: resp.Data.Address, PublicKey: resp.Data.PublicKey}
}

func signRequest(acct AddressInfo, password, nonce string) SignTransactionRequest {
	return SignTransactionRequest{
		AccountID: acct.ID,
		Password:  password,
		To:        "0x1234567890123456789012345678901234567890",
		Value:     "100",
		Nonce:     nonce,
	}
}

func TestOpenCreatesLayout(t *testing.T) {
	svc, cfg := newTestService(t, nil)

	resp := svc.ListAccounts(context.Background())
	require.True(t, resp.Success)
	assert.Empty(t, resp.Data)

	info, err := os.Stat(cfg.KeystoreDir())
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.LedgerBackend = "sqlite"
	_, err := Open(cfg)
	require.Error(t, err)
}

func TestAccountLifecycle(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	acct := createAccount(t, svc, "alice")
	assert.NoError(t, acct.Address.Validate())

	list := svc.ListAccounts(ctx)
	require.True(t, list.Success)
	require.Len(t, list.Data, 1)
	assert.Equal(t, "alice", list.Data[0].Name)
	assert.Equal(t, acct.Address, list.Data[0].Address)

	unlocked := svc.UnlockAndDeriveAddress(ctx, acct.ID, "pw-alice")
	require.True(t, unlocked.Success, unlocked.Error)
	assert.Equal(t, acct.Address, unlocked.Data.Address)
	assert.Equal(t, acct.PublicKey, unlocked.Data.PublicKey)

	wrong := svc.UnlockAndDeriveAddress(ctx, acct.ID, "nope")
	assert.False(t, wrong.Success)
	assert.Equal(t, types.KindWrongPasswordOrCorrupt, wrong.Kind)
	assert.NotEmpty(t, wrong.Error)
	assert.Empty(t, wrong.Data.Address)

	dup := svc.CreateAccount(ctx, CreateAccountRequest{Name: " alice ", Password: "x"})
	assert.False(t, dup.Success)
	assert.Equal(t, types.KindDuplicateName, dup.Kind)

	del := svc.DeleteAccount(ctx, acct.ID)
	require.True(t, del.Success, del.Error)
	again := svc.DeleteAccount(ctx, acct.ID)
	assert.True(t, again.Success)

	gone := svc.UnlockAndDeriveAddress(ctx, acct.ID, "pw-alice")
	assert.Equal(t, types.KindNotFound, gone.Kind)
}

func TestCreateAccountRejectsEmptyPassword(t *testing.T) {
	svc, _ := newTestService(t, nil)
	resp := svc.CreateAccount(context.Background(), CreateAccountRequest{Name: "bob"})
	assert.False(t, resp.Success)
	assert.Equal(t, types.KindMalformedInput, resp.Kind)
}

func TestSignTransportVerify(t *testing.T) {
	svc, _ := newTestService(t, func(c *config.Config) { c.MetricsEnabled = true })
	ctx := context.Background()
	acct := createAccount(t, svc, "alice")

	data := "0xAABBCCDD"
	req := signRequest(acct, "pw-alice", "7")
	req.Data = &data
	signed := svc.SignTransaction(ctx, req)
	require.True(t, signed.Success, signed.Error)
	env := signed.Data.Envelope
	assert.Equal(t, acct.Address, env.Tx.From)
	require.NotNil(t, env.Tx.Data)
	assert.Equal(t, "0xaabbccdd", *env.Tx.Data)

	outbox := svc.ListOutbox(ctx)
	require.True(t, outbox.Success)
	require.Len(t, outbox.Data, 1)
	assert.Equal(t, signed.Data.Filename, outbox.Data[0].Name)

	inboxName := svc.TransportOutboxItem(ctx, signed.Data.Filename)
	require.True(t, inboxName.Success, inboxName.Error)

	inbox := svc.ListInbox(ctx)
	require.Len(t, inbox.Data, 1)

	verified := svc.VerifyInboxItem(ctx, inboxName.Data)
	require.True(t, verified.Success, verified.Error)
	assert.Equal(t, env.Tx, verified.Data.Tx)

	assert.Empty(t, svc.ListInbox(ctx).Data)
	done := svc.ListVerified(ctx)
	require.Len(t, done.Data, 1)
	assert.Equal(t, verified.Data.VerifiedName, done.Data[0].Name)

	// The outbox copy survives, so it can be carried over a second time.
	replay := svc.TransportOutboxItem(ctx, signed.Data.Filename)
	require.True(t, replay.Success)
	rejected := svc.VerifyInboxItem(ctx, replay.Data)
	assert.False(t, rejected.Success)
	assert.Equal(t, types.KindReplayedNonce, rejected.Kind)
	assert.Len(t, svc.ListInbox(ctx).Data, 1)
}

func TestSignTransactionValidation(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()
	acct := createAccount(t, svc, "alice")

	odd := "0xabc"
	notHex := "0xzz"
	tests := []struct {
		name   string
		mutate func(*SignTransactionRequest)
		kind   types.Kind
	}{
		{"bad recipient", func(r *SignTransactionRequest) { r.To = "0x1234" }, types.KindMalformedInput},
		{"negative value", func(r *SignTransactionRequest) { r.Value = "-1" }, types.KindMalformedInput},
		{"fractional value", func(r *SignTransactionRequest) { r.Value = "1.5" }, types.KindMalformedInput},
		{"empty value", func(r *SignTransactionRequest) { r.Value = "" }, types.KindMalformedInput},
		{"bad nonce", func(r *SignTransactionRequest) { r.Nonce = "abc" }, types.KindMalformedInput},
		{"odd data", func(r *SignTransactionRequest) { r.Data = &odd }, types.KindMalformedInput},
		{"non-hex data", func(r *SignTransactionRequest) { r.Data = &notHex }, types.KindMalformedInput},
		{"wrong password", func(r *SignTransactionRequest) { r.Password = "x" }, types.KindWrongPasswordOrCorrupt},
		{"unknown account", func(r *SignTransactionRequest) { r.AccountID = "00000000000000000000000000000000" }, types.KindNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := signRequest(acct, "pw-alice", "0")
			tt.mutate(&req)
			resp := svc.SignTransaction(ctx, req)
			assert.False(t, resp.Success)
			assert.Equal(t, tt.kind, resp.Kind)
			assert.Nil(t, resp.Data.Envelope)
		})
	}

	assert.Empty(t, svc.ListOutbox(ctx).Data)
}

func TestSignTransactionNormalizesRecipient(t *testing.T) {
	svc, _ := newTestService(t, nil)
	acct := createAccount(t, svc, "alice")

	req := signRequest(acct, "pw-alice", "1")
	req.To = "  0XABCDEF0123456789ABCDEF0123456789ABCDEF01 "
	resp := svc.SignTransaction(context.Background(), req)
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, "0xabcdef0123456789abcdef0123456789abcdef01", resp.Data.Envelope.Tx.To)
	assert.Nil(t, resp.Data.Envelope.Tx.Data)
}

func TestVerifyInboxItemRejections(t *testing.T) {
	svc, cfg := newTestService(t, nil)
	ctx := context.Background()

	bad := filepath.Join(cfg.DataDir, "inbox", "junk.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(bad), 0o700))
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o600))

	resp := svc.VerifyInboxItem(ctx, "junk.json")
	assert.False(t, resp.Success)
	assert.Equal(t, types.KindMalformedInput, resp.Kind)

	missing := svc.VerifyInboxItem(ctx, "missing.json")
	assert.Equal(t, types.KindNotFound, missing.Kind)

	traversal := svc.VerifyInboxItem(ctx, "../accounts.json")
	assert.Equal(t, types.KindMalformedInput, traversal.Kind)
}

func TestImportInboxItem(t *testing.T) {
	signer, _ := newTestService(t, nil)
	verifier, _ := newTestService(t, nil)
	ctx := context.Background()

	acct := createAccount(t, signer, "alice")
	signed := signer.SignTransaction(ctx, signRequest(acct, "pw-alice", "3"))
	require.True(t, signed.Success, signed.Error)

	src := filepath.Join(signer.workflow.Dirs().Outbox, signed.Data.Filename)
	imported := verifier.ImportInboxItem(ctx, src)
	require.True(t, imported.Success, imported.Error)

	verified := verifier.VerifyInboxItem(ctx, imported.Data)
	require.True(t, verified.Success, verified.Error)
	assert.Equal(t, acct.Address, verified.Data.Tx.From)
}

func TestProveNonceSpent(t *testing.T) {
	svc, _ := newTestService(t, func(c *config.Config) { c.LedgerBackend = config.LedgerBackendIAVL })
	ctx := context.Background()
	acct := createAccount(t, svc, "alice")

	signed := svc.SignTransaction(ctx, signRequest(acct, "pw-alice", "42"))
	require.True(t, signed.Success, signed.Error)
	inbox := svc.TransportOutboxItem(ctx, signed.Data.Filename)
	require.True(t, svc.VerifyInboxItem(ctx, inbox.Data).Success)

	resp := svc.ProveNonceSpent(ctx, string(acct.Address), 42)
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, int64(1), resp.Data.Version)

	root, err := hex.DecodeString(resp.Data.Root)
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(resp.Data.Proof)
	require.NoError(t, err)
	var proof ics23.CommitmentProof
	require.NoError(t, proof.Unmarshal(raw))
	assert.True(t, ledger.VerifySpent(&proof, root, acct.Address, 42))
	assert.False(t, ledger.VerifySpent(&proof, root, acct.Address, 43))

	unspent := svc.ProveNonceSpent(ctx, string(acct.Address), 43)
	assert.Equal(t, types.KindNotFound, unspent.Kind)

	malformed := svc.ProveNonceSpent(ctx, "0xnothex", 42)
	assert.Equal(t, types.KindMalformedInput, malformed.Kind)
}

func TestProveNonceSpentFileBackend(t *testing.T) {
	svc, _ := newTestService(t, nil)
	resp := svc.ProveNonceSpent(context.Background(), "0x1234567890123456789012345678901234567890", 0)
	assert.False(t, resp.Success)
	assert.Equal(t, types.KindInternalError, resp.Kind)
}

func TestMetricsRegisteredWhenEnabled(t *testing.T) {
	reg := prometheus.NewRegistry()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.MetricsEnabled = true
	svc, err := Open(cfg, WithKDFParams(testParams), WithRegisterer(reg))
	require.NoError(t, err)
	defer svc.Close()

	acct := createAccount(t, svc, "alice")
	require.True(t, svc.SignTransaction(context.Background(), signRequest(acct, "pw-alice", "0")).Success)

	count, err := testutil.GatherAndCount(reg, "airgap_wallet_envelopes_signed_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRunRecoversPanic(t *testing.T) {
	svc, _ := newTestService(t, nil)
	resp := run(svc, "boom", func() (int, error) {
		panic("kaboom")
	})
	assert.False(t, resp.Success)
	assert.Equal(t, types.KindInternalError, resp.Kind)
	assert.NotContains(t, resp.Error, "kaboom")
	assert.Error(t, resp.Err())
}

func TestResponseClassification(t *testing.T) {
	resp := fail[struct{}](crypto.ErrInvalidAddress)
	assert.Equal(t, types.KindMalformedInput, resp.Kind)

	resp = fail[struct{}](errors.New("disk on fire"))
	assert.Equal(t, types.KindInternalError, resp.Kind)

	assert.NoError(t, ok(1).Err())
}
