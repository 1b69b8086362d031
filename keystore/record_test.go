package keystore

import (
	"encoding/base64"
	"encoding/json"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockberries/airgap-wallet/crypto"
	"github.com/blockberries/airgap-wallet/types"
)

func sampleRecord() *Record {
	zeros := func(n int) string { return base64.StdEncoding.EncodeToString(make([]byte, n)) }
	return &Record{
		ID:  idA,
		KDF: crypto.KDFArgon2id,
		KDFParams: KDFParams{
			Salt: zeros(crypto.SaltLength), Time: 3, MemoryKiB: 65536, Parallelism: 4, KeyLength: 32,
		},
		Cipher:       CipherAES256GCM,
		CipherParams: CipherParams{Nonce: zeros(crypto.AESGCMNonceLength)},
		Ciphertext:   zeros(64),
		Tag:          zeros(crypto.AESGCMTagLength),
		PublicKey:    zeros(32),
		Scheme:       crypto.SchemeEd25519,
		Created:      "2024-01-01T00:00:00.000Z",
	}
}

func TestRecord_Checksum(t *testing.T) {
	r := sampleRecord()
	require.NoError(t, r.Seal())
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{64}$`), r.Checksum)
	require.NoError(t, r.VerifyChecksum())

	t.Run("independent of checksum field", func(t *testing.T) {
		c := *r
		c.Checksum = "whatever"
		sum, err := c.ComputeChecksum()
		require.NoError(t, err)
		assert.Equal(t, r.Checksum, sum)
	})

	t.Run("survives reordered JSON", func(t *testing.T) {
		data, err := EncodeRecord(r)
		require.NoError(t, err)

		var generic map[string]any
		require.NoError(t, json.Unmarshal(data, &generic))
		// encoding/json writes map keys sorted, which differs from struct order.
		reordered, err := json.Marshal(generic)
		require.NoError(t, err)

		decoded, err := DecodeRecord(reordered)
		require.NoError(t, err)
		assert.NoError(t, decoded.VerifyChecksum())
	})

	t.Run("detects field change", func(t *testing.T) {
		c := *r
		c.Created = "2024-01-01T00:00:00.001Z"
		assert.ErrorIs(t, c.VerifyChecksum(), types.ErrTamperedRecord)
	})
}

func TestRecord_Decode(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *Record)
		wantErr error
	}{
		{"bad kdf", func(r *Record) { r.KDF = "scrypt" }, types.ErrMalformedInput},
		{"bad cipher", func(r *Record) { r.Cipher = "ChaCha20" }, types.ErrMalformedInput},
		{"bad scheme", func(r *Record) { r.Scheme = "secp256k1" }, types.ErrUnsupportedScheme},
		{"bad base64", func(r *Record) { r.Tag = "***" }, types.ErrMalformedInput},
		{"short salt", func(r *Record) { r.KDFParams.Salt = "AAAA" }, types.ErrMalformedInput},
		{"short ciphertext", func(r *Record) { r.Ciphertext = "" }, types.ErrMalformedInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := sampleRecord()
			tt.mutate(r)
			_, err := r.decode()
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	_, err := sampleRecord().decode()
	require.NoError(t, err)

	_, err = DecodeRecord([]byte("nope"))
	assert.ErrorIs(t, err, types.ErrMalformedInput)
}

func TestAccountID(t *testing.T) {
	id, err := NewAccountID()
	require.NoError(t, err)
	require.NoError(t, ValidateAccountID(id))

	other, err := NewAccountID()
	require.NoError(t, err)
	assert.NotEqual(t, id, other)

	for _, bad := range []string{"", "ABCDEF0123456789ABCDEF0123456789", "../../etc/passwd", id + "0", id[:31] + "g"} {
		assert.ErrorIs(t, ValidateAccountID(bad), types.ErrMalformedInput, bad)
	}
}
