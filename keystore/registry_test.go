package keystore

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockberries/airgap-wallet/types"
)

func TestRegistry_MissingFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "accounts.json")
	r, err := NewRegistry(path, nil, nil)
	require.NoError(t, err)

	accounts, err := r.List()
	require.NoError(t, err)
	assert.Empty(t, accounts)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"accounts":[]}`, string(data))
}

func TestRegistry_CorruptFileWithoutRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.json")
	require.NoError(t, os.WriteFile(path, []byte("{garbage"), 0o600))

	r, err := NewRegistry(path, nil, nil)
	require.NoError(t, err)

	accounts, err := r.List()
	require.NoError(t, err)
	assert.Empty(t, accounts)

	kept, err := filepath.Glob(path + ".corrupt-*")
	require.NoError(t, err)
	require.Len(t, kept, 1)
	data, err := os.ReadFile(kept[0])
	require.NoError(t, err)
	assert.Equal(t, "{garbage", string(data))

	require.NoError(t, r.Add(Account{ID: idA, Name: "Alice"}))
	accounts, err = r.List()
	require.NoError(t, err)
	assert.Len(t, accounts, 1)
}

func TestRegistry_RebuildSkipsBadRecords(t *testing.T) {
	records := NewMemoryRecordStore()
	require.NoError(t, records.Put(idB, []byte("{not a record")))

	path := filepath.Join(t.TempDir(), "accounts.json")
	require.NoError(t, os.WriteFile(path, []byte("[]"), 0o600))
	r, err := NewRegistry(path, records, nil)
	require.NoError(t, err)

	accounts, err := r.List()
	require.NoError(t, err)
	assert.Empty(t, accounts)
}

func TestRegistry_AddGetRemove(t *testing.T) {
	r, err := NewRegistry(filepath.Join(t.TempDir(), "accounts.json"), nil, nil)
	require.NoError(t, err)

	require.NoError(t, r.Add(Account{ID: idA, Name: "Alice", Address: "0xaa"}))
	require.NoError(t, r.Add(Account{ID: idB, Name: "Bob", Address: "0xbb"}))

	err = r.Add(Account{ID: "cc", Name: " Alice "})
	assert.ErrorIs(t, err, types.ErrDuplicateName)
	assert.ErrorIs(t, r.CheckName("Bob"), types.ErrDuplicateName)
	assert.NoError(t, r.CheckName("Carol"))

	a, err := r.Get(idB)
	require.NoError(t, err)
	assert.Equal(t, "Bob", a.Name)

	_, err = r.Get("missing")
	assert.ErrorIs(t, err, types.ErrNotFound)

	accounts, err := r.List()
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, idA, accounts[0].ID, "insertion order kept")

	require.NoError(t, r.Remove(idA))
	require.NoError(t, r.Remove(idA))
	accounts, err = r.List()
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, idB, accounts[0].ID)
}

func TestRegistry_SharedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.json")
	r1, err := NewRegistry(path, nil, nil)
	require.NoError(t, err)
	r2, err := NewRegistry(path, nil, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, r := range []*Registry{r1, r2} {
		wg.Add(1)
		go func(i int, r *Registry) {
			defer wg.Done()
			errs[i] = r.Add(Account{ID: []string{idA, idB}[i], Name: "Same"})
		}(i, r)
	}
	wg.Wait()

	failures := 0
	for _, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, types.ErrDuplicateName)
			failures++
		}
	}
	assert.Equal(t, 1, failures)

	accounts, err := r1.List()
	require.NoError(t, err)
	assert.Len(t, accounts, 1)
}

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Alice", "Alice"},
		{"  Alice\t", "Alice"},
		{"Café", "Café"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeName(tt.in))
	}
}
