package keystore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/blockberries/airgap-wallet/types"
)

const (
	idA = "0123456789abcdef0123456789abcdef"
	idB = "fedcba9876543210fedcba9876543210"
)

func recordStores(t *testing.T) map[string]RecordStore {
	t.Helper()

	fileStore, err := NewFileRecordStore(filepath.Join(t.TempDir(), "keystores"))
	require.NoError(t, err)

	keyring.MockInit()
	keychainStore, err := NewKeychainRecordStore("airgap-wallet-test-" + t.Name())
	require.NoError(t, err)

	return map[string]RecordStore{
		"memory":   NewMemoryRecordStore(),
		"file":     fileStore,
		"keychain": keychainStore,
	}
}

func TestRecordStore_Contract(t *testing.T) {
	for name, rs := range recordStores(t) {
		rs := rs
		t.Run(name, func(t *testing.T) {
			defer rs.Close()

			ids, err := rs.List()
			require.NoError(t, err)
			assert.Empty(t, ids)

			require.NoError(t, rs.Put(idB, []byte(`{"b":1}`)))
			require.NoError(t, rs.Put(idA, []byte(`{"a":1}`)))

			err = rs.Put(idA, []byte(`{}`))
			assert.ErrorIs(t, err, ErrRecordExists)

			data, err := rs.Get(idA)
			require.NoError(t, err)
			assert.Equal(t, `{"a":1}`, string(data))

			ids, err = rs.List()
			require.NoError(t, err)
			assert.Equal(t, []string{idA, idB}, ids)

			_, err = rs.Get("ffffffffffffffffffffffffffffffff")
			assert.ErrorIs(t, err, types.ErrNotFound)

			require.NoError(t, rs.Delete(idA))
			require.NoError(t, rs.Delete(idA))
			_, err = rs.Get(idA)
			assert.ErrorIs(t, err, types.ErrNotFound)

			ids, err = rs.List()
			require.NoError(t, err)
			assert.Equal(t, []string{idB}, ids)

			err = rs.Put("not-an-id", []byte(`{}`))
			assert.ErrorIs(t, err, types.ErrMalformedInput)

			require.NoError(t, rs.Close())
			_, err = rs.Get(idB)
			assert.ErrorIs(t, err, ErrStoreClosed)
			assert.ErrorIs(t, rs.Put(idA, nil), ErrStoreClosed)
			_, err = rs.List()
			assert.ErrorIs(t, err, ErrStoreClosed)
		})
	}
}

func TestFileRecordStore_Layout(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keystores")
	fs, err := NewFileRecordStore(dir)
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), info.Mode().Perm())

	require.NoError(t, fs.Put(idA, []byte(`{}`)))

	info, err = os.Stat(filepath.Join(dir, idA+".json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	// Stray files are ignored by List.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bogus.json"), []byte("x"), 0o600))

	ids, err := fs.List()
	require.NoError(t, err)
	assert.Equal(t, []string{idA}, ids)
}

func TestFileRecordStore_PathTraversal(t *testing.T) {
	root := t.TempDir()
	fs, err := NewFileRecordStore(filepath.Join(root, "keystores"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(root, "secret.json"), []byte("x"), 0o600))

	_, err = fs.Get("../secret")
	assert.ErrorIs(t, err, types.ErrNotFound)
	require.NoError(t, fs.Delete("../secret"))

	_, err = os.Stat(filepath.Join(root, "secret.json"))
	assert.NoError(t, err)
}

func TestFileRecordStore_NotADirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

	_, err := NewFileRecordStore(path)
	assert.Error(t, err)

	_, err = NewFileRecordStore("")
	assert.Error(t, err)
}

func TestMemoryRecordStore_ReturnsCopies(t *testing.T) {
	ms := NewMemoryRecordStore()
	src := []byte(`{"a":1}`)
	require.NoError(t, ms.Put(idA, src))
	src[0] = 'X'

	got, err := ms.Get(idA)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(got))

	got[0] = 'Y'
	again, err := ms.Get(idA)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(again))
}

func TestRecordStore_ConcurrentPut(t *testing.T) {
	for name, rs := range recordStores(t) {
		rs := rs
		t.Run(name, func(t *testing.T) {
			defer rs.Close()

			const n = 16
			var wg sync.WaitGroup
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					id := fmt.Sprintf("%032x", i)
					assert.NoError(t, rs.Put(id, []byte(id)))
				}(i)
			}
			wg.Wait()

			ids, err := rs.List()
			require.NoError(t, err)
			assert.Len(t, ids, n)
		})
	}
}
