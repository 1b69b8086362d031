package store

import (
	"testing"

	ics23 "github.com/cosmos/ics23/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrefixStoreIsolation(t *testing.T) {
	parent, _ := newTestIAVL(t)
	a := NewPrefixStore(parent, []byte("a/"))
	b := NewPrefixStore(parent, []byte("b/"))

	require.NoError(t, a.Set([]byte("k"), []byte("from-a")))
	require.NoError(t, b.Set([]byte("k"), []byte("from-b")))

	got, err := a.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("from-a"), got)

	raw, err := parent.Get([]byte("b/k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("from-b"), raw)

	has, err := a.Has([]byte("missing"))
	require.NoError(t, err)
	assert.False(t, has)
}

func TestPrefixStoreIterator(t *testing.T) {
	parent, _ := newTestIAVL(t)
	require.NoError(t, parent.Set([]byte("a."), []byte("outside")))
	require.NoError(t, parent.Set([]byte("b/x"), []byte("outside")))
	ps := NewPrefixStore(parent, []byte("a/"))
	for _, k := range []string{"3", "1", "2"} {
		require.NoError(t, ps.Set([]byte(k), []byte("v"+k)))
	}
	require.NoError(t, ps.Flush())

	collect := func(start, end []byte) []string {
		iter, err := ps.Iterator(start, end)
		require.NoError(t, err)
		defer iter.Close()
		var keys []string
		for ; iter.Valid(); iter.Next() {
			keys = append(keys, string(iter.Key()))
		}
		require.NoError(t, iter.Error())
		return keys
	}

	assert.Equal(t, []string{"1", "2", "3"}, collect(nil, nil))
	assert.Equal(t, []string{"2", "3"}, collect([]byte("2"), nil))
	assert.Equal(t, []string{"1"}, collect(nil, []byte("2")))
}

func TestPrefixStoreFullKeyProof(t *testing.T) {
	parent, _ := newTestIAVL(t)
	ps := NewPrefixStore(parent, []byte("n/"))
	require.NoError(t, ps.Set([]byte("key"), []byte{1}))
	root, _, err := parent.SaveVersion()
	require.NoError(t, err)

	full := ps.FullKey([]byte("key"))
	assert.Equal(t, []byte("n/key"), full)
	assert.Equal(t, []byte("n/"), ps.Prefix())

	proof, err := parent.GetProof(full)
	require.NoError(t, err)
	assert.True(t, ics23.VerifyMembership(ics23.IavlSpec, root, proof, full, []byte{1}))
}

func TestPrefixStoreClose(t *testing.T) {
	parent, _ := newTestIAVL(t)
	ps := NewPrefixStore(parent, []byte("p/"))
	require.NoError(t, ps.Close())

	assert.ErrorIs(t, ps.Set([]byte("k"), nil), ErrStoreClosed)
	_, err := ps.Get([]byte("k"))
	assert.ErrorIs(t, err, ErrStoreClosed)
	_, err = ps.Iterator(nil, nil)
	assert.ErrorIs(t, err, ErrStoreClosed)

	// The parent is untouched.
	require.NoError(t, parent.Set([]byte("k"), []byte("v")))
}

func TestPrefixStorePanics(t *testing.T) {
	parent, _ := newTestIAVL(t)
	assert.Panics(t, func() { NewPrefixStore(nil, []byte("p")) })
	assert.Panics(t, func() { NewPrefixStore(parent, nil) })
}
