// Package testing provides test utilities for the wallet packages.
package testing

import (
	"bytes"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blockberries/airgap-wallet/types"
)

// AssertCanonicalDeterminism encodes v iterations times and fails if any two
// encodings differ. Map iteration order is randomized per range, so a
// CanonicalMapper that leaks ordering into its output shows up here.
//
// Usage:
//
//	func TestMyDoc_Canonical(t *testing.T) {
//	    wallettesting.AssertCanonicalDeterminism(t, doc, 100)
//	}
func AssertCanonicalDeterminism(t *testing.T, v types.CanonicalMapper, iterations int) {
	t.Helper()

	if iterations < 2 {
		t.Fatal("AssertCanonicalDeterminism requires at least 2 iterations")
	}

	first, err := types.Canonicalize(v)
	require.NoError(t, err, "Canonicalize failed on first call")

	for i := 1; i < iterations; i++ {
		got, err := types.Canonicalize(v)
		require.NoError(t, err, "Canonicalize failed on iteration %d", i)
		if !bytes.Equal(first, got) {
			t.Fatalf("Canonicalize returned different bytes on iteration %d.\nFirst: %s\nGot:   %s",
				i, first, got)
		}
	}
}

// AssertCanonicalDeterminismConcurrent is AssertCanonicalDeterminism from
// several goroutines at once, which also exercises the shared encode buffers.
func AssertCanonicalDeterminismConcurrent(t *testing.T, v types.CanonicalMapper, goroutines, iterations int) {
	t.Helper()

	want, err := types.Canonicalize(v)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan string, goroutines)
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				got, err := types.Canonicalize(v)
				if err != nil {
					errs <- err.Error()
					return
				}
				if !bytes.Equal(want, got) {
					errs <- string(got)
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)

	for msg := range errs {
		t.Fatalf("concurrent Canonicalize diverged: %s", msg)
	}
}

// AssertCanonicalIsValidJSON checks the canonical encoding of v parses as
// JSON and round-trips to the same bytes through a generic decode.
func AssertCanonicalIsValidJSON(t *testing.T, v types.CanonicalMapper) {
	t.Helper()

	encoded, err := types.Canonicalize(v)
	require.NoError(t, err)

	var generic map[string]any
	dec := json.NewDecoder(bytes.NewReader(encoded))
	dec.UseNumber()
	require.NoError(t, dec.Decode(&generic), "canonical output is not a JSON object: %s", encoded)

	again, err := types.Canonicalize(generic)
	require.NoError(t, err)
	require.Equal(t, string(encoded), string(again))
}
