package types_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	wallettesting "github.com/blockberries/airgap-wallet/testing"
	"github.com/blockberries/airgap-wallet/types"
)

func TestCanonicalize_SortsKeys(t *testing.T) {
	a := map[string]any{"b": "2", "a": "1", "c": map[string]any{"z": true, "y": nil}}
	b := map[string]any{"c": map[string]any{"y": nil, "z": true}, "a": "1", "b": "2"}

	outA, err := types.Canonicalize(a)
	require.NoError(t, err)
	outB, err := types.Canonicalize(b)
	require.NoError(t, err)

	assert.Equal(t, `{"a":"1","b":"2","c":{"y":null,"z":true}}`, string(outA))
	assert.Equal(t, outA, outB)
}

func TestCanonicalize_ByteOrder(t *testing.T) {
	out, err := types.Canonicalize(map[string]any{"a": 1, "B": 2, "_": 3, "aa": 4})
	require.NoError(t, err)
	assert.Equal(t, `{"B":2,"_":3,"a":1,"aa":4}`, string(out))
}

func TestCanonicalize_Scalars(t *testing.T) {
	s := "x"
	var nilStr *string
	tests := []struct {
		in   any
		want string
	}{
		{nil, "null"},
		{true, "true"},
		{"hi", `"hi"`},
		{&s, `"x"`},
		{nilStr, "null"},
		{int(-5), "-5"},
		{int64(9007199254740993), "9007199254740993"},
		{uint8(7), "7"},
		{uint32(3), "3"},
		{uint64(18446744073709551615), "18446744073709551615"},
		{json.Number("42"), "42"},
		{json.Number("-9223372036854775808"), "-9223372036854775808"},
		{json.Number("9223372036854775808"), "9223372036854775808"},
		{json.Number("18446744073709551615"), "18446744073709551615"},
		{[]any{"a", 1, nil}, `["a",1,null]`},
		{[]string{"b", "a"}, `["b","a"]`},
		{map[string]string{"k": "v"}, `{"k":"v"}`},
		{map[string]any{}, `{}`},
	}
	for _, tt := range tests {
		out, err := types.Canonicalize(tt.in)
		require.NoError(t, err, "%#v", tt.in)
		assert.Equal(t, tt.want, string(out), "%#v", tt.in)
	}
}

func TestCanonicalize_EscapesStrings(t *testing.T) {
	out, err := types.Canonicalize(map[string]any{"k": "a\"b\\c\n\u0001"})
	require.NoError(t, err)

	var back map[string]string
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, "a\"b\\c\n\u0001", back["k"])
	assert.NotContains(t, string(out), "\n")
}

func TestCanonicalize_Rejects(t *testing.T) {
	deep := any("leaf")
	for i := 0; i < 40; i++ {
		deep = []any{deep}
	}

	tests := []struct {
		name string
		in   any
	}{
		{"float64", 1.5},
		{"float32", float32(1)},
		{"fractional json number", json.Number("1.5")},
		{"json number beyond uint64", json.Number("18446744073709551616")},
		{"json number below int64", json.Number("-9223372036854775809")},
		{"invalid utf8 value", "\xff"},
		{"invalid utf8 key", map[string]any{"\xfe": 1}},
		{"unsupported type", struct{}{}},
		{"nested float", map[string]any{"x": []any{2.0}}},
		{"too deep", deep},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := types.Canonicalize(tt.in)
			assert.ErrorIs(t, err, types.ErrMalformedInput)
		})
	}
}

func TestCanonicalize_ReturnsFreshSlice(t *testing.T) {
	a, err := types.Canonicalize(map[string]any{"k": "first"})
	require.NoError(t, err)
	_, err = types.Canonicalize(map[string]any{"k": strings.Repeat("z", 64)})
	require.NoError(t, err)
	assert.Equal(t, `{"k":"first"}`, string(a))
}

func TestTxFields_CanonicalDeterminism(t *testing.T) {
	data := "0xaabbccdd"
	tx := types.TxFields{
		From:      "0x6c87813fdfc7b0f59e46c29459bc6fea12923ba7",
		To:        "0x9876543210987654321098765432109876543210",
		Value:     "0",
		Nonce:     "1",
		Data:      &data,
		Timestamp: "2024-01-01T00:00:00.000Z",
	}
	wallettesting.AssertCanonicalDeterminism(t, tx, 100)
	wallettesting.AssertCanonicalDeterminismConcurrent(t, tx, 8, 50)
	wallettesting.AssertCanonicalIsValidJSON(t, tx)
}
