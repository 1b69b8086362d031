package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"unicode/utf8"

	"github.com/blockberries/cramberry/pkg/cramberry"
)

// CanonicalMapper is implemented by types with a fixed canonical shape.
// The returned map is encoded with sorted keys.
type CanonicalMapper interface {
	CanonicalMap() map[string]any
}

// maxCanonicalDepth bounds nesting so hostile input cannot exhaust the stack.
const maxCanonicalDepth = 32

var canonicalBufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// Canonicalize encodes v as compact JSON with object keys sorted by byte order.
//
// INVARIANT: two values that are equal as JSON documents produce identical
// bytes regardless of map iteration or struct field order.
//
// Supported kinds: nil, bool, string (valid UTF-8 only), integer kinds,
// json.Number (integers only), map[string]any, map[string]string, []any,
// []string and CanonicalMapper. Floats are rejected: their text form is not
// unique.
func Canonicalize(v any) ([]byte, error) {
	buf := canonicalBufPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer canonicalBufPool.Put(buf)

	if err := writeCanonical(buf, v, 0); err != nil {
		return nil, err
	}
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

func writeCanonical(buf *bytes.Buffer, v any, depth int) error {
	if depth > maxCanonicalDepth {
		return fmt.Errorf("%w: nesting deeper than %d", ErrMalformedInput, maxCanonicalDepth)
	}

	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		buf.WriteString(strconv.FormatBool(val))
	case string:
		return writeCanonicalString(buf, val)
	case *string:
		if val == nil {
			buf.WriteString("null")
			return nil
		}
		return writeCanonicalString(buf, *val)
	case int:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case int32:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case int64:
		buf.WriteString(strconv.FormatInt(val, 10))
	case uint:
		buf.WriteString(strconv.FormatUint(uint64(val), 10))
	case uint8:
		buf.WriteString(strconv.FormatUint(uint64(val), 10))
	case uint32:
		buf.WriteString(strconv.FormatUint(uint64(val), 10))
	case uint64:
		buf.WriteString(strconv.FormatUint(val, 10))
	case json.Number:
		if n, err := val.Int64(); err == nil {
			buf.WriteString(strconv.FormatInt(n, 10))
			return nil
		}
		n, err := strconv.ParseUint(val.String(), 10, 64)
		if err != nil {
			return fmt.Errorf("%w: number %q is not a 64-bit integer", ErrMalformedInput, val.String())
		}
		buf.WriteString(strconv.FormatUint(n, 10))
	case float32, float64:
		return fmt.Errorf("%w: floating point values have no canonical form", ErrMalformedInput)
	case CanonicalMapper:
		return writeCanonicalObject(buf, val.CanonicalMap(), depth)
	case map[string]any:
		return writeCanonicalObject(buf, val, depth)
	case map[string]string:
		obj := make(map[string]any, len(val))
		for k, s := range val {
			obj[k] = s
		}
		return writeCanonicalObject(buf, obj, depth)
	case []any:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, elem, depth+1); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case []string:
		buf.WriteByte('[')
		for i, s := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonicalString(buf, s); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		return fmt.Errorf("%w: unsupported canonical type %T", ErrMalformedInput, v)
	}
	return nil
}

func writeCanonicalObject(buf *bytes.Buffer, obj map[string]any, depth int) error {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeCanonicalString(buf, k); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := writeCanonical(buf, obj[k], depth+1); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

// Invalid UTF-8 would be replaced with U+FFFD by a JSON decoder, so the bytes
// a verifier reconstructs could differ from what was signed.
func writeCanonicalString(buf *bytes.Buffer, s string) error {
	if !utf8.ValidString(s) {
		return fmt.Errorf("%w: string is not valid UTF-8", ErrMalformedInput)
	}
	buf.WriteString(cramberry.EscapeJSONString(s))
	return nil
}
