package types

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/blockberries/airgap-wallet/crypto"
)

// TimestampLayout is the ISO-8601 UTC layout stamped on transactions,
// millisecond precision with a literal Z.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// MaxEnvelopeSize bounds how much of an untrusted envelope file is parsed.
const MaxEnvelopeSize = 64 * 1024

// SignRequest carries the caller-supplied transaction fields.
// Formats are not validated by the signer; the caller owns that policy.
type SignRequest struct {
	To    string
	Value string
	Nonce string
	// Data is an optional hex payload; nil is encoded as JSON null.
	Data *string
}

// TxFields is the signed body of a transaction.
//
// INVARIANT: the canonical encoding of TxFields covers every field, so any
// post-signing change to any field invalidates the signature.
type TxFields struct {
	From      crypto.Address `json:"from"`
	To        string         `json:"to"`
	Value     string         `json:"value"`
	Nonce     string         `json:"nonce"`
	Data      *string        `json:"data_hex"`
	Timestamp string         `json:"timestamp"`
}

// CanonicalMap implements CanonicalMapper. Data is always present, as null
// when absent, never omitted.
func (tx TxFields) CanonicalMap() map[string]any {
	var data any
	if tx.Data != nil {
		data = *tx.Data
	}
	return map[string]any{
		"from":      string(tx.From),
		"to":        tx.To,
		"value":     tx.Value,
		"nonce":     tx.Nonce,
		"data_hex":  data,
		"timestamp": tx.Timestamp,
	}
}

// CanonicalBytes returns the bytes that are signed.
func (tx TxFields) CanonicalBytes() ([]byte, error) {
	return Canonicalize(tx)
}

// ParseNonce interprets the decimal nonce string as an unsigned integer.
func (tx TxFields) ParseNonce() (uint64, error) {
	return ParseNonce(tx.Nonce)
}

// ParseNonce parses a decimal, non-negative transaction nonce.
func ParseNonce(s string) (uint64, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: nonce %q is not a non-negative integer", ErrMalformedInput, s)
	}
	return n, nil
}

// FormatTimestamp renders t in TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Envelope is a signed transaction as exchanged through the workflow directories.
type Envelope struct {
	Tx              TxFields      `json:"tx"`
	SignatureScheme crypto.Scheme `json:"sig_scheme"`
	Signature       string        `json:"signature_b64"`
	PublicKey       string        `json:"pubkey_b64"`
}

// SignatureBytes decodes the base64 signature.
func (e *Envelope) SignatureBytes() ([]byte, error) {
	sig, err := base64.StdEncoding.DecodeString(e.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: signature is not valid base64: %v", ErrMalformedInput, err)
	}
	return sig, nil
}

// PublicKeyBytes decodes the base64 public key.
func (e *Envelope) PublicKeyBytes() ([]byte, error) {
	pub, err := base64.StdEncoding.DecodeString(e.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: public key is not valid base64: %v", ErrMalformedInput, err)
	}
	return pub, nil
}

// Clone returns a deep copy.
func (e *Envelope) Clone() *Envelope {
	if e == nil {
		return nil
	}
	c := *e
	if e.Tx.Data != nil {
		d := *e.Tx.Data
		c.Tx.Data = &d
	}
	return &c
}

// Marshal renders the envelope as indented JSON for the workflow directories.
func (e *Envelope) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return data, nil
}

var (
	envelopeKeys = []string{"tx", "sig_scheme", "signature_b64", "pubkey_b64"}
	txKeys       = []string{"from", "to", "value", "nonce", "data_hex", "timestamp"}
)

// ParseEnvelope decodes an untrusted envelope document.
//
// Both the envelope and its tx object must carry exactly the known member
// names, each once and with exact case, so the document on disk holds only
// what the signature covers.
func ParseEnvelope(data []byte) (*Envelope, error) {
	if len(data) > MaxEnvelopeSize {
		return nil, fmt.Errorf("%w: envelope larger than %d bytes", ErrMalformedInput, MaxEnvelopeSize)
	}
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: envelope is not valid UTF-8", ErrMalformedInput)
	}
	members, err := exactObject(data, "envelope", envelopeKeys)
	if err != nil {
		return nil, err
	}
	if _, err := exactObject(members["tx"], "tx", txKeys); err != nil {
		return nil, err
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: failed to parse envelope: %v", ErrMalformedInput, err)
	}
	return &env, nil
}

// exactObject splits a single JSON object into its members. Every name in
// keys must appear exactly once and no other name may appear.
func exactObject(data []byte, what string, keys []string) (map[string]json.RawMessage, error) {
	malformed := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s: %s", ErrMalformedInput, what, fmt.Sprintf(format, args...))
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, malformed("%v", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, malformed("not an object")
	}

	members := make(map[string]json.RawMessage, len(keys))
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, malformed("%v", err)
		}
		name, _ := tok.(string)
		if !slices.Contains(keys, name) {
			return nil, malformed("unknown member %q", name)
		}
		if _, dup := members[name]; dup {
			return nil, malformed("duplicate member %q", name)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, malformed("%v", err)
		}
		members[name] = raw
	}
	if _, err := dec.Token(); err != nil {
		return nil, malformed("%v", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, malformed("trailing data")
	}

	for _, k := range keys {
		if _, ok := members[k]; !ok {
			return nil, malformed("missing member %q", k)
		}
	}
	return members, nil
}
