// Package vectors provides golden test vectors for envelope signing.
//
// Each vector fixes every input, including the signing time, so the
// canonical bytes and the Ed25519 signature are fully reproducible by any
// conforming implementation.
//
// SECURITY: the vectors use a well-known seed. NEVER use it for real funds.
package vectors

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/blockberries/airgap-wallet/crypto"
	"github.com/blockberries/airgap-wallet/signing"
	"github.com/blockberries/airgap-wallet/types"
)

// FormatVersion identifies the layout of a VectorFile.
const FormatVersion = "1"

// VectorFile is the root of a golden vector document.
type VectorFile struct {
	Version     string   `json:"version"`
	Description string   `json:"description"`
	SeedHex     string   `json:"seed_hex"`
	Address     string   `json:"address"`
	PublicKey   string   `json:"pubkey_b64"`
	Vectors     []Vector `json:"vectors"`
}

// Vector is a single signing case.
type Vector struct {
	Name     string   `json:"name"`
	Input    Input    `json:"input"`
	Expected Expected `json:"expected"`
}

// Input holds the caller-supplied fields and the fixed signing time.
type Input struct {
	To        string  `json:"to"`
	Value     string  `json:"value"`
	Nonce     string  `json:"nonce"`
	Data      *string `json:"data_hex"`
	Timestamp string  `json:"timestamp"`
}

// Expected holds the outputs a conforming signer must produce.
type Expected struct {
	CanonicalJSON string          `json:"canonical_json"`
	Signature     string          `json:"signature_b64"`
	Envelope      *types.Envelope `json:"envelope"`
}

// WellKnownSeed returns the bytes 0x00..0x1f.
func WellKnownSeed() []byte {
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = byte(i)
	}
	return seed
}

// GoldenTime is the signing time used by every vector.
var GoldenTime = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

// Inputs returns the transaction cases covered by the golden file.
func Inputs() []struct {
	Name string
	Req  types.SignRequest
} {
	return []struct {
		Name string
		Req  types.SignRequest
	}{
		{"simple_transfer", types.SignRequest{
			To: "0x1234567890123456789012345678901234567890", Value: "100", Nonce: "0",
		}},
		{"with_data", types.SignRequest{
			To: "0x9876543210987654321098765432109876543210", Value: "0", Nonce: "1", Data: strPtr("0xaabbccdd"),
		}},
		{"large_value", types.SignRequest{
			To: "0x5555555555555555555555555555555555555555", Value: "999999999999", Nonce: "2",
		}},
	}
}

// Generate signs every input with the well-known key at GoldenTime.
func Generate() (*VectorFile, error) {
	seed := WellKnownSeed()
	kp, err := crypto.KeyPairFromSeed(seed)
	if err != nil {
		return nil, err
	}
	defer kp.Wipe()

	file := &VectorFile{
		Version:     FormatVersion,
		Description: "Ed25519 envelope signing over sorted-key canonical JSON",
		SeedHex:     hex.EncodeToString(seed),
		Address:     string(kp.Address()),
		PublicKey:   kp.PublicKeyBase64(),
	}

	for _, in := range Inputs() {
		env, err := signing.Sign(in.Req, kp, GoldenTime)
		if err != nil {
			return nil, fmt.Errorf("vector %s: %w", in.Name, err)
		}
		canonical, err := env.Tx.CanonicalBytes()
		if err != nil {
			return nil, fmt.Errorf("vector %s: %w", in.Name, err)
		}
		file.Vectors = append(file.Vectors, Vector{
			Name: in.Name,
			Input: Input{
				To:        in.Req.To,
				Value:     in.Req.Value,
				Nonce:     in.Req.Nonce,
				Data:      in.Req.Data,
				Timestamp: env.Tx.Timestamp,
			},
			Expected: Expected{
				CanonicalJSON: string(canonical),
				Signature:     env.Signature,
				Envelope:      env,
			},
		})
	}
	return file, nil
}

// Load reads a vector document from path.
func Load(path string) (*VectorFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file VectorFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse vectors: %w", err)
	}
	if file.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported vector format %q", file.Version)
	}
	return &file, nil
}

// Write renders file as indented JSON at path.
func Write(path string, file *VectorFile) error {
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
