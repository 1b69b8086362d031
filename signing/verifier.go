package signing

import (
	"errors"
	"fmt"

	"github.com/blockberries/airgap-wallet/crypto"
	"github.com/blockberries/airgap-wallet/types"
)

// NonceView answers whether a sender's nonce has already been consumed.
type NonceView interface {
	Contains(addr crypto.Address, nonce uint64) (bool, error)
}

// Verdict is the outcome of Verify. When Accepted is false, Reason holds one
// of the types sentinels and Kind its name.
type Verdict struct {
	Accepted bool
	Reason   error
	Kind     types.Kind

	// Set when the envelope got far enough to identify them.
	From  crypto.Address
	Nonce uint64
}

// Detail returns a human-readable reason, or "" when accepted.
func (v Verdict) Detail() string {
	if v.Reason == nil {
		return ""
	}
	return v.Reason.Error()
}

func reject(err error) Verdict {
	return Verdict{Reason: err, Kind: types.KindOf(err)}
}

// Verify checks an untrusted envelope. Checks run in a fixed order and the
// first failure wins:
//
//  1. scheme is Ed25519 (UnsupportedScheme)
//  2. signature over the canonical tx verifies (InvalidSignature)
//  3. tx.from is derived from the public key (AddressMismatch)
//  4. the nonce is unused in view (ReplayedNonce)
//
// Undecodable base64, a wrong-length public key or a non-numeric nonce are
// MalformedInput. Verify reads view but never writes it, and never panics.
func Verify(env *types.Envelope, view NonceView) (verdict Verdict) {
	defer func() {
		if r := recover(); r != nil {
			verdict = reject(fmt.Errorf("%w: verifier panic: %v", types.ErrInternal, r))
		}
	}()

	if env == nil {
		return reject(fmt.Errorf("%w: empty envelope", types.ErrMalformedInput))
	}

	if env.SignatureScheme != crypto.SchemeEd25519 {
		return reject(fmt.Errorf("%w: %q", types.ErrUnsupportedScheme, env.SignatureScheme))
	}

	pub, err := env.PublicKeyBytes()
	if err != nil {
		return reject(err)
	}
	if len(pub) != crypto.SchemeEd25519.PublicKeySize() {
		return reject(fmt.Errorf("%w: public key must be %d bytes, got %d",
			types.ErrMalformedInput, crypto.SchemeEd25519.PublicKeySize(), len(pub)))
	}
	sig, err := env.SignatureBytes()
	if err != nil {
		return reject(err)
	}
	msg, err := env.Tx.CanonicalBytes()
	if err != nil {
		return reject(err)
	}
	if !crypto.VerifySignature(pub, msg, sig) {
		return reject(types.ErrInvalidSignature)
	}

	derived := crypto.DeriveAddress(pub)
	if env.Tx.From != derived {
		return reject(fmt.Errorf("%w: from %s, key derives %s", types.ErrAddressMismatch, env.Tx.From, derived))
	}

	nonce, err := env.Tx.ParseNonce()
	if err != nil {
		return reject(err)
	}
	verdict = Verdict{From: derived, Nonce: nonce}

	if view != nil {
		used, err := view.Contains(derived, nonce)
		if err != nil {
			verdict.Reason = fmt.Errorf("%w: nonce lookup: %v", types.ErrInternal, err)
			verdict.Kind = types.KindOf(verdict.Reason)
			return verdict
		}
		if used {
			verdict.Reason = fmt.Errorf("%w: %s nonce %d", types.ErrReplayedNonce, derived, nonce)
			verdict.Kind = types.KindReplayedNonce
			return verdict
		}
	}

	verdict.Accepted = true
	return verdict
}

// Err returns the rejection reason, or nil if accepted.
func (v Verdict) Err() error {
	if v.Accepted {
		return nil
	}
	if v.Reason == nil {
		return errors.New("rejected without reason")
	}
	return v.Reason
}
