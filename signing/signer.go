// Package signing produces and checks signed transaction envelopes.
package signing

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/blockberries/airgap-wallet/crypto"
	"github.com/blockberries/airgap-wallet/types"
)

// Sign builds the transaction body for kp, stamps it with now and signs its
// canonical encoding.
//
// Field formats are not validated here; callers that care (the wallet
// boundary) check them first. An empty data string is recorded as null.
func Sign(req types.SignRequest, kp *crypto.KeyPair, now time.Time) (*types.Envelope, error) {
	if kp == nil || kp.Secret == nil {
		return nil, fmt.Errorf("%w: no signing key", types.ErrInternal)
	}

	var data *string
	if req.Data != nil && *req.Data != "" {
		d := *req.Data
		data = &d
	}

	tx := types.TxFields{
		From:      kp.Address(),
		To:        req.To,
		Value:     req.Value,
		Nonce:     req.Nonce,
		Data:      data,
		Timestamp: types.FormatTimestamp(now),
	}

	msg, err := tx.CanonicalBytes()
	if err != nil {
		return nil, err
	}
	sig, err := kp.Secret.Sign(msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInternal, err)
	}

	return &types.Envelope{
		Tx:              tx,
		SignatureScheme: crypto.SchemeEd25519,
		Signature:       base64.StdEncoding.EncodeToString(sig),
		PublicKey:       kp.PublicKeyBase64(),
	}, nil
}

// Signer signs with a configurable clock.
type Signer struct {
	now func() time.Time
}

// NewSigner returns a Signer using now, or time.Now if now is nil.
func NewSigner(now func() time.Time) *Signer {
	if now == nil {
		now = time.Now
	}
	return &Signer{now: now}
}

// Sign signs req with kp at the signer's current time.
func (s *Signer) Sign(req types.SignRequest, kp *crypto.KeyPair) (*types.Envelope, error) {
	return Sign(req, kp, s.now())
}
