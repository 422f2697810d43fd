package x402gate

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"
)

// Signer produces a signed transfer authorization for one chain family. It
// never transmits or broadcasts anything: signing is local and must not block
// on network I/O. The signature covers the exact (asset, amount, payee,
// nonce, validity window) tuple, so it cannot be reused for any other
// payment.
type Signer interface {
	// Family returns the chain family the signer can sign for. A payment
	// agent selects a signer by the network family of the chosen price tag.
	Family() ChainFamily

	// Address returns the signer's public payment address in the family's
	// canonical encoding.
	Address() string

	// SignTransfer signs an authorization to transfer amount of asset to
	// payTo, valid in [validAfter, validBefore]. It fails with ErrSigning
	// only on key or input malformation.
	SignTransfer(
		ctx context.Context,
		asset AssetDeployment,
		amount Amount,
		payTo string,
		nonce [32]byte,
		validAfter, validBefore time.Time,
	) (ExactPayload, error)
}

// NewNonce returns a fresh random 32-byte nonce for a transfer authorization.
func NewNonce() ([32]byte, error) {
	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nonce, fmt.Errorf("generate nonce: %w", err)
	}
	return nonce, nil
}
