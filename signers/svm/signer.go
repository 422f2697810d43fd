// Package svm signs transfer authorizations with a Solana ed25519 key.
package svm

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	solana "github.com/gagliardetto/solana-go"

	x402gate "github.com/altairlabs/x402gate"
)

// Signer signs transfer authorizations for Solana networks with an ed25519
// keypair. Signing is purely local.
type Signer struct {
	privateKey solana.PrivateKey
	address    solana.PublicKey
}

// NewSigner builds a signer from a base58-encoded private key.
func NewSigner(privateKeyBase58 string) (*Signer, error) {
	privateKey, err := solana.PrivateKeyFromBase58(privateKeyBase58)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid private key: %v", x402gate.ErrSigning, err)
	}
	return &Signer{
		privateKey: privateKey,
		address:    privateKey.PublicKey(),
	}, nil
}

func (s *Signer) Family() x402gate.ChainFamily {
	return x402gate.ChainFamilySVM
}

func (s *Signer) Address() string {
	return s.address.String()
}

// signedMessage is the canonical byte encoding the signature covers. Field
// order is fixed; the mint address binds the authorization to one token.
type signedMessage struct {
	Mint        string `json:"mint"`
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// SignTransfer signs the canonical authorization message with ed25519 and
// returns the wire payload. The signature is base58-encoded.
func (s *Signer) SignTransfer(
	ctx context.Context,
	asset x402gate.AssetDeployment,
	amount x402gate.Amount,
	payTo string,
	nonce [32]byte,
	validAfter, validBefore time.Time,
) (x402gate.ExactPayload, error) {
	if asset.Network.Family() != x402gate.ChainFamilySVM {
		return x402gate.ExactPayload{}, fmt.Errorf("%w: %s is not a Solana network", x402gate.ErrSigning, asset.Network)
	}
	if _, err := solana.PublicKeyFromBase58(payTo); err != nil {
		return x402gate.ExactPayload{}, fmt.Errorf("%w: pay-to %q is not a base58 public key", x402gate.ErrSigning, payTo)
	}

	auth := x402gate.ExactAuthorization{
		From:        s.address.String(),
		To:          payTo,
		Value:       amount.String(),
		ValidAfter:  strconv.FormatInt(validAfter.Unix(), 10),
		ValidBefore: strconv.FormatInt(validBefore.Unix(), 10),
		Nonce:       hexutil.Encode(nonce[:]),
	}

	message, err := json.Marshal(signedMessage{
		Mint:        asset.Address,
		From:        auth.From,
		To:          auth.To,
		Value:       auth.Value,
		ValidAfter:  auth.ValidAfter,
		ValidBefore: auth.ValidBefore,
		Nonce:       auth.Nonce,
	})
	if err != nil {
		return x402gate.ExactPayload{}, fmt.Errorf("%w: encode message: %v", x402gate.ErrSigning, err)
	}

	signature, err := s.privateKey.Sign(message)
	if err != nil {
		return x402gate.ExactPayload{}, fmt.Errorf("%w: %v", x402gate.ErrSigning, err)
	}

	return x402gate.ExactPayload{
		Signature:     signature.String(),
		Authorization: auth,
	}, nil
}
