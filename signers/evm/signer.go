// Package evm signs EIP-3009 transfer authorizations with an ECDSA key,
// using the token's EIP-712 domain.
package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	x402gate "github.com/altairlabs/x402gate"
)

// Signer signs TransferWithAuthorization messages for EVM networks. Signing
// is purely local; the signer never touches an RPC endpoint.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner builds a signer from a hex-encoded private key, with or without a
// 0x prefix.
func NewSigner(privateKeyHex string) (*Signer, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid private key: %v", x402gate.ErrSigning, err)
	}
	return &Signer{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
	}, nil
}

func (s *Signer) Family() x402gate.ChainFamily {
	return x402gate.ChainFamilyEVM
}

func (s *Signer) Address() string {
	return s.address.Hex()
}

// SignTransfer signs an EIP-712 TransferWithAuthorization tuple over the
// token's signing domain and returns the wire payload.
func (s *Signer) SignTransfer(
	ctx context.Context,
	asset x402gate.AssetDeployment,
	amount x402gate.Amount,
	payTo string,
	nonce [32]byte,
	validAfter, validBefore time.Time,
) (x402gate.ExactPayload, error) {
	if asset.Network.Family() != x402gate.ChainFamilyEVM {
		return x402gate.ExactPayload{}, fmt.Errorf("%w: %s is not an EVM network", x402gate.ErrSigning, asset.Network)
	}
	if !common.IsHexAddress(payTo) {
		return x402gate.ExactPayload{}, fmt.Errorf("%w: pay-to %q is not a hex address", x402gate.ErrSigning, payTo)
	}

	auth := x402gate.ExactAuthorization{
		From:        s.address.Hex(),
		To:          common.HexToAddress(payTo).Hex(),
		Value:       amount.String(),
		ValidAfter:  strconv.FormatInt(validAfter.Unix(), 10),
		ValidBefore: strconv.FormatInt(validBefore.Unix(), 10),
		Nonce:       hexutil.Encode(nonce[:]),
	}

	digest, err := authorizationDigest(asset, auth)
	if err != nil {
		return x402gate.ExactPayload{}, err
	}

	signature, err := crypto.Sign(digest, s.privateKey)
	if err != nil {
		return x402gate.ExactPayload{}, fmt.Errorf("%w: %v", x402gate.ErrSigning, err)
	}
	// Recovery id 0/1 becomes 27/28 on the wire.
	signature[64] += 27

	return x402gate.ExactPayload{
		Signature:     hexutil.Encode(signature),
		Authorization: auth,
	}, nil
}

// authorizationDigest computes the EIP-712 digest of a transfer authorization
// over the asset's signing domain.
func authorizationDigest(asset x402gate.AssetDeployment, auth x402gate.ExactAuthorization) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"TransferWithAuthorization": {
				{Name: "from", Type: "address"},
				{Name: "to", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "validAfter", Type: "uint256"},
				{Name: "validBefore", Type: "uint256"},
				{Name: "nonce", Type: "bytes32"},
			},
		},
		PrimaryType: "TransferWithAuthorization",
		Domain: apitypes.TypedDataDomain{
			Name:              asset.Name,
			Version:           asset.Version,
			ChainId:           math.NewHexOrDecimal256(asset.ChainID),
			VerifyingContract: asset.Address,
		},
		Message: apitypes.TypedDataMessage{
			"from":        auth.From,
			"to":          auth.To,
			"value":       auth.Value,
			"validAfter":  auth.ValidAfter,
			"validBefore": auth.ValidBefore,
			"nonce":       auth.Nonce,
		},
	}

	messageHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("%w: hash message: %v", x402gate.ErrSigning, err)
	}
	domainHash, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("%w: hash domain: %v", x402gate.ErrSigning, err)
	}

	raw := append([]byte{0x19, 0x01}, domainHash...)
	raw = append(raw, messageHash...)
	return crypto.Keccak256(raw), nil
}
