package x402gate

import "errors"

// Construction-time errors. These are fatal at startup, not per-request.
var (
	ErrUnknownAsset         = errors.New("x402gate: unknown asset")
	ErrInvalidDeployment    = errors.New("x402gate: invalid asset deployment")
	ErrEmptyPriceTagSet     = errors.New("x402gate: price tag set has no tags")
	ErrAmbiguousPriceTagSet = errors.New("x402gate: ambiguous price tag set")
	ErrInvalidAmount        = errors.New("x402gate: invalid amount")
)

// Proof decoding and verification errors.
var (
	ErrMalformedProof     = errors.New("x402gate: malformed payment proof")
	ErrUnsupportedVersion = errors.New("x402gate: unsupported protocol version")
	ErrExpiredProof       = errors.New("x402gate: expired payment proof")
	ErrVerificationFailed = errors.New("x402gate: payment verification failed")
	ErrSigning            = errors.New("x402gate: signing failed")
)

// ErrFacilitatorUnreachable marks a transport failure talking to the
// facilitator, as opposed to a negative verification verdict. Callers map it
// to a 502-class response after the bounded retry budget is spent.
var ErrFacilitatorUnreachable = errors.New("x402gate: facilitator unreachable")

// Client-side payment agent errors.
var (
	ErrNoAcceptablePriceTag      = errors.New("x402gate: no acceptable price tag")
	ErrPaymentRejectedAfterRetry = errors.New("x402gate: payment rejected after retry")
)

// ProtocolError is the JSON body of non-402 protocol error responses.
type ProtocolError struct {
	X402Version int    `json:"x402Version"`
	Code        string `json:"code,omitempty"`
	Message     string `json:"error"`
}
