// Package x402gate implements the x402 pay-per-request protocol layer: it
// gates HTTP routes behind stablecoin micropayments expressed through HTTP
// semantics (status 402, headers, JSON bodies) and verified out-of-band by a
// facilitator service, without the server touching private keys or
// broadcasting transactions.
//
// The server side wraps an opaque handler with Middleware; the client side
// wraps an *http.Client with a PaymentAgent that answers 402 challenges by
// signing a transfer authorization and retrying once. Per-chain signing lives
// in the signers/evm and signers/svm subpackages.
package x402gate

// Version is the library version.
const Version = "0.1.0"
