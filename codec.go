package x402gate

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/xeipuuv/gojsonschema"
)

// DefaultClockSkew is the tolerance applied when checking proof validity
// windows against server time.
const DefaultClockSkew = 5 * time.Second

var base64Pattern = regexp.MustCompile(`^[A-Za-z0-9+/]+={0,2}$`)

// paymentPayloadSchema is the wire schema a decoded payment header must
// satisfy before it is trusted as a PaymentPayload.
const paymentPayloadSchema = `{
  "type": "object",
  "required": ["x402Version", "scheme", "network", "payload"],
  "properties": {
    "x402Version": {"type": "integer", "minimum": 1},
    "scheme": {"type": "string", "minLength": 1},
    "network": {"type": "string", "minLength": 1},
    "payload": {
      "type": "object",
      "required": ["signature", "authorization"],
      "properties": {
        "signature": {"type": "string", "minLength": 1},
        "authorization": {
          "type": "object",
          "required": ["from", "to", "value", "validAfter", "validBefore", "nonce"],
          "properties": {
            "from": {"type": "string", "minLength": 1},
            "to": {"type": "string", "minLength": 1},
            "value": {"type": "string", "pattern": "^[0-9]+$"},
            "validAfter": {"type": "string", "pattern": "^[0-9]+$"},
            "validBefore": {"type": "string", "pattern": "^[0-9]+$"},
            "nonce": {"type": "string", "minLength": 1}
          }
        }
      }
    }
  }
}`

var payloadSchema = gojsonschema.NewStringLoader(paymentPayloadSchema)

// EncodePaymentHeader serializes a payment proof to the base64(JSON) form
// carried in the PaymentHeader request header.
func EncodePaymentHeader(payload PaymentPayload) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payment payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodePaymentHeader parses and validates a payment header. It fails with
// ErrMalformedProof on any encoding or schema violation and with
// ErrUnsupportedVersion when the proof speaks a protocol version the server
// does not accept. Expiry is checked separately via CheckValidity, since it
// depends on verification time.
func DecodePaymentHeader(header string) (*PaymentPayload, error) {
	if header == "" {
		return nil, fmt.Errorf("%w: empty header", ErrMalformedProof)
	}
	if !base64Pattern.MatchString(header) {
		return nil, fmt.Errorf("%w: not valid base64", ErrMalformedProof)
	}

	decoded, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, fmt.Errorf("%w: base64 decoding failed: %v", ErrMalformedProof, err)
	}

	result, err := gojsonschema.Validate(payloadSchema, gojsonschema.NewBytesLoader(decoded))
	if err != nil {
		return nil, fmt.Errorf("%w: not valid JSON: %v", ErrMalformedProof, err)
	}
	if !result.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrMalformedProof, result.Errors()[0].String())
	}

	var payload PaymentPayload
	if err := json.Unmarshal(decoded, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedProof, err)
	}

	if payload.X402Version != ProtocolVersion {
		return nil, fmt.Errorf("%w: got version %d, accept %d", ErrUnsupportedVersion, payload.X402Version, ProtocolVersion)
	}

	return &payload, nil
}

// CheckValidity checks the proof's time window against now, with the given
// skew tolerance. A proof whose validBefore has elapsed fails with
// ErrExpiredProof even if its signature is valid; a proof not yet inside its
// validAfter window fails the same way.
func (p *PaymentPayload) CheckValidity(now time.Time, skew time.Duration) error {
	validAfter, err := strconv.ParseInt(p.Payload.Authorization.ValidAfter, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: validAfter %q: %v", ErrMalformedProof, p.Payload.Authorization.ValidAfter, err)
	}
	validBefore, err := strconv.ParseInt(p.Payload.Authorization.ValidBefore, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: validBefore %q: %v", ErrMalformedProof, p.Payload.Authorization.ValidBefore, err)
	}

	if now.Unix() > validBefore+int64(skew/time.Second) {
		return fmt.Errorf("%w: validBefore %d has elapsed", ErrExpiredProof, validBefore)
	}
	if now.Unix() < validAfter-int64(skew/time.Second) {
		return fmt.Errorf("%w: not valid until %d", ErrExpiredProof, validAfter)
	}
	return nil
}
