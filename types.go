package x402gate

// ProtocolVersion is the x402 protocol version this library speaks.
const ProtocolVersion = 1

// SchemeExact is the only payment scheme this library implements: the client
// authorizes a transfer of exactly the amount it selected.
const SchemeExact = "exact"

// PaymentHeader is the request header carrying the base64-encoded payment
// proof.
const PaymentHeader = "X-Payment"

// DefaultMaxTimeoutSeconds is how long a payment authorization stays valid
// when a route does not configure its own window.
const DefaultMaxTimeoutSeconds = 300

// PaymentRequirements is one entry of a 402 challenge: a price tag rendered
// to its wire form together with route metadata.
type PaymentRequirements struct {
	Scheme            string         `json:"scheme"`
	Network           Network        `json:"network"`
	Asset             string         `json:"asset"`
	PayTo             string         `json:"payTo"`
	MaxAmountRequired string         `json:"maxAmountRequired"`
	Resource          string         `json:"resource,omitempty"`
	Description       string         `json:"description,omitempty"`
	MimeType          string         `json:"mimeType,omitempty"`
	MaxTimeoutSeconds int            `json:"maxTimeoutSeconds,omitempty"`
	Extra             map[string]any `json:"extra,omitempty"`
}

// PaymentRequired is the JSON body of a 402 response. Produced fresh per
// response; it has no persisted identity.
type PaymentRequired struct {
	X402Version int                   `json:"x402Version"`
	Accepts     []PaymentRequirements `json:"accepts"`
	Error       string                `json:"error,omitempty"`
}

// ExactAuthorization is the transfer authorization tuple the client signs.
// All numeric fields are base-10 strings; Nonce is 0x-prefixed 32-byte hex.
// A signature binds the exact tuple, so it cannot be replayed for a different
// amount, payee or request.
type ExactAuthorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// ExactPayload pairs an authorization with the signature over it.
type ExactPayload struct {
	Signature     string             `json:"signature"`
	Authorization ExactAuthorization `json:"authorization"`
}

// PaymentPayload is the payment proof carried in the PaymentHeader of a
// retried request. Request-scoped: consumed exactly once, never persisted by
// the server beyond the request's lifetime.
type PaymentPayload struct {
	X402Version int          `json:"x402Version"`
	Scheme      string       `json:"scheme"`
	Network     Network      `json:"network"`
	Payload     ExactPayload `json:"payload"`
}

// VerifyRequest is the body POSTed to the facilitator's /verify endpoint.
type VerifyRequest struct {
	X402Version         int                 `json:"x402Version"`
	PaymentPayload      PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

// SettleRequest is the body POSTed to the facilitator's /settle endpoint.
type SettleRequest struct {
	X402Version         int                 `json:"x402Version"`
	PaymentPayload      PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

// VerifyResponse is the facilitator's verification verdict. Ephemeral,
// scoped to one request.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SettleResponse is the facilitator's settlement result.
type SettleResponse struct {
	Success     bool    `json:"success"`
	ErrorReason string  `json:"errorReason,omitempty"`
	Transaction string  `json:"transaction,omitempty"`
	Network     Network `json:"network,omitempty"`
	Payer       string  `json:"payer,omitempty"`
}

// RouteInfo is the route metadata rendered into every 402 challenge.
type RouteInfo struct {
	Resource          string
	Description       string
	MimeType          string
	MaxTimeoutSeconds int
}

// Requirement renders a price tag to its wire form for a given route. EVM
// tags carry the token's EIP-712 domain in Extra so clients can sign without
// a chain round trip.
func Requirement(tag PriceTag, route RouteInfo) PaymentRequirements {
	timeout := route.MaxTimeoutSeconds
	if timeout <= 0 {
		timeout = DefaultMaxTimeoutSeconds
	}

	req := PaymentRequirements{
		Scheme:            SchemeExact,
		Network:           tag.Asset.Network,
		Asset:             tag.Asset.Address,
		PayTo:             tag.PayTo,
		MaxAmountRequired: tag.Amount.String(),
		Resource:          route.Resource,
		Description:       route.Description,
		MimeType:          route.MimeType,
		MaxTimeoutSeconds: timeout,
	}
	if tag.Asset.Network.Family() == ChainFamilyEVM {
		req.Extra = map[string]any{
			"name":    tag.Asset.Name,
			"version": tag.Asset.Version,
		}
	}
	return req
}

// RenderPaymentRequired renders a whole price tag set to a 402 body, one
// accepts entry per tag in preference order.
func RenderPaymentRequired(set *PriceTagSet, route RouteInfo, errMsg string) PaymentRequired {
	tags := set.Tags()
	accepts := make([]PaymentRequirements, 0, len(tags))
	for _, tag := range tags {
		accepts = append(accepts, Requirement(tag, route))
	}
	if errMsg == "" {
		errMsg = "payment required"
	}
	return PaymentRequired{
		X402Version: ProtocolVersion,
		Accepts:     accepts,
		Error:       errMsg,
	}
}
