package x402gate

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/altairlabs/x402gate/logger"
)

const (
	// defaultExpiryWindow is how long a freshly signed authorization stays
	// valid when the challenge does not specify its own timeout.
	defaultExpiryWindow = 60 * time.Second

	// maxChallengeBody bounds how much of a 402 body the agent will read.
	maxChallengeBody = 1 << 20
)

// AssetCeiling caps what the agent is willing to pay in one asset. A
// challenge entry demanding more is skipped during selection.
type AssetCeiling struct {
	Asset AssetDeployment
	Max   Amount
}

// AgentConfig configures a PaymentAgent.
type AgentConfig struct {
	// Signers provides one signer per chain family the agent can pay on.
	Signers []Signer `validate:"required,min=1"`

	// PreferredNetwork, when set, moves that network's challenge entries to
	// the front of the selection order. Relative order is otherwise
	// preserved.
	PreferredNetwork Network

	// Ceilings are per-asset spending caps.
	Ceilings []AssetCeiling

	// Registry resolves challenge asset addresses back to deployments.
	// Default DefaultRegistry().
	Registry *Registry

	// ExpiryWindow is the validity window of signed authorizations when the
	// challenge carries no timeout. Default 60s.
	ExpiryWindow time.Duration

	Logger logger.Logger
}

// PaymentAgent turns 402 challenges into paid retries. It wraps an HTTP
// transport; callers issue ordinary requests and the agent transparently
// signs and attaches payment when a server demands it.
type PaymentAgent struct {
	signers   map[ChainFamily]Signer
	preferred Network
	ceilings  []AssetCeiling
	registry  *Registry
	window    time.Duration
	log       logger.Logger
	now       func() time.Time
}

// NewPaymentAgent validates the configuration and builds an agent.
func NewPaymentAgent(cfg AgentConfig) (*PaymentAgent, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("agent config: %w", err)
	}

	signers := make(map[ChainFamily]Signer, len(cfg.Signers))
	for _, s := range cfg.Signers {
		if _, dup := signers[s.Family()]; dup {
			return nil, fmt.Errorf("agent config: duplicate signer for family %s", s.Family())
		}
		signers[s.Family()] = s
	}

	registry := cfg.Registry
	if registry == nil {
		registry = DefaultRegistry()
	}
	window := cfg.ExpiryWindow
	if window == 0 {
		window = defaultExpiryWindow
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Noop{}
	}

	return &PaymentAgent{
		signers:   signers,
		preferred: cfg.PreferredNetwork,
		ceilings:  cfg.Ceilings,
		registry:  registry,
		window:    window,
		log:       log,
		now:       time.Now,
	}, nil
}

// Wrap returns a RoundTripper that pays 402 challenges issued through it.
// base nil means http.DefaultTransport.
func (a *PaymentAgent) Wrap(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &paymentRoundTripper{agent: a, base: base}
}

// Client returns an *http.Client whose transport pays 402 challenges.
func (a *PaymentAgent) Client(base *http.Client) *http.Client {
	if base == nil {
		base = &http.Client{}
	}
	wrapped := *base
	wrapped.Transport = a.Wrap(base.Transport)
	return &wrapped
}

type paymentRoundTripper struct {
	agent *PaymentAgent
	base  http.RoundTripper
}

// RoundTrip issues the request, and on a 402 signs a payment for the best
// acceptable challenge entry and retries exactly once. A second 402 means the
// server rejected the proof it asked for, which is terminal, never a loop.
func (t *paymentRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusPaymentRequired {
		return resp, nil
	}
	if req.Body != nil && req.GetBody == nil {
		// The body was consumed by the first attempt and cannot be replayed.
		t.agent.log.Warn("received 402 but request body is not replayable", map[string]any{
			"url": req.URL.String(),
		})
		return resp, nil
	}

	challenge, err := readChallenge(resp)
	if err != nil {
		return nil, err
	}

	header, err := t.agent.payHeader(req, challenge)
	if err != nil {
		return nil, err
	}

	retry := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("replay request body: %w", err)
		}
		retry.Body = body
	}
	retry.Header.Set(PaymentHeader, header)

	resp, err = t.base.RoundTrip(retry)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusPaymentRequired {
		reason := drainChallengeError(resp)
		return nil, fmt.Errorf("%w: %s", ErrPaymentRejectedAfterRetry, reason)
	}
	return resp, nil
}

// payHeader selects a challenge entry, signs an authorization for it and
// returns the encoded payment header.
func (a *PaymentAgent) payHeader(req *http.Request, challenge *PaymentRequired) (string, error) {
	selection, err := a.selectRequirement(challenge.Accepts)
	if err != nil {
		return "", err
	}

	now := a.now()
	window := a.window
	if selection.req.MaxTimeoutSeconds > 0 {
		window = time.Duration(selection.req.MaxTimeoutSeconds) * time.Second
	}
	validAfter := now.Add(-DefaultClockSkew)
	validBefore := now.Add(window)

	nonce, err := NewNonce()
	if err != nil {
		return "", err
	}

	signed, err := selection.signer.SignTransfer(req.Context(), selection.asset, selection.amount, selection.req.PayTo, nonce, validAfter, validBefore)
	if err != nil {
		return "", err
	}

	a.log.Debug("signed payment", map[string]any{
		"url":     req.URL.String(),
		"network": selection.req.Network.String(),
		"asset":   selection.req.Asset,
		"amount":  selection.amount.String(),
	})

	return EncodePaymentHeader(PaymentPayload{
		X402Version: ProtocolVersion,
		Scheme:      SchemeExact,
		Network:     selection.req.Network,
		Payload:     signed,
	})
}

type requirementSelection struct {
	req    PaymentRequirements
	asset  AssetDeployment
	amount Amount
	signer Signer
}

// selectRequirement picks the first challenge entry the agent can actually
// pay: supported scheme, a known asset, a signer for the chain family, and an
// amount within the configured ceiling. Entries on the preferred network are
// considered first, in their original relative order.
func (a *PaymentAgent) selectRequirement(accepts []PaymentRequirements) (requirementSelection, error) {
	ordered := make([]PaymentRequirements, 0, len(accepts))
	if a.preferred != "" {
		for _, req := range accepts {
			if req.Network == a.preferred {
				ordered = append(ordered, req)
			}
		}
	}
	for _, req := range accepts {
		if req.Network != a.preferred {
			ordered = append(ordered, req)
		}
	}

	for _, req := range ordered {
		if req.Scheme != SchemeExact {
			continue
		}
		asset, err := a.registry.ResolveByAddress(req.Network, req.Asset)
		if err != nil {
			continue
		}
		signer, ok := a.signers[req.Network.Family()]
		if !ok {
			continue
		}
		amount, err := AmountFromUnitsString(req.MaxAmountRequired)
		if err != nil {
			continue
		}
		if a.exceedsCeiling(asset, amount) {
			a.log.Debug("skipping challenge entry over ceiling", map[string]any{
				"network": req.Network.String(),
				"asset":   req.Asset,
				"amount":  amount.String(),
			})
			continue
		}
		return requirementSelection{req: req, asset: asset, amount: amount, signer: signer}, nil
	}

	return requirementSelection{}, ErrNoAcceptablePriceTag
}

func (a *PaymentAgent) exceedsCeiling(asset AssetDeployment, amount Amount) bool {
	for _, c := range a.ceilings {
		if c.Asset.Equal(asset) && amount.Cmp(c.Max) > 0 {
			return true
		}
	}
	return false
}

func readChallenge(resp *http.Response) (*PaymentRequired, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxChallengeBody))
	if err != nil {
		return nil, fmt.Errorf("read 402 challenge: %w", err)
	}

	var challenge PaymentRequired
	if err := json.Unmarshal(body, &challenge); err != nil {
		return nil, fmt.Errorf("decode 402 challenge: %w", err)
	}
	if challenge.X402Version != ProtocolVersion {
		return nil, fmt.Errorf("%w: challenge version %d", ErrUnsupportedVersion, challenge.X402Version)
	}
	if len(challenge.Accepts) == 0 {
		return nil, errors.New("402 challenge lists no payment requirements")
	}
	return &challenge, nil
}

func drainChallengeError(resp *http.Response) string {
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxChallengeBody))
	if err != nil {
		return "payment rejected"
	}
	var challenge PaymentRequired
	if err := json.Unmarshal(body, &challenge); err != nil || challenge.Error == "" {
		return "payment rejected"
	}
	return challenge.Error
}
