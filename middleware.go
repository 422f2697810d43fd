package x402gate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/altairlabs/x402gate/logger"
	"github.com/altairlabs/x402gate/metrics"
)

// paymentState tracks a request through the protocol state machine. Every
// request starts in stateUnpaid regardless of prior requests from the same
// caller; the middleware holds no session state.
type paymentState int

const (
	stateUnpaid paymentState = iota
	stateChallenged
	stateVerifying
	stateVerified
	stateForwarded
	stateRejected
)

func (s paymentState) String() string {
	switch s {
	case stateUnpaid:
		return "unpaid"
	case stateChallenged:
		return "challenged"
	case stateVerifying:
		return "verifying"
	case stateVerified:
		return "verified"
	case stateForwarded:
		return "forwarded"
	case stateRejected:
		return "rejected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

const defaultSettleTimeout = 30 * time.Second

// MiddlewareConfig configures one protected route. Each middleware instance
// is independently configured so differently-priced routes can coexist in one
// process.
type MiddlewareConfig struct {
	// PriceTags lists the payments the route accepts, in preference order.
	PriceTags *PriceTagSet `validate:"required"`

	// Facilitator verifies and settles submitted proofs.
	Facilitator Facilitator `validate:"required"`

	// Route is the metadata rendered into 402 challenges.
	Route RouteInfo

	// ClockSkew is the tolerance applied to proof validity windows.
	// Default DefaultClockSkew.
	ClockSkew time.Duration

	// VerifyTimeout bounds the facilitator verify call. Default 5s.
	VerifyTimeout time.Duration

	// SettleTimeout bounds the detached settlement call. Default 30s.
	SettleTimeout time.Duration

	// OnSettle, when set, observes every settlement outcome. Settlement
	// failures never reach the original client (the response already left),
	// so this is the operational visibility hook.
	OnSettle func(payload PaymentPayload, resp *SettleResponse, err error)

	Logger  logger.Logger
	Metrics metrics.Recorder
}

// Middleware gates a route behind a micropayment. It intercepts requests,
// issues 402 challenges, verifies submitted proofs with the facilitator, and
// forwards verified requests to the wrapped handler, which never sees payment
// headers or 402 logic.
type Middleware struct {
	tags          *PriceTagSet
	facilitator   Facilitator
	route         RouteInfo
	clockSkew     time.Duration
	verifyTimeout time.Duration
	settleTimeout time.Duration
	onSettle      func(PaymentPayload, *SettleResponse, error)
	log           logger.Logger
	metrics       metrics.Recorder
	settled       *settleGuard
	now           func() time.Time
}

// NewMiddleware validates the configuration and builds a middleware.
// Configuration errors are fatal at startup, never per-request.
func NewMiddleware(cfg MiddlewareConfig) (*Middleware, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("middleware config: %w", err)
	}

	clockSkew := cfg.ClockSkew
	if clockSkew == 0 {
		clockSkew = DefaultClockSkew
	}
	verifyTimeout := cfg.VerifyTimeout
	if verifyTimeout == 0 {
		verifyTimeout = defaultFacilitatorTimeout
	}
	settleTimeout := cfg.SettleTimeout
	if settleTimeout == 0 {
		settleTimeout = defaultSettleTimeout
	}

	log := cfg.Logger
	if log == nil {
		log = logger.Noop{}
	}
	rec := cfg.Metrics
	if rec == nil {
		rec = metrics.Noop{}
	}

	return &Middleware{
		tags:          cfg.PriceTags,
		facilitator:   cfg.Facilitator,
		route:         cfg.Route,
		clockSkew:     clockSkew,
		verifyTimeout: verifyTimeout,
		settleTimeout: settleTimeout,
		onSettle:      cfg.OnSettle,
		log:           log,
		metrics:       rec,
		settled:       newSettleGuard(10 * time.Minute),
		now:           time.Now,
	}, nil
}

// Wrap returns a handler that runs the payment state machine in front of
// next.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.serve(w, r, next)
	})
}

func (m *Middleware) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	fields := map[string]any{
		"request_id": uuid.NewString(),
		"resource":   m.route.Resource,
		"path":       r.URL.Path,
		"state":      stateUnpaid.String(),
	}

	header := r.Header.Get(PaymentHeader)
	if header == "" {
		// Unpaid -> Challenged: respond 402 with the route's requirements;
		// the wrapped handler is never invoked.
		fields["state"] = stateChallenged.String()
		m.metrics.IncCounter(metrics.EventChallenge, map[string]string{"network": ""})
		m.log.Debug("challenging unpaid request", fields)
		m.write402(w, "")
		return
	}

	payload, err := DecodePaymentHeader(header)
	if err != nil {
		fields["state"] = stateRejected.String()
		fields["error"] = err.Error()
		m.log.Debug("rejecting undecodable proof", fields)
		code := "malformed_proof"
		if errors.Is(err, ErrUnsupportedVersion) {
			code = "unsupported_version"
		}
		m.writeError(w, http.StatusBadRequest, code, err.Error())
		return
	}
	fields["network"] = payload.Network.String()
	fields["payer"] = payload.Payload.Authorization.From

	if err := payload.CheckValidity(m.now(), m.clockSkew); err != nil {
		if errors.Is(err, ErrMalformedProof) {
			m.writeError(w, http.StatusBadRequest, "malformed_proof", err.Error())
			return
		}
		fields["state"] = stateRejected.String()
		fields["error"] = err.Error()
		m.log.Debug("rejecting expired proof", fields)
		m.write402(w, "payment proof expired")
		return
	}

	// Challenged -> Verifying: check the proposed tag against route policy
	// before spending a facilitator round trip. A proof that can never be
	// valid goes straight back as a corrected 402.
	listed, candidate, err := m.candidate(payload)
	if err != nil {
		m.writeError(w, http.StatusBadRequest, "malformed_proof", err.Error())
		return
	}
	if decision := m.policy(payload, listed, candidate); decision != PolicyAccept {
		fields["state"] = stateRejected.String()
		fields["decision"] = decision.String()
		m.log.Debug("rejecting proof by policy", fields)
		m.metrics.IncCounter(metrics.EventPolicyReject, map[string]string{"network": payload.Network.String()})
		m.write402(w, "payment does not satisfy requirements: "+decision.String())
		return
	}

	requirement := Requirement(listed, m.route)

	// The in-flight verify call is allowed to complete even if the client
	// disconnects, so the facilitator is never left in an ambiguous state;
	// on disconnect the result is simply discarded with the response.
	verifyCtx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), m.verifyTimeout)
	defer cancel()

	fields["state"] = stateVerifying.String()
	m.log.Debug("verifying proof", fields)
	verdict, err := m.facilitator.Verify(verifyCtx, *payload, requirement)
	if err != nil {
		fields["state"] = stateRejected.String()
		fields["error"] = err.Error()
		m.metrics.IncCounter(metrics.EventVerifyFailure, map[string]string{"network": payload.Network.String()})
		if errors.Is(err, ErrFacilitatorUnreachable) {
			// Transport failure after bounded retry: the server cannot prove
			// whether the proof is bad or the facilitator is down, so this is
			// a 502, never a silent accept or reject.
			m.log.Error("facilitator unreachable", fields)
			m.writeError(w, http.StatusBadGateway, "verification_unavailable", "payment verification unavailable")
			return
		}
		m.log.Warn("verify call failed", fields)
		m.write402(w, "payment verification failed")
		return
	}
	if !verdict.IsValid {
		fields["state"] = stateRejected.String()
		fields["invalid_reason"] = verdict.InvalidReason
		m.log.Debug("rejecting invalid proof", fields)
		m.metrics.IncCounter(metrics.EventVerifyFailure, map[string]string{"network": payload.Network.String()})
		m.write402(w, verdict.InvalidReason)
		return
	}

	fields["state"] = stateVerified.String()
	m.metrics.IncCounter(metrics.EventVerify, map[string]string{"network": payload.Network.String()})
	m.log.Info("payment verified, forwarding", fields)

	// Verified -> Forwarded: invoke the wrapped handler exactly once with
	// the payment header stripped.
	forwarded := r.Clone(r.Context())
	forwarded.Header.Del(PaymentHeader)
	next.ServeHTTP(w, forwarded)
	fields["state"] = stateForwarded.String()

	m.scheduleSettle(*payload, requirement, fields)
}

// candidate maps a decoded proof onto the route's price tags, returning the
// matched listed tag and the client-proposed tag built from the proof's
// authorization.
func (m *Middleware) candidate(payload *PaymentPayload) (listed, candidate PriceTag, err error) {
	auth := payload.Payload.Authorization
	listed, ok := m.tags.match(payload.Network, auth.To)
	if !ok {
		// No listed destination matches; synthesize an unlisted candidate so
		// policy resolution reports it as such.
		return PriceTag{}, PriceTag{Asset: AssetDeployment{Network: payload.Network}, PayTo: auth.To}, nil
	}

	amount, err := AmountFromUnitsString(auth.Value)
	if err != nil {
		return PriceTag{}, PriceTag{}, fmt.Errorf("%w: authorization value: %v", ErrMalformedProof, err)
	}

	return listed, PriceTag{Asset: listed.Asset, Amount: amount, PayTo: listed.PayTo}, nil
}

func (m *Middleware) policy(payload *PaymentPayload, listed, candidate PriceTag) PolicyDecision {
	if payload.Scheme != SchemeExact {
		return PolicyRejectUnlisted
	}
	if listed.PayTo == "" {
		return PolicyRejectUnlisted
	}
	return m.tags.ResolvePolicy(candidate)
}

// scheduleSettle fires the settlement call on a context detached from the
// request, so settlement latency or failure can never delay or fail the
// client-visible response. The guard ensures at most one settle per proof.
func (m *Middleware) scheduleSettle(payload PaymentPayload, requirement PaymentRequirements, fields map[string]any) {
	key := settlementKey(payload)
	if !m.settled.mark(key) {
		m.log.Debug("settlement already scheduled for proof", fields)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.settleTimeout)
		defer cancel()

		resp, err := m.facilitator.Settle(ctx, payload, requirement)
		network := map[string]string{"network": payload.Network.String()}
		switch {
		case err != nil:
			fields["error"] = err.Error()
			m.log.Error("settlement failed", fields)
			m.metrics.IncCounter(metrics.EventSettleFailure, network)
		case !resp.Success:
			fields["error_reason"] = resp.ErrorReason
			m.log.Error("settlement rejected", fields)
			m.metrics.IncCounter(metrics.EventSettleFailure, network)
		default:
			fields["transaction"] = resp.Transaction
			m.log.Info("payment settled", fields)
			m.metrics.IncCounter(metrics.EventSettle, network)
		}

		if m.onSettle != nil {
			m.onSettle(payload, resp, err)
		}
	}()
}

func (m *Middleware) write402(w http.ResponseWriter, errMsg string) {
	doc := RenderPaymentRequired(m.tags, m.route, errMsg)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)
	_ = json.NewEncoder(w).Encode(doc)
}

func (m *Middleware) writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ProtocolError{
		X402Version: ProtocolVersion,
		Code:        code,
		Message:     msg,
	})
}

// settlementKey derives a stable key for a proof from its signature and
// nonce, which bind the full authorization tuple.
func settlementKey(payload PaymentPayload) string {
	h := sha256.Sum256([]byte(payload.Payload.Signature + "|" + payload.Payload.Authorization.Nonce))
	return hex.EncodeToString(h[:])
}

// settleGuard tracks which proofs already had settlement scheduled, so one
// accepted request triggers at most one settle call. Entries expire after a
// TTL; by then the proof's own validity window has long elapsed.
type settleGuard struct {
	mu     sync.Mutex
	marked map[string]time.Time
	ttl    time.Duration
}

func newSettleGuard(ttl time.Duration) *settleGuard {
	return &settleGuard{marked: make(map[string]time.Time), ttl: ttl}
}

// mark records the key and reports whether it was newly marked.
func (g *settleGuard) mark(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	if at, exists := g.marked[key]; exists && now.Sub(at) < g.ttl {
		return false
	}

	for k, at := range g.marked {
		if now.Sub(at) >= g.ttl {
			delete(g.marked, k)
		}
	}

	g.marked[key] = now
	return true
}
