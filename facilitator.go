package x402gate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/altairlabs/x402gate/logger"
	"github.com/altairlabs/x402gate/metrics"
)

// Facilitator verifies and settles payment proofs against a blockchain on the
// server's behalf. Both calls are idempotent from the caller's perspective:
// retrying with the same proof returns the same result rather than
// double-charging. That guarantee belongs to the facilitator service; the
// middleware additionally never calls Settle more than once per verified
// proof.
type Facilitator interface {
	Verify(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (*VerifyResponse, error)
	Settle(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (*SettleResponse, error)
}

// DefaultFacilitatorURL is the public facilitator used when none is
// configured.
const DefaultFacilitatorURL = "https://x402.org/facilitator"

const (
	defaultFacilitatorTimeout = 5 * time.Second
	defaultTransportRetries   = 2
	defaultRetryBaseDelay     = 200 * time.Millisecond
)

// NoTransportRetries disables transport retrying: the first transport
// failure surfaces as ErrFacilitatorUnreachable.
const NoTransportRetries = -1

// FacilitatorConfig configures the HTTP facilitator client.
type FacilitatorConfig struct {
	// URL is the facilitator's base URL; /verify and /settle are appended.
	URL string `validate:"required,url"`

	// HTTPClient overrides the underlying client. Optional.
	HTTPClient *http.Client

	// Timeout bounds each individual verify/settle call. Default 5s.
	Timeout time.Duration

	// TransportRetries is how many times a transport failure is retried
	// before surfacing ErrFacilitatorUnreachable. Zero means the default of
	// 2; set NoTransportRetries to disable retrying. A negative verdict is
	// never retried regardless.
	TransportRetries int

	// RetryBaseDelay is the base of the exponential backoff between
	// transport retries. Default 200ms.
	RetryBaseDelay time.Duration

	Logger  logger.Logger
	Metrics metrics.Recorder
}

var validate = validator.New()

// HTTPFacilitatorClient talks to a remote facilitator over its HTTP call
// contract: POST /verify and POST /settle with JSON bodies.
type HTTPFacilitatorClient struct {
	url        string
	httpClient *http.Client
	retries    int
	baseDelay  time.Duration
	log        logger.Logger
	metrics    metrics.Recorder
}

// NewHTTPFacilitatorClient builds a facilitator client. Configuration errors
// are construction-time failures.
func NewHTTPFacilitatorClient(cfg FacilitatorConfig) (*HTTPFacilitatorClient, error) {
	if cfg.URL == "" {
		cfg.URL = DefaultFacilitatorURL
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("facilitator config: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = defaultFacilitatorTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	retries := cfg.TransportRetries
	if retries == 0 {
		retries = defaultTransportRetries
	}
	if retries < 0 {
		retries = 0
	}
	baseDelay := cfg.RetryBaseDelay
	if baseDelay == 0 {
		baseDelay = defaultRetryBaseDelay
	}

	log := cfg.Logger
	if log == nil {
		log = logger.Noop{}
	}
	rec := cfg.Metrics
	if rec == nil {
		rec = metrics.Noop{}
	}

	return &HTTPFacilitatorClient{
		url:        cfg.URL,
		httpClient: httpClient,
		retries:    retries,
		baseDelay:  baseDelay,
		log:        log,
		metrics:    rec,
	}, nil
}

// Verify asks the facilitator whether the proof is valid for the given
// requirements. A 200 response carrying isValid=false is a verdict, returned
// without error and never retried; transport failures are retried with
// backoff and surface as ErrFacilitatorUnreachable once the budget is spent.
func (c *HTTPFacilitatorClient) Verify(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (*VerifyResponse, error) {
	started := time.Now()
	defer func() {
		c.metrics.ObserveLatency("facilitator_verify", time.Since(started), map[string]string{"network": payload.Network.String()})
	}()

	var resp VerifyResponse
	body, status, err := c.post(ctx, "/verify", VerifyRequest{
		X402Version:         ProtocolVersion,
		PaymentPayload:      payload,
		PaymentRequirements: requirements,
	}, &resp)
	if err != nil {
		return nil, err
	}

	// 4xx verdicts still carry an invalidReason body; pass them through as
	// negative verdicts rather than transport errors.
	if status != http.StatusOK && resp.InvalidReason == "" {
		return nil, fmt.Errorf("%w: facilitator verify returned %d: %s", ErrVerificationFailed, status, string(body))
	}
	if status != http.StatusOK {
		resp.IsValid = false
	}

	return &resp, nil
}

// Settle asks the facilitator to broadcast and confirm the verified payment.
func (c *HTTPFacilitatorClient) Settle(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (*SettleResponse, error) {
	started := time.Now()
	defer func() {
		c.metrics.ObserveLatency("facilitator_settle", time.Since(started), map[string]string{"network": payload.Network.String()})
	}()

	var resp SettleResponse
	body, status, err := c.post(ctx, "/settle", SettleRequest{
		X402Version:         ProtocolVersion,
		PaymentPayload:      payload,
		PaymentRequirements: requirements,
	}, &resp)
	if err != nil {
		return nil, err
	}

	if status != http.StatusOK && resp.ErrorReason == "" {
		return nil, fmt.Errorf("facilitator settle returned %d: %s", status, string(body))
	}

	return &resp, nil
}

// post sends one JSON request with bounded transport retries and decodes the
// response into out. 5xx statuses, connection errors and a success status
// carrying an undecodable body all count as transport failures; any other
// status is returned to the caller for verdict interpretation.
func (c *HTTPFacilitatorClient) post(ctx context.Context, path string, reqBody, out any) ([]byte, int, error) {
	encoded, err := json.Marshal(reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal %s request: %w", path, err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			delay := c.baseDelay * time.Duration(1<<uint(attempt-1))
			c.log.Warn("facilitator transport failure, retrying", map[string]any{
				"path":    path,
				"attempt": attempt,
				"delay":   delay.String(),
				"error":   fmt.Sprint(lastErr),
			})
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, 0, fmt.Errorf("%w: %v", ErrFacilitatorUnreachable, ctx.Err())
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+path, bytes.NewReader(encoded))
		if err != nil {
			return nil, 0, fmt.Errorf("create %s request: %w", path, err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode >= http.StatusInternalServerError {
			lastErr = fmt.Errorf("facilitator returned %d: %s", resp.StatusCode, string(body))
			continue
		}

		if err := json.Unmarshal(body, out); err != nil && resp.StatusCode == http.StatusOK {
			// A success status with an undecodable body is a broken upstream
			// or intermediary, not a verdict. Verdict statuses may carry any
			// body; the caller interprets whatever decoded.
			lastErr = fmt.Errorf("facilitator returned undecodable %d response: %s", resp.StatusCode, string(body))
			continue
		}

		return body, resp.StatusCode, nil
	}

	return nil, 0, fmt.Errorf("%w: %v", ErrFacilitatorUnreachable, lastErr)
}
