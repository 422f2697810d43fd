// Package metrics defines the event counters and latency observations the
// protocol layer records, with a Prometheus-backed implementation.
package metrics

import "time"

// Event names recorded by the protocol layer.
const (
	EventChallenge     = "challenge"
	EventPolicyReject  = "policy_reject"
	EventVerify        = "verify"
	EventVerifyFailure = "verify_failure"
	EventSettle        = "settle"
	EventSettleFailure = "settle_failure"
)

// Recorder is the metrics capability consumed by the middleware and
// facilitator client. Updates must be safe for concurrent use.
type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, d time.Duration, labels map[string]string)
}

// Noop discards all metrics. It is the default when no recorder is
// configured.
type Noop struct{}

func (Noop) IncCounter(string, map[string]string)                    {}
func (Noop) ObserveLatency(string, time.Duration, map[string]string) {}
