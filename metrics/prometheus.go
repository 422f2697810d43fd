package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus records protocol events as Prometheus counters and histograms.
type Prometheus struct {
	counters  *prometheus.CounterVec
	latencies *prometheus.HistogramVec
}

// NewPrometheus registers the protocol metrics with reg (the default
// registerer when nil) and returns a recorder.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	counters := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "x402gate",
			Name:      "events_total",
			Help:      "Payment protocol event counts",
		},
		[]string{"event", "network"},
	)

	latencies := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "x402gate",
			Name:      "operation_latency_seconds",
			Help:      "Payment protocol operation latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation", "network"},
	)

	reg.MustRegister(counters, latencies)

	return &Prometheus{counters: counters, latencies: latencies}
}

func (p *Prometheus) IncCounter(name string, labels map[string]string) {
	p.counters.With(prometheus.Labels{
		"event":   name,
		"network": labels["network"],
	}).Inc()
}

func (p *Prometheus) ObserveLatency(name string, d time.Duration, labels map[string]string) {
	p.latencies.With(prometheus.Labels{
		"operation": name,
		"network":   labels["network"],
	}).Observe(d.Seconds())
}
