package gateway

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricCallLatency = "gateway_call_latency_seconds"
	MetricRetries     = "gateway_retries_total"
)

// Metrics contains Prometheus metrics for gateway calls.
// All operations are thread-safe.
type Metrics struct {
	callLatency *prometheus.HistogramVec
	retries     prometheus.Counter
}

// NewMetrics creates and returns a new Metrics instance with all collectors
// initialized. The metrics are not registered; call Register to register
// them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		callLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricCallLatency,
			Help:    "Histogram of payment gateway call latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricRetries,
			Help: "Total number of retried payment gateway calls",
		}),
	}
}

// Register registers all metrics with the given registry.
// Returns an error if registration fails.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.callLatency,
		m.retries,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// ObserveCall records the latency of a single gateway HTTP exchange.
func (m *Metrics) ObserveCall(method string, d time.Duration) {
	m.callLatency.WithLabelValues(method).Observe(d.Seconds())
}

// ObserveRetry increments the retry counter.
func (m *Metrics) ObserveRetry() {
	m.retries.Inc()
}
