package payment

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricCreated          = "payments_created_total"
	MetricReplays          = "payments_idempotent_replays_total"
	MetricConflicts        = "payments_idempotency_conflicts_total"
	MetricWebhookProcessed = "payment_webhooks_processed_total"
	MetricWebhookIgnored   = "payment_webhooks_ignored_total"
	MetricRestorations     = "payment_restorations_total"
)

// Metrics contains Prometheus metrics for the payment services.
// All operations are thread-safe.
type Metrics struct {
	created          prometheus.Counter
	replays          prometheus.Counter
	conflicts        prometheus.Counter
	webhookProcessed prometheus.Counter
	webhookIgnored   *prometheus.CounterVec
	restorations     prometheus.Counter
}

// NewMetrics creates and returns a new Metrics instance with all collectors
// initialized. The metrics are not registered; call Register to register
// them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		created: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricCreated,
			Help: "Total number of payments created",
		}),
		replays: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricReplays,
			Help: "Total number of create requests served from the idempotency ledger",
		}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricConflicts,
			Help: "Total number of idempotency key conflicts",
		}),
		webhookProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricWebhookProcessed,
			Help: "Total number of webhook notifications processed",
		}),
		webhookIgnored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricWebhookIgnored,
			Help: "Total number of webhook notifications ignored, by reason",
		}, []string{"reason"}),
		restorations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricRestorations,
			Help: "Total number of payment records restored from verified gateway data",
		}),
	}
}

// Register registers all metrics with the given registry.
// Returns an error if registration fails.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.created,
		m.replays,
		m.conflicts,
		m.webhookProcessed,
		m.webhookIgnored,
		m.restorations,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// ObserveCreated increments the created-payments counter.
func (m *Metrics) ObserveCreated() { m.created.Inc() }

// ObserveReplay increments the idempotent-replay counter.
func (m *Metrics) ObserveReplay() { m.replays.Inc() }

// ObserveConflict increments the idempotency-conflict counter.
func (m *Metrics) ObserveConflict() { m.conflicts.Inc() }

// ObserveWebhookProcessed increments the processed-webhooks counter.
func (m *Metrics) ObserveWebhookProcessed() { m.webhookProcessed.Inc() }

// ObserveWebhookIgnored increments the ignored-webhooks counter for reason.
func (m *Metrics) ObserveWebhookIgnored(reason string) {
	m.webhookIgnored.WithLabelValues(reason).Inc()
}

// ObserveRestoration increments the restoration counter.
func (m *Metrics) ObserveRestoration() { m.restorations.Inc() }
