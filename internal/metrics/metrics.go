package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Renewal outcomes recorded by IncRenewal
const (
	OutcomeSucceeded        = "succeeded"
	OutcomeFailed           = "failed"
	OutcomeCancelled        = "cancelled"
	OutcomeNotDue           = "not_due"
	OutcomeLeaseUnavailable = "lease_unavailable"
	OutcomeError            = "error"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	renewals            *prometheus.CounterVec
	chargeDuration      *prometheus.HistogramVec
	transitions         *prometheus.CounterVec
	batchRuns           prometheus.Counter
	batchDuration       prometheus.Histogram
	batchItems          *prometheus.CounterVec
	gatewaySyncFailures *prometheus.CounterVec
	notifyFailures      *prometheus.CounterVec
}

// New registers the collectors on registry
func New(registry *prometheus.Registry) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		renewals: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_renewals_total",
				Help: "Renewal attempts by outcome",
			},
			[]string{"outcome"},
		),
		chargeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "billing_gateway_charge_duration_seconds",
				Help:    "Latency of payment gateway charge calls",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		),
		transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_transitions_total",
				Help: "Subscription state transitions by action",
			},
			[]string{"action"},
		),
		batchRuns: factory.NewCounter(prometheus.CounterOpts{
			Name: "billing_batch_runs_total",
			Help: "Completed renewal batch runs",
		}),
		batchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "billing_batch_duration_seconds",
			Help:    "Wall time of renewal batch runs",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		batchItems: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_batch_items_total",
				Help: "Subscriptions processed by renewal batches by result",
			},
			[]string{"result"},
		),
		gatewaySyncFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_gateway_sync_failures_total",
				Help: "Failed attempts to mirror local transitions to the gateway",
			},
			[]string{"action"},
		),
		notifyFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_notification_failures_total",
				Help: "Lifecycle events the dispatcher failed to accept",
			},
			[]string{"event_type"},
		),
	}
}

func (m *Metrics) IncRenewal(outcome string) {
	if m == nil {
		return
	}
	m.renewals.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveCharge(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.chargeDuration.WithLabelValues(result).Observe(d.Seconds())
}

func (m *Metrics) IncTransition(action string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(action).Inc()
}

// ObserveBatch records one finished batch and its per-result item counts
func (m *Metrics) ObserveBatch(d time.Duration, items map[string]int) {
	if m == nil {
		return
	}
	m.batchRuns.Inc()
	m.batchDuration.Observe(d.Seconds())
	for result, n := range items {
		m.batchItems.WithLabelValues(result).Add(float64(n))
	}
}

func (m *Metrics) IncGatewaySyncFailure(action string) {
	if m == nil {
		return
	}
	m.gatewaySyncFailures.WithLabelValues(action).Inc()
}

func (m *Metrics) IncNotifyFailure(eventType string) {
	if m == nil {
		return
	}
	m.notifyFailures.WithLabelValues(eventType).Inc()
}
