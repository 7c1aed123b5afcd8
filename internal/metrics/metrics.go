package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ledger"

// Metrics groups the ledger's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	placements      *prometheus.CounterVec
	placementTime   prometheus.Histogram
	transitions     *prometheus.CounterVec
	adjustments     *prometheus.CounterVec
	publishFailures prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		placements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_placements_total",
			Help:      "Order placements by outcome.",
		}, []string{"outcome"}),
		placementTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "order_placement_duration_seconds",
			Help:      "Time spent placing an order, including the stock transaction.",
			Buckets:   prometheus.DefBuckets,
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_transitions_total",
			Help:      "Lifecycle actions by action and outcome.",
		}, []string{"action", "outcome"}),
		adjustments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stock_adjustments_total",
			Help:      "Manual stock decrements by outcome.",
		}, []string{"outcome"}),
		publishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_publish_failures_total",
			Help:      "Ledger events that could not be published.",
		}),
	}
	reg.MustRegister(m.placements, m.placementTime, m.transitions, m.adjustments, m.publishFailures)
	return m
}

func (m *Metrics) ObservePlacement(outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.placements.WithLabelValues(outcome).Inc()
	m.placementTime.Observe(time.Since(started).Seconds())
}

func (m *Metrics) ObserveTransition(action, outcome string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) ObserveAdjustment(outcome string) {
	if m == nil {
		return
	}
	m.adjustments.WithLabelValues(outcome).Inc()
}

func (m *Metrics) PublishFailed() {
	if m == nil {
		return
	}
	m.publishFailures.Inc()
}
