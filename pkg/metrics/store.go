package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "portal"

// Placement outcomes reported by the order placement engine.
const (
	OutcomePlaced    = "placed"
	OutcomeRejected  = "rejected"
	OutcomeContended = "contended"
	OutcomeError     = "error"
)

// StoreMetrics tracks merch store order flow.
type StoreMetrics struct {
	placements       *prometheus.CounterVec
	placementLatency prometheus.Histogram
	placementRetries prometheus.Counter
	fulfilledItems   prometheus.Counter
	refundedCredits  *prometheus.CounterVec
}

// NewStoreMetrics registers the store metrics on the provided registerer.
func NewStoreMetrics(reg prometheus.Registerer) *StoreMetrics {
	if reg == nil {
		return &StoreMetrics{}
	}
	m := &StoreMetrics{
		placements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "order_placements_total",
			Help:      "Order placement attempts by outcome.",
		}, []string{"outcome"}),
		placementLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "order_placement_duration_seconds",
			Help:      "Wall time of order placement including retries.",
			Buckets:   prometheus.DefBuckets,
		}),
		placementRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "order_placement_retries_total",
			Help:      "Placement transactions re-run after a serialization conflict.",
		}),
		fulfilledItems: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "order_items_fulfilled_total",
			Help:      "Order items handed out at pickup events.",
		}),
		refundedCredits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "credits_refunded_total",
			Help:      "Credits returned to members by reason.",
		}, []string{"reason"}),
	}
	reg.MustRegister(m.placements, m.placementLatency, m.placementRetries, m.fulfilledItems, m.refundedCredits)
	return m
}

// ObservePlacement records a finished placement call.
func (m *StoreMetrics) ObservePlacement(outcome string, duration time.Duration) {
	if m == nil || m.placements == nil {
		return
	}
	m.placements.WithLabelValues(normalizeLabel(outcome)).Inc()
	m.placementLatency.Observe(duration.Seconds())
}

// IncPlacementRetry counts one re-run of the placement transaction.
func (m *StoreMetrics) IncPlacementRetry() {
	if m == nil || m.placementRetries == nil {
		return
	}
	m.placementRetries.Inc()
}

// AddFulfilledItems counts items flipped to fulfilled.
func (m *StoreMetrics) AddFulfilledItems(n int) {
	if m == nil || m.fulfilledItems == nil || n <= 0 {
		return
	}
	m.fulfilledItems.Add(float64(n))
}

// AddRefundedCredits counts credits returned for reason (cancelled, missed).
func (m *StoreMetrics) AddRefundedCredits(reason string, credits int) {
	if m == nil || m.refundedCredits == nil || credits <= 0 {
		return
	}
	m.refundedCredits.WithLabelValues(normalizeLabel(reason)).Add(float64(credits))
}
