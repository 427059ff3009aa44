package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Relay outcomes for a single outbox row.
const (
	RelayPublished    = "published"
	RelayRetried      = "retried"
	RelayDeadLettered = "dead_lettered"
)

// OutboxMetrics counts store events relayed to Pub/Sub.
type OutboxMetrics struct {
	relayed *prometheus.CounterVec
}

// NewOutboxMetrics registers the relay counters on reg.
func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	relayed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "outbox",
		Name:      "events_relayed_total",
		Help:      "Outbox rows handled by the publisher, by event type and outcome.",
	}, []string{"event_type", "outcome"})
	reg.MustRegister(relayed)
	return &OutboxMetrics{relayed: relayed}
}

// Observe records one relay outcome for eventType.
func (m *OutboxMetrics) Observe(eventType, outcome string) {
	if m == nil || m.relayed == nil {
		return
	}
	m.relayed.WithLabelValues(normalizeLabel(eventType), outcome).Inc()
}
