package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreMetricsExportsPlacementOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewStoreMetrics(reg)

	m.ObservePlacement(OutcomePlaced, 20*time.Millisecond)
	m.ObservePlacement(OutcomePlaced, 30*time.Millisecond)
	m.ObservePlacement(OutcomeRejected, 5*time.Millisecond)
	m.IncPlacementRetry()
	m.AddFulfilledItems(3)
	m.AddRefundedCredits("cancelled", 900)
	m.AddRefundedCredits("cancelled", 0)

	mfs, err := reg.Gather()
	require.NoError(t, err)

	placed, err := fetchCounterValue(mfs, "portal_store_order_placements_total", "outcome", OutcomePlaced)
	require.NoError(t, err)
	assert.Equal(t, 2.0, placed)

	rejected, err := fetchCounterValue(mfs, "portal_store_order_placements_total", "outcome", OutcomeRejected)
	require.NoError(t, err)
	assert.Equal(t, 1.0, rejected)

	refunded, err := fetchCounterValue(mfs, "portal_store_credits_refunded_total", "reason", "cancelled")
	require.NoError(t, err)
	assert.Equal(t, 900.0, refunded)

	retries := findMetricFamily(mfs, "portal_store_order_placement_retries_total")
	require.NotNil(t, retries)
	assert.Equal(t, 1.0, retries.GetMetric()[0].GetCounter().GetValue())
}

func TestNilStoreMetricsIsSafe(t *testing.T) {
	var m *StoreMetrics
	assert.NotPanics(t, func() {
		m.ObservePlacement(OutcomePlaced, time.Millisecond)
		m.IncPlacementRetry()
		m.AddFulfilledItems(1)
		m.AddRefundedCredits("missed", 1)
	})
	assert.NotPanics(t, func() {
		NewStoreMetrics(nil).ObservePlacement(OutcomeError, time.Millisecond)
	})
}

func TestOutboxMetricsCountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOutboxMetrics(reg)

	m.Observe("order_placed", RelayPublished)
	m.Observe("order_placed", RelayPublished)
	m.Observe("", RelayDeadLettered)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.relayed.WithLabelValues("order_placed", RelayPublished)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.relayed.WithLabelValues("unknown", RelayDeadLettered)))

	var nilMetrics *OutboxMetrics
	assert.NotPanics(t, func() { nilMetrics.Observe("order_placed", RelayRetried) })
}
