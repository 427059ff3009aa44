package enums

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderStatusLifecycle(t *testing.T) {
	status, err := ParseOrderStatus("PARTIALLY_FULFILLED")
	require.NoError(t, err)
	assert.True(t, status.IsOpen())
	assert.False(t, status.IsTerminal())

	for _, terminal := range []OrderStatus{OrderStatusFulfilled, OrderStatusCancelled, OrderStatusPickupMissed} {
		assert.True(t, terminal.IsTerminal(), terminal)
		assert.False(t, terminal.IsOpen(), terminal)
	}

	_, err = ParseOrderStatus("placed")
	assert.Error(t, err)
}

func TestOutboxEnums(t *testing.T) {
	eventType, err := ParseOutboxEventType("order_pickup_missed")
	require.NoError(t, err)
	assert.Equal(t, EventOrderPickupMissed, eventType)

	_, err = ParseOutboxAggregateType("vendor_order")
	assert.Error(t, err)

	assert.True(t, OutboxDLQReasonMaxAttempts.IsValid())
	assert.False(t, OutboxDLQErrorReason("timeout").IsValid())

	assert.Equal(t, AggregatePickupEvent, EventPickupEventCompleted.Aggregate())
	assert.Equal(t, AggregateItemOption, EventOptionRestocked.Aggregate())
	assert.Empty(t, OutboxEventType("order_shipped").Aggregate())
}

func TestLedgerEventDirections(t *testing.T) {
	assert.True(t, LedgerEventTypePurchase.AllowsDebit())
	assert.False(t, LedgerEventTypePurchase.AllowsCredit())
	assert.True(t, LedgerEventTypeRefund.AllowsCredit())
	assert.False(t, LedgerEventTypeRefund.AllowsDebit())
	assert.True(t, LedgerEventTypeAdjustment.AllowsDebit())
	assert.True(t, LedgerEventTypeAdjustment.AllowsCredit())

	_, err := ParseLedgerEventType("chargeback")
	assert.Error(t, err)
}
