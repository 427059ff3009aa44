package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateOrder       OutboxAggregateType = "order"
	AggregatePickupEvent OutboxAggregateType = "pickup_event"
	AggregateItemOption  OutboxAggregateType = "merch_item_option"
)

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	switch a {
	case AggregateOrder, AggregatePickupEvent, AggregateItemOption:
		return true
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	if a := OutboxAggregateType(value); a.IsValid() {
		return a, nil
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventOrderPlaced          OutboxEventType = "order_placed"
	EventOrderCancelled       OutboxEventType = "order_cancelled"
	EventOrderFulfilled       OutboxEventType = "order_fulfilled"
	EventOrderPickupMissed    OutboxEventType = "order_pickup_missed"
	EventPickupEventCancelled OutboxEventType = "pickup_event_cancelled"
	EventPickupEventCompleted OutboxEventType = "pickup_event_completed"
	EventOptionRestocked      OutboxEventType = "option_restocked"
)

// eventAggregates names the aggregate each event type is emitted for.
var eventAggregates = map[OutboxEventType]OutboxAggregateType{
	EventOrderPlaced:          AggregateOrder,
	EventOrderCancelled:       AggregateOrder,
	EventOrderFulfilled:       AggregateOrder,
	EventOrderPickupMissed:    AggregateOrder,
	EventPickupEventCancelled: AggregatePickupEvent,
	EventPickupEventCompleted: AggregatePickupEvent,
	EventOptionRestocked:      AggregateItemOption,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	_, ok := eventAggregates[e]
	return ok
}

// Aggregate returns the aggregate type e belongs to, or "" when e is unknown.
func (e OutboxEventType) Aggregate() OutboxAggregateType {
	return eventAggregates[e]
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	if e := OutboxEventType(value); e.IsValid() {
		return e, nil
	}
	return "", fmt.Errorf("invalid event type %q", value)
}

// OutboxDLQErrorReason records why a store event was dead-lettered.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)

// IsValid reports whether the value is a known OutboxDLQErrorReason.
func (r OutboxDLQErrorReason) IsValid() bool {
	return r == OutboxDLQReasonMaxAttempts || r == OutboxDLQReasonNonRetryable
}
