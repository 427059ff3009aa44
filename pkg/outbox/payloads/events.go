package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/membership-portal/pkg/enums"
)

// OrderPlacedEvent is emitted once a placement transaction commits.
type OrderPlacedEvent struct {
	OrderID       uuid.UUID  `json:"order_id"`
	UserID        uuid.UUID  `json:"user_id"`
	PickupEventID *uuid.UUID `json:"pickup_event_id,omitempty"`
	TotalCost     int        `json:"total_cost"`
	ItemCount     int        `json:"item_count"`
	OrderedAt     time.Time  `json:"ordered_at"`
}

// OrderCancelledEvent reports a cancelled order and the credits returned.
type OrderCancelledEvent struct {
	OrderID         uuid.UUID  `json:"order_id"`
	UserID          uuid.UUID  `json:"user_id"`
	PickupEventID   *uuid.UUID `json:"pickup_event_id,omitempty"`
	RefundedCredits int        `json:"refunded_credits"`
	RestockedUnits  int        `json:"restocked_units"`
	CancelledAt     time.Time  `json:"cancelled_at"`
	Reason          string     `json:"reason,omitempty"`
}

// OrderFulfilledEvent surfaces a fulfillment pass over an order.
type OrderFulfilledEvent struct {
	OrderID        uuid.UUID         `json:"order_id"`
	UserID         uuid.UUID         `json:"user_id"`
	Status         enums.OrderStatus `json:"status"`
	FulfilledItems []uuid.UUID       `json:"fulfilled_items"`
	FulfilledAt    time.Time         `json:"fulfilled_at"`
}

// OrderPickupMissedEvent reports an order resolved as missed when its pickup window closed.
type OrderPickupMissedEvent struct {
	OrderID         uuid.UUID `json:"order_id"`
	UserID          uuid.UUID `json:"user_id"`
	PickupEventID   uuid.UUID `json:"pickup_event_id"`
	RefundedCredits int       `json:"refunded_credits"`
	RestockedUnits  int       `json:"restocked_units"`
	MissedAt        time.Time `json:"missed_at"`
}

// PickupEventCancelledEvent lists the orders cancelled along with the event.
type PickupEventCancelledEvent struct {
	PickupEventID     uuid.UUID   `json:"pickup_event_id"`
	Title             string      `json:"title"`
	CancelledOrderIDs []uuid.UUID `json:"cancelled_order_ids"`
	CancelledAt       time.Time   `json:"cancelled_at"`
}

// PickupEventCompletedEvent closes a pickup event.
type PickupEventCompletedEvent struct {
	PickupEventID  uuid.UUID   `json:"pickup_event_id"`
	MissedOrderIDs []uuid.UUID `json:"missed_order_ids"`
	CompletedAt    time.Time   `json:"completed_at"`
}

// OptionRestockedEvent records a manual inventory adjustment.
type OptionRestockedEvent struct {
	OptionID    uuid.UUID `json:"option_id"`
	ItemID      uuid.UUID `json:"item_id"`
	Delta       int       `json:"delta"`
	Quantity    int       `json:"quantity"`
	RestockedAt time.Time `json:"restocked_at"`
}
