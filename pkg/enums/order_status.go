package enums

import "fmt"

// OrderStatus tracks the fulfillment lifecycle of a merch order.
type OrderStatus string

const (
	OrderStatusPlaced             OrderStatus = "PLACED"
	OrderStatusFulfilled          OrderStatus = "FULFILLED"
	OrderStatusPartiallyFulfilled OrderStatus = "PARTIALLY_FULFILLED"
	OrderStatusCancelled          OrderStatus = "CANCELLED"
	OrderStatusPickupMissed       OrderStatus = "PICKUP_MISSED"
)

var validOrderStatuses = []OrderStatus{
	OrderStatusPlaced,
	OrderStatusFulfilled,
	OrderStatusPartiallyFulfilled,
	OrderStatusCancelled,
	OrderStatusPickupMissed,
}

// String implements fmt.Stringer.
func (s OrderStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known OrderStatus.
func (s OrderStatus) IsValid() bool {
	for _, candidate := range validOrderStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFulfilled, OrderStatusCancelled, OrderStatusPickupMissed:
		return true
	}
	return false
}

// IsOpen reports whether the order still awaits pickup.
func (s OrderStatus) IsOpen() bool {
	return s == OrderStatusPlaced || s == OrderStatusPartiallyFulfilled
}

// ParseOrderStatus converts raw input into an OrderStatus.
func ParseOrderStatus(value string) (OrderStatus, error) {
	for _, candidate := range validOrderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order status %q", value)
}
