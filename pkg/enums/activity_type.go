package enums

// ActivityType labels entries in a member's activity feed.
type ActivityType string

const (
	ActivityOrderPlaced          ActivityType = "ORDER_PLACED"
	ActivityOrderCancelled       ActivityType = "ORDER_CANCELLED"
	ActivityOrderFulfilled       ActivityType = "ORDER_FULFILLED"
	ActivityOrderMissed          ActivityType = "ORDER_MISSED"
	ActivityPickupEventCancelled ActivityType = "PICKUP_EVENT_CANCELLED"
)

var validActivityTypes = []ActivityType{
	ActivityOrderPlaced,
	ActivityOrderCancelled,
	ActivityOrderFulfilled,
	ActivityOrderMissed,
	ActivityPickupEventCancelled,
}

// IsValid reports whether the value is a known ActivityType.
func (a ActivityType) IsValid() bool {
	for _, candidate := range validActivityTypes {
		if candidate == a {
			return true
		}
	}
	return false
}
