package enums

import "fmt"

// PickupEventStatus tracks whether a pickup window still accepts orders.
type PickupEventStatus string

const (
	PickupEventStatusActive    PickupEventStatus = "ACTIVE"
	PickupEventStatusCompleted PickupEventStatus = "COMPLETED"
	PickupEventStatusCancelled PickupEventStatus = "CANCELLED"
)

var validPickupEventStatuses = []PickupEventStatus{
	PickupEventStatusActive,
	PickupEventStatusCompleted,
	PickupEventStatusCancelled,
}

// String implements fmt.Stringer.
func (s PickupEventStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known PickupEventStatus.
func (s PickupEventStatus) IsValid() bool {
	for _, candidate := range validPickupEventStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParsePickupEventStatus converts raw input into a PickupEventStatus.
func ParsePickupEventStatus(value string) (PickupEventStatus, error) {
	for _, candidate := range validPickupEventStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid pickup event status %q", value)
}
