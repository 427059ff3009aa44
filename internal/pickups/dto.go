package pickups

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/membership-portal/pkg/db/models"
	"github.com/angelmondragon/membership-portal/pkg/enums"
)

// PickupEventDTO is the API view of a pickup event.
type PickupEventDTO struct {
	ID            uuid.UUID               `json:"uuid"`
	Title         string                  `json:"title"`
	Description   string                  `json:"description"`
	Start         time.Time               `json:"start"`
	End           time.Time               `json:"end"`
	OrderLimit    int                     `json:"orderLimit"`
	OrderCount    int64                   `json:"orderCount"`
	Status        enums.PickupEventStatus `json:"status"`
	LinkedEventID *uuid.UUID              `json:"linkedEvent,omitempty"`
}

// ClosureSummary reports what happened to attached orders when an event closed.
type ClosureSummary struct {
	Event           PickupEventDTO `json:"pickupEvent"`
	AffectedOrders  []uuid.UUID    `json:"affectedOrders"`
	RefundedCredits int            `json:"refundedCredits"`
	RestockedUnits  int            `json:"restockedUnits"`
}

// NewPickupEventDTO renders an event with its attached order count.
func NewPickupEventDTO(event *models.OrderPickupEvent, orderCount int64) PickupEventDTO {
	return PickupEventDTO{
		ID:            event.ID,
		Title:         event.Title,
		Description:   event.Description,
		Start:         event.Start,
		End:           event.End,
		OrderLimit:    event.OrderLimit,
		OrderCount:    orderCount,
		Status:        event.Status,
		LinkedEventID: event.LinkedEventID,
	}
}
