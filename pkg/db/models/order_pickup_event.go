package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/membership-portal/pkg/enums"
)

// OrderPickupEvent is a scheduled window during which orders are handed out.
type OrderPickupEvent struct {
	ID            uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Title         string                  `gorm:"column:title;not null"`
	Description   string                  `gorm:"column:description;not null"`
	Start         time.Time               `gorm:"column:start_at;not null"`
	End           time.Time               `gorm:"column:end_at;not null"`
	OrderLimit    int                     `gorm:"column:order_limit;not null"`
	Status        enums.PickupEventStatus `gorm:"column:status;type:pickup_event_status;not null"`
	LinkedEventID *uuid.UUID              `gorm:"column:linked_event_id;type:uuid"`
	CreatedAt     time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}
