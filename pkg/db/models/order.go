package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/membership-portal/pkg/enums"
)

// Order is a member's purchase of one or more option units.
type Order struct {
	ID            uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID        uuid.UUID         `gorm:"column:user_id;type:uuid;not null"`
	TotalCost     int               `gorm:"column:total_cost;not null"`
	Status        enums.OrderStatus `gorm:"column:status;type:order_status;not null"`
	OrderedAt     time.Time         `gorm:"column:ordered_at;not null"`
	PickupEventID *uuid.UUID        `gorm:"column:pickup_event_id;type:uuid"`
	Items         []OrderItem       `gorm:"foreignKey:OrderID"`
	UpdatedAt     time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}
