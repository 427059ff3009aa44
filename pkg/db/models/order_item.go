package models

import (
	"time"

	"github.com/google/uuid"
)

// OrderItem is a single purchased unit with its price snapshot.
type OrderItem struct {
	ID                           uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID                      uuid.UUID  `gorm:"column:order_id;type:uuid;not null"`
	OptionID                     uuid.UUID  `gorm:"column:option_id;type:uuid;not null"`
	SalePriceAtPurchase          int        `gorm:"column:sale_price_at_purchase;not null"`
	DiscountPercentageAtPurchase int        `gorm:"column:discount_percentage_at_purchase;not null"`
	Fulfilled                    bool       `gorm:"column:fulfilled;not null"`
	FulfilledAt                  *time.Time `gorm:"column:fulfilled_at"`
	Notes                        *string    `gorm:"column:notes"`
	CreatedAt                    time.Time  `gorm:"column:created_at;autoCreateTime"`
}
