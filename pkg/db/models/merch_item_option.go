package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/membership-portal/pkg/types"
)

// MerchItemOption is a purchasable variant of an item holding its own stock.
type MerchItemOption struct {
	ID                 uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ItemID             uuid.UUID            `gorm:"column:item_id;type:uuid;not null"`
	Quantity           int                  `gorm:"column:quantity;not null"`
	Price              int                  `gorm:"column:price;not null"`
	DiscountPercentage int                  `gorm:"column:discount_percentage;not null"`
	Metadata           types.OptionMetadata `gorm:"column:metadata;type:jsonb"`
	CreatedAt          time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}
