package models

import (
	"time"

	"github.com/google/uuid"
)

// MerchItem is a purchasable product; nil limits mean unlimited.
type MerchItem struct {
	ID                 uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	CollectionID       uuid.UUID         `gorm:"column:collection_id;type:uuid;not null"`
	ItemName           string            `gorm:"column:item_name;not null"`
	Description        string            `gorm:"column:description;not null"`
	Picture            *string           `gorm:"column:picture"`
	Hidden             bool              `gorm:"column:hidden;not null"`
	HasVariantsEnabled bool              `gorm:"column:has_variants_enabled;not null"`
	MonthlyLimit       *int              `gorm:"column:monthly_limit"`
	LifetimeLimit      *int              `gorm:"column:lifetime_limit"`
	Options            []MerchItemOption `gorm:"foreignKey:ItemID"`
	CreatedAt          time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}
