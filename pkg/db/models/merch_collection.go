package models

import (
	"time"

	"github.com/google/uuid"
)

// MerchCollection groups merchandise items for display.
type MerchCollection struct {
	ID            uuid.UUID   `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Title         string      `gorm:"column:title;not null"`
	ThemeColorHex *string     `gorm:"column:theme_color_hex"`
	Description   string      `gorm:"column:description;not null"`
	Archived      bool        `gorm:"column:archived;not null"`
	Items         []MerchItem `gorm:"foreignKey:CollectionID"`
	CreatedAt     time.Time   `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time   `gorm:"column:updated_at;autoUpdateTime"`
}
