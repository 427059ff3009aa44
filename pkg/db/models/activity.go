package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/membership-portal/pkg/enums"
)

// Activity is an entry in a member's activity feed.
type Activity struct {
	ID           uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID       uuid.UUID          `gorm:"column:user_id;type:uuid;not null"`
	Type         enums.ActivityType `gorm:"column:type;type:activity_type;not null"`
	Description  string             `gorm:"column:description;not null"`
	PointsEarned int                `gorm:"column:points_earned;not null"`
	CreatedAt    time.Time          `gorm:"column:created_at;autoCreateTime"`
}
