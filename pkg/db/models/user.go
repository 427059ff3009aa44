package models

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/membership-portal/pkg/enums"
)

// User is the portal member; the store only mutates Credits.
type User struct {
	ID        uuid.UUID      `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Email     string         `gorm:"column:email;type:text;not null;uniqueIndex"`
	FirstName string         `gorm:"column:first_name;not null"`
	LastName  string         `gorm:"column:last_name;not null"`
	Credits   int            `gorm:"column:credits;not null"`
	Role      enums.UserRole `gorm:"column:role;type:user_role;not null"`
	CreatedAt time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

func (User) TableName() string { return "users" }

// DisplayName is the name store emails greet the member by: the first name,
// else the local part of the email address.
func (u User) DisplayName() string {
	if name := strings.TrimSpace(u.FirstName); name != "" {
		return name
	}
	local, _, _ := strings.Cut(u.Email, "@")
	return strings.TrimSpace(local)
}

// CanAfford reports whether the balance covers cost.
func (u User) CanAfford(cost int) bool {
	return cost >= 0 && u.Credits >= cost
}
