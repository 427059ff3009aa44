package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/membership-portal/pkg/enums"
)

// CreditLedgerEvent records an immutable change to a member's credit balance.
type CreditLedgerEvent struct {
	ID           uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID       uuid.UUID             `gorm:"column:user_id;type:uuid;not null"`
	OrderID      *uuid.UUID            `gorm:"column:order_id;type:uuid"`
	Type         enums.LedgerEventType `gorm:"column:type;type:credit_ledger_event_type;not null"`
	Amount       int                   `gorm:"column:amount;not null"`
	BalanceAfter int                   `gorm:"column:balance_after;not null"`
	CreatedAt    time.Time             `gorm:"column:created_at;autoCreateTime"`
}
