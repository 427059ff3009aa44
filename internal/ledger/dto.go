package ledger

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/membership-portal/pkg/db/models"
	"github.com/angelmondragon/membership-portal/pkg/enums"
)

// Movement is the API view of one ledger entry. Amount is signed: purchases
// are negative, refunds positive.
type Movement struct {
	ID           uuid.UUID             `json:"uuid"`
	OrderID      *uuid.UUID            `json:"order,omitempty"`
	Type         enums.LedgerEventType `json:"type"`
	Amount       int                   `json:"amount"`
	BalanceAfter int                   `json:"balanceAfter"`
	CreatedAt    time.Time             `json:"createdAt"`
}

func NewMovements(events []models.CreditLedgerEvent) []Movement {
	out := make([]Movement, 0, len(events))
	for _, event := range events {
		out = append(out, Movement{
			ID:           event.ID,
			OrderID:      event.OrderID,
			Type:         event.Type,
			Amount:       event.Amount,
			BalanceAfter: event.BalanceAfter,
			CreatedAt:    event.CreatedAt,
		})
	}
	return out
}
