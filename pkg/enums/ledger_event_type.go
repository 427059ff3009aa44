package enums

import "fmt"

// LedgerEventType maps to the credit_ledger_event_type enum in Postgres.
type LedgerEventType string

const (
	// LedgerEventTypePurchase debits credits for a placed order.
	LedgerEventTypePurchase LedgerEventType = "purchase"
	// LedgerEventTypeRefund returns credits for a cancelled or missed order.
	LedgerEventTypeRefund LedgerEventType = "refund"
	// LedgerEventTypeAdjustment is a manual correction in either direction.
	LedgerEventTypeAdjustment LedgerEventType = "adjustment"
)

var validLedgerEventTypes = []LedgerEventType{
	LedgerEventTypePurchase,
	LedgerEventTypeRefund,
	LedgerEventTypeAdjustment,
}

func (t LedgerEventType) IsValid() bool {
	for _, candidate := range validLedgerEventTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// AllowsDebit reports whether entries of this type may lower a balance.
func (t LedgerEventType) AllowsDebit() bool {
	return t == LedgerEventTypePurchase || t == LedgerEventTypeAdjustment
}

// AllowsCredit reports whether entries of this type may raise a balance.
func (t LedgerEventType) AllowsCredit() bool {
	return t == LedgerEventTypeRefund || t == LedgerEventTypeAdjustment
}

func ParseLedgerEventType(value string) (LedgerEventType, error) {
	t := LedgerEventType(value)
	if !t.IsValid() {
		return "", fmt.Errorf("invalid ledger event type %q", value)
	}
	return t, nil
}
