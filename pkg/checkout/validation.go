package checkout

import (
	"fmt"

	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/membership-portal/pkg/errors"
)

// MaxBasketLines caps how many distinct options one order may carry.
const MaxBasketLines = 50

// BasketLine is one requested option and how many units of it.
type BasketLine struct {
	OptionID uuid.UUID
	Quantity int
}

// ShapeViolation exposes the offending line returned to callers when a basket is malformed.
type ShapeViolation struct {
	Index    int       `json:"index"`
	OptionID uuid.UUID `json:"option_id"`
	Problem  string    `json:"problem"`
}

// ValidateBasketShape rejects empty baskets, duplicate options and
// non-positive quantities. These are client errors, not business rejections.
func ValidateBasketShape(lines []BasketLine) error {
	if len(lines) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "order must contain at least one option")
	}
	if len(lines) > MaxBasketLines {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("order may contain at most %d options", MaxBasketLines))
	}

	var violations []ShapeViolation
	seen := make(map[uuid.UUID]struct{}, len(lines))
	for i, line := range lines {
		switch {
		case line.OptionID == uuid.Nil:
			violations = append(violations, ShapeViolation{Index: i, Problem: "option id is required"})
		case line.Quantity <= 0:
			violations = append(violations, ShapeViolation{Index: i, OptionID: line.OptionID, Problem: "quantity must be positive"})
		}
		if line.OptionID == uuid.Nil {
			continue
		}
		if _, dup := seen[line.OptionID]; dup {
			violations = append(violations, ShapeViolation{Index: i, OptionID: line.OptionID, Problem: "duplicate option"})
		}
		seen[line.OptionID] = struct{}{}
	}
	if len(violations) == 0 {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid order lines: %d problem(s)", len(violations))).WithDetails(map[string]any{
		"violations": violations,
	})
}

// TotalUnits sums the requested quantities.
func TotalUnits(lines []BasketLine) int {
	total := 0
	for _, line := range lines {
		total += line.Quantity
	}
	return total
}
