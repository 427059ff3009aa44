package checkout

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/membership-portal/internal/ledger"
	"github.com/angelmondragon/membership-portal/pkg/checkout"
	"github.com/angelmondragon/membership-portal/pkg/db/models"
	pkgerrors "github.com/angelmondragon/membership-portal/pkg/errors"
	"github.com/angelmondragon/membership-portal/pkg/pricing"
	"github.com/angelmondragon/membership-portal/pkg/visibility"
)

// Rejection reasons carried in UserError details.
const (
	ReasonItemUnavailable = "item_unavailable"
	ReasonMonthlyLimit    = "monthly_limit"
	ReasonLifetimeLimit   = "lifetime_limit"
	ReasonOutOfStock      = "out_of_stock"
	ReasonPickupInactive  = "pickup_event_not_active"
	ReasonPickupClosed    = "pickup_event_closed"
	ReasonPickupFull      = "pickup_event_full"
)

// OptionState is an option as read inside the placement transaction, with the
// item and collection it belongs to.
type OptionState struct {
	Option     models.MerchItemOption
	Item       models.MerchItem
	Collection models.MerchCollection
}

// PurchaseCounts is how many units of an item a member already holds in
// non-cancelled orders.
type PurchaseCounts struct {
	Window   int
	Lifetime int
}

// Snapshot is everything the checker needs, read in one transaction.
type Snapshot struct {
	Credits   int
	Options   map[uuid.UUID]OptionState
	Purchases map[uuid.UUID]PurchaseCounts
}

// QuoteLine prices one basket line at current catalog values.
type QuoteLine struct {
	OptionID           uuid.UUID
	ItemID             uuid.UUID
	ItemName           string
	Quantity           int
	Price              int
	DiscountPercentage int
	UnitPrice          int
	LineTotal          int
}

// Quote is an accepted basket.
type Quote struct {
	Lines []QuoteLine
	Total int
}

// Check decides whether the basket can be placed against the snapshot. Shape
// problems are validation errors; business rejections are UserErrors reported
// in a fixed order: limits, then stock, then credits.
func Check(snapshot Snapshot, basket []checkout.BasketLine) (*Quote, error) {
	if err := checkout.ValidateBasketShape(basket); err != nil {
		return nil, err
	}

	quote := &Quote{Lines: make([]QuoteLine, 0, len(basket))}
	requestedByItem := make(map[uuid.UUID]int)
	var itemOrder []uuid.UUID
	for _, line := range basket {
		state, ok := snapshot.Options[line.OptionID]
		if !ok {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("option %s not found", line.OptionID))
		}
		if !visibility.Purchasable(&state.Collection, &state.Item) {
			return nil, pkgerrors.NewUserError(ReasonItemUnavailable, state.Item.ItemName,
				fmt.Sprintf("%s is not available for purchase", state.Item.ItemName))
		}
		if _, seen := requestedByItem[state.Item.ID]; !seen {
			itemOrder = append(itemOrder, state.Item.ID)
		}
		requestedByItem[state.Item.ID] += line.Quantity

		unit := pricing.EffectivePrice(state.Option.Price, state.Option.DiscountPercentage)
		quote.Lines = append(quote.Lines, QuoteLine{
			OptionID:           line.OptionID,
			ItemID:             state.Item.ID,
			ItemName:           state.Item.ItemName,
			Quantity:           line.Quantity,
			Price:              state.Option.Price,
			DiscountPercentage: state.Option.DiscountPercentage,
			UnitPrice:          unit,
			LineTotal:          unit * line.Quantity,
		})
		quote.Total += unit * line.Quantity
	}

	items := itemsByID(snapshot)
	for _, itemID := range itemOrder {
		if err := checkLimits(items[itemID], snapshot.Purchases[itemID], requestedByItem[itemID]); err != nil {
			return nil, err
		}
	}

	for _, line := range basket {
		state := snapshot.Options[line.OptionID]
		if line.Quantity > state.Option.Quantity {
			return nil, StockError(state.Item.ItemName)
		}
	}

	if snapshot.Credits < quote.Total {
		return nil, pkgerrors.NewUserError(ledger.ReasonInsufficientCredits, "", "not enough credits").
			WithDetails(map[string]any{
				"reason":   ledger.ReasonInsufficientCredits,
				"required": quote.Total,
				"balance":  snapshot.Credits,
			})
	}
	return quote, nil
}

// StockError is the rejection for an option without enough units.
func StockError(itemName string) error {
	return pkgerrors.NewUserError(ReasonOutOfStock, itemName,
		fmt.Sprintf("not enough units in stock for %s", itemName))
}

func checkLimits(item models.MerchItem, held PurchaseCounts, requested int) error {
	if item.MonthlyLimit != nil && held.Window+requested > *item.MonthlyLimit {
		return pkgerrors.NewUserError(ReasonMonthlyLimit, item.ItemName,
			fmt.Sprintf("monthly limit of %d reached for %s", *item.MonthlyLimit, item.ItemName))
	}
	if item.LifetimeLimit != nil && held.Lifetime+requested > *item.LifetimeLimit {
		return pkgerrors.NewUserError(ReasonLifetimeLimit, item.ItemName,
			fmt.Sprintf("lifetime limit of %d reached for %s", *item.LifetimeLimit, item.ItemName))
	}
	return nil
}

func itemsByID(snapshot Snapshot) map[uuid.UUID]models.MerchItem {
	items := make(map[uuid.UUID]models.MerchItem, len(snapshot.Options))
	for _, state := range snapshot.Options {
		items[state.Item.ID] = state.Item
	}
	return items
}
