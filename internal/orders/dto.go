package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/membership-portal/internal/ledger"
	"github.com/angelmondragon/membership-portal/pkg/db/models"
	"github.com/angelmondragon/membership-portal/pkg/enums"
	"github.com/angelmondragon/membership-portal/pkg/pricing"
)

// OrderItemDetail is one purchased unit with its frozen price.
type OrderItemDetail struct {
	ID                           uuid.UUID  `json:"uuid"`
	OptionID                     uuid.UUID  `json:"option"`
	ItemID                       uuid.UUID  `json:"item,omitempty"`
	ItemName                     string     `json:"itemName,omitempty"`
	SalePriceAtPurchase          int        `json:"salePriceAtPurchase"`
	DiscountPercentageAtPurchase int        `json:"discountPercentageAtPurchase"`
	Total                        int        `json:"total"`
	Fulfilled                    bool       `json:"fulfilled"`
	FulfilledAt                  *time.Time `json:"fulfilledAt,omitempty"`
	Notes                        *string    `json:"notes,omitempty"`
}

// OrderDetail is the API view of an order.
type OrderDetail struct {
	ID            uuid.UUID         `json:"uuid"`
	UserID        uuid.UUID         `json:"user"`
	Status        enums.OrderStatus `json:"status"`
	TotalCost     int               `json:"totalCost"`
	OrderedAt     time.Time         `json:"orderedAt"`
	PickupEventID *uuid.UUID        `json:"pickupEvent,omitempty"`
	Items         []OrderItemDetail `json:"items"`
	Credits       []ledger.Movement `json:"credits,omitempty"`
}

// OrderList wraps a page of orders plus the next page cursor.
type OrderList struct {
	Orders     []OrderDetail `json:"orders"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

// NewOrderDetail renders an order; refs may be nil when item names are not needed.
func NewOrderDetail(order *models.Order, refs map[uuid.UUID]ItemRef) OrderDetail {
	detail := OrderDetail{
		ID:            order.ID,
		UserID:        order.UserID,
		Status:        order.Status,
		TotalCost:     order.TotalCost,
		OrderedAt:     order.OrderedAt,
		PickupEventID: order.PickupEventID,
		Items:         make([]OrderItemDetail, 0, len(order.Items)),
	}
	for _, item := range order.Items {
		ref := refs[item.OptionID]
		detail.Items = append(detail.Items, OrderItemDetail{
			ID:                           item.ID,
			OptionID:                     item.OptionID,
			ItemID:                       ref.ItemID,
			ItemName:                     ref.ItemName,
			SalePriceAtPurchase:          item.SalePriceAtPurchase,
			DiscountPercentageAtPurchase: item.DiscountPercentageAtPurchase,
			Total:                        pricing.EffectivePrice(item.SalePriceAtPurchase, item.DiscountPercentageAtPurchase),
			Fulfilled:                    item.Fulfilled,
			FulfilledAt:                  item.FulfilledAt,
			Notes:                        item.Notes,
		})
	}
	return detail
}

func optionIDsOf(orders ...models.Order) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{})
	var out []uuid.UUID
	for _, order := range orders {
		for _, item := range order.Items {
			if _, ok := seen[item.OptionID]; ok {
				continue
			}
			seen[item.OptionID] = struct{}{}
			out = append(out, item.OptionID)
		}
	}
	return out
}
