package orders

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/membership-portal/internal/activity"
	"github.com/angelmondragon/membership-portal/internal/ledger"
	"github.com/angelmondragon/membership-portal/pkg/db/models"
	"github.com/angelmondragon/membership-portal/pkg/enums"
	pkgerrors "github.com/angelmondragon/membership-portal/pkg/errors"
	"github.com/angelmondragon/membership-portal/pkg/outbox"
	"github.com/angelmondragon/membership-portal/pkg/outbox/payloads"
	"github.com/angelmondragon/membership-portal/pkg/pricing"
)

// Resolution reports how an order was closed and what went back to the member.
type Resolution struct {
	OrderID         uuid.UUID
	UserID          uuid.UUID
	Status          enums.OrderStatus
	RefundedCredits int
	RestockedUnits  int
}

type closeSpec struct {
	from   []enums.OrderStatus
	to     enums.OrderStatus
	reason string
	actor  *outbox.ActorRef
	// activity overrides the default activity entry type.
	activity enums.ActivityType
}

// closeOrder moves an order to a closing state and returns every unit that was
// never handed out: stock goes back to its option and the snapshotted price goes
// back to the member. Cancellation and missed pickups share it.
func (s *service) closeOrder(ctx context.Context, tx *gorm.DB, order *models.Order, spec closeSpec, now time.Time) (*Resolution, error) {
	repo := s.repo.WithTx(tx)

	ok, err := repo.TransitionStatus(ctx, order.ID, spec.from, spec.to, now)
	if err != nil {
		return nil, pkgerrors.WrapDB(err, "update order status")
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("order is %s", order.Status))
	}

	unitsByOption := make(map[uuid.UUID]int)
	refund := 0
	for _, item := range order.Items {
		if item.Fulfilled {
			continue
		}
		unitsByOption[item.OptionID]++
		refund += pricing.EffectivePrice(item.SalePriceAtPurchase, item.DiscountPercentageAtPurchase)
	}
	optionIDs := make([]uuid.UUID, 0, len(unitsByOption))
	for id := range unitsByOption {
		optionIDs = append(optionIDs, id)
	}
	sort.Slice(optionIDs, func(i, j int) bool { return optionIDs[i].String() < optionIDs[j].String() })

	restocked := 0
	for _, optionID := range optionIDs {
		if err := repo.IncrementStock(ctx, optionID, unitsByOption[optionID], now); err != nil {
			return nil, pkgerrors.WrapDB(err, "restock option")
		}
		restocked += unitsByOption[optionID]
	}

	if refund > 0 {
		if _, err := s.ledger.Credit(ctx, tx, ledger.EntryInput{
			UserID:  order.UserID,
			OrderID: &order.ID,
			Type:    enums.LedgerEventTypeRefund,
			Amount:  refund,
		}); err != nil {
			return nil, err
		}
	}

	entry := activity.Entry{UserID: order.UserID, PointsEarned: refund}
	event := outbox.DomainEvent{
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         spec.actor,
		OccurredAt:    now,
	}
	switch spec.to {
	case enums.OrderStatusCancelled:
		entry.Type = enums.ActivityOrderCancelled
		entry.Description = fmt.Sprintf("Order cancelled, %d credits refunded", refund)
		event.EventType = enums.EventOrderCancelled
		event.Data = payloads.OrderCancelledEvent{
			OrderID:         order.ID,
			UserID:          order.UserID,
			PickupEventID:   order.PickupEventID,
			RefundedCredits: refund,
			RestockedUnits:  restocked,
			CancelledAt:     now,
			Reason:          spec.reason,
		}
	case enums.OrderStatusPickupMissed:
		var eventID uuid.UUID
		if order.PickupEventID != nil {
			eventID = *order.PickupEventID
		}
		entry.Type = enums.ActivityOrderMissed
		entry.Description = fmt.Sprintf("Pickup missed, %d credits refunded", refund)
		event.EventType = enums.EventOrderPickupMissed
		event.Data = payloads.OrderPickupMissedEvent{
			OrderID:         order.ID,
			UserID:          order.UserID,
			PickupEventID:   eventID,
			RefundedCredits: refund,
			RestockedUnits:  restocked,
			MissedAt:        now,
		}
	default:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, fmt.Sprintf("cannot close order as %s", spec.to))
	}

	if spec.activity != "" {
		entry.Type = spec.activity
		entry.Description = fmt.Sprintf("%s, %d credits refunded", spec.reason, refund)
	}
	if err := s.activity.Record(ctx, tx, entry); err != nil {
		return nil, err
	}
	if err := s.outbox.Emit(ctx, tx, event); err != nil {
		return nil, pkgerrors.WrapDB(err, "emit order closed")
	}
	s.metrics.AddRefundedCredits(string(spec.to), refund)

	order.Status = spec.to
	order.UpdatedAt = now
	return &Resolution{
		OrderID:         order.ID,
		UserID:          order.UserID,
		Status:          spec.to,
		RefundedCredits: refund,
		RestockedUnits:  restocked,
	}, nil
}
