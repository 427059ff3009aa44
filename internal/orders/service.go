package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/membership-portal/internal/activity"
	"github.com/angelmondragon/membership-portal/internal/ledger"
	"github.com/angelmondragon/membership-portal/pkg/db"
	"github.com/angelmondragon/membership-portal/pkg/db/models"
	"github.com/angelmondragon/membership-portal/pkg/enums"
	pkgerrors "github.com/angelmondragon/membership-portal/pkg/errors"
	"github.com/angelmondragon/membership-portal/pkg/logger"
	"github.com/angelmondragon/membership-portal/pkg/metrics"
	"github.com/angelmondragon/membership-portal/pkg/outbox"
	"github.com/angelmondragon/membership-portal/pkg/outbox/payloads"
	"github.com/angelmondragon/membership-portal/pkg/pagination"
)

// Rejection reasons for fulfillment attempts outside a usable pickup window.
const (
	ReasonNoPickupEvent       = "no_pickup_event"
	ReasonPickupInactive      = "pickup_event_not_active"
	ReasonOutsidePickupWindow = "outside_pickup_window"
	ReasonDoubleFulfillment   = "double_fulfillment"
)

type txRunner interface {
	WithRetryTx(ctx context.Context, policy db.RetryPolicy, fn func(tx *gorm.DB) error) error
}

// Actor is the authenticated caller.
type Actor struct {
	UserID uuid.UUID
	Role   enums.UserRole
}

// IsAdmin reports whether the actor may act on other members' orders.
func (a Actor) IsAdmin() bool {
	return a.Role == enums.UserRoleAdmin
}

func (a Actor) ref() *outbox.ActorRef {
	if a.UserID == uuid.Nil {
		return nil
	}
	return &outbox.ActorRef{UserID: a.UserID, Role: a.Role}
}

// Service defines the order fulfillment workflow.
type Service interface {
	Get(ctx context.Context, orderID uuid.UUID, actor Actor) (*OrderDetail, error)
	List(ctx context.Context, actor Actor, input ListInput) (*OrderList, error)
	Fulfill(ctx context.Context, input FulfillInput) (*OrderDetail, error)
	Cancel(ctx context.Context, orderID uuid.UUID, actor Actor) (*Resolution, error)
	MarkMissed(ctx context.Context, pickupEventID uuid.UUID) ([]Resolution, error)
	MarkMissedTx(ctx context.Context, tx *gorm.DB, pickupEventID uuid.UUID) ([]Resolution, error)
	CancelForPickupEventTx(ctx context.Context, tx *gorm.DB, pickupEventID uuid.UUID, reason string, actor Actor) ([]Resolution, error)
}

// ListInput selects which orders to list. Only admins may widen the scope
// beyond their own orders.
type ListInput struct {
	All           bool
	PickupEventID *uuid.UUID
	Status        *enums.OrderStatus
	Limit         int
	Cursor        string
}

// FulfillItem names one order item to hand out.
type FulfillItem struct {
	ItemID uuid.UUID
	Notes  *string
}

// FulfillInput is an admin's fulfillment request for one order. A nil OrderID
// means the order is found from the items, which must all belong to it.
type FulfillInput struct {
	OrderID uuid.UUID
	Items   []FulfillItem
	Actor   Actor
}

// ServiceParams wires the fulfillment workflow.
type ServiceParams struct {
	Repository Repository
	DB         txRunner
	Ledger     ledger.Service
	Activity   activity.Recorder
	Outbox     outbox.Emitter
	Metrics    *metrics.StoreMetrics
	Logger     *logger.Logger
	// Retry bounds how often a transaction is re-run after a serialization
	// conflict. The zero value uses the db package defaults.
	Retry db.RetryPolicy
}

type service struct {
	repo     Repository
	tx       txRunner
	retry    db.RetryPolicy
	ledger   ledger.Service
	activity activity.Recorder
	outbox   outbox.Emitter
	metrics  *metrics.StoreMetrics
	logg     *logger.Logger
	now      func() time.Time
}

// NewService builds the order workflow with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if params.Activity == nil {
		return nil, fmt.Errorf("activity recorder required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		repo:     params.Repository,
		tx:       params.DB,
		retry:    params.Retry,
		ledger:   params.Ledger,
		activity: params.Activity,
		outbox:   params.Outbox,
		metrics:  params.Metrics,
		logg:     logg,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *service) Get(ctx context.Context, orderID uuid.UUID, actor Actor) (*OrderDetail, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.repo.FindOrder(ctx, orderID)
	if err != nil {
		return nil, notFoundOr(err, "order not found", "load order")
	}
	if !actor.IsAdmin() && order.UserID != actor.UserID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to user")
	}
	detail, err := s.render(ctx, order)
	if err != nil {
		return nil, err
	}
	entries, err := s.ledger.OrderEntries(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	detail.Credits = ledger.NewMovements(entries)
	return detail, nil
}

func (s *service) List(ctx context.Context, actor Actor, input ListInput) (*OrderList, error) {
	if actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	widened := input.All || input.PickupEventID != nil
	if widened && !actor.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only admins may list other members' orders")
	}
	filters := ListFilters{PickupEventID: input.PickupEventID, Status: input.Status}
	if !widened {
		userID := actor.UserID
		filters.UserID = &userID
	}
	cursor, err := pagination.ParseCursor(input.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	rows, err := s.repo.ListOrders(ctx, filters, cursor, input.Limit)
	if err != nil {
		return nil, pkgerrors.WrapDB(err, "list orders")
	}
	page, next := pagination.Trim(rows, input.Limit, func(order models.Order) pagination.Cursor {
		return pagination.Cursor{At: order.OrderedAt, ID: order.ID}
	})
	refs, err := s.repo.ItemRefs(ctx, optionIDsOf(page...))
	if err != nil {
		return nil, pkgerrors.WrapDB(err, "load item names")
	}
	list := &OrderList{Orders: make([]OrderDetail, 0, len(page)), NextCursor: next}
	for i := range page {
		list.Orders = append(list.Orders, NewOrderDetail(&page[i], refs))
	}
	return list, nil
}

func (s *service) Fulfill(ctx context.Context, input FulfillInput) (*OrderDetail, error) {
	if !input.Actor.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "admin role required")
	}
	if err := validateFulfillItems(input.Items); err != nil {
		return nil, err
	}

	var order *models.Order
	err := s.inRetryTx(ctx, "order fulfillment", func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		now := s.now()

		orderID := input.OrderID
		if orderID == uuid.Nil {
			resolved, err := resolveOrderID(ctx, repo, input.Items)
			if err != nil {
				return err
			}
			orderID = resolved
		}
		locked, err := repo.LockOrder(ctx, orderID)
		if err != nil {
			return notFoundOr(err, "order not found", "lock order")
		}
		if locked.Status.IsTerminal() {
			return pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("order is %s", locked.Status))
		}
		if err := s.checkPickupWindow(ctx, repo, locked, now); err != nil {
			return err
		}

		byID := make(map[uuid.UUID]int, len(locked.Items))
		for i, item := range locked.Items {
			byID[item.ID] = i
		}
		for _, requested := range input.Items {
			idx, ok := byID[requested.ItemID]
			if !ok {
				return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("order item %s not found on order", requested.ItemID))
			}
			if locked.Items[idx].Fulfilled {
				return doubleFulfillment(requested.ItemID)
			}
		}

		fulfilledIDs := make([]uuid.UUID, 0, len(input.Items))
		for _, requested := range input.Items {
			ok, err := repo.MarkItemFulfilled(ctx, requested.ItemID, requested.Notes, now)
			if err != nil {
				return pkgerrors.WrapDB(err, "fulfill order item")
			}
			if !ok {
				return doubleFulfillment(requested.ItemID)
			}
			item := &locked.Items[byID[requested.ItemID]]
			item.Fulfilled = true
			item.FulfilledAt = &now
			if requested.Notes != nil {
				item.Notes = requested.Notes
			}
			fulfilledIDs = append(fulfilledIDs, requested.ItemID)
		}

		status := enums.OrderStatusFulfilled
		for _, item := range locked.Items {
			if !item.Fulfilled {
				status = enums.OrderStatusPartiallyFulfilled
				break
			}
		}
		ok, err := repo.TransitionStatus(ctx, locked.ID,
			[]enums.OrderStatus{enums.OrderStatusPlaced, enums.OrderStatusPartiallyFulfilled}, status, now)
		if err != nil {
			return pkgerrors.WrapDB(err, "update order status")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeConflict, "order changed during fulfillment")
		}
		locked.Status = status
		locked.UpdatedAt = now

		if err := s.activity.Record(ctx, tx, activity.Entry{
			UserID:      locked.UserID,
			Type:        enums.ActivityOrderFulfilled,
			Description: fmt.Sprintf("Picked up %d item(s)", len(fulfilledIDs)),
		}); err != nil {
			return err
		}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderFulfilled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   locked.ID,
			Actor:         input.Actor.ref(),
			OccurredAt:    now,
			Data: payloads.OrderFulfilledEvent{
				OrderID:        locked.ID,
				UserID:         locked.UserID,
				Status:         status,
				FulfilledItems: fulfilledIDs,
				FulfilledAt:    now,
			},
		}); err != nil {
			return pkgerrors.WrapDB(err, "emit order fulfilled")
		}
		order = locked
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.AddFulfilledItems(len(input.Items))
	s.logg.Info(s.logg.WithFields(s.logg.WithOrderID(ctx, order.ID.String()), map[string]any{
		"status": order.Status,
		"items":  len(input.Items),
	}), "order fulfilled")
	return s.render(ctx, order)
}

func (s *service) Cancel(ctx context.Context, orderID uuid.UUID, actor Actor) (*Resolution, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}

	var resolution *Resolution
	err := s.inRetryTx(ctx, "order cancellation", func(tx *gorm.DB) error {
		order, err := s.repo.WithTx(tx).LockOrder(ctx, orderID)
		if err != nil {
			return notFoundOr(err, "order not found", "lock order")
		}
		if !actor.IsAdmin() && order.UserID != actor.UserID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to user")
		}
		if order.Status != enums.OrderStatusPlaced {
			return pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("only placed orders can be cancelled, order is %s", order.Status))
		}
		for _, item := range order.Items {
			if item.Fulfilled {
				return pkgerrors.New(pkgerrors.CodeConflict, "order has fulfilled items")
			}
		}
		reason := "cancelled by member"
		if actor.IsAdmin() && order.UserID != actor.UserID {
			reason = "cancelled by admin"
		}
		resolution, err = s.closeOrder(ctx, tx, order, closeSpec{
			from:   []enums.OrderStatus{enums.OrderStatusPlaced},
			to:     enums.OrderStatusCancelled,
			reason: reason,
			actor:  actor.ref(),
		}, s.now())
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithFields(s.logg.WithOrderID(ctx, orderID.String()), map[string]any{
		"refunded_credits": resolution.RefundedCredits,
		"restocked_units":  resolution.RestockedUnits,
	}), "order cancelled")
	return resolution, nil
}

// MarkMissed resolves every open order on a pickup event whose window has closed.
func (s *service) MarkMissed(ctx context.Context, pickupEventID uuid.UUID) ([]Resolution, error) {
	event, err := s.repo.FindPickupEvent(ctx, pickupEventID)
	if err != nil {
		return nil, notFoundOr(err, "pickup event not found", "load pickup event")
	}
	if s.now().Before(event.End) {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "pickup window has not closed")
	}
	var resolutions []Resolution
	err = s.inRetryTx(ctx, "missed pickup resolution", func(tx *gorm.DB) error {
		var err error
		resolutions, err = s.MarkMissedTx(ctx, tx, pickupEventID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return resolutions, nil
}

// MarkMissedTx runs the missed-pickup resolution inside the caller's transaction.
func (s *service) MarkMissedTx(ctx context.Context, tx *gorm.DB, pickupEventID uuid.UUID) ([]Resolution, error) {
	open, err := s.repo.WithTx(tx).LockOpenOrdersByPickupEvent(ctx, pickupEventID)
	if err != nil {
		return nil, pkgerrors.WrapDB(err, "lock pickup orders")
	}
	now := s.now()
	out := make([]Resolution, 0, len(open))
	for i := range open {
		resolution, err := s.closeOrder(ctx, tx, &open[i], closeSpec{
			from: []enums.OrderStatus{enums.OrderStatusPlaced, enums.OrderStatusPartiallyFulfilled},
			to:   enums.OrderStatusPickupMissed,
		}, now)
		if err != nil {
			return nil, err
		}
		out = append(out, *resolution)
	}
	if len(out) > 0 {
		s.logg.Info(s.logg.WithFields(s.logg.WithPickupEventID(ctx, pickupEventID.String()), map[string]any{
			"missed_orders": len(out),
		}), "pickup orders marked missed")
	}
	return out, nil
}

// CancelForPickupEventTx cancels every open order on a pickup event, refunding
// the units that were not handed out.
func (s *service) CancelForPickupEventTx(ctx context.Context, tx *gorm.DB, pickupEventID uuid.UUID, reason string, actor Actor) ([]Resolution, error) {
	open, err := s.repo.WithTx(tx).LockOpenOrdersByPickupEvent(ctx, pickupEventID)
	if err != nil {
		return nil, pkgerrors.WrapDB(err, "lock pickup orders")
	}
	now := s.now()
	out := make([]Resolution, 0, len(open))
	for i := range open {
		resolution, err := s.closeOrder(ctx, tx, &open[i], closeSpec{
			from:     []enums.OrderStatus{enums.OrderStatusPlaced, enums.OrderStatusPartiallyFulfilled},
			to:       enums.OrderStatusCancelled,
			reason:   reason,
			actor:    actor.ref(),
			activity: enums.ActivityPickupEventCancelled,
		}, now)
		if err != nil {
			return nil, err
		}
		out = append(out, *resolution)
	}
	return out, nil
}

// inRetryTx runs fn in a transaction that is re-run from the start after a
// serialization conflict. A re-run sees the winner's commit, so a repeated
// fulfillment fails as a double fulfillment rather than a dependency error.
func (s *service) inRetryTx(ctx context.Context, op string, fn func(tx *gorm.DB) error) error {
	attempts := 0
	err := s.tx.WithRetryTx(ctx, s.retry, func(tx *gorm.DB) error {
		attempts++
		if attempts > 1 {
			s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
				"operation": op,
				"attempt":   attempts,
			}), "retrying order update after conflict")
		}
		return fn(tx)
	})
	return db.Contended(err, op+" contention")
}

// resolveOrderID finds the single order holding every requested item.
func resolveOrderID(ctx context.Context, repo Repository, items []FulfillItem) (uuid.UUID, error) {
	itemIDs := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		itemIDs = append(itemIDs, item.ItemID)
	}
	orderIDs, err := repo.OrderIDsForItems(ctx, itemIDs)
	if err != nil {
		return uuid.Nil, pkgerrors.WrapDB(err, "resolve order")
	}
	switch len(orderIDs) {
	case 0:
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeNotFound, "order items not found")
	case 1:
		return orderIDs[0], nil
	default:
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "items belong to more than one order").
			WithDetails(map[string]any{"orders": len(orderIDs)})
	}
}

func (s *service) checkPickupWindow(ctx context.Context, repo Repository, order *models.Order, now time.Time) error {
	if order.PickupEventID == nil {
		return pkgerrors.NewUserError(ReasonNoPickupEvent, "", "order has no pickup event")
	}
	event, err := repo.FindPickupEvent(ctx, *order.PickupEventID)
	if err != nil {
		return notFoundOr(err, "pickup event not found", "load pickup event")
	}
	if event.Status != enums.PickupEventStatusActive {
		return pkgerrors.NewUserError(ReasonPickupInactive, event.Title,
			fmt.Sprintf("pickup event %s is %s", event.Title, event.Status))
	}
	if now.Before(event.Start) || !now.Before(event.End) {
		return pkgerrors.NewUserError(ReasonOutsidePickupWindow, event.Title,
			fmt.Sprintf("pickup event %s is not in progress", event.Title))
	}
	return nil
}

func (s *service) render(ctx context.Context, order *models.Order) (*OrderDetail, error) {
	refs, err := s.repo.ItemRefs(ctx, optionIDsOf(*order))
	if err != nil {
		return nil, pkgerrors.WrapDB(err, "load item names")
	}
	detail := NewOrderDetail(order, refs)
	return &detail, nil
}

func validateFulfillItems(items []FulfillItem) error {
	if len(items) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "at least one item is required")
	}
	seen := make(map[uuid.UUID]struct{}, len(items))
	for _, item := range items {
		if item.ItemID == uuid.Nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "item uuid is required")
		}
		if _, dup := seen[item.ItemID]; dup {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("item %s listed twice", item.ItemID))
		}
		seen[item.ItemID] = struct{}{}
	}
	return nil
}

func doubleFulfillment(itemID uuid.UUID) error {
	return pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("order item %s is already fulfilled", itemID)).
		WithDetails(map[string]any{"reason": ReasonDoubleFulfillment, "item": itemID.String()})
}

func notFoundOr(err error, notFound, op string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, notFound)
	}
	return pkgerrors.WrapDB(err, op)
}
