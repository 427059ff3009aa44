package checkout

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/membership-portal/internal/activity"
	"github.com/angelmondragon/membership-portal/internal/ledger"
	"github.com/angelmondragon/membership-portal/internal/notifications"
	"github.com/angelmondragon/membership-portal/pkg/checkout"
	"github.com/angelmondragon/membership-portal/pkg/config"
	"github.com/angelmondragon/membership-portal/pkg/db"
	"github.com/angelmondragon/membership-portal/pkg/db/models"
	"github.com/angelmondragon/membership-portal/pkg/enums"
	pkgerrors "github.com/angelmondragon/membership-portal/pkg/errors"
	"github.com/angelmondragon/membership-portal/pkg/logger"
	"github.com/angelmondragon/membership-portal/pkg/metrics"
	"github.com/angelmondragon/membership-portal/pkg/outbox"
	"github.com/angelmondragon/membership-portal/pkg/outbox/payloads"
)

// RateLimiter caps how often one member may place orders.
type RateLimiter interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// Service places orders against shared stock and member credits.
type Service interface {
	PlaceOrder(ctx context.Context, input PlaceOrderInput) (*PlacedOrder, error)
}

// PlaceOrderInput is a member's basket for one pickup event.
type PlaceOrderInput struct {
	UserID        uuid.UUID
	Lines         []checkout.BasketLine
	PickupEventID uuid.UUID
}

// PlacedOrder is a committed order plus the effects to run after commit.
type PlacedOrder struct {
	Order   *models.Order
	Quote   *Quote
	Effects []notifications.Effect
}

// ServiceParams wires the placement engine.
type ServiceParams struct {
	DB         *db.Client
	Repository Repository
	Ledger     ledger.Service
	Activity   activity.Recorder
	Outbox     outbox.Emitter
	Notifier   notifications.Notifier
	Limiter    RateLimiter
	Metrics    *metrics.StoreMetrics
	Config     config.StoreConfig
	Logger     *logger.Logger
}

type service struct {
	db       *db.Client
	repo     Repository
	ledger   ledger.Service
	activity activity.Recorder
	outbox   outbox.Emitter
	notifier notifications.Notifier
	limiter  RateLimiter
	metrics  *metrics.StoreMetrics
	cfg      config.StoreConfig
	logg     *logger.Logger
	now      func() time.Time
}

// NewService builds the order placement engine.
func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("db client required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("checkout repository required")
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
	cfg := params.Config
	if cfg.PurchaseLimitWindow <= 0 {
		cfg.PurchaseLimitWindow = 30 * 24 * time.Hour
	}
	return &service{
		db:       params.DB,
		repo:     params.Repository,
		ledger:   params.Ledger,
		activity: params.Activity,
		outbox:   params.Outbox,
		notifier: params.Notifier,
		limiter:  params.Limiter,
		metrics:  params.Metrics,
		cfg:      cfg,
		logg:     logg,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// PlaceOrder runs the whole check-then-act sequence in one transaction and
// re-runs it from scratch when the database reports a serialization conflict.
func (s *service) PlaceOrder(ctx context.Context, input PlaceOrderInput) (*PlacedOrder, error) {
	started := time.Now()
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if input.PickupEventID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "pickupEvent is required")
	}
	if err := checkout.ValidateBasketShape(input.Lines); err != nil {
		s.metrics.ObservePlacement(metrics.OutcomeRejected, time.Since(started))
		return nil, err
	}
	ctx = s.logg.WithUserID(ctx, input.UserID.String())
	if err := s.allow(ctx, input.UserID); err != nil {
		s.metrics.ObservePlacement(metrics.OutcomeRejected, time.Since(started))
		return nil, err
	}

	policy := db.RetryPolicyFor(s.cfg)
	var (
		placed   *PlacedOrder
		pickup   *models.OrderPickupEvent
		buyer    *models.User
		attempts int
	)
	err := s.db.WithRetryTx(ctx, policy, func(tx *gorm.DB) error {
		attempts++
		if attempts > 1 {
			s.metrics.IncPlacementRetry()
			s.logg.Warn(s.logg.WithField(ctx, "attempt", attempts), "retrying order placement after conflict")
		}
		result, user, event, err := s.placeInTx(ctx, tx, input)
		if err != nil {
			return err
		}
		placed, buyer, pickup = result, user, event
		return nil
	})
	if err != nil {
		return nil, s.placementFailed(ctx, err, started)
	}

	s.metrics.ObservePlacement(metrics.OutcomePlaced, time.Since(started))
	placed.Effects = s.confirmationEffects(buyer, placed, pickup)
	s.logg.Info(s.logg.WithFields(s.logg.WithOrderID(ctx, placed.Order.ID.String()), map[string]any{
		"total_cost": placed.Order.TotalCost,
		"units":      len(placed.Order.Items),
		"attempts":   attempts,
	}), "order placed")
	return placed, nil
}

func (s *service) placementFailed(ctx context.Context, err error, started time.Time) error {
	elapsed := time.Since(started)
	if errors.Is(err, db.ErrRetriesExhausted) {
		s.metrics.ObservePlacement(metrics.OutcomeContended, elapsed)
		s.logg.Warn(ctx, "order placement retries exhausted")
		return pkgerrors.Wrap(pkgerrors.CodeContention, err, "order placement contention")
	}
	if typed := pkgerrors.As(err); typed != nil {
		switch typed.Code() {
		case pkgerrors.CodeUserError, pkgerrors.CodeValidation, pkgerrors.CodeNotFound:
			s.metrics.ObservePlacement(metrics.OutcomeRejected, elapsed)
			return err
		}
	}
	s.metrics.ObservePlacement(metrics.OutcomeError, elapsed)
	s.logg.Error(ctx, "order placement failed", err)
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "place order")
}

func (s *service) allow(ctx context.Context, userID uuid.UUID) error {
	if s.limiter == nil || s.cfg.PlaceRateLimit <= 0 {
		return nil
	}
	ok, _, err := s.limiter.FixedWindowAllow(ctx, "store:place:"+userID.String(), s.cfg.PlaceRateLimit, s.cfg.PlaceRateWindow)
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "placement rate limit unavailable")
		return nil
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeRateLimited, "too many orders placed, try again shortly")
	}
	return nil
}

func (s *service) placeInTx(ctx context.Context, tx *gorm.DB, input PlaceOrderInput) (*PlacedOrder, *models.User, *models.OrderPickupEvent, error) {
	repo := s.repo.WithTx(tx)
	now := s.now()

	user, err := repo.FindUser(ctx, input.UserID)
	if err != nil {
		return nil, nil, nil, notFoundOr(err, "user not found", "load user")
	}
	balance, err := s.ledger.GetBalance(ctx, tx, user.ID)
	if err != nil {
		return nil, nil, nil, err
	}

	snapshot, err := s.readSnapshot(ctx, repo, user.ID, balance, input.Lines, now)
	if err != nil {
		return nil, nil, nil, err
	}

	event, err := repo.LockPickupEvent(ctx, input.PickupEventID)
	if err != nil {
		return nil, nil, nil, notFoundOr(err, "pickup event not found", "lock pickup event")
	}

	quote, err := Check(snapshot, input.Lines)
	if err != nil {
		return nil, nil, nil, err
	}

	attached, err := repo.CountAttachedOrders(ctx, event.ID)
	if err != nil {
		return nil, nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count pickup orders")
	}
	if err := checkPickupOpen(event, attached, now); err != nil {
		return nil, nil, nil, err
	}

	order := &models.Order{
		ID:            uuid.New(),
		UserID:        user.ID,
		TotalCost:     quote.Total,
		Status:        enums.OrderStatusPlaced,
		OrderedAt:     now,
		PickupEventID: &event.ID,
		UpdatedAt:     now,
	}
	for _, line := range quote.Lines {
		ok, err := repo.DecrementStock(ctx, line.OptionID, line.Quantity, now)
		if err != nil {
			return nil, nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decrement stock")
		}
		if !ok {
			return nil, nil, nil, StockError(line.ItemName)
		}
		for i := 0; i < line.Quantity; i++ {
			order.Items = append(order.Items, models.OrderItem{
				ID:                           uuid.New(),
				OrderID:                      order.ID,
				OptionID:                     line.OptionID,
				SalePriceAtPurchase:          line.Price,
				DiscountPercentageAtPurchase: line.DiscountPercentage,
				CreatedAt:                    now,
			})
		}
	}
	if err := repo.CreateOrder(ctx, order); err != nil {
		return nil, nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
	}

	if _, err := s.ledger.Debit(ctx, tx, ledger.EntryInput{
		UserID:  user.ID,
		OrderID: &order.ID,
		Type:    enums.LedgerEventTypePurchase,
		Amount:  order.TotalCost,
	}); err != nil {
		return nil, nil, nil, err
	}

	if err := s.activity.Record(ctx, tx, activity.Entry{
		UserID:       user.ID,
		Type:         enums.ActivityOrderPlaced,
		Description:  fmt.Sprintf("Ordered %d item(s) from the store", len(order.Items)),
		PointsEarned: -order.TotalCost,
	}); err != nil {
		return nil, nil, nil, err
	}

	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderPlaced,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         &outbox.ActorRef{UserID: user.ID, Role: user.Role},
		OccurredAt:    now,
		Data: payloads.OrderPlacedEvent{
			OrderID:       order.ID,
			UserID:        user.ID,
			PickupEventID: order.PickupEventID,
			TotalCost:     order.TotalCost,
			ItemCount:     len(order.Items),
			OrderedAt:     now,
		},
	}); err != nil {
		return nil, nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit order placed")
	}

	return &PlacedOrder{Order: order, Quote: quote}, user, event, nil
}

// readSnapshot locks the basket's options and loads what the checker needs.
func (s *service) readSnapshot(ctx context.Context, repo Repository, userID uuid.UUID, balance int, lines []checkout.BasketLine, now time.Time) (Snapshot, error) {
	optionIDs := make([]uuid.UUID, 0, len(lines))
	for _, line := range lines {
		optionIDs = append(optionIDs, line.OptionID)
	}
	sort.Slice(optionIDs, func(i, j int) bool { return optionIDs[i].String() < optionIDs[j].String() })

	options, err := repo.LockOptions(ctx, optionIDs)
	if err != nil {
		return Snapshot{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock options")
	}
	itemIDs := uniqueIDs(len(options), func(i int) uuid.UUID { return options[i].ItemID })
	items, err := repo.LoadItems(ctx, itemIDs)
	if err != nil {
		return Snapshot{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load items")
	}
	collectionIDs := uniqueIDs(len(items), func(i int) uuid.UUID { return items[i].CollectionID })
	collections, err := repo.LoadCollections(ctx, collectionIDs)
	if err != nil {
		return Snapshot{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load collections")
	}
	counts, err := repo.PurchaseCounts(ctx, userID, itemIDs, now.Add(-s.cfg.PurchaseLimitWindow))
	if err != nil {
		return Snapshot{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count purchases")
	}

	itemByID := make(map[uuid.UUID]models.MerchItem, len(items))
	for _, item := range items {
		itemByID[item.ID] = item
	}
	collectionByID := make(map[uuid.UUID]models.MerchCollection, len(collections))
	for _, collection := range collections {
		collectionByID[collection.ID] = collection
	}
	snapshot := Snapshot{
		Credits:   balance,
		Options:   make(map[uuid.UUID]OptionState, len(options)),
		Purchases: counts,
	}
	for _, option := range options {
		item := itemByID[option.ItemID]
		snapshot.Options[option.ID] = OptionState{
			Option:     option,
			Item:       item,
			Collection: collectionByID[item.CollectionID],
		}
	}
	return snapshot, nil
}

func checkPickupOpen(event *models.OrderPickupEvent, attached int64, now time.Time) error {
	if event.Status != enums.PickupEventStatusActive {
		return pkgerrors.NewUserError(ReasonPickupInactive, event.Title,
			fmt.Sprintf("pickup event %s is not accepting orders", event.Title))
	}
	if !now.Before(event.End) {
		return pkgerrors.NewUserError(ReasonPickupClosed, event.Title,
			fmt.Sprintf("pickup event %s has already ended", event.Title))
	}
	if attached >= int64(event.OrderLimit) {
		return pkgerrors.NewUserError(ReasonPickupFull, event.Title,
			fmt.Sprintf("pickup event %s is full", event.Title))
	}
	return nil
}

func (s *service) confirmationEffects(user *models.User, placed *PlacedOrder, event *models.OrderPickupEvent) []notifications.Effect {
	if s.notifier == nil || user == nil {
		return nil
	}
	to := notifications.Recipient{UserID: user.ID, Email: user.Email, FirstName: user.DisplayName()}
	summary := notifications.OrderSummary{
		OrderID:   placed.Order.ID,
		TotalCost: placed.Order.TotalCost,
	}
	for _, line := range placed.Quote.Lines {
		summary.Lines = append(summary.Lines, notifications.OrderLine{
			ItemName:  line.ItemName,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			LineTotal: line.LineTotal,
		})
	}
	if event != nil {
		start := event.Start
		summary.PickupTitle = event.Title
		summary.PickupStart = &start
	}
	notifier := s.notifier
	return []notifications.Effect{{
		Name: "order_confirmation_email",
		Run: func(ctx context.Context) error {
			return notifier.SendOrderConfirmation(ctx, to, summary)
		},
	}}
}

func uniqueIDs(n int, at func(i int) uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, n)
	out := make([]uuid.UUID, 0, n)
	for i := 0; i < n; i++ {
		id := at(i)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func notFoundOr(err error, notFound, op string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, notFound)
	}
	return pkgerrors.WrapDB(err, op)
}
