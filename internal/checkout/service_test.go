package checkout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/membership-portal/internal/activity"
	"github.com/angelmondragon/membership-portal/internal/ledger"
	"github.com/angelmondragon/membership-portal/internal/notifications"
	"github.com/angelmondragon/membership-portal/internal/storetest"
	"github.com/angelmondragon/membership-portal/pkg/checkout"
	"github.com/angelmondragon/membership-portal/pkg/config"
	"github.com/angelmondragon/membership-portal/pkg/db"
	"github.com/angelmondragon/membership-portal/pkg/db/models"
	"github.com/angelmondragon/membership-portal/pkg/enums"
	pkgerrors "github.com/angelmondragon/membership-portal/pkg/errors"
	"github.com/angelmondragon/membership-portal/pkg/logger"
	"github.com/angelmondragon/membership-portal/pkg/metrics"
	"github.com/angelmondragon/membership-portal/pkg/outbox"
)

type fixture struct {
	conn     *gorm.DB
	svc      Service
	pickup   *models.OrderPickupEvent
	coll     *models.MerchCollection
	notifier *recordingNotifier
}

type recordingNotifier struct {
	mu        sync.Mutex
	confirmed []notifications.OrderSummary
}

func (r *recordingNotifier) SendOrderConfirmation(_ context.Context, _ notifications.Recipient, order notifications.OrderSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.confirmed = append(r.confirmed, order)
	return nil
}

func (r *recordingNotifier) SendOrderCancelled(context.Context, notifications.Recipient, uuid.UUID, int, string) error {
	return nil
}

func (r *recordingNotifier) SendPickupMissed(context.Context, notifications.Recipient, uuid.UUID, int) error {
	return nil
}

type stubLimiter struct {
	allow bool
	err   error
	calls int
}

func (s *stubLimiter) FixedWindowAllow(context.Context, string, int64, time.Duration) (bool, int64, error) {
	s.calls++
	return s.allow, int64(s.calls), s.err
}

type options struct {
	repo    func(Repository) Repository
	limiter RateLimiter
	cfg     *config.StoreConfig
}

func newFixture(t *testing.T, opts options) *fixture {
	t.Helper()
	conn := storetest.OpenDB(t)
	ledgerSvc, err := ledger.NewService(ledger.NewRepository(conn))
	require.NoError(t, err)
	activitySvc, err := activity.NewService(activity.NewRepository(conn))
	require.NoError(t, err)

	repo := NewRepository(conn)
	if opts.repo != nil {
		repo = opts.repo(repo)
	}
	cfg := config.StoreConfig{
		PurchaseLimitWindow: 30 * 24 * time.Hour,
		PlaceMaxAttempts:    3,
		PlaceInitialBackoff: time.Millisecond,
		PlaceMaximumBackoff: 2 * time.Millisecond,
		PlaceRateLimit:      10,
		PlaceRateWindow:     time.Minute,
	}
	if opts.cfg != nil {
		cfg = *opts.cfg
	}
	notifier := &recordingNotifier{}
	svc, err := NewService(ServiceParams{
		DB:         db.NewFromGorm(conn),
		Repository: repo,
		Ledger:     ledgerSvc,
		Activity:   activitySvc,
		Outbox:     outbox.NewService(outbox.NewRepository(conn), logger.Nop()),
		Notifier:   notifier,
		Limiter:    opts.limiter,
		Metrics:    metrics.NewStoreMetrics(prometheus.NewRegistry()),
		Config:     cfg,
		Logger:     logger.Nop(),
	})
	require.NoError(t, err)

	now := time.Now().UTC()
	return &fixture{
		conn:     conn,
		svc:      svc,
		pickup:   storetest.SeedPickupEvent(t, conn, now.Add(24*time.Hour), now.Add(26*time.Hour), 100),
		coll:     storetest.SeedCollection(t, conn, "Spring"),
		notifier: notifier,
	}
}

func (f *fixture) place(user *models.User, lines ...checkout.BasketLine) (*PlacedOrder, error) {
	return f.svc.PlaceOrder(context.Background(), PlaceOrderInput{
		UserID:        user.ID,
		Lines:         lines,
		PickupEventID: f.pickup.ID,
	})
}

func line(optionID uuid.UUID, quantity int) checkout.BasketLine {
	return checkout.BasketLine{OptionID: optionID, Quantity: quantity}
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{})
	assert.Error(t, err)
}

func TestPlaceOrderChargesDiscountedPricePerUnit(t *testing.T) {
	f := newFixture(t, options{})
	user := storetest.SeedUser(t, f.conn, 5000)
	_, option := storetest.SeedItem(t, f.conn, f.coll.ID, storetest.ItemSpec{Name: "Hoodie", Price: 1000, Discount: 10, Quantity: 5})

	placed, err := f.place(user, line(option.ID, 2))
	require.NoError(t, err)

	order := placed.Order
	assert.Equal(t, 1800, order.TotalCost)
	assert.Equal(t, enums.OrderStatusPlaced, order.Status)
	require.Len(t, order.Items, 2)
	for _, item := range order.Items {
		assert.Equal(t, 1000, item.SalePriceAtPurchase)
		assert.Equal(t, 10, item.DiscountPercentageAtPurchase)
		assert.False(t, item.Fulfilled)
	}

	assert.Equal(t, 3200, storetest.Credits(t, f.conn, user.ID))
	assert.Equal(t, 3, storetest.Stock(t, f.conn, option.ID))
	assert.EqualValues(t, 2, storetest.Count(t, f.conn, &models.OrderItem{}, "order_id = ?", order.ID))
	assert.EqualValues(t, 1, storetest.Count(t, f.conn, &models.CreditLedgerEvent{}, "order_id = ? AND amount = ?", order.ID, -1800))
	assert.EqualValues(t, 1, storetest.Count(t, f.conn, &models.Activity{}, "user_id = ? AND points_earned = ?", user.ID, -1800))
	assert.EqualValues(t, 1, storetest.Count(t, f.conn, &models.OutboxEvent{}, "event_type = ?", enums.EventOrderPlaced))
}

func TestPlaceOrderSpendsExactBalance(t *testing.T) {
	f := newFixture(t, options{})
	user := storetest.SeedUser(t, f.conn, 1000)
	_, option := storetest.SeedItem(t, f.conn, f.coll.ID, storetest.ItemSpec{Name: "Tee", Price: 500, Quantity: 10})

	placed, err := f.place(user, line(option.ID, 2))
	require.NoError(t, err)
	assert.Equal(t, 1000, placed.Order.TotalCost)
	assert.Zero(t, storetest.Credits(t, f.conn, user.ID))
}

func TestPlaceOrderMonthlyLimitAcrossOrders(t *testing.T) {
	f := newFixture(t, options{})
	user := storetest.SeedUser(t, f.conn, 5000)
	_, option := storetest.SeedItem(t, f.conn, f.coll.ID, storetest.ItemSpec{
		Name: "Mug", Price: 100, Quantity: 10, MonthlyLimit: storetest.IntPtr(1),
	})

	_, err := f.place(user, line(option.ID, 1))
	require.NoError(t, err)

	_, err = f.place(user, line(option.ID, 1))
	require.Error(t, err)
	assert.Equal(t, ReasonMonthlyLimit, reasonOf(t, err))
	assert.Contains(t, err.Error(), "Mug")
	assert.Equal(t, 9, storetest.Stock(t, f.conn, option.ID))
	assert.Equal(t, 4900, storetest.Credits(t, f.conn, user.ID))
}

func TestPlaceOrderLimitIgnoresCancelledOrders(t *testing.T) {
	f := newFixture(t, options{})
	user := storetest.SeedUser(t, f.conn, 5000)
	_, option := storetest.SeedItem(t, f.conn, f.coll.ID, storetest.ItemSpec{
		Name: "Mug", Price: 100, Quantity: 10, LifetimeLimit: storetest.IntPtr(1),
	})

	placed, err := f.place(user, line(option.ID, 1))
	require.NoError(t, err)
	require.NoError(t, f.conn.Model(&models.Order{}).
		Where("id = ?", placed.Order.ID).
		Update("status", enums.OrderStatusCancelled).Error)

	_, err = f.place(user, line(option.ID, 1))
	require.NoError(t, err)
}

func TestPlaceOrderLimitOutsideWindow(t *testing.T) {
	f := newFixture(t, options{})
	user := storetest.SeedUser(t, f.conn, 5000)
	_, option := storetest.SeedItem(t, f.conn, f.coll.ID, storetest.ItemSpec{
		Name: "Mug", Price: 100, Quantity: 10, MonthlyLimit: storetest.IntPtr(1), LifetimeLimit: storetest.IntPtr(2),
	})

	placed, err := f.place(user, line(option.ID, 1))
	require.NoError(t, err)
	require.NoError(t, f.conn.Model(&models.Order{}).
		Where("id = ?", placed.Order.ID).
		Update("ordered_at", time.Now().UTC().Add(-40*24*time.Hour)).Error)

	_, err = f.place(user, line(option.ID, 1))
	require.NoError(t, err, "monthly window has rolled over")

	_, err = f.place(user, line(option.ID, 1))
	require.Error(t, err)
	assert.Equal(t, ReasonMonthlyLimit, reasonOf(t, err))
}

func TestPlaceOrderRejectsWithoutSideEffects(t *testing.T) {
	f := newFixture(t, options{})
	user := storetest.SeedUser(t, f.conn, 100)
	_, cheap := storetest.SeedItem(t, f.conn, f.coll.ID, storetest.ItemSpec{Name: "Pin", Price: 50, Quantity: 5})
	_, pricey := storetest.SeedItem(t, f.conn, f.coll.ID, storetest.ItemSpec{Name: "Jacket", Price: 500, Quantity: 5})

	_, err := f.place(user, line(cheap.ID, 1), line(pricey.ID, 1))
	require.Error(t, err)
	assert.Equal(t, ledger.ReasonInsufficientCredits, reasonOf(t, err))

	assert.Equal(t, 100, storetest.Credits(t, f.conn, user.ID))
	assert.Equal(t, 5, storetest.Stock(t, f.conn, cheap.ID))
	assert.Equal(t, 5, storetest.Stock(t, f.conn, pricey.ID))
	assert.Zero(t, storetest.Count(t, f.conn, &models.Order{}, ""))
	assert.Zero(t, storetest.Count(t, f.conn, &models.OrderItem{}, ""))
	assert.Zero(t, storetest.Count(t, f.conn, &models.CreditLedgerEvent{}, ""))
	assert.Zero(t, storetest.Count(t, f.conn, &models.OutboxEvent{}, ""))
}

func TestPlaceOrderRejectsHiddenItem(t *testing.T) {
	f := newFixture(t, options{})
	user := storetest.SeedUser(t, f.conn, 1000)
	_, option := storetest.SeedItem(t, f.conn, f.coll.ID, storetest.ItemSpec{Name: "Secret", Hidden: true, Price: 10, Quantity: 5})

	_, err := f.place(user, line(option.ID, 1))
	require.Error(t, err)
	assert.Equal(t, ReasonItemUnavailable, reasonOf(t, err))
}

func TestPlaceOrderValidation(t *testing.T) {
	f := newFixture(t, options{})
	user := storetest.SeedUser(t, f.conn, 1000)

	_, err := f.place(user)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = f.svc.PlaceOrder(context.Background(), PlaceOrderInput{
		UserID: user.ID,
		Lines:  []checkout.BasketLine{line(uuid.New(), 1)},
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = f.place(user, line(uuid.New(), 1))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestPlaceOrderPickupEventChecks(t *testing.T) {
	f := newFixture(t, options{})
	user := storetest.SeedUser(t, f.conn, 5000)
	_, option := storetest.SeedItem(t, f.conn, f.coll.ID, storetest.ItemSpec{Name: "Cap", Price: 10, Quantity: 50})
	now := time.Now().UTC()

	full := storetest.SeedPickupEvent(t, f.conn, now.Add(time.Hour), now.Add(2*time.Hour), 1)
	_, err := f.svc.PlaceOrder(context.Background(), PlaceOrderInput{UserID: user.ID, Lines: []checkout.BasketLine{line(option.ID, 1)}, PickupEventID: full.ID})
	require.NoError(t, err)
	_, err = f.svc.PlaceOrder(context.Background(), PlaceOrderInput{UserID: user.ID, Lines: []checkout.BasketLine{line(option.ID, 1)}, PickupEventID: full.ID})
	assert.Equal(t, ReasonPickupFull, reasonOf(t, err))

	ended := storetest.SeedPickupEvent(t, f.conn, now.Add(-3*time.Hour), now.Add(-time.Hour), 10)
	_, err = f.svc.PlaceOrder(context.Background(), PlaceOrderInput{UserID: user.ID, Lines: []checkout.BasketLine{line(option.ID, 1)}, PickupEventID: ended.ID})
	assert.Equal(t, ReasonPickupClosed, reasonOf(t, err))

	cancelled := storetest.SeedPickupEvent(t, f.conn, now.Add(time.Hour), now.Add(2*time.Hour), 10)
	require.NoError(t, f.conn.Model(cancelled).Update("status", enums.PickupEventStatusCancelled).Error)
	_, err = f.svc.PlaceOrder(context.Background(), PlaceOrderInput{UserID: user.ID, Lines: []checkout.BasketLine{line(option.ID, 1)}, PickupEventID: cancelled.ID})
	assert.Equal(t, ReasonPickupInactive, reasonOf(t, err))

	_, err = f.svc.PlaceOrder(context.Background(), PlaceOrderInput{UserID: user.ID, Lines: []checkout.BasketLine{line(option.ID, 1)}, PickupEventID: uuid.New()})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	assert.Equal(t, 49, storetest.Stock(t, f.conn, option.ID))
}

func TestPlaceOrderConcurrentLastUnit(t *testing.T) {
	f := newFixture(t, options{})
	_, option := storetest.SeedItem(t, f.conn, f.coll.ID, storetest.ItemSpec{Name: "Signed poster", Price: 100, Quantity: 1})
	buyers := []*models.User{
		storetest.SeedUser(t, f.conn, 1000),
		storetest.SeedUser(t, f.conn, 1000),
	}

	var (
		wg   sync.WaitGroup
		errs = make([]error, len(buyers))
	)
	for i, buyer := range buyers {
		wg.Add(1)
		go func(i int, buyer *models.User) {
			defer wg.Done()
			_, errs[i] = f.place(buyer, line(option.ID, 1))
		}(i, buyer)
	}
	wg.Wait()

	var wins, rejections int
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		rejections++
		assert.Equal(t, ReasonOutOfStock, reasonOf(t, err))
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, rejections)
	assert.Zero(t, storetest.Stock(t, f.conn, option.ID))
	assert.EqualValues(t, 1, storetest.Count(t, f.conn, &models.Order{}, ""))
	assert.Equal(t, 1900, storetest.Credits(t, f.conn, buyers[0].ID)+storetest.Credits(t, f.conn, buyers[1].ID))
}

func TestPlaceOrderRateLimited(t *testing.T) {
	limiter := &stubLimiter{allow: false}
	f := newFixture(t, options{limiter: limiter})
	user := storetest.SeedUser(t, f.conn, 1000)
	_, option := storetest.SeedItem(t, f.conn, f.coll.ID, storetest.ItemSpec{Name: "Cap", Price: 10, Quantity: 5})

	_, err := f.place(user, line(option.ID, 1))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeRateLimited))
	assert.Equal(t, 1, limiter.calls)
	assert.Equal(t, 5, storetest.Stock(t, f.conn, option.ID))
}

func TestPlaceOrderRateLimiterUnavailableFailsOpen(t *testing.T) {
	f := newFixture(t, options{limiter: &stubLimiter{err: errors.New("redis down")}})
	user := storetest.SeedUser(t, f.conn, 1000)
	_, option := storetest.SeedItem(t, f.conn, f.coll.ID, storetest.ItemSpec{Name: "Cap", Price: 10, Quantity: 5})

	_, err := f.place(user, line(option.ID, 1))
	require.NoError(t, err)
}

type lockedRepository struct {
	Repository
	calls *int
}

func (r lockedRepository) WithTx(tx *gorm.DB) Repository {
	return lockedRepository{Repository: r.Repository.WithTx(tx), calls: r.calls}
}

func (r lockedRepository) FindUser(context.Context, uuid.UUID) (*models.User, error) {
	*r.calls++
	return nil, errors.New("database is locked")
}

func TestPlaceOrderRetriesExhausted(t *testing.T) {
	calls := 0
	f := newFixture(t, options{repo: func(inner Repository) Repository {
		return lockedRepository{Repository: inner, calls: &calls}
	}})
	user := storetest.SeedUser(t, f.conn, 1000)
	_, option := storetest.SeedItem(t, f.conn, f.coll.ID, storetest.ItemSpec{Name: "Cap", Price: 10, Quantity: 5})

	_, err := f.place(user, line(option.ID, 1))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeContention))
	assert.True(t, errors.Is(err, db.ErrRetriesExhausted))
	assert.Equal(t, 3, calls)
}

func TestPlaceOrderConfirmationEffect(t *testing.T) {
	f := newFixture(t, options{})
	user := storetest.SeedUser(t, f.conn, 1000)
	_, option := storetest.SeedItem(t, f.conn, f.coll.ID, storetest.ItemSpec{Name: "Cap", Price: 10, Quantity: 5})

	placed, err := f.place(user, line(option.ID, 3))
	require.NoError(t, err)
	require.Len(t, placed.Effects, 1)
	assert.Empty(t, f.notifier.confirmed, "effects run only when the caller invokes them")

	require.NoError(t, notifications.RunEffects(context.Background(), logger.Nop(), placed.Effects))
	require.Len(t, f.notifier.confirmed, 1)
	summary := f.notifier.confirmed[0]
	assert.Equal(t, 30, summary.TotalCost)
	require.Len(t, summary.Lines, 1)
	assert.Equal(t, 3, summary.Lines[0].Quantity)
	assert.Equal(t, f.pickup.Title, summary.PickupTitle)
}
