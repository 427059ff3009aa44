package checkout

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/membership-portal/pkg/db/models"
	"github.com/angelmondragon/membership-portal/pkg/enums"
)

// Repository reads the placement snapshot and writes the resulting order.
// Every method is meant to run on a transaction handle from WithTx.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindUser(ctx context.Context, userID uuid.UUID) (*models.User, error)
	LockOptions(ctx context.Context, optionIDs []uuid.UUID) ([]models.MerchItemOption, error)
	LoadItems(ctx context.Context, itemIDs []uuid.UUID) ([]models.MerchItem, error)
	LoadCollections(ctx context.Context, collectionIDs []uuid.UUID) ([]models.MerchCollection, error)
	PurchaseCounts(ctx context.Context, userID uuid.UUID, itemIDs []uuid.UUID, windowStart time.Time) (map[uuid.UUID]PurchaseCounts, error)
	LockPickupEvent(ctx context.Context, eventID uuid.UUID) (*models.OrderPickupEvent, error)
	CountAttachedOrders(ctx context.Context, eventID uuid.UUID) (int64, error)
	DecrementStock(ctx context.Context, optionID uuid.UUID, quantity int, now time.Time) (bool, error)
	CreateOrder(ctx context.Context, order *models.Order) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a checkout repository backed by the provided DB.
func NewRepository(db *gorm.DB) Repository {
	if db == nil {
		return nil
	}
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// FindUser loads the buyer's profile. The credit balance is read separately
// through the ledger, which holds the row lock.
func (r *repository) FindUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).
		Where("id = ?", userID).
		First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// LockOptions locks the options in ascending id order so concurrent
// placements acquire row locks in the same sequence.
func (r *repository) LockOptions(ctx context.Context, optionIDs []uuid.UUID) ([]models.MerchItemOption, error) {
	var rows []models.MerchItemOption
	if len(optionIDs) == 0 {
		return rows, nil
	}
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ?", optionIDs).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) LoadItems(ctx context.Context, itemIDs []uuid.UUID) ([]models.MerchItem, error) {
	var rows []models.MerchItem
	if len(itemIDs) == 0 {
		return rows, nil
	}
	if err := r.db.WithContext(ctx).Where("id IN ?", itemIDs).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) LoadCollections(ctx context.Context, collectionIDs []uuid.UUID) ([]models.MerchCollection, error) {
	var rows []models.MerchCollection
	if len(collectionIDs) == 0 {
		return rows, nil
	}
	if err := r.db.WithContext(ctx).Where("id IN ?", collectionIDs).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

type purchaseCountRow struct {
	ItemID        uuid.UUID `gorm:"column:item_id"`
	WindowCount   int64     `gorm:"column:window_count"`
	LifetimeCount int64     `gorm:"column:lifetime_count"`
}

// PurchaseCounts counts units the user holds per item. Cancelled orders never
// count; missed pickups count only the units that were handed out.
func (r *repository) PurchaseCounts(ctx context.Context, userID uuid.UUID, itemIDs []uuid.UUID, windowStart time.Time) (map[uuid.UUID]PurchaseCounts, error) {
	out := make(map[uuid.UUID]PurchaseCounts, len(itemIDs))
	if len(itemIDs) == 0 {
		return out, nil
	}
	var rows []purchaseCountRow
	err := r.db.WithContext(ctx).
		Table("order_items").
		Select(`merch_item_options.item_id AS item_id,
			SUM(CASE WHEN orders.ordered_at >= ? THEN 1 ELSE 0 END) AS window_count,
			COUNT(*) AS lifetime_count`, windowStart).
		Joins("JOIN orders ON orders.id = order_items.order_id").
		Joins("JOIN merch_item_options ON merch_item_options.id = order_items.option_id").
		Where("orders.user_id = ?", userID).
		Where("orders.status <> ?", enums.OrderStatusCancelled).
		Where("(orders.status <> ? OR order_items.fulfilled = ?)", enums.OrderStatusPickupMissed, true).
		Where("merch_item_options.item_id IN ?", itemIDs).
		Group("merch_item_options.item_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.ItemID] = PurchaseCounts{Window: int(row.WindowCount), Lifetime: int(row.LifetimeCount)}
	}
	return out, nil
}

func (r *repository) LockPickupEvent(ctx context.Context, eventID uuid.UUID) (*models.OrderPickupEvent, error) {
	var event models.OrderPickupEvent
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", eventID).
		First(&event).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *repository) CountAttachedOrders(ctx context.Context, eventID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("pickup_event_id = ? AND status <> ?", eventID, enums.OrderStatusCancelled).
		Count(&count).Error
	return count, err
}

// DecrementStock takes quantity units only if that many remain.
func (r *repository) DecrementStock(ctx context.Context, optionID uuid.UUID, quantity int, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.MerchItemOption{}).
		Where("id = ? AND quantity >= ?", optionID, quantity).
		UpdateColumns(map[string]any{
			"quantity":   gorm.Expr("quantity - ?", quantity),
			"updated_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// CreateOrder inserts the order and its items.
func (r *repository) CreateOrder(ctx context.Context, order *models.Order) error {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	db := r.db.WithContext(ctx)
	if err := db.Omit(clause.Associations).Create(order).Error; err != nil {
		return err
	}
	if len(order.Items) == 0 {
		return nil
	}
	for i := range order.Items {
		order.Items[i].OrderID = order.ID
		if order.Items[i].ID == uuid.Nil {
			order.Items[i].ID = uuid.New()
		}
	}
	return db.CreateInBatches(order.Items, 100).Error
}
