package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/membership-portal/pkg/db/models"
	"github.com/angelmondragon/membership-portal/pkg/enums"
	"github.com/angelmondragon/membership-portal/pkg/pagination"
)

// Repository defines persistence operations for orders and their items.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	LockOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	OrderIDsForItems(ctx context.Context, itemIDs []uuid.UUID) ([]uuid.UUID, error)
	ListOrders(ctx context.Context, filters ListFilters, cursor *pagination.Cursor, limit int) ([]models.Order, error)
	LockOpenOrdersByPickupEvent(ctx context.Context, eventID uuid.UUID) ([]models.Order, error)
	FindPickupEvent(ctx context.Context, eventID uuid.UUID) (*models.OrderPickupEvent, error)
	ItemRefs(ctx context.Context, optionIDs []uuid.UUID) (map[uuid.UUID]ItemRef, error)
	MarkItemFulfilled(ctx context.Context, itemID uuid.UUID, notes *string, at time.Time) (bool, error)
	TransitionStatus(ctx context.Context, orderID uuid.UUID, from []enums.OrderStatus, to enums.OrderStatus, at time.Time) (bool, error)
	IncrementStock(ctx context.Context, optionID uuid.UUID, quantity int, at time.Time) error
}

// ListFilters narrows an order listing. A nil UserID lists every member.
type ListFilters struct {
	UserID        *uuid.UUID
	PickupEventID *uuid.UUID
	Status        *enums.OrderStatus
}

// ItemRef names the item an option belongs to.
type ItemRef struct {
	ItemID   uuid.UUID
	ItemName string
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func preloadItems(db *gorm.DB) *gorm.DB {
	return db.Preload("Items", func(db *gorm.DB) *gorm.DB {
		return db.Order("created_at ASC").Order("id ASC")
	})
}

func (r *repository) FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := preloadItems(r.db.WithContext(ctx)).
		Where("id = ?", orderID).
		First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// LockOrder locks the order row before loading its items.
func (r *repository) LockOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", orderID).
		First(&order).Error; err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", order.ID).
		Order("created_at ASC").Order("id ASC").
		Find(&order.Items).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// OrderIDsForItems returns the distinct orders owning the given item ids.
func (r *repository) OrderIDsForItems(ctx context.Context, itemIDs []uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if len(itemIDs) == 0 {
		return ids, nil
	}
	if err := r.db.WithContext(ctx).
		Model(&models.OrderItem{}).
		Where("id IN ?", itemIDs).
		Distinct("order_id").
		Pluck("order_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// ListOrders returns newest orders first, fetching one extra row past limit.
func (r *repository) ListOrders(ctx context.Context, filters ListFilters, cursor *pagination.Cursor, limit int) ([]models.Order, error) {
	query := preloadItems(r.db.WithContext(ctx).Model(&models.Order{}))
	if filters.UserID != nil {
		query = query.Where("user_id = ?", *filters.UserID)
	}
	if filters.PickupEventID != nil {
		query = query.Where("pickup_event_id = ?", *filters.PickupEventID)
	}
	if filters.Status != nil {
		query = query.Where("status = ?", *filters.Status)
	}
	var rows []models.Order
	if err := query.
		Scopes(pagination.Newest("ordered_at", cursor, limit)).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) LockOpenOrdersByPickupEvent(ctx context.Context, eventID uuid.UUID) ([]models.Order, error) {
	var rows []models.Order
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("pickup_event_id = ? AND status IN ?", eventID, []enums.OrderStatus{
			enums.OrderStatusPlaced,
			enums.OrderStatusPartiallyFulfilled,
		}).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	for i := range rows {
		if err := r.db.WithContext(ctx).
			Where("order_id = ?", rows[i].ID).
			Order("created_at ASC").Order("id ASC").
			Find(&rows[i].Items).Error; err != nil {
			return nil, err
		}
	}
	return rows, nil
}

func (r *repository) FindPickupEvent(ctx context.Context, eventID uuid.UUID) (*models.OrderPickupEvent, error) {
	var event models.OrderPickupEvent
	if err := r.db.WithContext(ctx).Where("id = ?", eventID).First(&event).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

type itemRefRow struct {
	OptionID uuid.UUID `gorm:"column:option_id"`
	ItemID   uuid.UUID `gorm:"column:item_id"`
	ItemName string    `gorm:"column:item_name"`
}

func (r *repository) ItemRefs(ctx context.Context, optionIDs []uuid.UUID) (map[uuid.UUID]ItemRef, error) {
	out := make(map[uuid.UUID]ItemRef, len(optionIDs))
	if len(optionIDs) == 0 {
		return out, nil
	}
	var rows []itemRefRow
	if err := r.db.WithContext(ctx).
		Table("merch_item_options").
		Select("merch_item_options.id AS option_id, merch_items.id AS item_id, merch_items.item_name AS item_name").
		Joins("JOIN merch_items ON merch_items.id = merch_item_options.item_id").
		Where("merch_item_options.id IN ?", optionIDs).
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.OptionID] = ItemRef{ItemID: row.ItemID, ItemName: row.ItemName}
	}
	return out, nil
}

// MarkItemFulfilled flips an unfulfilled item. False means it was already fulfilled.
func (r *repository) MarkItemFulfilled(ctx context.Context, itemID uuid.UUID, notes *string, at time.Time) (bool, error) {
	updates := map[string]any{
		"fulfilled":    true,
		"fulfilled_at": at,
	}
	if notes != nil {
		updates["notes"] = *notes
	}
	res := r.db.WithContext(ctx).
		Model(&models.OrderItem{}).
		Where("id = ? AND fulfilled = ?", itemID, false).
		UpdateColumns(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// TransitionStatus moves an order to status to only from one of the given states.
func (r *repository) TransitionStatus(ctx context.Context, orderID uuid.UUID, from []enums.OrderStatus, to enums.OrderStatus, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status IN ?", orderID, from).
		UpdateColumns(map[string]any{
			"status":     to,
			"updated_at": at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) IncrementStock(ctx context.Context, optionID uuid.UUID, quantity int, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.MerchItemOption{}).
		Where("id = ?", optionID).
		UpdateColumns(map[string]any{
			"quantity":   gorm.Expr("quantity + ?", quantity),
			"updated_at": at,
		}).Error
}
