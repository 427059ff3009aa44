package catalog

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/membership-portal/pkg/db/models"
)

// Repository persists collections, items and options. Deletes never cascade:
// callers check HasBeenOrdered* first and remove children explicitly.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	ListCollections(ctx context.Context, includeArchived bool) ([]models.MerchCollection, error)
	GetCollection(ctx context.Context, id uuid.UUID) (*models.MerchCollection, error)
	CreateCollection(ctx context.Context, collection *models.MerchCollection) error
	UpdateCollection(ctx context.Context, collection *models.MerchCollection) error
	DeleteCollection(ctx context.Context, id uuid.UUID) error

	GetItem(ctx context.Context, id uuid.UUID) (*models.MerchItem, error)
	CreateItem(ctx context.Context, item *models.MerchItem) error
	UpdateItem(ctx context.Context, item *models.MerchItem) error
	DeleteItem(ctx context.Context, id uuid.UUID) error

	GetOption(ctx context.Context, id uuid.UUID) (*models.MerchItemOption, error)
	LockOption(ctx context.Context, id uuid.UUID) (*models.MerchItemOption, error)
	LockOptionsByItem(ctx context.Context, itemID uuid.UUID) ([]models.MerchItemOption, error)
	CountOptions(ctx context.Context, itemID uuid.UUID) (int64, error)
	CreateOption(ctx context.Context, option *models.MerchItemOption) error
	UpdateOption(ctx context.Context, option *models.MerchItemOption) error
	DeleteOption(ctx context.Context, id uuid.UUID) error
	AdjustQuantity(ctx context.Context, id uuid.UUID, delta int, now time.Time) (bool, error)

	HasBeenOrderedOption(ctx context.Context, optionID uuid.UUID) (bool, error)
	HasBeenOrderedItem(ctx context.Context, itemID uuid.UUID) (bool, error)
	HasBeenOrderedCollection(ctx context.Context, collectionID uuid.UUID) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a catalog repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func preloadTree(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC").Order("id ASC") }).
		Preload("Items.Options", orderOptions)
}

func orderOptions(db *gorm.DB) *gorm.DB {
	return db.Order("created_at ASC").Order("id ASC")
}

func (r *repository) ListCollections(ctx context.Context, includeArchived bool) ([]models.MerchCollection, error) {
	query := preloadTree(r.db.WithContext(ctx))
	if !includeArchived {
		query = query.Where("archived = ?", false)
	}
	var rows []models.MerchCollection
	if err := query.Order("created_at DESC").Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) GetCollection(ctx context.Context, id uuid.UUID) (*models.MerchCollection, error) {
	var collection models.MerchCollection
	if err := preloadTree(r.db.WithContext(ctx)).Where("id = ?", id).First(&collection).Error; err != nil {
		return nil, err
	}
	return &collection, nil
}

func (r *repository) CreateCollection(ctx context.Context, collection *models.MerchCollection) error {
	if collection.ID == uuid.Nil {
		collection.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(collection).Error
}

func (r *repository) UpdateCollection(ctx context.Context, collection *models.MerchCollection) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Save(collection).Error
}

// DeleteCollection removes the collection with its items and options.
func (r *repository) DeleteCollection(ctx context.Context, id uuid.UUID) error {
	db := r.db.WithContext(ctx)
	items := db.Model(&models.MerchItem{}).Select("id").Where("collection_id = ?", id)
	if err := db.Where("item_id IN (?)", items).Delete(&models.MerchItemOption{}).Error; err != nil {
		return err
	}
	if err := db.Where("collection_id = ?", id).Delete(&models.MerchItem{}).Error; err != nil {
		return err
	}
	res := db.Where("id = ?", id).Delete(&models.MerchCollection{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *repository) GetItem(ctx context.Context, id uuid.UUID) (*models.MerchItem, error) {
	var item models.MerchItem
	if err := r.db.WithContext(ctx).
		Preload("Options", orderOptions).
		Where("id = ?", id).
		First(&item).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

// CreateItem inserts the item and its options.
func (r *repository) CreateItem(ctx context.Context, item *models.MerchItem) error {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	db := r.db.WithContext(ctx)
	if err := db.Omit(clause.Associations).Create(item).Error; err != nil {
		return err
	}
	for i := range item.Options {
		item.Options[i].ItemID = item.ID
		if err := r.CreateOption(ctx, &item.Options[i]); err != nil {
			return err
		}
	}
	return nil
}

func (r *repository) UpdateItem(ctx context.Context, item *models.MerchItem) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Save(item).Error
}

func (r *repository) DeleteItem(ctx context.Context, id uuid.UUID) error {
	db := r.db.WithContext(ctx)
	if err := db.Where("item_id = ?", id).Delete(&models.MerchItemOption{}).Error; err != nil {
		return err
	}
	res := db.Where("id = ?", id).Delete(&models.MerchItem{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *repository) GetOption(ctx context.Context, id uuid.UUID) (*models.MerchItemOption, error) {
	var option models.MerchItemOption
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&option).Error; err != nil {
		return nil, err
	}
	return &option, nil
}

// LockOption reads the option FOR UPDATE so it cannot be ordered while it is edited or removed.
func (r *repository) LockOption(ctx context.Context, id uuid.UUID) (*models.MerchItemOption, error) {
	var option models.MerchItemOption
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&option).Error; err != nil {
		return nil, err
	}
	return &option, nil
}

func (r *repository) LockOptionsByItem(ctx context.Context, itemID uuid.UUID) ([]models.MerchItemOption, error) {
	var rows []models.MerchItemOption
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("item_id = ?", itemID).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) CountOptions(ctx context.Context, itemID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.MerchItemOption{}).Where("item_id = ?", itemID).Count(&count).Error
	return count, err
}

func (r *repository) CreateOption(ctx context.Context, option *models.MerchItemOption) error {
	if option.ID == uuid.Nil {
		option.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(option).Error
}

// UpdateOption writes price, discount and metadata. Quantity only moves
// through AdjustQuantity and order placement.
func (r *repository) UpdateOption(ctx context.Context, option *models.MerchItemOption) error {
	return r.db.WithContext(ctx).
		Model(&models.MerchItemOption{}).
		Where("id = ?", option.ID).
		Updates(map[string]any{
			"price":               option.Price,
			"discount_percentage": option.DiscountPercentage,
			"metadata":            option.Metadata,
			"updated_at":          option.UpdatedAt,
		}).Error
}

func (r *repository) DeleteOption(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.MerchItemOption{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// AdjustQuantity applies delta only when the result stays non-negative.
func (r *repository) AdjustQuantity(ctx context.Context, id uuid.UUID, delta int, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.MerchItemOption{}).
		Where("id = ? AND quantity + ? >= 0", id, delta).
		UpdateColumns(map[string]any{
			"quantity":   gorm.Expr("quantity + ?", delta),
			"updated_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) HasBeenOrderedOption(ctx context.Context, optionID uuid.UUID) (bool, error) {
	return r.exists(r.db.WithContext(ctx).
		Model(&models.OrderItem{}).
		Where("option_id = ?", optionID))
}

func (r *repository) HasBeenOrderedItem(ctx context.Context, itemID uuid.UUID) (bool, error) {
	return r.exists(r.db.WithContext(ctx).
		Model(&models.OrderItem{}).
		Joins("JOIN merch_item_options ON merch_item_options.id = order_items.option_id").
		Where("merch_item_options.item_id = ?", itemID))
}

func (r *repository) HasBeenOrderedCollection(ctx context.Context, collectionID uuid.UUID) (bool, error) {
	return r.exists(r.db.WithContext(ctx).
		Model(&models.OrderItem{}).
		Joins("JOIN merch_item_options ON merch_item_options.id = order_items.option_id").
		Joins("JOIN merch_items ON merch_items.id = merch_item_options.item_id").
		Where("merch_items.collection_id = ?", collectionID))
}

func (r *repository) exists(query *gorm.DB) (bool, error) {
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
