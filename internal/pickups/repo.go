package pickups

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/membership-portal/pkg/db/models"
	"github.com/angelmondragon/membership-portal/pkg/enums"
)

// Repository persists pickup events.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, event *models.OrderPickupEvent) error
	Update(ctx context.Context, event *models.OrderPickupEvent) error
	Find(ctx context.Context, id uuid.UUID) (*models.OrderPickupEvent, error)
	Lock(ctx context.Context, id uuid.UUID) (*models.OrderPickupEvent, error)
	Delete(ctx context.Context, id uuid.UUID) error
	ListFuture(ctx context.Context, now time.Time, limit int) ([]models.OrderPickupEvent, error)
	ListPast(ctx context.Context, now time.Time, limit int) ([]models.OrderPickupEvent, error)
	ListEndedActive(ctx context.Context, now time.Time, limit int) ([]models.OrderPickupEvent, error)
	CountOrders(ctx context.Context, ids []uuid.UUID, includeCancelled bool) (map[uuid.UUID]int64, error)
	SetStatus(ctx context.Context, id uuid.UUID, status enums.PickupEventStatus, at time.Time) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a pickup event repository bound to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, event *models.OrderPickupEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *repository) Update(ctx context.Context, event *models.OrderPickupEvent) error {
	return r.db.WithContext(ctx).Save(event).Error
}

func (r *repository) Find(ctx context.Context, id uuid.UUID) (*models.OrderPickupEvent, error) {
	var event models.OrderPickupEvent
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&event).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *repository) Lock(ctx context.Context, id uuid.UUID) (*models.OrderPickupEvent, error) {
	var event models.OrderPickupEvent
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&event).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *repository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.OrderPickupEvent{}).Error
}

// ListFuture returns ACTIVE events that have not ended, soonest first.
func (r *repository) ListFuture(ctx context.Context, now time.Time, limit int) ([]models.OrderPickupEvent, error) {
	var rows []models.OrderPickupEvent
	err := r.db.WithContext(ctx).
		Where("status = ? AND end_at > ?", enums.PickupEventStatusActive, now).
		Order("start_at ASC").Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// ListPast returns ended or closed events, most recent first.
func (r *repository) ListPast(ctx context.Context, now time.Time, limit int) ([]models.OrderPickupEvent, error) {
	var rows []models.OrderPickupEvent
	err := r.db.WithContext(ctx).
		Where("(end_at <= ? OR status <> ?)", now, enums.PickupEventStatusActive).
		Order("start_at DESC").Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// ListEndedActive returns events whose window closed while still ACTIVE.
func (r *repository) ListEndedActive(ctx context.Context, now time.Time, limit int) ([]models.OrderPickupEvent, error) {
	var rows []models.OrderPickupEvent
	err := r.db.WithContext(ctx).
		Where("status = ? AND end_at <= ?", enums.PickupEventStatusActive, now).
		Order("end_at ASC").Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

type orderCountRow struct {
	PickupEventID uuid.UUID `gorm:"column:pickup_event_id"`
	Count         int64     `gorm:"column:order_count"`
}

func (r *repository) CountOrders(ctx context.Context, ids []uuid.UUID, includeCancelled bool) (map[uuid.UUID]int64, error) {
	out := make(map[uuid.UUID]int64, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	query := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Select("pickup_event_id, COUNT(*) AS order_count").
		Where("pickup_event_id IN ?", ids)
	if !includeCancelled {
		query = query.Where("status <> ?", enums.OrderStatusCancelled)
	}
	var rows []orderCountRow
	if err := query.Group("pickup_event_id").Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.PickupEventID] = row.Count
	}
	return out, nil
}

func (r *repository) SetStatus(ctx context.Context, id uuid.UUID, status enums.PickupEventStatus, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.OrderPickupEvent{}).
		Where("id = ?", id).
		UpdateColumns(map[string]any{
			"status":     status,
			"updated_at": at,
		}).Error
}
