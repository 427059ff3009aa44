package ledger

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/membership-portal/pkg/db/models"
)

// Repository manages credit balances and their audit trail.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	LockUser(ctx context.Context, userID uuid.UUID) (*models.User, error)
	GetBalance(ctx context.Context, userID uuid.UUID) (int, error)
	DecrementCredits(ctx context.Context, userID uuid.UUID, amount int) (bool, error)
	IncrementCredits(ctx context.Context, userID uuid.UUID, amount int) error
	CreateEvent(ctx context.Context, event *models.CreditLedgerEvent) error
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.CreditLedgerEvent, error)
	ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.CreditLedgerEvent, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// LockUser reads the user row with FOR UPDATE so concurrent spenders queue.
func (r *repository) LockUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", userID).
		First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *repository) GetBalance(ctx context.Context, userID uuid.UUID) (int, error) {
	var user models.User
	if err := r.db.WithContext(ctx).
		Select("credits").
		Where("id = ?", userID).
		First(&user).Error; err != nil {
		return 0, err
	}
	return user.Credits, nil
}

// DecrementCredits subtracts amount only when the balance covers it.
func (r *repository) DecrementCredits(ctx context.Context, userID uuid.UUID, amount int) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ? AND credits >= ?", userID, amount).
		UpdateColumn("credits", gorm.Expr("credits - ?", amount))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) IncrementCredits(ctx context.Context, userID uuid.UUID, amount int) error {
	res := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		UpdateColumn("credits", gorm.Expr("credits + ?", amount))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *repository) CreateEvent(ctx context.Context, event *models.CreditLedgerEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *repository) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.CreditLedgerEvent, error) {
	var events []models.CreditLedgerEvent
	query := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repository) ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.CreditLedgerEvent, error) {
	var events []models.CreditLedgerEvent
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}
