package notifications

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/membership-portal/pkg/db/models"
)

// ErrNoRecipient means the order or its member is gone, or the member has no
// address. Redelivery cannot fix it.
var ErrNoRecipient = errors.New("order has no reachable member")

// Repository resolves who store emails go to.
type Repository interface {
	FindOrderRecipient(ctx context.Context, orderID, userID uuid.UUID) (*Recipient, error)
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns a recipient repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

type orderRecipientRow struct {
	UserID    uuid.UUID
	Email     string
	FirstName string
}

// FindOrderRecipient loads the member who placed orderID. userID comes from
// the event and must still own the order.
func (r *repositoryImpl) FindOrderRecipient(ctx context.Context, orderID, userID uuid.UUID) (*Recipient, error) {
	var row orderRecipientRow
	err := r.db.WithContext(ctx).
		Table("orders").
		Select("users.id AS user_id, users.email, users.first_name").
		Joins("JOIN users ON users.id = orders.user_id").
		Where("orders.id = ? AND orders.user_id = ?", orderID, userID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoRecipient
	}
	if err != nil {
		return nil, err
	}
	email := strings.TrimSpace(row.Email)
	if email == "" {
		return nil, ErrNoRecipient
	}
	member := models.User{Email: email, FirstName: row.FirstName}
	return &Recipient{UserID: row.UserID, Email: email, FirstName: member.DisplayName()}, nil
}
