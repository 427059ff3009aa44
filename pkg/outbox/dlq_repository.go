package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/membership-portal/pkg/db"
	"github.com/angelmondragon/membership-portal/pkg/db/models"
	"github.com/angelmondragon/membership-portal/pkg/enums"
)

var (
	// ErrDLQEntryNotFound is returned when no dead letter exists for an event.
	ErrDLQEntryNotFound = errors.New("dead letter not found")
	// ErrNotRetryable guards against requeueing events that can never publish.
	ErrNotRetryable = errors.New("dead letter is not retryable")
)

// DLQRepository stores dead-lettered store events and moves them back into
// the outbox once the cause is fixed.
type DLQRepository struct {
	db *gorm.DB
}

func NewDLQRepository(db *gorm.DB) *DLQRepository {
	return &DLQRepository{db: db}
}

// InsertTx records a dead letter inside the relay's transaction. An event that
// is parked again after a requeue refreshes its existing row.
func (r *DLQRepository) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.FailedAt.IsZero() {
		entry.FailedAt = time.Now().UTC()
	}
	if entry.ErrorMessage != nil {
		msg := clip(*entry.ErrorMessage)
		entry.ErrorMessage = &msg
	}
	err := tx.Transaction(func(sp *gorm.DB) error {
		return sp.Create(&entry).Error
	})
	if err == nil || !db.IsUniqueViolation(err, "") {
		return err
	}
	return tx.Model(&models.OutboxDLQ{}).
		Where("event_id = ?", entry.EventID).
		Updates(entry.Refresh()).Error
}

// FindByEventID returns nil, nil when the event was never dead-lettered.
func (r *DLQRepository) FindByEventID(ctx context.Context, eventID uuid.UUID) (*models.OutboxDLQ, error) {
	var entry models.OutboxDLQ
	err := r.db.WithContext(ctx).Where("event_id = ?", eventID).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// ListRetryable returns the oldest dead letters an operator may requeue.
func (r *DLQRepository) ListRetryable(ctx context.Context, limit int) ([]models.OutboxDLQ, error) {
	if limit <= 0 {
		limit = 100
	}
	var entries []models.OutboxDLQ
	err := r.db.WithContext(ctx).
		Where("error_reason = ?", enums.OutboxDLQReasonMaxAttempts).
		Order("failed_at ASC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

// Requeue resets the original outbox row so the publisher picks it up again
// and drops the dead letter, atomically.
func (r *DLQRepository) Requeue(ctx context.Context, eventID uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entry models.OutboxDLQ
		if err := tx.Where("event_id = ?", eventID).First(&entry).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", ErrDLQEntryNotFound, eventID)
			}
			return err
		}
		if !entry.Retryable() {
			return fmt.Errorf("%w: %s (%s)", ErrNotRetryable, eventID, entry.ErrorReason)
		}

		res := tx.Model(&models.OutboxEvent{}).
			Where("id = ? AND published_at IS NULL", eventID).
			Updates(map[string]any{
				"attempt_count": 0,
				"last_error":    nil,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("outbox event %s missing or already published", eventID)
		}
		return tx.Delete(&entry).Error
	})
}

func clip(message string) string {
	if len(message) <= maxLastErrorLen {
		return message
	}
	return message[:maxLastErrorLen]
}
