package activity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/membership-portal/pkg/db/models"
	"github.com/angelmondragon/membership-portal/pkg/enums"
	pkgerrors "github.com/angelmondragon/membership-portal/pkg/errors"
)

// Entry is one line in a member's activity feed. PointsEarned is the signed
// credit delta the action caused.
type Entry struct {
	UserID       uuid.UUID
	Type         enums.ActivityType
	Description  string
	PointsEarned int
}

// Recorder is the narrow surface order flows depend on.
type Recorder interface {
	Record(ctx context.Context, tx *gorm.DB, entry Entry) error
}

// Service records and lists activity entries.
type Service interface {
	Recorder
	Recent(ctx context.Context, userID uuid.UUID, limit int) ([]models.Activity, error)
}

type service struct {
	repo Repository
	now  func() time.Time
}

// NewService wires the activity log.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("activity repository required")
	}
	return &service{repo: repo, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Record appends entry inside tx.
func (s *service) Record(ctx context.Context, tx *gorm.DB, entry Entry) error {
	if entry.UserID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if !entry.Type.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid activity type %q", entry.Type))
	}
	row := &models.Activity{
		UserID:       entry.UserID,
		Type:         entry.Type,
		Description:  strings.TrimSpace(entry.Description),
		PointsEarned: entry.PointsEarned,
		CreatedAt:    s.now(),
	}
	if err := s.repo.WithTx(tx).Create(ctx, row); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record activity")
	}
	return nil
}

func (s *service) Recent(ctx context.Context, userID uuid.UUID, limit int) ([]models.Activity, error) {
	rows, err := s.repo.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list activity")
	}
	return rows, nil
}
