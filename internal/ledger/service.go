package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/membership-portal/pkg/db/models"
	"github.com/angelmondragon/membership-portal/pkg/enums"
	pkgerrors "github.com/angelmondragon/membership-portal/pkg/errors"
)

// ReasonInsufficientCredits is reported in UserError details when a debit would overdraw.
const ReasonInsufficientCredits = "insufficient_credits"

// Service moves member credits and records every movement.
type Service interface {
	GetBalance(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (int, error)
	Debit(ctx context.Context, tx *gorm.DB, input EntryInput) (*models.CreditLedgerEvent, error)
	Credit(ctx context.Context, tx *gorm.DB, input EntryInput) (*models.CreditLedgerEvent, error)
	History(ctx context.Context, userID uuid.UUID, limit int) ([]models.CreditLedgerEvent, error)
	OrderEntries(ctx context.Context, orderID uuid.UUID) ([]models.CreditLedgerEvent, error)
}

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

type service struct {
	repo Repository
}

// EntryInput describes one balance movement. Amount is always positive; the
// direction comes from the operation.
type EntryInput struct {
	UserID  uuid.UUID
	OrderID *uuid.UUID
	Type    enums.LedgerEventType
	Amount  int
}

// NewService wires a ledger service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &service{repo: repo}, nil
}

// GetBalance reads the balance with the user row locked, so a debit later in
// tx is checked against the same value.
func (s *service) GetBalance(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (int, error) {
	if userID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	user, err := s.repo.WithTx(tx).LockUser(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
		}
		return 0, pkgerrors.WrapDB(err, "read credit balance")
	}
	return user.Credits, nil
}

// Debit subtracts credits with a conditional update; an overdraw yields a
// UserError and leaves the balance untouched.
func (s *service) Debit(ctx context.Context, tx *gorm.DB, input EntryInput) (*models.CreditLedgerEvent, error) {
	if err := validateEntry(input, true); err != nil {
		return nil, err
	}
	repo := s.repo.WithTx(tx)

	if input.Amount > 0 {
		ok, err := repo.DecrementCredits(ctx, input.UserID, input.Amount)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "debit credits")
		}
		if !ok {
			return nil, pkgerrors.NewUserError(ReasonInsufficientCredits, "", "not enough credits")
		}
	}
	return s.record(ctx, repo, input, -input.Amount)
}

func (s *service) Credit(ctx context.Context, tx *gorm.DB, input EntryInput) (*models.CreditLedgerEvent, error) {
	if err := validateEntry(input, false); err != nil {
		return nil, err
	}
	repo := s.repo.WithTx(tx)

	if input.Amount > 0 {
		if err := repo.IncrementCredits(ctx, input.UserID, input.Amount); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "credit credits")
		}
	}
	return s.record(ctx, repo, input, input.Amount)
}

func (s *service) History(ctx context.Context, userID uuid.UUID, limit int) ([]models.CreditLedgerEvent, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	switch {
	case limit <= 0:
		limit = defaultHistoryLimit
	case limit > maxHistoryLimit:
		limit = maxHistoryLimit
	}
	events, err := s.repo.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list ledger events")
	}
	return events, nil
}

// OrderEntries lists the purchase and refund movements tied to one order,
// oldest first.
func (s *service) OrderEntries(ctx context.Context, orderID uuid.UUID) ([]models.CreditLedgerEvent, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	events, err := s.repo.ListByOrderID(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list order ledger events")
	}
	return events, nil
}

func (s *service) record(ctx context.Context, repo Repository, input EntryInput, signed int) (*models.CreditLedgerEvent, error) {
	balance, err := repo.GetBalance(ctx, input.UserID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read credit balance")
	}
	event := &models.CreditLedgerEvent{
		ID:           uuid.New(),
		UserID:       input.UserID,
		OrderID:      input.OrderID,
		Type:         input.Type,
		Amount:       signed,
		BalanceAfter: balance,
	}
	if err := repo.CreateEvent(ctx, event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record ledger event")
	}
	return event, nil
}

func validateEntry(input EntryInput, debit bool) error {
	if input.UserID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if !input.Type.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid ledger event type %q", input.Type))
	}
	if debit && !input.Type.AllowsDebit() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("%s entries cannot debit credits", input.Type))
	}
	if !debit && !input.Type.AllowsCredit() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("%s entries cannot credit credits", input.Type))
	}
	if input.Amount < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount must not be negative")
	}
	return nil
}
