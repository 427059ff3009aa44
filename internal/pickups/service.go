package pickups

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/membership-portal/internal/orders"
	"github.com/angelmondragon/membership-portal/pkg/db"
	"github.com/angelmondragon/membership-portal/pkg/db/models"
	"github.com/angelmondragon/membership-portal/pkg/enums"
	pkgerrors "github.com/angelmondragon/membership-portal/pkg/errors"
	"github.com/angelmondragon/membership-portal/pkg/logger"
	"github.com/angelmondragon/membership-portal/pkg/outbox"
	"github.com/angelmondragon/membership-portal/pkg/outbox/payloads"
	"github.com/angelmondragon/membership-portal/pkg/pagination"
)

type txRunner interface {
	WithRetryTx(ctx context.Context, policy db.RetryPolicy, fn func(tx *gorm.DB) error) error
}

// closer is the slice of the order workflow that resolves attached orders.
type closer interface {
	MarkMissedTx(ctx context.Context, tx *gorm.DB, pickupEventID uuid.UUID) ([]orders.Resolution, error)
	CancelForPickupEventTx(ctx context.Context, tx *gorm.DB, pickupEventID uuid.UUID, reason string, actor orders.Actor) ([]orders.Resolution, error)
}

// Service schedules pickup events and closes them.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*PickupEventDTO, error)
	Edit(ctx context.Context, id uuid.UUID, input EditInput) (*PickupEventDTO, error)
	Get(ctx context.Context, id uuid.UUID) (*PickupEventDTO, error)
	ListFuture(ctx context.Context, limit int) ([]PickupEventDTO, error)
	ListPast(ctx context.Context, limit int) ([]PickupEventDTO, error)
	ListDue(ctx context.Context, limit int) ([]models.OrderPickupEvent, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Cancel(ctx context.Context, id uuid.UUID, actor orders.Actor) (*ClosureSummary, error)
	Complete(ctx context.Context, id uuid.UUID, actor orders.Actor) (*ClosureSummary, error)
}

// CreateInput describes a new pickup window.
type CreateInput struct {
	Title         string
	Description   string
	Start         time.Time
	End           time.Time
	OrderLimit    int
	LinkedEventID *uuid.UUID
}

// EditInput carries the fields to change; nil fields are left alone.
type EditInput struct {
	Title         *string
	Description   *string
	Start         *time.Time
	End           *time.Time
	OrderLimit    *int
	LinkedEventID *uuid.UUID
}

// ServiceParams wires the scheduler.
type ServiceParams struct {
	Repository Repository
	DB         txRunner
	Orders     closer
	Outbox     outbox.Emitter
	Logger     *logger.Logger
	Retry      db.RetryPolicy
}

type service struct {
	repo   Repository
	tx     txRunner
	retry  db.RetryPolicy
	orders closer
	outbox outbox.Emitter
	logg   *logger.Logger
	now    func() time.Time
}

// NewService builds the pickup event scheduler.
func NewService(params ServiceParams) (Service, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("pickups repository required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders service required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		repo:   params.Repository,
		tx:     params.DB,
		retry:  params.Retry,
		orders: params.Orders,
		outbox: params.Outbox,
		logg:   logg,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*PickupEventDTO, error) {
	event := &models.OrderPickupEvent{
		ID:            uuid.New(),
		Title:         strings.TrimSpace(input.Title),
		Description:   strings.TrimSpace(input.Description),
		Start:         input.Start.UTC(),
		End:           input.End.UTC(),
		OrderLimit:    input.OrderLimit,
		Status:        enums.PickupEventStatusActive,
		LinkedEventID: input.LinkedEventID,
	}
	if err := validateEvent(event); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, event); err != nil {
		return nil, pkgerrors.WrapDB(err, "create pickup event")
	}
	s.logg.Info(s.logg.WithPickupEventID(ctx, event.ID.String()), "pickup event created")
	dto := NewPickupEventDTO(event, 0)
	return &dto, nil
}

func (s *service) Edit(ctx context.Context, id uuid.UUID, input EditInput) (*PickupEventDTO, error) {
	var (
		updated *models.OrderPickupEvent
		count   int64
	)
	err := s.inRetryTx(ctx, "pickup event edit", func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		event, err := repo.Lock(ctx, id)
		if err != nil {
			return notFoundOr(err, "load pickup event")
		}
		if event.Status != enums.PickupEventStatusActive {
			return pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("pickup event is %s", event.Status))
		}
		if input.Title != nil {
			event.Title = strings.TrimSpace(*input.Title)
		}
		if input.Description != nil {
			event.Description = strings.TrimSpace(*input.Description)
		}
		if input.Start != nil {
			event.Start = input.Start.UTC()
		}
		if input.End != nil {
			event.End = input.End.UTC()
		}
		if input.OrderLimit != nil {
			event.OrderLimit = *input.OrderLimit
		}
		if input.LinkedEventID != nil {
			event.LinkedEventID = input.LinkedEventID
		}
		if err := validateEvent(event); err != nil {
			return err
		}
		counts, err := repo.CountOrders(ctx, []uuid.UUID{id}, false)
		if err != nil {
			return pkgerrors.WrapDB(err, "count pickup orders")
		}
		count = counts[id]
		if int64(event.OrderLimit) < count {
			return pkgerrors.New(pkgerrors.CodeConflict,
				fmt.Sprintf("order limit %d is below the %d orders already attached", event.OrderLimit, count))
		}
		event.UpdatedAt = s.now()
		if err := repo.Update(ctx, event); err != nil {
			return pkgerrors.WrapDB(err, "update pickup event")
		}
		updated = event
		return nil
	})
	if err != nil {
		return nil, err
	}
	dto := NewPickupEventDTO(updated, count)
	return &dto, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*PickupEventDTO, error) {
	event, err := s.repo.Find(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "load pickup event")
	}
	counts, err := s.repo.CountOrders(ctx, []uuid.UUID{id}, false)
	if err != nil {
		return nil, pkgerrors.WrapDB(err, "count pickup orders")
	}
	dto := NewPickupEventDTO(event, counts[id])
	return &dto, nil
}

func (s *service) ListFuture(ctx context.Context, limit int) ([]PickupEventDTO, error) {
	rows, err := s.repo.ListFuture(ctx, s.now(), pagination.NormalizeLimit(limit))
	if err != nil {
		return nil, pkgerrors.WrapDB(err, "list future pickup events")
	}
	return s.render(ctx, rows)
}

func (s *service) ListPast(ctx context.Context, limit int) ([]PickupEventDTO, error) {
	rows, err := s.repo.ListPast(ctx, s.now(), pagination.NormalizeLimit(limit))
	if err != nil {
		return nil, pkgerrors.WrapDB(err, "list past pickup events")
	}
	return s.render(ctx, rows)
}

// ListDue returns ACTIVE events whose window has closed and still need completing.
func (s *service) ListDue(ctx context.Context, limit int) ([]models.OrderPickupEvent, error) {
	rows, err := s.repo.ListEndedActive(ctx, s.now(), pagination.NormalizeLimit(limit))
	if err != nil {
		return nil, pkgerrors.WrapDB(err, "list due pickup events")
	}
	return rows, nil
}

func (s *service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.inRetryTx(ctx, "pickup event delete", func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := repo.Lock(ctx, id); err != nil {
			return notFoundOr(err, "load pickup event")
		}
		counts, err := repo.CountOrders(ctx, []uuid.UUID{id}, true)
		if err != nil {
			return pkgerrors.WrapDB(err, "count pickup orders")
		}
		if counts[id] > 0 {
			return pkgerrors.New(pkgerrors.CodeConflict, "pickup event has orders attached")
		}
		if err := repo.Delete(ctx, id); err != nil {
			return pkgerrors.WrapDB(err, "delete pickup event")
		}
		return nil
	})
}

// Cancel closes an ACTIVE event and cancels every open order attached to it.
// Either every order is refunded and the event is cancelled, or nothing changes.
func (s *service) Cancel(ctx context.Context, id uuid.UUID, actor orders.Actor) (*ClosureSummary, error) {
	var summary *ClosureSummary
	err := s.inRetryTx(ctx, "pickup event cancellation", func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		event, err := s.lockActive(ctx, repo, id)
		if err != nil {
			return err
		}
		now := s.now()
		resolutions, err := s.orders.CancelForPickupEventTx(ctx, tx, id,
			fmt.Sprintf("pickup event %s cancelled", event.Title), actor)
		if err != nil {
			return err
		}
		if err := repo.SetStatus(ctx, id, enums.PickupEventStatusCancelled, now); err != nil {
			return pkgerrors.WrapDB(err, "cancel pickup event")
		}
		event.Status = enums.PickupEventStatusCancelled
		counts, err := repo.CountOrders(ctx, []uuid.UUID{id}, false)
		if err != nil {
			return pkgerrors.WrapDB(err, "count pickup orders")
		}
		summary = summarize(event, counts[id], resolutions)
		return s.emit(ctx, tx, event, actor, enums.EventPickupEventCancelled, payloads.PickupEventCancelledEvent{
			PickupEventID:     event.ID,
			Title:             event.Title,
			CancelledOrderIDs: summary.AffectedOrders,
			CancelledAt:       now,
		}, now)
	})
	if err != nil {
		return nil, err
	}
	s.logClosure(ctx, "pickup event cancelled", summary)
	return summary, nil
}

// Complete closes an ACTIVE event; orders still open become PICKUP_MISSED.
func (s *service) Complete(ctx context.Context, id uuid.UUID, actor orders.Actor) (*ClosureSummary, error) {
	var summary *ClosureSummary
	err := s.inRetryTx(ctx, "pickup event completion", func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		event, err := s.lockActive(ctx, repo, id)
		if err != nil {
			return err
		}
		now := s.now()
		resolutions, err := s.orders.MarkMissedTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := repo.SetStatus(ctx, id, enums.PickupEventStatusCompleted, now); err != nil {
			return pkgerrors.WrapDB(err, "complete pickup event")
		}
		event.Status = enums.PickupEventStatusCompleted
		counts, err := repo.CountOrders(ctx, []uuid.UUID{id}, false)
		if err != nil {
			return pkgerrors.WrapDB(err, "count pickup orders")
		}
		summary = summarize(event, counts[id], resolutions)
		return s.emit(ctx, tx, event, actor, enums.EventPickupEventCompleted, payloads.PickupEventCompletedEvent{
			PickupEventID:  event.ID,
			MissedOrderIDs: summary.AffectedOrders,
			CompletedAt:    now,
		}, now)
	})
	if err != nil {
		return nil, err
	}
	s.logClosure(ctx, "pickup event completed", summary)
	return summary, nil
}

// inRetryTx re-runs a closing or editing transaction after a serialization
// conflict; the re-run observes whatever the winner committed.
func (s *service) inRetryTx(ctx context.Context, op string, fn func(tx *gorm.DB) error) error {
	attempts := 0
	err := s.tx.WithRetryTx(ctx, s.retry, func(tx *gorm.DB) error {
		attempts++
		if attempts > 1 {
			s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
				"operation": op,
				"attempt":   attempts,
			}), "retrying pickup event update after conflict")
		}
		return fn(tx)
	})
	return db.Contended(err, op+" contention")
}

func (s *service) lockActive(ctx context.Context, repo Repository, id uuid.UUID) (*models.OrderPickupEvent, error) {
	event, err := repo.Lock(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "load pickup event")
	}
	if event.Status != enums.PickupEventStatusActive {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("pickup event is %s", event.Status))
	}
	return event, nil
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, event *models.OrderPickupEvent, actor orders.Actor, eventType enums.OutboxEventType, data any, now time.Time) error {
	domainEvent := outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregatePickupEvent,
		AggregateID:   event.ID,
		Data:          data,
		OccurredAt:    now,
	}
	if actor.UserID != uuid.Nil {
		domainEvent.Actor = &outbox.ActorRef{UserID: actor.UserID, Role: actor.Role}
	}
	if err := s.outbox.Emit(ctx, tx, domainEvent); err != nil {
		return pkgerrors.WrapDB(err, "emit pickup event closed")
	}
	return nil
}

func (s *service) logClosure(ctx context.Context, msg string, summary *ClosureSummary) {
	ctx = s.logg.WithPickupEventID(ctx, summary.Event.ID.String())
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"affected_orders":  len(summary.AffectedOrders),
		"refunded_credits": summary.RefundedCredits,
		"restocked_units":  summary.RestockedUnits,
	}), msg)
}

func (s *service) render(ctx context.Context, rows []models.OrderPickupEvent) ([]PickupEventDTO, error) {
	ids := make([]uuid.UUID, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	counts, err := s.repo.CountOrders(ctx, ids, false)
	if err != nil {
		return nil, pkgerrors.WrapDB(err, "count pickup orders")
	}
	out := make([]PickupEventDTO, 0, len(rows))
	for i := range rows {
		out = append(out, NewPickupEventDTO(&rows[i], counts[rows[i].ID]))
	}
	return out, nil
}

func summarize(event *models.OrderPickupEvent, orderCount int64, resolutions []orders.Resolution) *ClosureSummary {
	summary := &ClosureSummary{
		Event:          NewPickupEventDTO(event, orderCount),
		AffectedOrders: make([]uuid.UUID, 0, len(resolutions)),
	}
	for _, r := range resolutions {
		summary.AffectedOrders = append(summary.AffectedOrders, r.OrderID)
		summary.RefundedCredits += r.RefundedCredits
		summary.RestockedUnits += r.RestockedUnits
	}
	return summary
}

func validateEvent(event *models.OrderPickupEvent) error {
	if event.Title == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "title is required")
	}
	if event.Start.IsZero() || event.End.IsZero() {
		return pkgerrors.New(pkgerrors.CodeValidation, "start and end are required")
	}
	if !event.End.After(event.Start) {
		return pkgerrors.New(pkgerrors.CodeValidation, "end must be after start")
	}
	if event.OrderLimit < 1 {
		return pkgerrors.New(pkgerrors.CodeValidation, "orderLimit must be at least 1")
	}
	return nil
}

func notFoundOr(err error, op string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "pickup event not found")
	}
	return pkgerrors.WrapDB(err, op)
}
