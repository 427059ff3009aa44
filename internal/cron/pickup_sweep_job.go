package cron

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/membership-portal/internal/orders"
	"github.com/angelmondragon/membership-portal/internal/pickups"
	"github.com/angelmondragon/membership-portal/pkg/db/models"
	"github.com/angelmondragon/membership-portal/pkg/logger"
)

const defaultSweepBatch = 50

type pickupCloser interface {
	ListDue(ctx context.Context, limit int) ([]models.OrderPickupEvent, error)
	Complete(ctx context.Context, id uuid.UUID, actor orders.Actor) (*pickups.ClosureSummary, error)
}

// PickupSweepJobParams configure the pickup sweep.
type PickupSweepJobParams struct {
	Logger    *logger.Logger
	Pickups   pickupCloser
	BatchSize int
}

type pickupSweepJob struct {
	logg    *logger.Logger
	pickups pickupCloser
	batch   int
}

// NewPickupSweepJob builds the job that completes pickup events whose window has
// closed, marking their leftover orders as missed.
func NewPickupSweepJob(params PickupSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Pickups == nil {
		return nil, fmt.Errorf("pickups service required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	return &pickupSweepJob{logg: params.Logger, pickups: params.Pickups, batch: batch}, nil
}

func (j *pickupSweepJob) Name() string { return "pickup-sweep" }

// Run completes each due event in its own transaction. One failing event does
// not stop the rest; failures are returned together.
func (j *pickupSweepJob) Run(ctx context.Context) error {
	due, err := j.pickups.ListDue(ctx, j.batch)
	if err != nil {
		return fmt.Errorf("list due pickup events: %w", err)
	}
	var (
		errs     error
		missed   int
		refunded int
	)
	for _, event := range due {
		summary, err := j.pickups.Complete(ctx, event.ID, orders.Actor{})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("complete pickup event %s: %w", event.ID, err))
			continue
		}
		missed += len(summary.AffectedOrders)
		refunded += summary.RefundedCredits
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"due_events":       len(due),
		"failed_events":    len(multierr.Errors(errs)),
		"missed_orders":    missed,
		"refunded_credits": refunded,
	}), "pickup sweep complete")
	return errs
}
