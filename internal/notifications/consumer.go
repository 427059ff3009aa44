package notifications

import (
	"context"
	"errors"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/membership-portal/pkg/enums"
	"github.com/angelmondragon/membership-portal/pkg/logger"
	"github.com/angelmondragon/membership-portal/pkg/outbox"
	"github.com/angelmondragon/membership-portal/pkg/outbox/idempotency"
	"github.com/angelmondragon/membership-portal/pkg/outbox/payloads"
	"github.com/angelmondragon/membership-portal/pkg/outbox/registry"
)

const storeMailerConsumer = "store-mailer"

// Consumer turns store domain events into member emails.
type Consumer struct {
	repo         Repository
	notifier     Notifier
	decoders     *registry.DecoderRegistry
	subscription *pubsub.Subscriber
	idempotency  *idempotency.Manager
	logg         *logger.Logger
}

// ConsumerParams wires the store mailer.
type ConsumerParams struct {
	Repository   Repository
	Notifier     Notifier
	Decoders     *registry.DecoderRegistry
	Subscription *pubsub.Subscriber
	Idempotency  *idempotency.Manager
	Logger       *logger.Logger
}

// NewConsumer builds a store mailer consumer.
func NewConsumer(params ConsumerParams) (*Consumer, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("recipient repository required")
	}
	if params.Notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	if params.Decoders == nil {
		return nil, fmt.Errorf("decoder registry required")
	}
	if params.Idempotency == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		repo:         params.Repository,
		notifier:     params.Notifier,
		decoders:     params.Decoders,
		subscription: params.Subscription,
		idempotency:  params.Idempotency,
		logg:         params.Logger,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	if c.subscription == nil {
		return fmt.Errorf("store subscription required")
	}
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	eventType := enums.OutboxEventType(msg.Attributes["event_type"])
	fields := map[string]any{
		"message_id": msg.ID,
		"event_type": eventType,
	}
	logCtx := c.logg.WithFields(ctx, fields)

	switch eventType {
	case enums.EventOrderCancelled, enums.EventOrderPickupMissed:
	default:
		c.logg.Info(logCtx, "skipping event without member email")
		return processResult{ack: true}
	}

	envelope, err := outbox.ParseEnvelope(msg.Data)
	if err != nil {
		c.logg.Error(logCtx, "invalid store event envelope", err)
		return processResult{ack: true}
	}
	eventID := uuid.MustParse(envelope.EventID)

	payload, err := c.decoders.Decode(eventType, envelope.Version, envelope.Data)
	if err != nil {
		c.logg.Error(logCtx, "failed to parse payload", err)
		return processResult{ack: true}
	}

	err = c.idempotency.Once(ctx, storeMailerConsumer, eventID, func(context.Context) error {
		return c.handlePayload(logCtx, payload)
	})
	switch {
	case errors.Is(err, idempotency.ErrAlreadyProcessed):
		c.logg.Info(logCtx, "event already processed")
		return processResult{ack: true}
	case err != nil:
		c.logg.Error(logCtx, "store email failed", err)
		return processResult{nack: true}
	}
	return processResult{ack: true}
}

func (c *Consumer) handlePayload(ctx context.Context, payload interface{}) error {
	switch event := payload.(type) {
	case *payloads.OrderCancelledEvent:
		to, err := c.recipient(ctx, event.OrderID, event.UserID)
		if to == nil || err != nil {
			return err
		}
		if err := c.notifier.SendOrderCancelled(ctx, *to, event.OrderID, event.RefundedCredits, event.Reason); err != nil {
			return err
		}
		c.logg.Info(c.logg.WithOrderID(ctx, event.OrderID.String()), "member notified of cancellation")
		return nil
	case *payloads.OrderPickupMissedEvent:
		to, err := c.recipient(ctx, event.OrderID, event.UserID)
		if to == nil || err != nil {
			return err
		}
		if err := c.notifier.SendPickupMissed(ctx, *to, event.OrderID, event.RefundedCredits); err != nil {
			return err
		}
		c.logg.Info(c.logg.WithOrderID(ctx, event.OrderID.String()), "member notified of missed pickup")
		return nil
	default:
		return fmt.Errorf("unexpected payload %T", payload)
	}
}

// recipient returns nil, nil when the email should be dropped.
func (c *Consumer) recipient(ctx context.Context, orderID, userID uuid.UUID) (*Recipient, error) {
	to, err := c.repo.FindOrderRecipient(ctx, orderID, userID)
	if errors.Is(err, ErrNoRecipient) {
		c.logg.Warn(c.logg.WithOrderID(ctx, orderID.String()), "store email dropped, no reachable member")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load recipient: %w", err)
	}
	return to, nil
}
