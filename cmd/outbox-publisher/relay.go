package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/angelmondragon/membership-portal/pkg/db/models"
	"github.com/angelmondragon/membership-portal/pkg/enums"
	"github.com/angelmondragon/membership-portal/pkg/metrics"
	"github.com/angelmondragon/membership-portal/pkg/outbox/registry"
	"gorm.io/gorm"
)

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

// verdict is what happens to a row after one publish attempt.
type verdict struct {
	outcome string
	reason  enums.OutboxDLQErrorReason
	err     error
}

// judge turns the result of one attempt into a verdict. attempts counts the
// attempt that just finished.
func judge(pubErr error, attempts, maxAttempts int) verdict {
	if pubErr == nil {
		return verdict{outcome: metrics.RelayPublished}
	}
	var nonRetry registry.NonRetryableError
	if errors.As(pubErr, &nonRetry) {
		return verdict{outcome: metrics.RelayDeadLettered, reason: enums.OutboxDLQReasonNonRetryable, err: pubErr}
	}
	if (models.OutboxEvent{AttemptCount: attempts}).Exhausted(maxAttempts) {
		return verdict{
			outcome: metrics.RelayDeadLettered,
			reason:  enums.OutboxDLQReasonMaxAttempts,
			err:     fmt.Errorf("max publish attempts reached: %w", pubErr),
		}
	}
	return verdict{outcome: metrics.RelayRetried, err: pubErr}
}

// relay publishes one row and records the verdict in tx. Only bookkeeping
// failures are returned; they abort the batch.
func (s *Service) relay(ctx context.Context, tx *gorm.DB, event models.OutboxEvent) error {
	fields := map[string]any{
		"outbox_id":      event.ID.String(),
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID.String(),
	}

	resolved, err := s.registry.Resolve(event)
	if err != nil {
		v := verdict{outcome: metrics.RelayDeadLettered, reason: enums.OutboxDLQReasonNonRetryable, err: err}
		return s.settle(ctx, tx, event, v, fields)
	}
	fields["topic"] = resolved.Descriptor.Topic
	fields["event_id"] = resolved.Envelope.EventID

	pubErr := s.publish(ctx, event, resolved)
	attempts := event.AttemptCount
	if pubErr != nil {
		attempts++
	}
	fields["attempt_count"] = attempts
	v := judge(pubErr, attempts, s.maxAttempts)
	event.AttemptCount = attempts
	return s.settle(ctx, tx, event, v, fields)
}

func (s *Service) settle(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, v verdict, fields map[string]any) error {
	s.metrics.Observe(string(event.EventType), v.outcome)
	logCtx := s.logg.WithFields(ctx, fields)

	switch v.outcome {
	case metrics.RelayPublished:
		if err := s.repo.MarkPublishedTx(tx, event.ID); err != nil {
			return fmt.Errorf("mark published %s: %w", event.ID, err)
		}
		s.logg.Info(logCtx, "store event published")
		return nil

	case metrics.RelayRetried:
		s.logg.Warn(s.logg.WithField(logCtx, "error", v.err.Error()), "store event publish failed")
		if err := s.repo.MarkFailedTx(tx, event.ID, v.err); err != nil {
			return fmt.Errorf("mark failure %s: %w", event.ID, err)
		}
		return nil
	}

	logCtx = s.logg.WithFields(logCtx, map[string]any{
		"error_reason": v.reason,
		"error":        v.err.Error(),
	})
	s.logg.Warn(logCtx, "store event dead-lettered")

	if err := s.dlq.InsertTx(tx, event.DeadLetter(v.reason, v.err, s.now())); err != nil {
		return fmt.Errorf("insert dlq %s: %w", event.ID, err)
	}
	if err := s.repo.MarkTerminalTx(tx, event.ID, v.err, s.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", event.ID, err)
	}
	return nil
}

func (s *Service) publish(ctx context.Context, event models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	topic := resolved.Descriptor.Topic
	pub := s.publisherFactory(topic)
	if pub == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher not configured for topic %s", topic))
	}

	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()
	result := pub.Publish(publishCtx, &gcppubsub.Message{
		Data:       event.Payload,
		Attributes: messageAttributes(event, resolved),
	})
	if result == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher returned nil for topic %s", topic))
	}
	_, err := result.Get(publishCtx)
	return err
}

// messageAttributes carries the routing data consumers filter on without
// decoding the body.
func messageAttributes(event models.OutboxEvent, resolved *registry.ResolvedEvent) map[string]string {
	attrs := map[string]string{
		"event_id":       resolved.Envelope.EventID,
		"event_type":     string(event.EventType),
		"aggregate_type": string(event.AggregateType),
		"aggregate_id":   event.AggregateID.String(),
		"created_at":     event.CreatedAt.UTC().Format(time.RFC3339Nano),
		"schema_version": strconv.Itoa(resolved.Envelope.Version),
	}
	if !resolved.Envelope.OccurredAt.IsZero() {
		attrs["occurred_at"] = resolved.Envelope.OccurredAt.UTC().Format(time.RFC3339Nano)
	}
	return attrs
}

type gcpPublisher struct {
	inner *gcppubsub.Publisher
}

func wrapPublisher(p *gcppubsub.Publisher) publisher {
	if p == nil {
		return nil
	}
	return gcpPublisher{inner: p}
}

func (p gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return p.inner.Publish(ctx, msg)
}
