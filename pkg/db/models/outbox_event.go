package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/membership-portal/pkg/enums"
)

// OutboxEvent is a store domain event committed alongside the order, pickup
// event or option change that produced it. The relay publishes it to the store
// topic and stamps PublishedAt.
type OutboxEvent struct {
	ID        uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	EventType enums.OutboxEventType `gorm:"column:event_type;type:event_type;not null"`
	// AggregateType and AggregateID name the order, pickup event or option.
	AggregateType enums.OutboxAggregateType `gorm:"column:aggregate_type;type:aggregate_type;not null"`
	AggregateID   uuid.UUID                 `gorm:"column:aggregate_id;type:uuid;not null"`
	// Payload is the sealed envelope, see outbox.PayloadEnvelope.
	Payload      json.RawMessage `gorm:"column:payload;type:jsonb;not null"`
	CreatedAt    time.Time       `gorm:"column:created_at;autoCreateTime"`
	PublishedAt  *time.Time      `gorm:"column:published_at"`
	AttemptCount int             `gorm:"column:attempt_count;not null;default:0"`
	LastError    *string         `gorm:"column:last_error"`
}

func (OutboxEvent) TableName() string { return "outbox_events" }

// Exhausted reports whether the row has used every publish attempt.
func (e OutboxEvent) Exhausted(maxAttempts int) bool {
	return maxAttempts > 0 && e.AttemptCount >= maxAttempts
}

// DeadLetter builds the DLQ row parking this event. cause may be nil.
func (e OutboxEvent) DeadLetter(reason enums.OutboxDLQErrorReason, cause error, failedAt time.Time) OutboxDLQ {
	entry := OutboxDLQ{
		EventID:       e.ID,
		EventType:     e.EventType,
		AggregateType: e.AggregateType,
		AggregateID:   e.AggregateID,
		Payload:       e.Payload,
		ErrorReason:   reason,
		AttemptCount:  e.AttemptCount,
		FailedAt:      failedAt,
	}
	if cause != nil {
		msg := cause.Error()
		entry.ErrorMessage = &msg
	}
	return entry
}
