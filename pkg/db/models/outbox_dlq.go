package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/membership-portal/pkg/enums"
)

// OutboxDLQ is a store event the relay gave up on. There is at most one row
// per event; parking the same event again refreshes it.
type OutboxDLQ struct {
	ID            uuid.UUID                  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	EventID       uuid.UUID                  `gorm:"column:event_id;type:uuid;not null;uniqueIndex"`
	EventType     enums.OutboxEventType      `gorm:"column:event_type;type:event_type;not null"`
	AggregateType enums.OutboxAggregateType  `gorm:"column:aggregate_type;type:aggregate_type;not null"`
	AggregateID   uuid.UUID                  `gorm:"column:aggregate_id;type:uuid;not null"`
	Payload       json.RawMessage            `gorm:"column:payload_json;type:jsonb;not null"`
	ErrorReason   enums.OutboxDLQErrorReason `gorm:"column:error_reason;type:outbox_dlq_error_reason;not null"`
	ErrorMessage  *string                    `gorm:"column:error_message"`
	AttemptCount  int                        `gorm:"column:attempt_count;not null;default:0"`
	FailedAt      time.Time                  `gorm:"column:failed_at;autoCreateTime"`
	CreatedAt     time.Time                  `gorm:"column:created_at;autoCreateTime"`
}

func (OutboxDLQ) TableName() string { return "outbox_dlq" }

// Retryable reports whether an operator may requeue the entry after a fix.
func (d OutboxDLQ) Retryable() bool {
	return d.ErrorReason == enums.OutboxDLQReasonMaxAttempts
}

// Refresh lists the columns overwritten when an event is parked again.
func (d OutboxDLQ) Refresh() map[string]any {
	return map[string]any{
		"error_reason":  d.ErrorReason,
		"error_message": d.ErrorMessage,
		"attempt_count": d.AttemptCount,
		"failed_at":     d.FailedAt,
	}
}
