package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/membership-portal/pkg/config"
	"github.com/angelmondragon/membership-portal/pkg/db/models"
	"github.com/angelmondragon/membership-portal/pkg/enums"
	"github.com/angelmondragon/membership-portal/pkg/outbox"
	"github.com/angelmondragon/membership-portal/pkg/outbox/payloads"
)

const payloadVersion = 1

// payloadSchemas lists the typed body of every store event.
var payloadSchemas = map[enums.OutboxEventType]func() interface{}{
	enums.EventOrderPlaced:          func() interface{} { return &payloads.OrderPlacedEvent{} },
	enums.EventOrderCancelled:       func() interface{} { return &payloads.OrderCancelledEvent{} },
	enums.EventOrderFulfilled:       func() interface{} { return &payloads.OrderFulfilledEvent{} },
	enums.EventOrderPickupMissed:    func() interface{} { return &payloads.OrderPickupMissedEvent{} },
	enums.EventPickupEventCancelled: func() interface{} { return &payloads.PickupEventCancelledEvent{} },
	enums.EventPickupEventCompleted: func() interface{} { return &payloads.PickupEventCompletedEvent{} },
	enums.EventOptionRestocked:      func() interface{} { return &payloads.OptionRestockedEvent{} },
}

// EventDescriptor links an event type to its aggregate, topic and payload schema.
type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	Topic          string
	PayloadFactory func() interface{}
}

// ResolvedEvent is the result of decoding an outbox row.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    interface{}
}

// EventRegistry maps each supported event type to its descriptor.
type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// NonRetryableError marks a row that will fail the same way on every attempt.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error {
	return e.Err
}

// NewNonRetryableError wraps an error to signal no retries.
func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

// NewEventRegistry routes every store event to the configured store topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	topic := strings.TrimSpace(cfg.StoreTopic)
	if topic == "" {
		return nil, errors.New("store topic is required")
	}
	reg := &EventRegistry{entries: make(map[enums.OutboxEventType]EventDescriptor, len(payloadSchemas))}
	for eventType, factory := range payloadSchemas {
		aggregate := eventType.Aggregate()
		if aggregate == "" {
			return nil, fmt.Errorf("event %s has no aggregate", eventType)
		}
		reg.entries[eventType] = EventDescriptor{
			EventType:      eventType,
			AggregateType:  aggregate,
			Topic:          topic,
			PayloadFactory: factory,
		}
	}
	return reg, nil
}

// Types lists the registered event types in lexical order.
func (r *EventRegistry) Types() []enums.OutboxEventType {
	out := make([]enums.OutboxEventType, 0, len(r.entries))
	for t := range r.entries {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Decoders exposes the registered payload schemas for subscribers.
func (r *EventRegistry) Decoders() *DecoderRegistry {
	decoders := NewDecoderRegistry()
	for eventType, desc := range r.entries {
		decoders.Register(eventType, payloadVersion, JSONDecoder(desc.PayloadFactory))
	}
	return decoders
}

// Resolve validates the row and decodes its typed payload. Every failure is
// non-retryable since the row itself is at fault.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, err := r.describe(event)
	if err != nil {
		return nil, NewNonRetryableError(err)
	}
	envelope, err := outbox.ParseEnvelope(event.Payload)
	if err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("%s envelope: %w", event.EventType, err))
	}
	payload := desc.PayloadFactory()
	if err := json.Unmarshal(envelope.Data, payload); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode %s payload: %w", event.EventType, err))
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}

func (r *EventRegistry) describe(event models.OutboxEvent) (EventDescriptor, error) {
	desc, ok := r.entries[event.EventType]
	switch {
	case !ok:
		return desc, fmt.Errorf("unsupported event type %s", event.EventType)
	case desc.AggregateType != event.AggregateType:
		return desc, fmt.Errorf("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType)
	case event.AggregateID == uuid.Nil:
		return desc, errors.New("missing aggregate_id")
	}
	return desc, nil
}
