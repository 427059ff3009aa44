package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/angelmondragon/membership-portal/pkg/enums"
)

// ErrDecoderNotFound is returned when no decoder matches an event type and
// payload version.
var ErrDecoderNotFound = errors.New("decoder not registered")

// DecodeFunc turns the data section of an envelope into a typed payload.
type DecodeFunc func(data json.RawMessage) (interface{}, error)

type decoderKey struct {
	eventType enums.OutboxEventType
	version   int
}

// DecoderRegistry maps store event types to payload decoders for subscribers.
type DecoderRegistry struct {
	mu       sync.RWMutex
	decoders map[decoderKey]DecodeFunc
}

func NewDecoderRegistry() *DecoderRegistry {
	return &DecoderRegistry{decoders: make(map[decoderKey]DecodeFunc)}
}

// Register replaces any decoder already stored for eventType@version.
func (r *DecoderRegistry) Register(eventType enums.OutboxEventType, version int, fn DecodeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoders[decoderKey{eventType: eventType, version: version}] = fn
}

// Decode fails with ErrDecoderNotFound for unknown pairs.
func (r *DecoderRegistry) Decode(eventType enums.OutboxEventType, version int, data json.RawMessage) (interface{}, error) {
	r.mu.RLock()
	fn, ok := r.decoders[decoderKey{eventType: eventType, version: version}]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s@v%d", ErrDecoderNotFound, eventType, version)
	}
	payload, err := fn(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s@v%d: %w", eventType, version, err)
	}
	return payload, nil
}

// EventTypes lists the registered types in sorted order.
func (r *DecoderRegistry) EventTypes() []enums.OutboxEventType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[enums.OutboxEventType]struct{}, len(r.decoders))
	out := make([]enums.OutboxEventType, 0, len(r.decoders))
	for key := range r.decoders {
		if _, ok := seen[key.eventType]; ok {
			continue
		}
		seen[key.eventType] = struct{}{}
		out = append(out, key.eventType)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// JSONDecoder decodes into a fresh value from factory.
func JSONDecoder(factory func() interface{}) DecodeFunc {
	return func(data json.RawMessage) (interface{}, error) {
		payload := factory()
		if err := json.Unmarshal(data, payload); err != nil {
			return nil, err
		}
		return payload, nil
	}
}
