package playlist

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event is the envelope broadcast to every session. Events are emitted in
// mutation order and must be applied by subscribers in that order.
type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// EventType tags the mutation variant carried in Event.Data.
type EventType string

const (
	EventTypeReplaced   EventType = "Replaced"
	EventTypeAdded      EventType = "Added"
	EventTypeRemoved    EventType = "Removed"
	EventTypeMoved      EventType = "Moved"
	EventTypeAdvanced   EventType = "Advanced"
	EventTypeProgressed EventType = "Progressed"
)

// ReplacedPayload carries a full snapshot. It is always the first message a
// connecting client receives.
type ReplacedPayload struct {
	State State `json:"state"`
}

// AddedPayload announces a new entry. An empty InsertAfterID means the entry
// was inserted at the head of the queue.
type AddedPayload struct {
	Source        MediaSource `json:"source"`
	InsertAfterID string      `json:"insert_after_id,omitempty"`
}

type RemovedPayload struct {
	SourceID string `json:"source_id"`
}

type MovedPayload struct {
	SourceID      string `json:"source_id"`
	InsertAfterID string `json:"insert_after_id,omitempty"`
}

// AdvancedPayload announces a change of the currently playing entry. An empty
// CurrentID means playback ended because the queue was exhausted.
type AdvancedPayload struct {
	CurrentID string    `json:"current_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ProgressedPayload carries the authoritative elapsed seconds of the current
// entry plus the server timestamp it was computed at, so clients can
// interpolate smooth progress between ticks.
type ProgressedPayload struct {
	Seconds   float64   `json:"seconds"`
	Timestamp time.Time `json:"timestamp"`
}

func newEvent(eventType EventType, at time.Time, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: at,
		Data:      data,
	}, nil
}

// ParseEventPayload parses the event data into its typed payload struct.
func ParseEventPayload(event Event) (any, error) {
	switch event.Type {
	case EventTypeReplaced:
		var payload ReplacedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeAdded:
		var payload AddedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeRemoved:
		var payload RemovedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeMoved:
		var payload MovedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeAdvanced:
		var payload AdvancedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeProgressed:
		var payload ProgressedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	default:
		return nil, fmt.Errorf("unknown event type: %s", event.Type)
	}
}
