package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Schedule lifecycle event types.
const (
	TypeConflictsDetected = "schedule.conflicts_detected"
	TypeScheduleSaved     = "schedule.saved"
	TypePersistFailed     = "schedule.persist_failed"
	TypeEditCanceled      = "schedule.edit_canceled"
)

// Event represents a lightweight domain event.
type Event struct {
	ID        string
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// Decode unmarshals the payload into out.
func (e Event) Decode(out any) error {
	return json.Unmarshal(e.Payload, out)
}

// ScheduleEvent is the payload of every schedule lifecycle event.
type ScheduleEvent struct {
	OrderID         string          `json:"orderId"`
	SessionID       string          `json:"sessionId"`
	Strategy        string          `json:"strategy,omitempty"`
	ConflictIDs     []string        `json:"conflictIds,omitempty"`
	Schedule        json.RawMessage `json:"schedule,omitempty"`
	PreviousVersion int64           `json:"previousVersion"`
	NewVersion      int64           `json:"newVersion,omitempty"`
	Unverified      bool            `json:"unverified,omitempty"`
	Error           string          `json:"error,omitempty"`
}

// EventHandler reacts to an event.
type EventHandler func(event Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
	logger      zerolog.Logger
}

// NewEventBus constructs an empty bus.
func NewEventBus(logger *zerolog.Logger) *EventBus {
	return &EventBus{
		subscribers: make(map[string][]EventHandler),
		logger:      logger.With().Str("component", "events").Logger(),
	}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		if err := handler(event); err != nil {
			b.logger.Error().Err(err).Str("event_type", event.Type).Str("event_id", event.ID).Msg("event handler failed")
		}
	}
}

// PublishSchedule encodes payload and publishes it under eventType.
func (b *EventBus) PublishSchedule(eventType string, payload ScheduleEvent) {
	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Error().Err(err).Str("event_type", eventType).Msg("encode event payload")
		return
	}
	b.Publish(Event{Type: eventType, Payload: data})
}
