package alerting

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pennine-ops/wms-alerting-go/internal/database/models"
)

// Event types published on the bus.
const (
	EventRuleTriggered    = "rule_triggered"
	EventAlertResolved    = "alert_resolved"
	EventStateChanged     = "state_changed"
	EventNotificationSent = "notification_sent"
)

// Event carries an engine occurrence to subscribers.
type Event struct {
	Type      string              `json:"type"`
	Alert     *models.Alert       `json:"alert,omitempty"`
	Rule      *models.AlertRule   `json:"rule,omitempty"`
	FromState string              `json:"from_state,omitempty"`
	ToState   string              `json:"to_state,omitempty"`
	Channel   string              `json:"channel,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
}

// EventHandler receives published events. Handlers run synchronously on the
// publishing goroutine; long work belongs in the handler's own goroutine.
type EventHandler func(Event)

// EventBus fans engine events out to registered handlers. A panicking handler
// is logged and does not affect the other handlers or the publisher.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[string][]EventHandler
	logger   *logrus.Logger
}

// NewEventBus creates an empty event bus.
func NewEventBus(logger *logrus.Logger) *EventBus {
	return &EventBus{
		handlers: make(map[string][]EventHandler),
		logger:   logger,
	}
}

// Subscribe registers a handler for the given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Publish delivers an event to every handler subscribed to its type.
func (b *EventBus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	handlers := b.handlers[event.Type]
	b.mu.RUnlock()

	for _, handler := range handlers {
		b.invoke(handler, event)
	}
}

func (b *EventBus) invoke(handler EventHandler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.WithFields(logrus.Fields{
				"event_type": event.Type,
				"panic":      r,
			}).Error("Event handler panicked")
		}
	}()
	handler(event)
}
