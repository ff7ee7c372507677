package alerting

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestEventBusDeliversToSubscribers(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	bus := NewEventBus(logger)

	var got []string
	bus.Subscribe(EventRuleTriggered, func(e Event) { got = append(got, "a") })
	bus.Subscribe(EventRuleTriggered, func(e Event) { got = append(got, "b") })
	bus.Subscribe(EventAlertResolved, func(e Event) { got = append(got, "other") })

	bus.Publish(Event{Type: EventRuleTriggered})
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestEventBusSurvivesPanickingHandler(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	bus := NewEventBus(logger)

	delivered := false
	bus.Subscribe(EventStateChanged, func(e Event) { panic("boom") })
	bus.Subscribe(EventStateChanged, func(e Event) { delivered = true })

	bus.Publish(Event{Type: EventStateChanged})
	assert.True(t, delivered)
}

func TestEventBusSetsTimestamp(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	bus := NewEventBus(logger)

	var seen Event
	bus.Subscribe(EventNotificationSent, func(e Event) { seen = e })
	bus.Publish(Event{Type: EventNotificationSent})
	assert.False(t, seen.Timestamp.IsZero())
}
