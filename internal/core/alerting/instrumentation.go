package alerting

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Instrumentation exposes engine activity as Prometheus metrics. The event
// bus feeds it so the engine components stay unaware of the collector.
type Instrumentation struct {
	alertsTriggered   *prometheus.CounterVec
	alertsResolved    prometheus.Counter
	transitions       *prometheus.CounterVec
	notificationsSent *prometheus.CounterVec
}

// NewInstrumentation registers the engine metrics under the given prefix
// and subscribes them to the bus.
func NewInstrumentation(prefix string, bus *EventBus) *Instrumentation {
	if prefix == "" {
		prefix = "alerting"
	}

	inst := &Instrumentation{
		alertsTriggered: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_alerts_triggered_total",
				Help: "Total number of alerts triggered",
			},
			[]string{"severity"},
		),
		alertsResolved: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: prefix + "_alerts_resolved_total",
				Help: "Total number of alerts resolved",
			},
		),
		transitions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_alert_transitions_total",
				Help: "Total number of alert state transitions",
			},
			[]string{"from", "to"},
		),
		notificationsSent: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_notifications_sent_total",
				Help: "Total number of notifications delivered",
			},
			[]string{"channel"},
		),
	}

	bus.Subscribe(EventRuleTriggered, func(event Event) {
		if event.Alert != nil {
			inst.alertsTriggered.WithLabelValues(event.Alert.Severity).Inc()
		}
	})
	bus.Subscribe(EventAlertResolved, func(event Event) {
		inst.alertsResolved.Inc()
	})
	bus.Subscribe(EventStateChanged, func(event Event) {
		inst.transitions.WithLabelValues(event.FromState, event.ToState).Inc()
	})
	bus.Subscribe(EventNotificationSent, func(event Event) {
		inst.notificationsSent.WithLabelValues(event.Channel).Inc()
	})
	return inst
}
