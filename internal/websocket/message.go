package websocket

import (
	"encoding/json"
	"time"

	"github.com/pennine-ops/wms-alerting-go/internal/database/models"
)

// Message types for WebSocket communication
const (
	MessageTypeAlertTriggered   = "alert_triggered"
	MessageTypeAlertResolved    = "alert_resolved"
	MessageTypeAlertStateChange = "alert_state_changed"
	MessageTypeNotificationSent = "notification_sent"
	MessageTypeEngineStatus     = "engine_status"
	MessageTypeConnectionStatus = "connection_status"
)

// Message represents a WebSocket message
type Message struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
}

// ToJSON converts the message to JSON bytes
func (m Message) ToJSON() []byte {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	data, _ := json.Marshal(m)
	return data
}

// AlertMessage builds a broadcast message for an alert lifecycle event.
func AlertMessage(messageType string, alert *models.Alert) Message {
	return Message{
		Type: messageType,
		Data: map[string]interface{}{
			"alert_id":     alert.ID,
			"rule_id":      alert.RuleID,
			"rule_name":    alert.RuleName,
			"state":        alert.State,
			"severity":     alert.Severity,
			"message":      alert.Message,
			"value":        alert.Value,
			"threshold":    alert.Threshold,
			"triggered_at": alert.TriggeredAt.UTC(),
		},
	}
}

// StateChangeMessage builds a broadcast message for a state transition.
func StateChangeMessage(alert *models.Alert, fromState, toState string) Message {
	msg := AlertMessage(MessageTypeAlertStateChange, alert)
	msg.Data["from_state"] = fromState
	msg.Data["to_state"] = toState
	return msg
}

// NotificationSentMessage builds a broadcast message for a delivered
// notification.
func NotificationSentMessage(alert *models.Alert, channel string) Message {
	return Message{
		Type: MessageTypeNotificationSent,
		Data: map[string]interface{}{
			"alert_id": alert.ID,
			"rule_id":  alert.RuleID,
			"channel":  channel,
		},
	}
}

// EngineStatusMessage builds a broadcast message for engine lifecycle
// changes.
func EngineStatusMessage(status string, details map[string]interface{}) Message {
	return Message{
		Type: MessageTypeEngineStatus,
		Data: map[string]interface{}{
			"status":  status,
			"details": details,
		},
	}
}
