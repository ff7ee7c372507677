package alerting

import (
	"fmt"
	"time"
)

// Alert states.
const (
	StateActive       = "active"
	StateResolved     = "resolved"
	StateAcknowledged = "acknowledged"
	StateSilenced     = "silenced"
)

// Alert severities, ordered from least to most urgent.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Rule condition operators.
const (
	ConditionGreaterThan = "gt"
	ConditionLessThan    = "lt"
	ConditionEquals      = "eq"
	ConditionNotEquals   = "neq"
	ConditionContains    = "contains"
	ConditionRegex       = "regex"
)

// Notification channel types.
const (
	ChannelEmail   = "email"
	ChannelChat    = "chat"
	ChannelWebhook = "webhook"
	ChannelSMS     = "sms"
)

// Notification delivery statuses.
const (
	NotificationPending = "pending"
	NotificationSent    = "sent"
	NotificationFailed  = "failed"
	NotificationSkipped = "skipped"
)

// Cache key layout shared by the state manager, dispatcher and orchestrator.
const (
	statsKey          = "alert:stats"
	escalationMarkTTL = 24 * time.Hour
)

func activeAlertKey(ruleID string) string {
	return "alert:active:" + ruleID
}

func suppressionKey(ruleID string) string {
	return "suppression:" + ruleID
}

func escalationMarkKey(alertID string, level int) string {
	return fmt.Sprintf("escalation:%s:%d", alertID, level)
}

func minuteRateKey(configID string) string {
	return "rate_limit:" + configID
}

func hourlyRateKey(configID string) string {
	return "rate_limit:hourly:" + configID
}

var severityRank = map[string]int{
	SeverityInfo:     0,
	SeverityWarning:  1,
	SeverityError:    2,
	SeverityCritical: 3,
}

// ValidSeverity reports whether s is a known severity value.
func ValidSeverity(s string) bool {
	_, ok := severityRank[s]
	return ok
}

// ValidState reports whether s is a known alert state.
func ValidState(s string) bool {
	switch s {
	case StateActive, StateResolved, StateAcknowledged, StateSilenced:
		return true
	}
	return false
}

// ValidCondition reports whether op is a supported condition operator.
func ValidCondition(op string) bool {
	switch op {
	case ConditionGreaterThan, ConditionLessThan, ConditionEquals,
		ConditionNotEquals, ConditionContains, ConditionRegex:
		return true
	}
	return false
}

// ValidChannel reports whether t is a supported notification channel type.
func ValidChannel(t string) bool {
	switch t {
	case ChannelEmail, ChannelChat, ChannelWebhook, ChannelSMS:
		return true
	}
	return false
}
