package models

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/jmoiron/sqlx/types"
)

// isEmptyJSON reports whether the blob carries no usable payload. A NULL
// column scans to "{}" through types.JSONText, so that counts as empty too.
func isEmptyJSON(raw types.JSONText) bool {
	switch strings.TrimSpace(string(raw)) {
	case "", "null", "{}", "[]":
		return true
	}
	return false
}

// AlertRule represents a persisted evaluation rule
type AlertRule struct {
	ID              string          `json:"id" db:"id"`
	Name            string          `json:"name" db:"name"`
	Description     sql.NullString  `json:"description" db:"description"`
	Enabled         bool            `json:"enabled" db:"enabled"`
	Severity        string          `json:"severity" db:"severity"`
	Metric          string          `json:"metric" db:"metric"`
	Condition       string          `json:"condition" db:"condition"`
	Threshold       string          `json:"threshold" db:"threshold"`
	WindowSeconds   int             `json:"window_seconds" db:"window_seconds"`
	IntervalSeconds int             `json:"interval_seconds" db:"interval_seconds"`
	SilenceSeconds  int             `json:"silence_seconds" db:"silence_seconds"`
	Dependencies    types.JSONText  `json:"dependencies" db:"dependencies"`
	Notifications   types.JSONText  `json:"notifications" db:"notifications"`
	Tags            types.JSONText  `json:"tags" db:"tags"`
	CreatedBy       sql.NullString  `json:"created_by" db:"created_by"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}

// Interval returns the evaluation interval for the rule.
func (r *AlertRule) Interval() time.Duration {
	return time.Duration(r.IntervalSeconds) * time.Second
}

// SilenceDuration returns how long the rule's alerts stay silenced when
// a silence is requested without an explicit duration.
func (r *AlertRule) SilenceDuration() time.Duration {
	return time.Duration(r.SilenceSeconds) * time.Second
}

// DependencyIDs decodes the rule IDs this rule depends on.
func (r *AlertRule) DependencyIDs() []string {
	return decodeStringList(r.Dependencies)
}

// TagList decodes the rule's tags.
func (r *AlertRule) TagList() []string {
	return decodeStringList(r.Tags)
}

// NotificationConfigs decodes the rule's ordered notification targets.
func (r *AlertRule) NotificationConfigs() ([]NotificationConfig, error) {
	if isEmptyJSON(r.Notifications) {
		return nil, nil
	}
	var configs []NotificationConfig
	if err := json.Unmarshal(r.Notifications, &configs); err != nil {
		return nil, err
	}
	return configs, nil
}

func decodeStringList(raw types.JSONText) []string {
	if isEmptyJSON(raw) {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil
	}
	return list
}

// NotificationConfig is one delivery target attached to a rule or an
// escalation level.
type NotificationConfig struct {
	ID         string              `json:"id" yaml:"id"`
	Channel    string              `json:"channel" yaml:"channel"`
	Enabled    bool                `json:"enabled" yaml:"enabled"`
	Config     map[string]string   `json:"config,omitempty" yaml:"config,omitempty"`
	Conditions *DeliveryConditions `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	TemplateID string              `json:"template_id,omitempty" yaml:"template_id,omitempty"`
}

// DeliveryConditions restrict when a notification config fires.
type DeliveryConditions struct {
	Severities  []string     `json:"severities,omitempty" yaml:"severities,omitempty"`
	TimeWindows []TimeWindow `json:"time_windows,omitempty" yaml:"time_windows,omitempty"`
}

// TimeWindow is an inclusive daily delivery window. Start and End are
// "HH:MM" clock strings; a window with Start > End spans midnight.
type TimeWindow struct {
	Start string   `json:"start" yaml:"start"`
	End   string   `json:"end" yaml:"end"`
	Days  []string `json:"days,omitempty" yaml:"days,omitempty"`
}

// Alert represents a triggered alert instance
type Alert struct {
	ID                string          `json:"id" db:"id"`
	RuleID            string          `json:"rule_id" db:"rule_id"`
	RuleName          string          `json:"rule_name" db:"rule_name"`
	State             string          `json:"state" db:"state"`
	Severity          string          `json:"severity" db:"severity"`
	Message           string          `json:"message" db:"message"`
	Value             string          `json:"value" db:"value"`
	Threshold         string          `json:"threshold" db:"threshold"`
	Labels            types.JSONText  `json:"labels" db:"labels"`
	Annotations       types.JSONText  `json:"annotations" db:"annotations"`
	EscalationLevel   int             `json:"escalation_level" db:"escalation_level"`
	NotificationCount int             `json:"notification_count" db:"notification_count"`
	TriggeredAt       time.Time       `json:"triggered_at" db:"triggered_at"`
	AcknowledgedAt    sql.NullTime    `json:"acknowledged_at" db:"acknowledged_at"`
	AcknowledgedBy    sql.NullString  `json:"acknowledged_by" db:"acknowledged_by"`
	SilencedUntil     sql.NullTime    `json:"silenced_until" db:"silenced_until"`
	ResolvedAt        sql.NullTime    `json:"resolved_at" db:"resolved_at"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
}

// LabelMap decodes the alert's labels.
func (a *Alert) LabelMap() map[string]string {
	return decodeStringMap(a.Labels)
}

// AnnotationMap decodes the alert's annotations.
func (a *Alert) AnnotationMap() map[string]string {
	return decodeStringMap(a.Annotations)
}

func decodeStringMap(raw types.JSONText) map[string]string {
	if isEmptyJSON(raw) {
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

// AlertTransition records a single state change of an alert
type AlertTransition struct {
	ID        int64          `json:"id" db:"id"`
	AlertID   string         `json:"alert_id" db:"alert_id"`
	FromState string         `json:"from_state" db:"from_state"`
	ToState   string         `json:"to_state" db:"to_state"`
	Actor     sql.NullString `json:"actor" db:"actor"`
	Note      sql.NullString `json:"note" db:"note"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
}

// NotificationTemplate represents a message template for a channel type
type NotificationTemplate struct {
	ID          string          `json:"id" db:"id"`
	Name        string          `json:"name" db:"name"`
	ChannelType string          `json:"channel_type" db:"channel_type"`
	Subject     sql.NullString  `json:"subject" db:"subject"`
	Body        string          `json:"body" db:"body"`
	Variables   types.JSONText  `json:"variables" db:"variables"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// TemplateVariable declares a template placeholder and its default value.
type TemplateVariable struct {
	Name    string `json:"name"`
	Default string `json:"default,omitempty"`
}

// VariableList decodes the template's declared variables.
func (t *NotificationTemplate) VariableList() []TemplateVariable {
	if isEmptyJSON(t.Variables) {
		return nil
	}
	var vars []TemplateVariable
	if err := json.Unmarshal(t.Variables, &vars); err != nil {
		return nil
	}
	return vars
}

// NotificationRecord represents one delivery attempt chain for an alert
type NotificationRecord struct {
	ID          string         `json:"id" db:"id"`
	AlertID     string         `json:"alert_id" db:"alert_id"`
	ConfigID    string         `json:"config_id" db:"config_id"`
	ChannelType string         `json:"channel_type" db:"channel_type"`
	Status      string         `json:"status" db:"status"`
	Attempts    int            `json:"attempts" db:"attempts"`
	Error       sql.NullString `json:"error" db:"error"`
	SentAt      sql.NullTime   `json:"sent_at" db:"sent_at"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
}

// AlertSuppression represents a rule-scoped notification override
type AlertSuppression struct {
	ID           string         `json:"id" db:"id"`
	RuleID       string         `json:"rule_id" db:"rule_id"`
	Reason       string         `json:"reason" db:"reason"`
	CreatedBy    sql.NullString `json:"created_by" db:"created_by"`
	Active       bool           `json:"active" db:"active"`
	SuppressedAt time.Time      `json:"suppressed_at" db:"suppressed_at"`
	ExpiresAt    sql.NullTime   `json:"expires_at" db:"expires_at"`
}

// Expired reports whether the suppression's expiry has passed.
func (s *AlertSuppression) Expired(now time.Time) bool {
	return s.ExpiresAt.Valid && now.After(s.ExpiresAt.Time)
}

// EscalationPolicy represents a rule's tiered escalation configuration
type EscalationPolicy struct {
	RuleID    string          `json:"rule_id" db:"rule_id"`
	Enabled   bool            `json:"enabled" db:"enabled"`
	Levels    types.JSONText  `json:"levels" db:"levels"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// EscalationLevel is one tier of an escalation policy.
type EscalationLevel struct {
	Level         int                  `json:"level"`
	Severity      string               `json:"severity"`
	DelaySeconds  int                  `json:"delay_seconds"`
	Notifications []NotificationConfig `json:"notifications"`
}

// Delay returns the time since trigger before the level activates.
func (l EscalationLevel) Delay() time.Duration {
	return time.Duration(l.DelaySeconds) * time.Second
}

// LevelList decodes the policy's ordered escalation levels.
func (p *EscalationPolicy) LevelList() ([]EscalationLevel, error) {
	if isEmptyJSON(p.Levels) {
		return nil, nil
	}
	var levels []EscalationLevel
	if err := json.Unmarshal(p.Levels, &levels); err != nil {
		return nil, err
	}
	return levels, nil
}

// EscalationRecord represents an escalation notification that was issued
type EscalationRecord struct {
	ID        int64     `json:"id" db:"id"`
	AlertID   string    `json:"alert_id" db:"alert_id"`
	Level     int       `json:"level" db:"level"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
