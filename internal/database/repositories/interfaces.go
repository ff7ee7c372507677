package repositories

import (
	"context"
	"time"

	"github.com/pennine-ops/wms-alerting-go/internal/database/models"
)

// AlertFilter narrows and pages an alert query.
type AlertFilter struct {
	RuleIDs    []string
	States     []string
	Severities []string
	Since      *time.Time
	Until      *time.Time
	Limit      int
	Offset     int
	Ascending  bool
}

// RuleRepository defines alert rule data access methods
type RuleRepository interface {
	Create(ctx context.Context, rule *models.AlertRule) error
	// Upsert inserts the rule or replaces an existing row with the same ID,
	// keeping rule reloads idempotent.
	Upsert(ctx context.Context, rule *models.AlertRule) error
	GetByID(ctx context.Context, id string) (*models.AlertRule, error)
	GetByName(ctx context.Context, name string) (*models.AlertRule, error)
	GetAll(ctx context.Context) ([]*models.AlertRule, error)
	GetEnabled(ctx context.Context) ([]*models.AlertRule, error)
	Update(ctx context.Context, rule *models.AlertRule) error
	SetEnabled(ctx context.Context, id string, enabled bool) error
	Delete(ctx context.Context, id string) error
}

// AlertRepository defines alert instance data access methods
type AlertRepository interface {
	Create(ctx context.Context, alert *models.Alert) error
	GetByID(ctx context.Context, id string) (*models.Alert, error)
	GetActiveByRule(ctx context.Context, ruleID string) (*models.Alert, error)
	GetByState(ctx context.Context, state string) ([]*models.Alert, error)
	GetActive(ctx context.Context) ([]*models.Alert, error)
	Query(ctx context.Context, filter AlertFilter) ([]*models.Alert, error)
	Update(ctx context.Context, alert *models.Alert) error
	RecordTransition(ctx context.Context, transition *models.AlertTransition) error
	GetTransitions(ctx context.Context, alertID string) ([]*models.AlertTransition, error)
	DeleteTriggeredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// TemplateRepository defines notification template data access methods
type TemplateRepository interface {
	Create(ctx context.Context, template *models.NotificationTemplate) error
	Upsert(ctx context.Context, template *models.NotificationTemplate) error
	GetByID(ctx context.Context, id string) (*models.NotificationTemplate, error)
	GetByChannelType(ctx context.Context, channelType string) (*models.NotificationTemplate, error)
	GetAll(ctx context.Context) ([]*models.NotificationTemplate, error)
	Update(ctx context.Context, template *models.NotificationTemplate) error
	Delete(ctx context.Context, id string) error
}

// NotificationRepository defines notification history data access methods
type NotificationRepository interface {
	Create(ctx context.Context, record *models.NotificationRecord) error
	GetByID(ctx context.Context, id string) (*models.NotificationRecord, error)
	GetByAlert(ctx context.Context, alertID string) ([]*models.NotificationRecord, error)
	GetRecent(ctx context.Context, limit int) ([]*models.NotificationRecord, error)
	Update(ctx context.Context, record *models.NotificationRecord) error
	CountByStatusSince(ctx context.Context, status string, since time.Time) (int64, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SuppressionRepository defines suppression data access methods
type SuppressionRepository interface {
	Create(ctx context.Context, suppression *models.AlertSuppression) error
	GetByID(ctx context.Context, id string) (*models.AlertSuppression, error)
	GetActiveByRule(ctx context.Context, ruleID string) (*models.AlertSuppression, error)
	GetActive(ctx context.Context) ([]*models.AlertSuppression, error)
	Deactivate(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// EscalationRepository defines escalation policy and history data access methods
type EscalationRepository interface {
	SetPolicy(ctx context.Context, policy *models.EscalationPolicy) error
	GetPolicy(ctx context.Context, ruleID string) (*models.EscalationPolicy, error)
	DeletePolicy(ctx context.Context, ruleID string) error
	Record(ctx context.Context, record *models.EscalationRecord) error
	GetByAlert(ctx context.Context, alertID string) ([]*models.EscalationRecord, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
