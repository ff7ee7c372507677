package database

import (
	"github.com/jmoiron/sqlx"
	"github.com/pennine-ops/wms-alerting-go/internal/database/repositories"
	"github.com/pennine-ops/wms-alerting-go/internal/database/sqlite"
)

// Repositories holds all repository instances
type Repositories struct {
	Rule         repositories.RuleRepository
	Alert        repositories.AlertRepository
	Template     repositories.TemplateRepository
	Notification repositories.NotificationRepository
	Suppression  repositories.SuppressionRepository
	Escalation   repositories.EscalationRepository
}

// NewRepositories creates all repository instances
func NewRepositories(db *sqlx.DB) *Repositories {
	return &Repositories{
		Rule:         sqlite.NewRuleRepository(db),
		Alert:        sqlite.NewAlertRepository(db),
		Template:     sqlite.NewTemplateRepository(db),
		Notification: sqlite.NewNotificationRepository(db),
		Suppression:  sqlite.NewSuppressionRepository(db),
		Escalation:   sqlite.NewEscalationRepository(db),
	}
}
