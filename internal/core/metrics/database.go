package metrics

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jmoiron/sqlx"
)

// Database metric names served by DatabaseProvider.
const (
	MetricActiveAlerts        = "alerting.active_alerts"
	MetricUnresolvedAlerts    = "alerting.unresolved_alerts"
	MetricFailedNotifications = "alerting.failed_notifications_1h"
	MetricPendingEscalations  = "alerting.escalations_24h"
)

// DatabaseProvider collects metrics derived from the engine's own store.
// Rules can alert on the engine's health: a growing backlog of failed
// notifications is itself an incident.
type DatabaseProvider struct {
	db *sqlx.DB
}

// NewDatabaseProvider creates a new database metric provider
func NewDatabaseProvider(db *sqlx.DB) *DatabaseProvider {
	return &DatabaseProvider{db: db}
}

// Metrics returns the metric names this provider serves
func (p *DatabaseProvider) Metrics() []string {
	return []string{
		MetricActiveAlerts,
		MetricUnresolvedAlerts,
		MetricFailedNotifications,
		MetricPendingEscalations,
	}
}

// Collect returns the current value of a database metric
func (p *DatabaseProvider) Collect(ctx context.Context, metric string) (string, error) {
	var query string

	switch metric {
	case MetricActiveAlerts:
		query = `SELECT COUNT(*) FROM alerts WHERE state = 'active'`
	case MetricUnresolvedAlerts:
		query = `SELECT COUNT(*) FROM alerts WHERE state != 'resolved'`
	case MetricFailedNotifications:
		query = `SELECT COUNT(*) FROM notifications
			WHERE status = 'failed' AND created_at >= datetime('now', '-1 hour')`
	case MetricPendingEscalations:
		query = `SELECT COUNT(*) FROM escalations
			WHERE created_at >= datetime('now', '-24 hours')`
	default:
		return "", fmt.Errorf("unsupported database metric: %s", metric)
	}

	var count int64
	if err := p.db.GetContext(ctx, &count, query); err != nil {
		return "", fmt.Errorf("failed to collect %s: %w", metric, err)
	}

	return strconv.FormatInt(count, 10), nil
}
