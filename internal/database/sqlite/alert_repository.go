package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pennine-ops/wms-alerting-go/internal/database/models"
	"github.com/pennine-ops/wms-alerting-go/internal/database/repositories"
	"github.com/pennine-ops/wms-alerting-go/pkg/errors"
)

// AlertRepository implements repositories.AlertRepository
type AlertRepository struct {
	db *sqlx.DB
}

// NewAlertRepository creates a new AlertRepository
func NewAlertRepository(db *sqlx.DB) repositories.AlertRepository {
	return &AlertRepository{db: db}
}

const alertColumns = `id, rule_id, rule_name, state, severity, message, value, threshold,
	labels, annotations, escalation_level, notification_count, triggered_at, acknowledged_at,
	acknowledged_by, silenced_until, resolved_at, created_at, updated_at`

// Create inserts a new alert
func (r *AlertRepository) Create(ctx context.Context, alert *models.Alert) error {
	query := `
		INSERT INTO alerts (id, rule_id, rule_name, state, severity, message, value, threshold,
			labels, annotations, escalation_level, notification_count, triggered_at,
			acknowledged_at, acknowledged_by, silenced_until, resolved_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	now := time.Now()
	alert.CreatedAt = now
	alert.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, query,
		alert.ID, alert.RuleID, alert.RuleName, alert.State, alert.Severity, alert.Message,
		alert.Value, alert.Threshold, alert.Labels, alert.Annotations, alert.EscalationLevel,
		alert.NotificationCount, alert.TriggeredAt, alert.AcknowledgedAt, alert.AcknowledgedBy,
		alert.SilencedUntil, alert.ResolvedAt, alert.CreatedAt, alert.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create alert: %w", err)
	}

	return nil
}

// GetByID retrieves an alert by ID
func (r *AlertRepository) GetByID(ctx context.Context, id string) (*models.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE id = ?`

	var alert models.Alert
	err := r.db.GetContext(ctx, &alert, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFound("alert", id)
		}
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}

	return &alert, nil
}

// GetActiveByRule retrieves the active alert for a rule, if one exists
func (r *AlertRepository) GetActiveByRule(ctx context.Context, ruleID string) (*models.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts
		WHERE rule_id = ? AND state = 'active'
		ORDER BY triggered_at DESC LIMIT 1`

	var alert models.Alert
	err := r.db.GetContext(ctx, &alert, query, ruleID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFound("active alert for rule", ruleID)
		}
		return nil, fmt.Errorf("failed to get active alert: %w", err)
	}

	return &alert, nil
}

// GetByState retrieves all alerts in a given state
func (r *AlertRepository) GetByState(ctx context.Context, state string) ([]*models.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE state = ? ORDER BY triggered_at DESC`

	var alerts []*models.Alert
	if err := r.db.SelectContext(ctx, &alerts, query, state); err != nil {
		return nil, fmt.Errorf("failed to list alerts by state: %w", err)
	}

	return alerts, nil
}

// GetActive retrieves all alerts in the active state
func (r *AlertRepository) GetActive(ctx context.Context) ([]*models.Alert, error) {
	return r.GetByState(ctx, "active")
}

// Query retrieves alerts matching the filter, newest first unless ascending
func (r *AlertRepository) Query(ctx context.Context, filter repositories.AlertFilter) ([]*models.Alert, error) {
	var conditions []string
	var args []interface{}

	if len(filter.RuleIDs) > 0 {
		conditions = append(conditions, `rule_id IN (?`+strings.Repeat(",?", len(filter.RuleIDs)-1)+`)`)
		for _, id := range filter.RuleIDs {
			args = append(args, id)
		}
	}
	if len(filter.States) > 0 {
		conditions = append(conditions, `state IN (?`+strings.Repeat(",?", len(filter.States)-1)+`)`)
		for _, state := range filter.States {
			args = append(args, state)
		}
	}
	if len(filter.Severities) > 0 {
		conditions = append(conditions, `severity IN (?`+strings.Repeat(",?", len(filter.Severities)-1)+`)`)
		for _, severity := range filter.Severities {
			args = append(args, severity)
		}
	}
	if filter.Since != nil {
		conditions = append(conditions, `triggered_at >= ?`)
		args = append(args, *filter.Since)
	}
	if filter.Until != nil {
		conditions = append(conditions, `triggered_at <= ?`)
		args = append(args, *filter.Until)
	}

	query := `SELECT ` + alertColumns + ` FROM alerts`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}

	if filter.Ascending {
		query += ` ORDER BY triggered_at ASC`
	} else {
		query += ` ORDER BY triggered_at DESC`
	}

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, filter.Offset)
		}
	}

	var alerts []*models.Alert
	if err := r.db.SelectContext(ctx, &alerts, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}

	return alerts, nil
}

// Update updates an existing alert
func (r *AlertRepository) Update(ctx context.Context, alert *models.Alert) error {
	query := `
		UPDATE alerts
		SET state = ?, severity = ?, message = ?, value = ?, threshold = ?, labels = ?,
			annotations = ?, escalation_level = ?, notification_count = ?, acknowledged_at = ?,
			acknowledged_by = ?, silenced_until = ?, resolved_at = ?, updated_at = ?
		WHERE id = ?
	`

	now := time.Now()
	result, err := r.db.ExecContext(ctx, query,
		alert.State, alert.Severity, alert.Message, alert.Value, alert.Threshold,
		alert.Labels, alert.Annotations, alert.EscalationLevel, alert.NotificationCount,
		alert.AcknowledgedAt, alert.AcknowledgedBy, alert.SilencedUntil, alert.ResolvedAt,
		now, alert.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update alert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return errors.NewNotFound("alert", alert.ID)
	}

	alert.UpdatedAt = now
	return nil
}

// RecordTransition appends a state change to the alert's history
func (r *AlertRepository) RecordTransition(ctx context.Context, transition *models.AlertTransition) error {
	query := `
		INSERT INTO alert_transitions (alert_id, from_state, to_state, actor, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	if transition.CreatedAt.IsZero() {
		transition.CreatedAt = time.Now()
	}

	result, err := r.db.ExecContext(ctx, query,
		transition.AlertID, transition.FromState, transition.ToState,
		transition.Actor, transition.Note, transition.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record alert transition: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get inserted transition ID: %w", err)
	}

	transition.ID = id
	return nil
}

// GetTransitions retrieves the state history for an alert
func (r *AlertRepository) GetTransitions(ctx context.Context, alertID string) ([]*models.AlertTransition, error) {
	query := `
		SELECT id, alert_id, from_state, to_state, actor, note, created_at
		FROM alert_transitions WHERE alert_id = ? ORDER BY created_at
	`

	var transitions []*models.AlertTransition
	if err := r.db.SelectContext(ctx, &transitions, query, alertID); err != nil {
		return nil, fmt.Errorf("failed to list alert transitions: %w", err)
	}

	return transitions, nil
}

// DeleteTriggeredBefore removes alerts whose trigger time predates the cutoff
func (r *AlertRepository) DeleteTriggeredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM alerts WHERE triggered_at < ? AND state = 'resolved'`

	result, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired alerts: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected, nil
}
