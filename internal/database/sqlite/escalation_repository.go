package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pennine-ops/wms-alerting-go/internal/database/models"
	"github.com/pennine-ops/wms-alerting-go/internal/database/repositories"
	"github.com/pennine-ops/wms-alerting-go/pkg/errors"
)

// EscalationRepository implements repositories.EscalationRepository
type EscalationRepository struct {
	db *sqlx.DB
}

// NewEscalationRepository creates a new EscalationRepository
func NewEscalationRepository(db *sqlx.DB) repositories.EscalationRepository {
	return &EscalationRepository{db: db}
}

// SetPolicy inserts or replaces a rule's escalation policy
func (r *EscalationRepository) SetPolicy(ctx context.Context, policy *models.EscalationPolicy) error {
	query := `
		INSERT INTO escalation_policies (rule_id, enabled, levels, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(rule_id) DO UPDATE SET
			enabled = excluded.enabled,
			levels = excluded.levels,
			updated_at = excluded.updated_at
	`

	policy.UpdatedAt = time.Now()

	_, err := r.db.ExecContext(ctx, query, policy.RuleID, policy.Enabled, policy.Levels, policy.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to set escalation policy: %w", err)
	}

	return nil
}

// GetPolicy retrieves the escalation policy for a rule
func (r *EscalationRepository) GetPolicy(ctx context.Context, ruleID string) (*models.EscalationPolicy, error) {
	query := `SELECT rule_id, enabled, levels, updated_at FROM escalation_policies WHERE rule_id = ?`

	var policy models.EscalationPolicy
	err := r.db.GetContext(ctx, &policy, query, ruleID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFound("escalation policy for rule", ruleID)
		}
		return nil, fmt.Errorf("failed to get escalation policy: %w", err)
	}

	return &policy, nil
}

// DeletePolicy removes the escalation policy for a rule
func (r *EscalationRepository) DeletePolicy(ctx context.Context, ruleID string) error {
	query := `DELETE FROM escalation_policies WHERE rule_id = ?`

	if _, err := r.db.ExecContext(ctx, query, ruleID); err != nil {
		return fmt.Errorf("failed to delete escalation policy: %w", err)
	}

	return nil
}

// Record appends an escalation record
func (r *EscalationRepository) Record(ctx context.Context, record *models.EscalationRecord) error {
	query := `INSERT INTO escalations (alert_id, level, created_at) VALUES (?, ?, ?)`

	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	result, err := r.db.ExecContext(ctx, query, record.AlertID, record.Level, record.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record escalation: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get inserted escalation ID: %w", err)
	}

	record.ID = id
	return nil
}

// GetByAlert retrieves the escalation history for an alert
func (r *EscalationRepository) GetByAlert(ctx context.Context, alertID string) ([]*models.EscalationRecord, error) {
	query := `SELECT id, alert_id, level, created_at FROM escalations
		WHERE alert_id = ? ORDER BY level`

	var records []*models.EscalationRecord
	if err := r.db.SelectContext(ctx, &records, query, alertID); err != nil {
		return nil, fmt.Errorf("failed to list escalations for alert: %w", err)
	}

	return records, nil
}

// DeleteBefore removes escalation records older than the cutoff
func (r *EscalationRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM escalations WHERE created_at < ?`

	result, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete escalation records: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected, nil
}
