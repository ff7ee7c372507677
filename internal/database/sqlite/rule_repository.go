package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pennine-ops/wms-alerting-go/internal/database/models"
	"github.com/pennine-ops/wms-alerting-go/internal/database/repositories"
	"github.com/pennine-ops/wms-alerting-go/pkg/errors"
)

// RuleRepository implements repositories.RuleRepository
type RuleRepository struct {
	db *sqlx.DB
}

// NewRuleRepository creates a new RuleRepository
func NewRuleRepository(db *sqlx.DB) repositories.RuleRepository {
	return &RuleRepository{db: db}
}

const ruleColumns = `id, name, description, enabled, severity, metric, condition, threshold,
	window_seconds, interval_seconds, silence_seconds, dependencies, notifications, tags,
	created_by, created_at, updated_at`

// Create inserts a new alert rule
func (r *RuleRepository) Create(ctx context.Context, rule *models.AlertRule) error {
	query := `
		INSERT INTO alert_rules (id, name, description, enabled, severity, metric, condition,
			threshold, window_seconds, interval_seconds, silence_seconds, dependencies,
			notifications, tags, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, query,
		rule.ID, rule.Name, rule.Description, rule.Enabled, rule.Severity, rule.Metric,
		rule.Condition, rule.Threshold, rule.WindowSeconds, rule.IntervalSeconds,
		rule.SilenceSeconds, rule.Dependencies, rule.Notifications, rule.Tags,
		rule.CreatedBy, rule.CreatedAt, rule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create alert rule: %w", err)
	}

	return nil
}

// Upsert inserts the rule or replaces the existing row with the same ID
func (r *RuleRepository) Upsert(ctx context.Context, rule *models.AlertRule) error {
	query := `
		INSERT INTO alert_rules (id, name, description, enabled, severity, metric, condition,
			threshold, window_seconds, interval_seconds, silence_seconds, dependencies,
			notifications, tags, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			enabled = excluded.enabled,
			severity = excluded.severity,
			metric = excluded.metric,
			condition = excluded.condition,
			threshold = excluded.threshold,
			window_seconds = excluded.window_seconds,
			interval_seconds = excluded.interval_seconds,
			silence_seconds = excluded.silence_seconds,
			dependencies = excluded.dependencies,
			notifications = excluded.notifications,
			tags = excluded.tags,
			updated_at = excluded.updated_at
	`

	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	now := time.Now()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, query,
		rule.ID, rule.Name, rule.Description, rule.Enabled, rule.Severity, rule.Metric,
		rule.Condition, rule.Threshold, rule.WindowSeconds, rule.IntervalSeconds,
		rule.SilenceSeconds, rule.Dependencies, rule.Notifications, rule.Tags,
		rule.CreatedBy, rule.CreatedAt, rule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert alert rule: %w", err)
	}

	return nil
}

// GetByID retrieves a rule by ID
func (r *RuleRepository) GetByID(ctx context.Context, id string) (*models.AlertRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM alert_rules WHERE id = ?`

	var rule models.AlertRule
	err := r.db.GetContext(ctx, &rule, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFound("alert rule", id)
		}
		return nil, fmt.Errorf("failed to get alert rule: %w", err)
	}

	return &rule, nil
}

// GetByName retrieves a rule by name
func (r *RuleRepository) GetByName(ctx context.Context, name string) (*models.AlertRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM alert_rules WHERE name = ?`

	var rule models.AlertRule
	err := r.db.GetContext(ctx, &rule, query, name)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFound("alert rule", name)
		}
		return nil, fmt.Errorf("failed to get alert rule: %w", err)
	}

	return &rule, nil
}

// GetAll retrieves all rules
func (r *RuleRepository) GetAll(ctx context.Context) ([]*models.AlertRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM alert_rules ORDER BY name`

	var rules []*models.AlertRule
	if err := r.db.SelectContext(ctx, &rules, query); err != nil {
		return nil, fmt.Errorf("failed to list alert rules: %w", err)
	}

	return rules, nil
}

// GetEnabled retrieves all enabled rules
func (r *RuleRepository) GetEnabled(ctx context.Context) ([]*models.AlertRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM alert_rules WHERE enabled = 1 ORDER BY name`

	var rules []*models.AlertRule
	if err := r.db.SelectContext(ctx, &rules, query); err != nil {
		return nil, fmt.Errorf("failed to list enabled alert rules: %w", err)
	}

	return rules, nil
}

// Update updates an existing rule
func (r *RuleRepository) Update(ctx context.Context, rule *models.AlertRule) error {
	query := `
		UPDATE alert_rules
		SET name = ?, description = ?, enabled = ?, severity = ?, metric = ?, condition = ?,
			threshold = ?, window_seconds = ?, interval_seconds = ?, silence_seconds = ?,
			dependencies = ?, notifications = ?, tags = ?, updated_at = ?
		WHERE id = ?
	`

	now := time.Now()
	result, err := r.db.ExecContext(ctx, query,
		rule.Name, rule.Description, rule.Enabled, rule.Severity, rule.Metric, rule.Condition,
		rule.Threshold, rule.WindowSeconds, rule.IntervalSeconds, rule.SilenceSeconds,
		rule.Dependencies, rule.Notifications, rule.Tags, now, rule.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update alert rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return errors.NewNotFound("alert rule", rule.ID)
	}

	rule.UpdatedAt = now
	return nil
}

// SetEnabled flips a rule's enabled flag
func (r *RuleRepository) SetEnabled(ctx context.Context, id string, enabled bool) error {
	query := `UPDATE alert_rules SET enabled = ?, updated_at = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query, enabled, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to set alert rule enabled: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return errors.NewNotFound("alert rule", id)
	}

	return nil
}

// Delete removes a rule
func (r *RuleRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM alert_rules WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete alert rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return errors.NewNotFound("alert rule", id)
	}

	return nil
}
