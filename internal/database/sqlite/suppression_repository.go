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

// SuppressionRepository implements repositories.SuppressionRepository
type SuppressionRepository struct {
	db *sqlx.DB
}

// NewSuppressionRepository creates a new SuppressionRepository
func NewSuppressionRepository(db *sqlx.DB) repositories.SuppressionRepository {
	return &SuppressionRepository{db: db}
}

const suppressionColumns = `id, rule_id, reason, created_by, active, suppressed_at, expires_at`

// Create inserts a new suppression
func (r *SuppressionRepository) Create(ctx context.Context, suppression *models.AlertSuppression) error {
	query := `
		INSERT INTO alert_suppressions (id, rule_id, reason, created_by, active, suppressed_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	if suppression.ID == "" {
		suppression.ID = uuid.New().String()
	}
	if suppression.SuppressedAt.IsZero() {
		suppression.SuppressedAt = time.Now()
	}
	suppression.Active = true

	_, err := r.db.ExecContext(ctx, query,
		suppression.ID, suppression.RuleID, suppression.Reason, suppression.CreatedBy,
		suppression.Active, suppression.SuppressedAt, suppression.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create suppression: %w", err)
	}

	return nil
}

// GetByID retrieves a suppression by ID
func (r *SuppressionRepository) GetByID(ctx context.Context, id string) (*models.AlertSuppression, error) {
	query := `SELECT ` + suppressionColumns + ` FROM alert_suppressions WHERE id = ?`

	var suppression models.AlertSuppression
	err := r.db.GetContext(ctx, &suppression, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFound("suppression", id)
		}
		return nil, fmt.Errorf("failed to get suppression: %w", err)
	}

	return &suppression, nil
}

// GetActiveByRule retrieves the most recent active suppression for a rule
func (r *SuppressionRepository) GetActiveByRule(ctx context.Context, ruleID string) (*models.AlertSuppression, error) {
	query := `SELECT ` + suppressionColumns + ` FROM alert_suppressions
		WHERE rule_id = ? AND active = 1 ORDER BY suppressed_at DESC LIMIT 1`

	var suppression models.AlertSuppression
	err := r.db.GetContext(ctx, &suppression, query, ruleID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFound("active suppression for rule", ruleID)
		}
		return nil, fmt.Errorf("failed to get suppression: %w", err)
	}

	return &suppression, nil
}

// GetActive retrieves all active suppressions
func (r *SuppressionRepository) GetActive(ctx context.Context) ([]*models.AlertSuppression, error) {
	query := `SELECT ` + suppressionColumns + ` FROM alert_suppressions
		WHERE active = 1 ORDER BY suppressed_at DESC`

	var suppressions []*models.AlertSuppression
	if err := r.db.SelectContext(ctx, &suppressions, query); err != nil {
		return nil, fmt.Errorf("failed to list active suppressions: %w", err)
	}

	return suppressions, nil
}

// Deactivate marks a suppression inactive
func (r *SuppressionRepository) Deactivate(ctx context.Context, id string) error {
	query := `UPDATE alert_suppressions SET active = 0 WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate suppression: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return errors.NewNotFound("suppression", id)
	}

	return nil
}

// Delete removes a suppression
func (r *SuppressionRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM alert_suppressions WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete suppression: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return errors.NewNotFound("suppression", id)
	}

	return nil
}

// DeleteExpired removes suppressions whose expiry has passed
func (r *SuppressionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `DELETE FROM alert_suppressions WHERE expires_at IS NOT NULL AND expires_at < ?`

	result, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired suppressions: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected, nil
}
