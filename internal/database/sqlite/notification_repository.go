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

// NotificationRepository implements repositories.NotificationRepository
type NotificationRepository struct {
	db *sqlx.DB
}

// NewNotificationRepository creates a new NotificationRepository
func NewNotificationRepository(db *sqlx.DB) repositories.NotificationRepository {
	return &NotificationRepository{db: db}
}

const notificationColumns = `id, alert_id, config_id, channel_type, status, attempts, error, sent_at, created_at`

// Create inserts a new notification record
func (r *NotificationRepository) Create(ctx context.Context, record *models.NotificationRecord) error {
	query := `
		INSERT INTO notifications (id, alert_id, config_id, channel_type, status, attempts,
			error, sent_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx, query,
		record.ID, record.AlertID, record.ConfigID, record.ChannelType, record.Status,
		record.Attempts, record.Error, record.SentAt, record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create notification record: %w", err)
	}

	return nil
}

// GetByID retrieves a notification record by ID
func (r *NotificationRepository) GetByID(ctx context.Context, id string) (*models.NotificationRecord, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = ?`

	var record models.NotificationRecord
	err := r.db.GetContext(ctx, &record, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFound("notification", id)
		}
		return nil, fmt.Errorf("failed to get notification record: %w", err)
	}

	return &record, nil
}

// GetByAlert retrieves all notification records for an alert
func (r *NotificationRepository) GetByAlert(ctx context.Context, alertID string) ([]*models.NotificationRecord, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications
		WHERE alert_id = ? ORDER BY created_at DESC`

	var records []*models.NotificationRecord
	if err := r.db.SelectContext(ctx, &records, query, alertID); err != nil {
		return nil, fmt.Errorf("failed to list notifications for alert: %w", err)
	}

	return records, nil
}

// GetRecent retrieves the most recent notification records
func (r *NotificationRepository) GetRecent(ctx context.Context, limit int) ([]*models.NotificationRecord, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications ORDER BY created_at DESC LIMIT ?`

	var records []*models.NotificationRecord
	if err := r.db.SelectContext(ctx, &records, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list recent notifications: %w", err)
	}

	return records, nil
}

// Update updates an existing notification record
func (r *NotificationRepository) Update(ctx context.Context, record *models.NotificationRecord) error {
	query := `
		UPDATE notifications
		SET status = ?, attempts = ?, error = ?, sent_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		record.Status, record.Attempts, record.Error, record.SentAt, record.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update notification record: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return errors.NewNotFound("notification", record.ID)
	}

	return nil
}

// CountByStatusSince counts records in a status created after the given time
func (r *NotificationRepository) CountByStatusSince(ctx context.Context, status string, since time.Time) (int64, error) {
	query := `SELECT COUNT(*) FROM notifications WHERE status = ? AND created_at >= ?`

	var count int64
	if err := r.db.GetContext(ctx, &count, query, status, since); err != nil {
		return 0, fmt.Errorf("failed to count notifications: %w", err)
	}

	return count, nil
}

// DeleteBefore removes notification records older than the cutoff
func (r *NotificationRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM notifications WHERE created_at < ?`

	result, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete notification records: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected, nil
}
