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

// TemplateRepository implements repositories.TemplateRepository
type TemplateRepository struct {
	db *sqlx.DB
}

// NewTemplateRepository creates a new TemplateRepository
func NewTemplateRepository(db *sqlx.DB) repositories.TemplateRepository {
	return &TemplateRepository{db: db}
}

const templateColumns = `id, name, channel_type, subject, body, variables, created_at, updated_at`

// Create inserts a new notification template
func (r *TemplateRepository) Create(ctx context.Context, template *models.NotificationTemplate) error {
	query := `
		INSERT INTO notification_templates (id, name, channel_type, subject, body, variables,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	if template.ID == "" {
		template.ID = uuid.New().String()
	}
	now := time.Now()
	template.CreatedAt = now
	template.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, query,
		template.ID, template.Name, template.ChannelType, template.Subject, template.Body,
		template.Variables, template.CreatedAt, template.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create notification template: %w", err)
	}

	return nil
}

// Upsert inserts the template or replaces the existing row with the same ID
func (r *TemplateRepository) Upsert(ctx context.Context, template *models.NotificationTemplate) error {
	query := `
		INSERT INTO notification_templates (id, name, channel_type, subject, body, variables,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			channel_type = excluded.channel_type,
			subject = excluded.subject,
			body = excluded.body,
			variables = excluded.variables,
			updated_at = excluded.updated_at
	`

	if template.ID == "" {
		template.ID = uuid.New().String()
	}
	now := time.Now()
	if template.CreatedAt.IsZero() {
		template.CreatedAt = now
	}
	template.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, query,
		template.ID, template.Name, template.ChannelType, template.Subject, template.Body,
		template.Variables, template.CreatedAt, template.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert notification template: %w", err)
	}

	return nil
}

// GetByID retrieves a template by ID
func (r *TemplateRepository) GetByID(ctx context.Context, id string) (*models.NotificationTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM notification_templates WHERE id = ?`

	var template models.NotificationTemplate
	err := r.db.GetContext(ctx, &template, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFound("notification template", id)
		}
		return nil, fmt.Errorf("failed to get notification template: %w", err)
	}

	return &template, nil
}

// GetByChannelType retrieves the most recent template for a channel type
func (r *TemplateRepository) GetByChannelType(ctx context.Context, channelType string) (*models.NotificationTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM notification_templates
		WHERE channel_type = ? ORDER BY updated_at DESC LIMIT 1`

	var template models.NotificationTemplate
	err := r.db.GetContext(ctx, &template, query, channelType)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFound("notification template for channel type", channelType)
		}
		return nil, fmt.Errorf("failed to get notification template: %w", err)
	}

	return &template, nil
}

// GetAll retrieves all templates
func (r *TemplateRepository) GetAll(ctx context.Context) ([]*models.NotificationTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM notification_templates ORDER BY name`

	var templates []*models.NotificationTemplate
	if err := r.db.SelectContext(ctx, &templates, query); err != nil {
		return nil, fmt.Errorf("failed to list notification templates: %w", err)
	}

	return templates, nil
}

// Update updates an existing template
func (r *TemplateRepository) Update(ctx context.Context, template *models.NotificationTemplate) error {
	query := `
		UPDATE notification_templates
		SET name = ?, channel_type = ?, subject = ?, body = ?, variables = ?, updated_at = ?
		WHERE id = ?
	`

	now := time.Now()
	result, err := r.db.ExecContext(ctx, query,
		template.Name, template.ChannelType, template.Subject, template.Body,
		template.Variables, now, template.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update notification template: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return errors.NewNotFound("notification template", template.ID)
	}

	template.UpdatedAt = now
	return nil
}

// Delete removes a template
func (r *TemplateRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM notification_templates WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete notification template: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return errors.NewNotFound("notification template", id)
	}

	return nil
}
