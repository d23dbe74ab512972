package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"renonotify/internal/model"
)

// ErrTemplateNotFound is surfaced as a configuration error by the resolver.
var ErrTemplateNotFound = fmt.Errorf("template not found")

type TemplateRepository struct {
	db *pgxpool.Pool
}

func NewTemplateRepository(db *pgxpool.Pool) *TemplateRepository {
	return &TemplateRepository{db: db}
}

func (r *TemplateRepository) GetByID(ctx context.Context, id string) (*model.NotificationTemplate, error) {
	query := `
		SELECT id, name, email_subject, email_content_html, sms_content,
		       variables, is_active, version
		FROM notification_templates
		WHERE id = $1
	`

	var t model.NotificationTemplate
	err := r.db.QueryRow(ctx, query, id).Scan(
		&t.ID, &t.Name, &t.EmailSubject, &t.EmailContentHTML, &t.SMSContent,
		&t.Variables, &t.IsActive, &t.Version,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTemplateNotFound
		}
		return nil, fmt.Errorf("failed to get template: %w", err)
	}

	return &t, nil
}
