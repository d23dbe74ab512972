package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"renonotify/internal/model"
)

type HookRepository struct {
	db *pgxpool.Pool
}

func NewHookRepository(db *pgxpool.Pool) *HookRepository {
	return &HookRepository{db: db}
}

// GetEnabledBySignalType returns the enabled hooks configured for a signal
// type, highest priority first.
func (r *HookRepository) GetEnabledBySignalType(ctx context.Context, signalType string) ([]*model.NotificationHook, error) {
	query := `
		SELECT id, signal_type, template_id, channel, enabled, priority,
		       recipient_emails, recipient_roles, recipient_dynamic,
		       conditions, delivery_delay_seconds, max_retries
		FROM notification_hooks
		WHERE signal_type = $1 AND enabled = true
		ORDER BY priority DESC
	`

	rows, err := r.db.Query(ctx, query, signalType)
	if err != nil {
		return nil, fmt.Errorf("failed to query hooks: %w", err)
	}
	defer rows.Close()

	var hooks []*model.NotificationHook
	for rows.Next() {
		var h model.NotificationHook
		err := rows.Scan(
			&h.ID, &h.SignalType, &h.TemplateID, &h.Channel, &h.Enabled, &h.Priority,
			&h.RecipientEmails, &h.RecipientRoles, &h.RecipientDynamic,
			&h.Conditions, &h.DeliveryDelaySeconds, &h.MaxRetries,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan hook: %w", err)
		}
		hooks = append(hooks, &h)
	}

	return hooks, rows.Err()
}
