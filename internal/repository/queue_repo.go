package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"renonotify/internal/model"
)

type QueueRepository struct {
	db *pgxpool.Pool
}

func NewQueueRepository(db *pgxpool.Pool) *QueueRepository {
	return &QueueRepository{db: db}
}

// Insert enqueues an entry. The unique key on (signal_event_id, hook_id,
// recipient, channel) makes re-resolving the same signal a no-op; the
// returned bool reports whether a row was actually created.
func (r *QueueRepository) Insert(ctx context.Context, e *model.NotificationQueueEntry) (bool, error) {
	channelsJSON, err := marshalChannels(e.Channels)
	if err != nil {
		return false, err
	}

	query := `
		INSERT INTO notification_queue
			(id, signal_event_id, hook_id, template_id, channels, channel,
			 recipient, scheduled_at, status, priority, retry_count,
			 max_retries, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0, $11, 0, NOW(), NOW())
		ON CONFLICT (signal_event_id, hook_id, recipient, channel) DO NOTHING
	`

	tag, err := r.db.Exec(ctx, query,
		e.ID, e.SignalEventID, e.HookID, nullIfEmpty(e.TemplateID), channelsJSON,
		e.Channel, e.Recipient, e.ScheduledAt, model.StatusPending, e.Priority,
		e.MaxRetries,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert queue entry: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// GetDue returns claimable entries: PENDING or RETRYING with scheduled_at in
// the past, highest priority first, oldest schedule first.
func (r *QueueRepository) GetDue(ctx context.Context, now time.Time, limit int) ([]*model.NotificationQueueEntry, error) {
	query := `
		SELECT id, signal_event_id, hook_id, COALESCE(template_id, ''), channels,
		       channel, recipient, scheduled_at, status, priority, retry_count,
		       max_retries, COALESCE(error_message, ''), sent_at, version,
		       created_at, updated_at
		FROM notification_queue
		WHERE status IN ($1, $2) AND scheduled_at <= $3
		ORDER BY priority DESC, scheduled_at ASC
		LIMIT $4
	`

	rows, err := r.db.Query(ctx, query, model.StatusPending, model.StatusRetrying, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// Claim moves an entry to PROCESSING if and only if its status and version
// still match. A losing claim returns false, not an error.
func (r *QueueRepository) Claim(ctx context.Context, id string, version int) (bool, error) {
	query := `
		UPDATE notification_queue
		SET status = $1, version = version + 1, updated_at = NOW()
		WHERE id = $2 AND version = $3 AND status IN ($4, $5)
	`

	tag, err := r.db.Exec(ctx, query,
		model.StatusProcessing, id, version, model.StatusPending, model.StatusRetrying)
	if err != nil {
		return false, fmt.Errorf("failed to claim queue entry: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// MarkSent finalizes a claimed entry as SENT.
func (r *QueueRepository) MarkSent(ctx context.Context, id string, version int, sentAt time.Time) error {
	query := `
		UPDATE notification_queue
		SET status = $1, sent_at = $2, updated_at = NOW()
		WHERE id = $3 AND version = $4 AND status = $5
	`

	_, err := r.db.Exec(ctx, query, model.StatusSent, sentAt, id, version, model.StatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to mark entry sent: %w", err)
	}
	return nil
}

// MarkRetrying schedules a claimed entry for another attempt after backoff.
func (r *QueueRepository) MarkRetrying(ctx context.Context, id string, version int, retryCount int, scheduledAt time.Time, errMsg string) error {
	query := `
		UPDATE notification_queue
		SET status = $1, retry_count = $2, scheduled_at = $3, error_message = $4, updated_at = NOW()
		WHERE id = $5 AND version = $6 AND status = $7
	`

	_, err := r.db.Exec(ctx, query,
		model.StatusRetrying, retryCount, scheduledAt, errMsg, id, version, model.StatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to mark entry retrying: %w", err)
	}
	return nil
}

// MarkFailed finalizes a claimed entry as FAILED, preserving the last error.
func (r *QueueRepository) MarkFailed(ctx context.Context, id string, version int, retryCount int, errMsg string) error {
	query := `
		UPDATE notification_queue
		SET status = $1, retry_count = $2, error_message = $3, updated_at = NOW()
		WHERE id = $4 AND version = $5 AND status = $6
	`

	_, err := r.db.Exec(ctx, query,
		model.StatusFailed, retryCount, errMsg, id, version, model.StatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to mark entry failed: %w", err)
	}
	return nil
}

// Defer pushes a claimed entry back to PENDING with a later schedule and no
// retry consumed. Used for reputation throttling.
func (r *QueueRepository) Defer(ctx context.Context, id string, version int, scheduledAt time.Time) error {
	query := `
		UPDATE notification_queue
		SET status = $1, scheduled_at = $2, updated_at = NOW()
		WHERE id = $3 AND version = $4 AND status = $5
	`

	_, err := r.db.Exec(ctx, query,
		model.StatusPending, scheduledAt, id, version, model.StatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to defer entry: %w", err)
	}
	return nil
}

// Release returns a claimed entry to PENDING unchanged. Used when the
// invocation deadline arrives before an attempt completed, so nothing is
// left stuck in PROCESSING.
func (r *QueueRepository) Release(ctx context.Context, id string, version int) error {
	query := `
		UPDATE notification_queue
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND version = $3 AND status = $4
	`

	_, err := r.db.Exec(ctx, query, model.StatusPending, id, version, model.StatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to release entry: %w", err)
	}
	return nil
}

func scanEntries(rows pgx.Rows) ([]*model.NotificationQueueEntry, error) {
	var entries []*model.NotificationQueueEntry
	for rows.Next() {
		var e model.NotificationQueueEntry
		var channelsJSON []byte
		err := rows.Scan(
			&e.ID, &e.SignalEventID, &e.HookID, &e.TemplateID, &channelsJSON,
			&e.Channel, &e.Recipient, &e.ScheduledAt, &e.Status, &e.Priority,
			&e.RetryCount, &e.MaxRetries, &e.ErrorMessage, &e.SentAt, &e.Version,
			&e.CreatedAt, &e.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", err)
		}
		if len(channelsJSON) > 0 {
			if err := json.Unmarshal(channelsJSON, &e.Channels); err != nil {
				return nil, fmt.Errorf("failed to decode channels: %w", err)
			}
		}
		entries = append(entries, &e)
	}

	return entries, rows.Err()
}

func marshalChannels(channels map[model.Channel]model.ChannelContent) ([]byte, error) {
	if len(channels) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(channels)
	if err != nil {
		return nil, fmt.Errorf("failed to encode channels: %w", err)
	}
	return b, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
