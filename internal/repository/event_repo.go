package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"renonotify/internal/model"
)

type EventRepository struct {
	db *pgxpool.Pool
}

func NewEventRepository(db *pgxpool.Pool) *EventRepository {
	return &EventRepository{db: db}
}

// Insert appends one audit event. The table is append-only.
func (r *EventRepository) Insert(ctx context.Context, ev *model.NotificationEvent) error {
	query := `
		INSERT INTO notification_events
			(event_id, notification_id, event_type, channel, recipient,
			 provider, provider_id, provider_status, error_code, timestamp,
			 processing_time_ms, ttl)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := r.db.Exec(ctx, query,
		ev.EventID, ev.NotificationID, ev.EventType, ev.Channel, ev.Recipient,
		ev.Provider, ev.ProviderID, ev.ProviderStatus, ev.ErrorCode, ev.Timestamp,
		ev.ProcessingTimeMs, ev.TTL,
	)
	if err != nil {
		return fmt.Errorf("failed to insert notification event: %w", err)
	}
	return nil
}

// DailyCounts tallies a date's email outcomes for the reputation rollup.
// date is YYYY-MM-DD.
func (r *EventRepository) DailyCounts(ctx context.Context, date string) (sent, bounces, complaints int64, err error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE event_type = $2),
			COUNT(*) FILTER (WHERE event_type = $3),
			COUNT(*) FILTER (WHERE event_type = $4)
		FROM notification_events
		WHERE timestamp >= $1::date AND timestamp < $1::date + INTERVAL '1 day'
	`

	err = r.db.QueryRow(ctx, query, date,
		model.EventEmailSuccess, model.EventEmailBounce, model.EventEmailComplaint,
	).Scan(&sent, &bounces, &complaints)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("failed to count daily events: %w", err)
	}
	return sent, bounces, complaints, nil
}

// ListByNotification returns the audit trail of one queue entry in
// timestamp order.
func (r *EventRepository) ListByNotification(ctx context.Context, notificationID string) ([]*model.NotificationEvent, error) {
	query := `
		SELECT event_id, notification_id, event_type, channel, recipient,
		       provider, provider_id, provider_status, error_code, timestamp,
		       processing_time_ms, ttl
		FROM notification_events
		WHERE notification_id = $1
		ORDER BY timestamp ASC
	`

	rows, err := r.db.Query(ctx, query, notificationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []*model.NotificationEvent
	for rows.Next() {
		var ev model.NotificationEvent
		err := rows.Scan(
			&ev.EventID, &ev.NotificationID, &ev.EventType, &ev.Channel, &ev.Recipient,
			&ev.Provider, &ev.ProviderID, &ev.ProviderStatus, &ev.ErrorCode, &ev.Timestamp,
			&ev.ProcessingTimeMs, &ev.TTL,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, &ev)
	}

	return events, rows.Err()
}
