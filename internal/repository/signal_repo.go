package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"renonotify/internal/model"
)

type SignalEventRepository struct {
	db *pgxpool.Pool
}

func NewSignalEventRepository(db *pgxpool.Pool) *SignalEventRepository {
	return &SignalEventRepository{db: db}
}

// InsertInTx persists a signal event inside the caller's transaction so the
// event row and its outbox row commit together.
func (r *SignalEventRepository) InsertInTx(ctx context.Context, tx pgx.Tx, ev *model.SignalEvent) error {
	query := `
		INSERT INTO signal_events (id, signal_type, payload, emitted_at, emitted_by, source, processed)
		VALUES ($1, $2, $3, $4, $5, $6, false)
	`
	_, err := tx.Exec(ctx, query,
		ev.ID, ev.SignalType, ev.Payload, ev.EmittedAt, ev.EmittedBy, ev.Source)
	if err != nil {
		return fmt.Errorf("failed to insert signal event: %w", err)
	}
	return nil
}

func (r *SignalEventRepository) GetByID(ctx context.Context, id string) (*model.SignalEvent, error) {
	query := `
		SELECT id, signal_type, payload, emitted_at, emitted_by, source, processed
		FROM signal_events
		WHERE id = $1
	`
	var ev model.SignalEvent
	err := r.db.QueryRow(ctx, query, id).Scan(
		&ev.ID, &ev.SignalType, &ev.Payload, &ev.EmittedAt, &ev.EmittedBy, &ev.Source, &ev.Processed)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("signal event not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get signal event: %w", err)
	}
	return &ev, nil
}

func (r *SignalEventRepository) MarkProcessed(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, `UPDATE signal_events SET processed = true WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark signal event processed: %w", err)
	}
	return nil
}
