package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"renonotify/internal/model"
)

type RequestRepository struct {
	db *pgxpool.Pool
}

func NewRequestRepository(db *pgxpool.Pool) *RequestRepository {
	return &RequestRepository{db: db}
}

// GetActive returns requests not in a terminal status.
func (r *RequestRepository) GetActive(ctx context.Context, limit int) ([]*model.Request, error) {
	query := `
		SELECT id, status, owner_email, follow_up_date, last_contact_date,
		       expired_date, archived_date, created_at, updated_at
		FROM requests
		WHERE status NOT IN ($1, $2, $3)
		ORDER BY updated_at ASC
		LIMIT $4
	`

	rows, err := r.db.Query(ctx, query,
		model.RequestConverted, model.RequestExpired, model.RequestArchived, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query active requests: %w", err)
	}
	defer rows.Close()

	var requests []*model.Request
	for rows.Next() {
		var req model.Request
		err := rows.Scan(
			&req.ID, &req.Status, &req.OwnerEmail, &req.FollowUpDate, &req.LastContactDate,
			&req.ExpiredDate, &req.ArchivedDate, &req.CreatedAt, &req.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		requests = append(requests, &req)
	}

	return requests, rows.Err()
}

// TransitionStatus applies a time-driven transition only if the row is still
// in the expected pre-state, guarding against concurrent manual edits. A
// lost race returns false, not an error.
func (r *RequestRepository) TransitionStatus(ctx context.Context, id string, from, to model.RequestStatus, expiredDate *time.Time) (bool, error) {
	query := `
		UPDATE requests
		SET status = $1, expired_date = COALESCE($2, expired_date), updated_at = NOW()
		WHERE id = $3 AND status = $4
	`

	tag, err := r.db.Exec(ctx, query, to, expiredDate, id, from)
	if err != nil {
		return false, fmt.Errorf("failed to transition request: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}
