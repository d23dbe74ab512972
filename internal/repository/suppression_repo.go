package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"renonotify/internal/model"
)

type SuppressionRepository struct {
	db *pgxpool.Pool
}

func NewSuppressionRepository(db *pgxpool.Pool) *SuppressionRepository {
	return &SuppressionRepository{db: db}
}

// IsActive reports whether the address has any active suppression entry,
// regardless of type.
func (r *SuppressionRepository) IsActive(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM email_suppression_list
			WHERE email_address = $1 AND is_active = true
		)
	`, email).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check suppression: %w", err)
	}
	return exists, nil
}

// Upsert writes a suppression entry keyed by address, so concurrent writers
// converge instead of conflicting.
func (r *SuppressionRepository) Upsert(ctx context.Context, s *model.Suppression) error {
	query := `
		INSERT INTO email_suppression_list
			(email_address, suppression_type, bounce_type, is_active, suppressed_at, source)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (email_address) DO UPDATE SET
			suppression_type = EXCLUDED.suppression_type,
			bounce_type = EXCLUDED.bounce_type,
			is_active = EXCLUDED.is_active,
			suppressed_at = EXCLUDED.suppressed_at,
			source = EXCLUDED.source
	`

	_, err := r.db.Exec(ctx, query,
		s.EmailAddress, s.SuppressionType, nullIfEmpty(string(s.BounceType)),
		s.IsActive, s.SuppressedAt, s.Source,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert suppression: %w", err)
	}
	return nil
}

// Deactivate clears an entry manually. Permanent bounces and complaints are
// only ever cleared through this path.
func (r *SuppressionRepository) Deactivate(ctx context.Context, email string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE email_suppression_list SET is_active = false WHERE email_address = $1
	`, email)
	if err != nil {
		return fmt.Errorf("failed to deactivate suppression: %w", err)
	}
	return nil
}
