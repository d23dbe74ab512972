package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"renonotify/internal/model"
)

// ContactRepository reads the externally owned contacts table; the engine
// only ever queries it to expand role-based recipients.
type ContactRepository struct {
	db *pgxpool.Pool
}

func NewContactRepository(db *pgxpool.Pool) *ContactRepository {
	return &ContactRepository{db: db}
}

func (r *ContactRepository) GetByRoles(ctx context.Context, roles []string) ([]*model.Contact, error) {
	if len(roles) == 0 {
		return nil, nil
	}

	query := `
		SELECT id, name, email, phone, role
		FROM contacts
		WHERE role = ANY($1)
	`

	rows, err := r.db.Query(ctx, query, roles)
	if err != nil {
		return nil, fmt.Errorf("failed to query contacts: %w", err)
	}
	defer rows.Close()

	var contacts []*model.Contact
	for rows.Next() {
		var c model.Contact
		if err := rows.Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.Role); err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}
		contacts = append(contacts, &c)
	}

	return contacts, rows.Err()
}
