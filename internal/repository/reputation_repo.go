package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"renonotify/internal/model"
)

type ReputationRepository struct {
	db *pgxpool.Pool
}

func NewReputationRepository(db *pgxpool.Pool) *ReputationRepository {
	return &ReputationRepository{db: db}
}

// Upsert writes the daily rollup keyed by metric date; re-running the
// aggregator overwrites rather than duplicates.
func (r *ReputationRepository) Upsert(ctx context.Context, m *model.ReputationMetrics) error {
	query := `
		INSERT INTO reputation_metrics
			(metric_date, total_sent, total_bounces, total_complaints,
			 bounce_rate, complaint_rate, delivery_rate,
			 bounce_rate_alert, complaint_rate_alert)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (metric_date) DO UPDATE SET
			total_sent = EXCLUDED.total_sent,
			total_bounces = EXCLUDED.total_bounces,
			total_complaints = EXCLUDED.total_complaints,
			bounce_rate = EXCLUDED.bounce_rate,
			complaint_rate = EXCLUDED.complaint_rate,
			delivery_rate = EXCLUDED.delivery_rate,
			bounce_rate_alert = EXCLUDED.bounce_rate_alert,
			complaint_rate_alert = EXCLUDED.complaint_rate_alert
	`

	_, err := r.db.Exec(ctx, query,
		m.MetricDate, m.TotalSent, m.TotalBounces, m.TotalComplaints,
		m.BounceRate, m.ComplaintRate, m.DeliveryRate,
		m.BounceRateAlert, m.ComplaintRateAlert,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert reputation metrics: %w", err)
	}
	return nil
}

// GetByDate returns the rollup for one date, or nil when none exists yet.
func (r *ReputationRepository) GetByDate(ctx context.Context, date string) (*model.ReputationMetrics, error) {
	query := `
		SELECT metric_date, total_sent, total_bounces, total_complaints,
		       bounce_rate, complaint_rate, delivery_rate,
		       bounce_rate_alert, complaint_rate_alert
		FROM reputation_metrics
		WHERE metric_date = $1
	`

	var m model.ReputationMetrics
	err := r.db.QueryRow(ctx, query, date).Scan(
		&m.MetricDate, &m.TotalSent, &m.TotalBounces, &m.TotalComplaints,
		&m.BounceRate, &m.ComplaintRate, &m.DeliveryRate,
		&m.BounceRateAlert, &m.ComplaintRateAlert,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get reputation metrics: %w", err)
	}
	return &m, nil
}
