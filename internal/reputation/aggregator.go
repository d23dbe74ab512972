package reputation

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"renonotify/internal/model"
)

type EventCounter interface {
	DailyCounts(ctx context.Context, date string) (sent, bounces, complaints int64, err error)
}

type MetricsStore interface {
	Upsert(ctx context.Context, m *model.ReputationMetrics) error
	GetByDate(ctx context.Context, date string) (*model.ReputationMetrics, error)
}

// AlertSink receives the freshly computed alert flags for a date. The
// dispatcher reads them back through an AlertReader.
type AlertSink interface {
	SetAlerts(ctx context.Context, date string, bounceAlert, complaintAlert bool) error
}

type Thresholds struct {
	BounceRate    float64
	ComplaintRate float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{BounceRate: 0.05, ComplaintRate: 0.001}
}

// Aggregator rolls notification events up into per-day reputation metrics.
// Aggregation is idempotent: rerunning a date recomputes from the event
// log and overwrites the existing row.
type Aggregator struct {
	events     EventCounter
	store      MetricsStore
	alerts     AlertSink
	thresholds Thresholds
	logger     *zap.Logger
}

func NewAggregator(events EventCounter, store MetricsStore, alerts AlertSink, thresholds Thresholds, logger *zap.Logger) *Aggregator {
	if thresholds.BounceRate <= 0 {
		thresholds.BounceRate = DefaultThresholds().BounceRate
	}
	if thresholds.ComplaintRate <= 0 {
		thresholds.ComplaintRate = DefaultThresholds().ComplaintRate
	}
	return &Aggregator{
		events:     events,
		store:      store,
		alerts:     alerts,
		thresholds: thresholds,
		logger:     logger,
	}
}

// Aggregate recomputes the metrics row for one UTC date (YYYY-MM-DD).
func (a *Aggregator) Aggregate(ctx context.Context, date string) (*model.ReputationMetrics, error) {
	sent, bounces, complaints, err := a.events.DailyCounts(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("failed to count daily events: %w", err)
	}

	m := &model.ReputationMetrics{
		MetricDate:      date,
		TotalSent:       sent,
		TotalBounces:    bounces,
		TotalComplaints: complaints,
	}
	// Rates are relative to delivered volume; a day with no sends yields
	// zero rates, never a division by zero.
	if sent > 0 {
		m.BounceRate = float64(bounces) / float64(sent)
		m.ComplaintRate = float64(complaints) / float64(sent)
		m.DeliveryRate = float64(sent) / float64(sent+bounces)
	}
	m.BounceRateAlert = m.BounceRate > a.thresholds.BounceRate
	m.ComplaintRateAlert = m.ComplaintRate > a.thresholds.ComplaintRate

	if err := a.store.Upsert(ctx, m); err != nil {
		return nil, fmt.Errorf("failed to upsert reputation metrics: %w", err)
	}

	if a.alerts != nil {
		if err := a.alerts.SetAlerts(ctx, date, m.BounceRateAlert, m.ComplaintRateAlert); err != nil {
			a.logger.Warn("Failed to publish alert flags", zap.String("date", date), zap.Error(err))
		}
	}

	if m.BounceRateAlert || m.ComplaintRateAlert {
		a.logger.Warn("Reputation alert raised",
			zap.String("date", date),
			zap.Float64("bounce_rate", m.BounceRate),
			zap.Float64("complaint_rate", m.ComplaintRate),
			zap.Int64("sent", sent),
		)
	} else {
		a.logger.Info("Reputation metrics aggregated",
			zap.String("date", date),
			zap.Int64("sent", sent),
			zap.Int64("bounces", bounces),
			zap.Int64("complaints", complaints),
		)
	}

	return m, nil
}

// AggregateToday is the scheduler entrypoint.
func (a *Aggregator) AggregateToday(ctx context.Context) error {
	_, err := a.Aggregate(ctx, time.Now().UTC().Format("2006-01-02"))
	return err
}
