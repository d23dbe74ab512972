package reputation

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const alertFlagTTL = 26 * time.Hour

// AlertCache keeps the current-day alert flags in Redis so the dispatcher
// can check them on every batch without hitting the metrics table. Redis
// misses fall back to the store; Redis errors fail open to the store too.
type AlertCache struct {
	rdb    *redis.Client
	store  MetricsStore
	logger *zap.Logger
}

func NewAlertCache(rdb *redis.Client, store MetricsStore, logger *zap.Logger) *AlertCache {
	return &AlertCache{rdb: rdb, store: store, logger: logger}
}

func alertKey(date string) string {
	return "reputation:alerts:" + date
}

func encodeFlags(bounce, complaint bool) string {
	v := "00"
	switch {
	case bounce && complaint:
		v = "11"
	case bounce:
		v = "10"
	case complaint:
		v = "01"
	}
	return v
}

// SetAlerts caches the flags computed by the aggregator.
func (c *AlertCache) SetAlerts(ctx context.Context, date string, bounceAlert, complaintAlert bool) error {
	if err := c.rdb.Set(ctx, alertKey(date), encodeFlags(bounceAlert, complaintAlert), alertFlagTTL).Err(); err != nil {
		return fmt.Errorf("failed to cache alert flags: %w", err)
	}
	return nil
}

// CurrentAlerts returns today's alert flags. A day with no metrics row yet
// has no alerts.
func (c *AlertCache) CurrentAlerts(ctx context.Context) (bounceAlert, complaintAlert bool) {
	date := time.Now().UTC().Format("2006-01-02")

	val, err := c.rdb.Get(ctx, alertKey(date)).Result()
	if err == nil && len(val) == 2 {
		return val[0] == '1', val[1] == '1'
	}
	if err != nil && err != redis.Nil {
		c.logger.Warn("Alert flag cache unavailable, reading store", zap.Error(err))
	}

	m, err := c.store.GetByDate(ctx, date)
	if err != nil {
		c.logger.Error("Failed to read reputation metrics", zap.String("date", date), zap.Error(err))
		return false, false
	}
	if m == nil {
		return false, false
	}
	return m.BounceRateAlert, m.ComplaintRateAlert
}
