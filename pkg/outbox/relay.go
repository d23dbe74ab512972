package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"renonotify/pkg/mq"
	"renonotify/pkg/trace"
)

// Relay drains pending outbox events and publishes them to the broker. It is
// the only path from persisted signals onto the wire, which keeps signal
// emission fire-and-forget for callers.
type Relay struct {
	repo       *Repository
	publisher  *mq.Publisher
	logger     *zap.Logger
	maxRetries int
	interval   time.Duration
	batchSize  int
}

func NewRelay(
	repo *Repository,
	publisher *mq.Publisher,
	logger *zap.Logger,
) *Relay {
	return &Relay{
		repo:       repo,
		publisher:  publisher,
		logger:     logger,
		maxRetries: 5,
		interval:   1 * time.Second,
		batchSize:  100,
	}
}

func (r *Relay) WithMaxRetries(maxRetries int) *Relay {
	r.maxRetries = maxRetries
	return r
}

func (r *Relay) WithInterval(interval time.Duration) *Relay {
	r.interval = interval
	return r
}

func (r *Relay) WithBatchSize(batchSize int) *Relay {
	r.batchSize = batchSize
	return r
}

// Start runs the relay loop until the context is cancelled. Call it in a
// goroutine.
func (r *Relay) Start(ctx context.Context) {
	r.logger.Info("Starting outbox relay",
		zap.Int("max_retries", r.maxRetries),
		zap.Duration("interval", r.interval),
		zap.Int("batch_size", r.batchSize),
	)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Outbox relay stopped")
			return
		case <-ticker.C:
			r.processPendingEvents(ctx)
		}
	}
}

func (r *Relay) processPendingEvents(ctx context.Context) {
	if !r.publisher.IsConnected() {
		r.logger.Warn("Broker connection lost, leaving events pending")
		return
	}

	events, err := r.repo.GetPendingEvents(ctx, r.batchSize)
	if err != nil {
		r.logger.Error("Failed to get pending events", zap.Error(err))
		return
	}

	if len(events) == 0 {
		return
	}

	r.logger.Debug("Processing pending outbox events",
		zap.Int("count", len(events)),
	)

	for _, event := range events {
		if err := r.publishEvent(ctx, event); err != nil {
			r.logger.Error("Failed to publish event",
				zap.Int64("event_id", event.ID),
				zap.String("routing_key", event.RoutingKey),
				zap.Error(err),
			)

			if err := r.repo.MarkAsFailed(ctx, event.ID, r.maxRetries); err != nil {
				r.logger.Error("Failed to mark event as failed",
					zap.Int64("event_id", event.ID),
					zap.Error(err),
				)
			}
			continue
		}

		if err := r.repo.MarkAsSent(ctx, event.ID); err != nil {
			r.logger.Error("Failed to mark event as sent",
				zap.Int64("event_id", event.ID),
				zap.Error(err),
			)
		} else {
			r.logger.Debug("Event published",
				zap.Int64("event_id", event.ID),
				zap.String("routing_key", event.RoutingKey),
			)
		}
	}
}

func (r *Relay) publishEvent(ctx context.Context, event *Event) error {
	var payload interface{}
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	ctx = extractTraceIDFromPayload(ctx, event.Payload)

	if err := r.publisher.PublishWithContext(ctx, event.RoutingKey, payload); err != nil {
		return fmt.Errorf("failed to publish to MQ: %w", err)
	}

	return nil
}

func extractTraceIDFromPayload(ctx context.Context, payload json.RawMessage) context.Context {
	var payloadMap map[string]interface{}
	if err := json.Unmarshal(payload, &payloadMap); err != nil {
		return ctx
	}

	if traceID, ok := payloadMap["trace_id"].(string); ok && traceID != "" {
		ctx = trace.WithContext(ctx, traceID)
	}

	return ctx
}
