package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"renonotify/internal/model"
	"renonotify/internal/repository"
	"renonotify/pkg/logger"
	"renonotify/pkg/metrics"
	"renonotify/pkg/outbox"
	"renonotify/pkg/trace"
)

// RoutingKeyEmitted is the broker routing key for freshly recorded signals.
const RoutingKeyEmitted = "signal.emitted"

// EmittedPayload is the wire form of a signal publication. Consumers load
// the full event from the store by id; the payload itself stays small.
type EmittedPayload struct {
	SignalEventID string `json:"signal_event_id"`
	SignalType    string `json:"signal_type"`
	TraceID       string `json:"trace_id,omitempty"`
}

// Emitter records business signals. It is the only entry point external
// callers use to trigger the engine, and it never blocks on delivery: the
// event row and its outbox row commit in one transaction, and the relay
// takes it from there.
type Emitter struct {
	db         *pgxpool.Pool
	signals    *repository.SignalEventRepository
	outboxRepo *outbox.Repository
	logger     *zap.Logger
}

func NewEmitter(
	db *pgxpool.Pool,
	signals *repository.SignalEventRepository,
	logger *zap.Logger,
) *Emitter {
	return &Emitter{
		db:         db,
		signals:    signals,
		outboxRepo: outbox.NewRepository(db),
		logger:     logger,
	}
}

// Emit persists the signal and schedules its publication. Returns the new
// signal event id.
func (e *Emitter) Emit(ctx context.Context, signalType string, payload json.RawMessage, emittedBy, source string) (string, error) {
	if signalType == "" {
		return "", fmt.Errorf("signal type is required")
	}
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	ev := &model.SignalEvent{
		ID:         uuid.NewString(),
		SignalType: signalType,
		Payload:    payload,
		EmittedAt:  time.Now().UTC(),
		EmittedBy:  emittedBy,
		Source:     source,
	}

	tx, err := e.db.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := e.signals.InsertInTx(ctx, tx, ev); err != nil {
		return "", err
	}

	wire := EmittedPayload{
		SignalEventID: ev.ID,
		SignalType:    ev.SignalType,
		TraceID:       trace.FromContext(ctx),
	}
	if err := outbox.InsertEventInTx(ctx, tx, e.outboxRepo, "signal", &ev.ID, RoutingKeyEmitted, wire); err != nil {
		return "", fmt.Errorf("failed to insert outbox event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("failed to commit transaction: %w", err)
	}

	metrics.IncrementSignalEmitted(signalType)
	logger.WithTrace(ctx, e.logger).Info("Signal emitted",
		zap.String("signal_event_id", ev.ID),
		zap.String("signal_type", signalType),
		zap.String("source", source),
	)

	return ev.ID, nil
}
