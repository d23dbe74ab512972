package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"renonotify/internal/model"
)

const SignalRequestExpired = "request_expired"

type RequestStore interface {
	GetActive(ctx context.Context, limit int) ([]*model.Request, error)
	TransitionStatus(ctx context.Context, id string, from, to model.RequestStatus, expiredDate *time.Time) (bool, error)
}

type SignalEmitter interface {
	Emit(ctx context.Context, signalType string, payload json.RawMessage, emittedBy, source string) (string, error)
}

// Processor ages out stale renovation requests. A request in quoting with
// no scheduled follow-up and no contact for the staleness window expires;
// the transition is conditional on the status observed at read time, so
// concurrent admin writes win and the request is simply skipped.
type Processor struct {
	requests   RequestStore
	emitter    SignalEmitter
	staleAfter time.Duration
	batchSize  int
	logger     *zap.Logger
}

func NewProcessor(requests RequestStore, emitter SignalEmitter, staleAfter time.Duration, batchSize int, logger *zap.Logger) *Processor {
	if staleAfter <= 0 {
		staleAfter = 14 * 24 * time.Hour
	}
	if batchSize <= 0 {
		batchSize = 500
	}
	return &Processor{
		requests:   requests,
		emitter:    emitter,
		staleAfter: staleAfter,
		batchSize:  batchSize,
		logger:     logger,
	}
}

// Tick evaluates one batch of active requests against the expiry rule.
// Failures on one request never block the rest of the batch.
func (p *Processor) Tick(ctx context.Context, now time.Time) error {
	requests, err := p.requests.GetActive(ctx, p.batchSize)
	if err != nil {
		return fmt.Errorf("failed to load active requests: %w", err)
	}

	var expired int
	for _, req := range requests {
		if !p.isStale(req, now) {
			continue
		}
		if p.expire(ctx, req, now) {
			expired++
		}
	}

	if expired > 0 {
		p.logger.Info("Lifecycle tick expired requests",
			zap.Int("scanned", len(requests)),
			zap.Int("expired", expired),
		)
	}
	return nil
}

func (p *Processor) isStale(req *model.Request, now time.Time) bool {
	if req.Status != model.RequestQuoting {
		return false
	}
	// A scheduled follow-up means someone is actively working the request.
	if req.FollowUpDate != nil {
		return false
	}
	if req.LastContactDate == nil {
		return false
	}
	return now.Sub(*req.LastContactDate) > p.staleAfter
}

// expire performs the conditional transition and, only when this tick won
// the transition, emits the expiry signal. The conditional write is what
// keeps the signal at one per transition even across overlapping ticks.
func (p *Processor) expire(ctx context.Context, req *model.Request, now time.Time) bool {
	expiredAt := now.UTC()
	transitioned, err := p.requests.TransitionStatus(ctx, req.ID, model.RequestQuoting, model.RequestExpired, &expiredAt)
	if err != nil {
		p.logger.Error("Failed to expire request",
			zap.String("request_id", req.ID),
			zap.Error(err),
		)
		return false
	}
	if !transitioned {
		// status changed under us; whoever changed it owns the request now
		return false
	}

	payload, err := json.Marshal(map[string]interface{}{
		"requestId":       req.ID,
		"ownerEmail":      req.OwnerEmail,
		"expiredDate":     expiredAt.Format(time.RFC3339),
		"lastContactDate": req.LastContactDate.Format(time.RFC3339),
	})
	if err != nil {
		p.logger.Error("Failed to build expiry payload", zap.String("request_id", req.ID), zap.Error(err))
		return true
	}

	if _, err := p.emitter.Emit(ctx, SignalRequestExpired, payload, "lifecycle-processor", "scheduler"); err != nil {
		// the transition is already committed; the signal is best-effort
		p.logger.Error("Failed to emit expiry signal",
			zap.String("request_id", req.ID),
			zap.Error(err),
		)
	}

	p.logger.Info("Request expired",
		zap.String("request_id", req.ID),
		zap.Time("last_contact", *req.LastContactDate),
	)
	return true
}
