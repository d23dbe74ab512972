package suppression

import (
	"context"

	"go.uber.org/zap"

	"renonotify/internal/model"
	"renonotify/pkg/metrics"
)

type Store interface {
	IsActive(ctx context.Context, email string) (bool, error)
	Upsert(ctx context.Context, s *model.Suppression) error
}

// Gate is the single enforcement point consulted before every send attempt.
// No other component may bypass it.
type Gate struct {
	store  Store
	logger *zap.Logger
}

func NewGate(store Store, logger *zap.Logger) *Gate {
	return &Gate{store: store, logger: logger}
}

// IsSuppressed reports whether the address must not be contacted on the
// channel. Email checks the suppression list regardless of suppression
// type; SMS has no suppression source yet and always passes.
func (g *Gate) IsSuppressed(ctx context.Context, address string, channel model.Channel) (bool, error) {
	if channel != model.ChannelEmail {
		return false, nil
	}

	suppressed, err := g.store.IsActive(ctx, address)
	if err != nil {
		return false, err
	}

	if suppressed {
		metrics.IncrementSuppressionHit()
		g.logger.Debug("Recipient suppressed",
			zap.String("recipient", address),
		)
	}

	return suppressed, nil
}
