package suppression

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"renonotify/internal/model"
)

type EventStore interface {
	Insert(ctx context.Context, ev *model.NotificationEvent) error
}

// Service records provider bounce and complaint notifications into the
// suppression list and the audit log.
type Service struct {
	store  Store
	events EventStore
	logger *zap.Logger
}

func NewService(store Store, events EventStore, logger *zap.Logger) *Service {
	return &Service{store: store, events: events, logger: logger}
}

// RecordBounce suppresses the address after a provider bounce notification.
// Transient bounces are recorded active as well; expiring them is an
// external retention decision.
func (s *Service) RecordBounce(ctx context.Context, email string, bounceType model.BounceType, notificationID, source string) error {
	if email == "" {
		return fmt.Errorf("bounce notification without email address")
	}

	entry := &model.Suppression{
		EmailAddress:    email,
		SuppressionType: model.SuppressionBounce,
		BounceType:      bounceType,
		IsActive:        true,
		SuppressedAt:    time.Now().UTC(),
		Source:          source,
	}
	if err := s.store.Upsert(ctx, entry); err != nil {
		return err
	}

	s.appendEvent(ctx, notificationID, model.EventEmailBounce, email, string(bounceType))

	s.logger.Info("Recorded bounce suppression",
		zap.String("recipient", email),
		zap.String("bounce_type", string(bounceType)),
		zap.String("source", source),
	)
	return nil
}

// RecordComplaint suppresses the address after a spam complaint.
func (s *Service) RecordComplaint(ctx context.Context, email, notificationID, source string) error {
	if email == "" {
		return fmt.Errorf("complaint notification without email address")
	}

	entry := &model.Suppression{
		EmailAddress:    email,
		SuppressionType: model.SuppressionComplaint,
		IsActive:        true,
		SuppressedAt:    time.Now().UTC(),
		Source:          source,
	}
	if err := s.store.Upsert(ctx, entry); err != nil {
		return err
	}

	s.appendEvent(ctx, notificationID, model.EventEmailComplaint, email, "")

	s.logger.Info("Recorded complaint suppression",
		zap.String("recipient", email),
		zap.String("source", source),
	)
	return nil
}

func (s *Service) appendEvent(ctx context.Context, notificationID string, eventType model.EventType, recipient, providerStatus string) {
	ev := &model.NotificationEvent{
		EventID:        uuid.NewString(),
		NotificationID: notificationID,
		EventType:      eventType,
		Channel:        model.ChannelEmail,
		Recipient:      recipient,
		ProviderStatus: providerStatus,
		Timestamp:      time.Now().UTC(),
	}
	if err := s.events.Insert(ctx, ev); err != nil {
		s.logger.Error("Failed to record suppression event",
			zap.String("recipient", recipient),
			zap.String("event_type", string(eventType)),
			zap.Error(err),
		)
	}
}
