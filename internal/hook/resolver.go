package hook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"renonotify/internal/model"
	"renonotify/internal/signal"
	"renonotify/pkg/logger"
	"renonotify/pkg/util"
)

// ResolvedDispatch is one matched hook expanded into a concrete delivery
// plan, with the hook's policy snapshotted so later edits do not touch
// in-flight work.
type ResolvedDispatch struct {
	HookID       string
	TemplateID   string
	Channel      model.Channel
	Recipients   []string
	DelaySeconds int
	MaxRetries   int
	Priority     int
}

type HookStore interface {
	GetEnabledBySignalType(ctx context.Context, signalType string) ([]*model.NotificationHook, error)
}

type TemplateStore interface {
	GetByID(ctx context.Context, id string) (*model.NotificationTemplate, error)
}

type ContactStore interface {
	GetByRoles(ctx context.Context, roles []string) ([]*model.Contact, error)
}

type SignalStore interface {
	GetByID(ctx context.Context, id string) (*model.SignalEvent, error)
	MarkProcessed(ctx context.Context, id string) error
}

type QueueStore interface {
	Insert(ctx context.Context, e *model.NotificationQueueEntry) (bool, error)
}

type EventStore interface {
	Insert(ctx context.Context, ev *model.NotificationEvent) error
}

// Resolver turns emitted signals into notification queue entries: one entry
// per matched hook, recipient and channel.
type Resolver struct {
	hooks     HookStore
	templates TemplateStore
	contacts  ContactStore
	signals   SignalStore
	queue     QueueStore
	events    EventStore
	deduper   *util.Deduper
	logger    *zap.Logger
}

func NewResolver(
	hooks HookStore,
	templates TemplateStore,
	contacts ContactStore,
	signals SignalStore,
	queue QueueStore,
	events EventStore,
	deduper *util.Deduper,
	logger *zap.Logger,
) *Resolver {
	return &Resolver{
		hooks:     hooks,
		templates: templates,
		contacts:  contacts,
		signals:   signals,
		queue:     queue,
		events:    events,
		deduper:   deduper,
		logger:    logger,
	}
}

// ResolveHooks returns the delivery plans for one signal event. A hook that
// cannot be resolved (bad condition, missing or inactive template) is logged
// as a configuration problem and skipped; it never blocks the other hooks.
func (r *Resolver) ResolveHooks(ctx context.Context, ev *model.SignalEvent) ([]ResolvedDispatch, error) {
	hooks, err := r.hooks.GetEnabledBySignalType(ctx, ev.SignalType)
	if err != nil {
		return nil, fmt.Errorf("failed to load hooks: %w", err)
	}
	if len(hooks) == 0 {
		return nil, nil
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		r.logger.Warn("Signal payload is not a JSON object, conditions will not match",
			zap.String("signal_event_id", ev.ID),
			zap.Error(err),
		)
		payload = map[string]interface{}{}
	}

	var dispatches []ResolvedDispatch
	for _, h := range hooks {
		if !r.hookMatches(h, payload, ev.ID) {
			continue
		}

		tmpl, err := r.templates.GetByID(ctx, h.TemplateID)
		if err != nil {
			r.logger.Error("Hook references unresolvable template, skipping",
				zap.String("hook_id", h.ID),
				zap.String("template_id", h.TemplateID),
				zap.Error(err),
			)
			continue
		}
		if !tmpl.IsActive {
			r.logger.Warn("Hook references inactive template, skipping",
				zap.String("hook_id", h.ID),
				zap.String("template_id", h.TemplateID),
			)
			continue
		}

		recipients, err := r.expandRecipients(ctx, h, payload)
		if err != nil {
			r.logger.Error("Failed to expand hook recipients, skipping",
				zap.String("hook_id", h.ID),
				zap.Error(err),
			)
			continue
		}
		if len(recipients) == 0 {
			r.logger.Warn("Hook matched but resolved no recipients",
				zap.String("hook_id", h.ID),
				zap.String("signal_event_id", ev.ID),
			)
			continue
		}

		dispatches = append(dispatches, ResolvedDispatch{
			HookID:       h.ID,
			TemplateID:   h.TemplateID,
			Channel:      h.Channel,
			Recipients:   recipients,
			DelaySeconds: h.DeliveryDelaySeconds,
			MaxRetries:   h.MaxRetries,
			Priority:     h.Priority,
		})
	}

	return dispatches, nil
}

func (r *Resolver) hookMatches(h *model.NotificationHook, payload map[string]interface{}, signalEventID string) bool {
	cond, err := ParseCondition(h.Conditions)
	if err != nil {
		r.logger.Error("Malformed hook condition, treating as not matched",
			zap.String("hook_id", h.ID),
			zap.Error(err),
		)
		return false
	}
	if cond == nil {
		return true
	}

	ok, err := cond.Eval(payload)
	if err != nil {
		r.logger.Error("Hook condition evaluation failed, treating as not matched",
			zap.String("hook_id", h.ID),
			zap.String("signal_event_id", signalEventID),
			zap.Error(err),
		)
		return false
	}
	return ok
}

// expandRecipients merges static addresses, role lookups and payload-path
// extraction into one deduplicated list.
func (r *Resolver) expandRecipients(ctx context.Context, h *model.NotificationHook, payload map[string]interface{}) ([]string, error) {
	seen := make(map[string]struct{})
	var recipients []string
	add := func(addr string) {
		if addr == "" {
			return
		}
		if _, dup := seen[addr]; dup {
			return
		}
		seen[addr] = struct{}{}
		recipients = append(recipients, addr)
	}

	for _, addr := range h.RecipientEmails {
		add(addr)
	}

	if len(h.RecipientRoles) > 0 {
		contacts, err := r.contacts.GetByRoles(ctx, h.RecipientRoles)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve role recipients: %w", err)
		}
		for _, c := range contacts {
			if h.Channel == model.ChannelSMS {
				add(c.Phone)
			} else {
				add(c.Email)
			}
		}
	}

	for _, path := range h.RecipientDynamic {
		v, found := lookupPath(payload, path)
		if !found {
			continue
		}
		if addr, ok := v.(string); ok {
			add(addr)
		}
	}

	return recipients, nil
}

// HandleSignalEmitted is the MQ handler wired to the signal.emitted queue.
// Re-delivery is safe end to end: the deduper short-circuits the common
// case and the queue's unique key guarantees at-most-once enqueue.
func (r *Resolver) HandleSignalEmitted(ctx context.Context, raw json.RawMessage) error {
	var p signal.EmittedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		r.logger.Error("Malformed signal.emitted payload, dropping", zap.Error(err))
		return nil
	}

	if r.deduper != nil && !r.deduper.AcquireOnce(ctx, "resolve", p.SignalEventID) {
		return nil
	}

	ev, err := r.signals.GetByID(ctx, p.SignalEventID)
	if err != nil {
		return fmt.Errorf("failed to load signal event: %w", err)
	}

	dispatches, err := r.ResolveHooks(ctx, ev)
	if err != nil {
		return err
	}

	log := logger.WithTrace(ctx, r.logger)
	enqueued := 0
	for _, d := range dispatches {
		scheduledAt := time.Now().UTC().Add(time.Duration(d.DelaySeconds) * time.Second)
		for _, recipient := range d.Recipients {
			entry := &model.NotificationQueueEntry{
				ID:            uuid.NewString(),
				SignalEventID: ev.ID,
				HookID:        d.HookID,
				TemplateID:    d.TemplateID,
				Channel:       d.Channel,
				Recipient:     recipient,
				ScheduledAt:   scheduledAt,
				Status:        model.StatusPending,
				Priority:      d.Priority,
				MaxRetries:    d.MaxRetries,
			}

			inserted, err := r.queue.Insert(ctx, entry)
			if err != nil {
				return fmt.Errorf("failed to enqueue notification: %w", err)
			}
			if !inserted {
				continue
			}
			enqueued++

			queuedEvent := &model.NotificationEvent{
				EventID:        uuid.NewString(),
				NotificationID: entry.ID,
				EventType:      model.EventQueued,
				Channel:        d.Channel,
				Recipient:      recipient,
				Timestamp:      time.Now().UTC(),
			}
			if err := r.events.Insert(ctx, queuedEvent); err != nil {
				log.Error("Failed to record QUEUED event",
					zap.String("notification_id", entry.ID),
					zap.Error(err),
				)
			}
		}
	}

	if err := r.signals.MarkProcessed(ctx, ev.ID); err != nil {
		log.Error("Failed to mark signal processed",
			zap.String("signal_event_id", ev.ID),
			zap.Error(err),
		)
	}

	log.Info("Signal resolved",
		zap.String("signal_event_id", ev.ID),
		zap.String("signal_type", ev.SignalType),
		zap.Int("hooks_matched", len(dispatches)),
		zap.Int("entries_enqueued", enqueued),
	)

	return nil
}
