package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"renonotify/internal/model"
	"renonotify/internal/provider"
	"renonotify/internal/repository"
	"renonotify/internal/template"
	"renonotify/pkg/metrics"
	"renonotify/pkg/util"
)

type QueueStore interface {
	GetDue(ctx context.Context, now time.Time, limit int) ([]*model.NotificationQueueEntry, error)
	Claim(ctx context.Context, id string, version int) (bool, error)
	MarkSent(ctx context.Context, id string, version int, sentAt time.Time) error
	MarkRetrying(ctx context.Context, id string, version int, retryCount int, scheduledAt time.Time, errMsg string) error
	MarkFailed(ctx context.Context, id string, version int, retryCount int, errMsg string) error
	Defer(ctx context.Context, id string, version int, scheduledAt time.Time) error
	Release(ctx context.Context, id string, version int) error
}

type EventStore interface {
	Insert(ctx context.Context, ev *model.NotificationEvent) error
}

type TemplateStore interface {
	GetByID(ctx context.Context, id string) (*model.NotificationTemplate, error)
}

type SignalStore interface {
	GetByID(ctx context.Context, id string) (*model.SignalEvent, error)
}

type Gate interface {
	IsSuppressed(ctx context.Context, address string, channel model.Channel) (bool, error)
}

type Suppressor interface {
	RecordBounce(ctx context.Context, email string, bounceType model.BounceType, notificationID, source string) error
}

// AlertReader exposes the current-day reputation alert flags.
type AlertReader interface {
	CurrentAlerts(ctx context.Context) (bounceAlert, complaintAlert bool)
}

// Options bound one worker invocation.
type Options struct {
	BatchSize   int
	WorkerCount int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Cooldown    time.Duration
	Budget      time.Duration
}

func (o *Options) applyDefaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.WorkerCount <= 0 {
		o.WorkerCount = 4
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = time.Minute
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = time.Hour
	}
	if o.Cooldown <= 0 {
		o.Cooldown = 15 * time.Minute
	}
	if o.Budget <= 0 {
		o.Budget = 15 * time.Minute
	}
}

// Worker drains due queue entries and drives each through the delivery
// state machine. Every invocation processes one bounded batch and exits;
// all state lives in the record store, so a cold start resumes cleanly.
type Worker struct {
	queue     QueueStore
	events    EventStore
	templates TemplateStore
	signals   SignalStore
	gate      Gate
	suppress  Suppressor
	alerts    AlertReader
	providers map[model.Channel]provider.Sender
	opts      Options
	logger    *zap.Logger
}

func NewWorker(
	queue QueueStore,
	events EventStore,
	templates TemplateStore,
	signals SignalStore,
	gate Gate,
	suppress Suppressor,
	alerts AlertReader,
	providers map[model.Channel]provider.Sender,
	opts Options,
	logger *zap.Logger,
) *Worker {
	opts.applyDefaults()
	return &Worker{
		queue:     queue,
		events:    events,
		templates: templates,
		signals:   signals,
		gate:      gate,
		suppress:  suppress,
		alerts:    alerts,
		providers: providers,
		opts:      opts,
		logger:    logger,
	}
}

// RunOnce processes one batch of due entries. Entries sharing a batch are
// processed concurrently; ownership of each entry is taken by the
// optimistic claim, so overlapping invocations are safe.
func (w *Worker) RunOnce(ctx context.Context, now time.Time) error {
	ctx, cancel := context.WithDeadline(ctx, now.Add(w.opts.Budget))
	defer cancel()

	entries, err := w.queue.GetDue(ctx, now, w.opts.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to load due entries: %w", err)
	}

	metrics.ObserveDispatchBatchSize(len(entries))
	if len(entries) == 0 {
		return nil
	}

	bounceAlert, complaintAlert := w.alerts.CurrentAlerts(ctx)
	emailPaused := bounceAlert || complaintAlert
	if emailPaused {
		w.logger.Warn("Reputation alert active, deferring email entries",
			zap.Bool("bounce_rate_alert", bounceAlert),
			zap.Bool("complaint_rate_alert", complaintAlert),
		)
	}

	jobs := make(chan *model.NotificationQueueEntry)
	var wg sync.WaitGroup
	for i := 0; i < w.opts.WorkerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for entry := range jobs {
				w.processEntry(ctx, entry, now, emailPaused)
			}
		}()
	}

	for _, entry := range entries {
		jobs <- entry
	}
	close(jobs)
	wg.Wait()

	return nil
}

func (w *Worker) processEntry(ctx context.Context, e *model.NotificationQueueEntry, now time.Time, emailPaused bool) {
	claimed, err := w.queue.Claim(ctx, e.ID, e.Version)
	if err != nil {
		w.logger.Error("Failed to claim entry", zap.String("id", e.ID), zap.Error(err))
		return
	}
	if !claimed {
		// another invocation owns it
		return
	}
	version := e.Version + 1

	// If the invocation deadline already arrived, give the entry back
	// untouched so the next run picks it up. No attempt happened, so the
	// status goes back to PENDING, not RETRYING.
	if ctx.Err() != nil {
		w.release(e.ID, version)
		return
	}

	log := w.logger.With(
		zap.String("notification_id", e.ID),
		zap.String("channel", string(e.Channel)),
		zap.String("recipient", e.Recipient),
	)

	// Suppression gate: the single enforcement point before any attempt.
	suppressed, err := w.gate.IsSuppressed(ctx, e.Recipient, e.Channel)
	if err != nil {
		log.Error("Suppression check failed, releasing entry", zap.Error(err))
		w.release(e.ID, version)
		return
	}
	if suppressed {
		w.appendEvent(e, model.FailedEventType(e.Channel), "", "", model.ErrorCodeSuppressed, 0)
		if err := w.queue.MarkFailed(ctx, e.ID, version, e.RetryCount, "recipient suppressed"); err != nil {
			log.Error("Failed to finalize suppressed entry", zap.Error(err))
		}
		metrics.IncrementDispatchOutcome(string(e.Channel), "suppressed")
		log.Info("Send preempted by suppression list")
		return
	}

	// Reputation throttle: alerts pause the email channel. Throttling is
	// not failure, so no retry is consumed.
	if emailPaused && e.Channel == model.ChannelEmail {
		if err := w.queue.Defer(ctx, e.ID, version, now.Add(w.opts.Cooldown)); err != nil {
			log.Error("Failed to defer entry", zap.Error(err))
		}
		metrics.IncrementDispatchOutcome(string(e.Channel), "deferred")
		return
	}

	content, renderErr := w.renderContent(ctx, e)
	if renderErr != nil {
		// Only configuration defects are terminal here; a store outage
		// means no attempt happened, so the entry goes back to PENDING.
		code, terminal := classifyRenderError(renderErr)
		if !terminal {
			log.Error("Content lookup failed, releasing entry", zap.Error(renderErr))
			w.release(e.ID, version)
			return
		}
		w.appendEvent(e, model.FailedEventType(e.Channel), "", "", code, 0)
		if err := w.queue.MarkFailed(ctx, e.ID, version, e.RetryCount, renderErr.Error()); err != nil {
			log.Error("Failed to finalize entry after render error", zap.Error(err))
		}
		metrics.IncrementDispatchOutcome(string(e.Channel), "failed")
		log.Error("Render failed, entry is not retryable", zap.Error(renderErr))
		return
	}

	sender, ok := w.providers[e.Channel]
	if !ok {
		w.appendEvent(e, model.FailedEventType(e.Channel), "", "", "NO_PROVIDER", 0)
		if err := w.queue.MarkFailed(ctx, e.ID, version, e.RetryCount, fmt.Sprintf("no provider for channel %s", e.Channel)); err != nil {
			log.Error("Failed to finalize entry without provider", zap.Error(err))
		}
		metrics.IncrementDispatchOutcome(string(e.Channel), "failed")
		return
	}

	start := time.Now()
	providerID, sendErr := sender.Send(ctx, e.Recipient, content)
	elapsed := time.Since(start)

	if sendErr == nil {
		sentAt := time.Now().UTC()
		w.appendEvent(e, model.SuccessEventType(e.Channel), sender.Name(), providerID, "", elapsed.Milliseconds())
		if err := w.queue.MarkSent(ctx, e.ID, version, sentAt); err != nil {
			log.Error("Failed to finalize sent entry", zap.Error(err))
		}
		metrics.IncrementDispatchOutcome(string(e.Channel), "sent")
		log.Info("Notification sent",
			zap.String("provider_id", providerID),
			zap.Duration("took", elapsed),
		)
		return
	}

	failure := provider.ClassifyTransportError(sendErr)

	if failure.Kind == provider.FailurePermanent {
		// Permanent failures never retry, and the recipient is suppressed
		// so future dispatches are preempted instead of failing again.
		w.appendEvent(e, model.FailedEventType(e.Channel), sender.Name(), "", failure.Code, elapsed.Milliseconds())
		if err := w.queue.MarkFailed(ctx, e.ID, version, e.RetryCount, failure.Error()); err != nil {
			log.Error("Failed to finalize permanently failed entry", zap.Error(err))
		}
		if e.Channel == model.ChannelEmail {
			if err := w.suppress.RecordBounce(ctx, e.Recipient, model.BouncePermanent, e.ID, "dispatcher"); err != nil {
				log.Error("Failed to suppress hard-bounced recipient", zap.Error(err))
			}
		}
		metrics.IncrementDispatchOutcome(string(e.Channel), "failed")
		log.Warn("Permanent provider failure", zap.String("code", failure.Code))
		return
	}

	// Transient failure: retry with exponential backoff until the snapshot
	// retry budget runs out.
	if e.RetryCount >= e.MaxRetries {
		w.appendEvent(e, model.EventNotifyFailed, sender.Name(), "", failure.Code, elapsed.Milliseconds())
		if err := w.queue.MarkFailed(ctx, e.ID, version, e.RetryCount, failure.Error()); err != nil {
			log.Error("Failed to finalize exhausted entry", zap.Error(err))
		}
		metrics.IncrementDispatchOutcome(string(e.Channel), "failed")
		log.Warn("Retries exhausted",
			zap.Int("retry_count", e.RetryCount),
			zap.String("code", failure.Code),
		)
		return
	}

	retryCount := e.RetryCount + 1
	delay := util.Backoff(w.opts.BaseDelay, w.opts.MaxDelay, retryCount)
	w.appendEvent(e, model.EventAttempt, sender.Name(), "", failure.Code, elapsed.Milliseconds())
	if err := w.queue.MarkRetrying(ctx, e.ID, version, retryCount, time.Now().UTC().Add(delay), failure.Error()); err != nil {
		log.Error("Failed to schedule retry", zap.Error(err))
	}
	metrics.IncrementDispatchOutcome(string(e.Channel), "retrying")
	log.Info("Transient provider failure, retry scheduled",
		zap.Int("retry_count", retryCount),
		zap.Duration("backoff", delay),
		zap.String("code", failure.Code),
	)
}

var errTemplateInactive = errors.New("template is inactive")

// classifyRenderError reports the audit error code for a render failure
// and whether it is a terminal configuration defect. Any other error is
// infrastructural and the entry must stay resumable.
func classifyRenderError(err error) (string, bool) {
	var re *template.RenderError
	switch {
	case errors.As(err, &re):
		return string(re.Kind), true
	case errors.Is(err, repository.ErrTemplateNotFound):
		return "TEMPLATE_NOT_FOUND", true
	case errors.Is(err, errTemplateInactive):
		return "TEMPLATE_INACTIVE", true
	}
	return "", false
}

// renderContent prefers the entry's direct per-channel content; the
// template path is the compatibility route for hook-based dispatches.
func (w *Worker) renderContent(ctx context.Context, e *model.NotificationQueueEntry) (*template.RenderedContent, error) {
	if direct, ok := e.Channels[e.Channel]; ok {
		return template.FromDirectContent(e.Channel, direct)
	}

	if e.TemplateID == "" {
		return nil, &template.RenderError{Kind: template.EmptyTemplate}
	}

	tmpl, err := w.templates.GetByID(ctx, e.TemplateID)
	if err != nil {
		return nil, fmt.Errorf("template lookup failed: %w", err)
	}
	if !tmpl.IsActive {
		return nil, fmt.Errorf("template %s: %w", tmpl.ID, errTemplateInactive)
	}

	payload := map[string]interface{}{}
	if e.SignalEventID != "" {
		ev, err := w.signals.GetByID(ctx, e.SignalEventID)
		if err != nil {
			return nil, fmt.Errorf("signal event lookup failed: %w", err)
		}
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			payload = map[string]interface{}{}
		}
	}

	recipientContext := map[string]interface{}{
		"recipient": e.Recipient,
	}

	return template.Render(tmpl, e.Channel, payload, recipientContext)
}

// release returns a claimed entry to PENDING using a fresh context, since
// the invocation context may already be done.
func (w *Worker) release(id string, version int) {
	releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.queue.Release(releaseCtx, id, version); err != nil {
		w.logger.Error("Failed to release claimed entry",
			zap.String("notification_id", id),
			zap.Error(err),
		)
	}
}

// appendEvent writes one audit record; audit failures are logged, never
// fatal to the dispatch itself.
func (w *Worker) appendEvent(e *model.NotificationQueueEntry, eventType model.EventType, providerName, providerID, errorCode string, processingMs int64) {
	eventCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ev := &model.NotificationEvent{
		EventID:          uuid.NewString(),
		NotificationID:   e.ID,
		EventType:        eventType,
		Channel:          e.Channel,
		Recipient:        e.Recipient,
		Provider:         providerName,
		ProviderID:       providerID,
		ErrorCode:        errorCode,
		Timestamp:        time.Now().UTC(),
		ProcessingTimeMs: processingMs,
	}
	if err := w.events.Insert(eventCtx, ev); err != nil {
		w.logger.Error("Failed to append notification event",
			zap.String("notification_id", e.ID),
			zap.String("event_type", string(eventType)),
			zap.Error(err),
		)
	}
}
