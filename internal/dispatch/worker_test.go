package dispatch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"renonotify/internal/model"
	"renonotify/internal/provider"
	"renonotify/internal/repository"
)

type fakeQueue struct {
	mu      sync.Mutex
	entries map[string]*model.NotificationQueueEntry
}

func newFakeQueue(entries ...*model.NotificationQueueEntry) *fakeQueue {
	q := &fakeQueue{entries: make(map[string]*model.NotificationQueueEntry)}
	for _, e := range entries {
		q.entries[e.ID] = e
	}
	return q
}

func (q *fakeQueue) GetDue(_ context.Context, now time.Time, limit int) ([]*model.NotificationQueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var due []*model.NotificationQueueEntry
	for _, e := range q.entries {
		if (e.Status == model.StatusPending || e.Status == model.StatusRetrying) && !e.ScheduledAt.After(now) {
			copyEntry := *e
			due = append(due, &copyEntry)
			if len(due) == limit {
				break
			}
		}
	}
	return due, nil
}

func (q *fakeQueue) Claim(_ context.Context, id string, version int) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[id]
	if !ok || e.Version != version {
		return false, nil
	}
	if e.Status != model.StatusPending && e.Status != model.StatusRetrying {
		return false, nil
	}
	e.Status = model.StatusProcessing
	e.Version++
	return true, nil
}

func (q *fakeQueue) update(id string, version int, fn func(e *model.NotificationQueueEntry)) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[id]
	if !ok {
		return fmt.Errorf("entry %s not found", id)
	}
	if e.Status != model.StatusProcessing || e.Version != version {
		return fmt.Errorf("entry %s not owned: status=%s version=%d", id, e.Status, e.Version)
	}
	fn(e)
	e.Version++
	return nil
}

func (q *fakeQueue) MarkSent(_ context.Context, id string, version int, sentAt time.Time) error {
	return q.update(id, version, func(e *model.NotificationQueueEntry) {
		e.Status = model.StatusSent
		e.SentAt = &sentAt
	})
}

func (q *fakeQueue) MarkRetrying(_ context.Context, id string, version int, retryCount int, scheduledAt time.Time, errMsg string) error {
	return q.update(id, version, func(e *model.NotificationQueueEntry) {
		e.Status = model.StatusRetrying
		e.RetryCount = retryCount
		e.ScheduledAt = scheduledAt
		e.ErrorMessage = errMsg
	})
}

func (q *fakeQueue) MarkFailed(_ context.Context, id string, version int, retryCount int, errMsg string) error {
	return q.update(id, version, func(e *model.NotificationQueueEntry) {
		e.Status = model.StatusFailed
		e.RetryCount = retryCount
		e.ErrorMessage = errMsg
	})
}

func (q *fakeQueue) Defer(_ context.Context, id string, version int, scheduledAt time.Time) error {
	return q.update(id, version, func(e *model.NotificationQueueEntry) {
		e.Status = model.StatusPending
		e.ScheduledAt = scheduledAt
	})
}

func (q *fakeQueue) Release(_ context.Context, id string, version int) error {
	return q.update(id, version, func(e *model.NotificationQueueEntry) {
		e.Status = model.StatusPending
	})
}

func (q *fakeQueue) get(id string) model.NotificationQueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return *q.entries[id]
}

type fakeEvents struct {
	mu     sync.Mutex
	events []*model.NotificationEvent
}

func (f *fakeEvents) Insert(_ context.Context, ev *model.NotificationEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeEvents) ofType(t model.EventType) []*model.NotificationEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.NotificationEvent
	for _, ev := range f.events {
		if ev.EventType == t {
			out = append(out, ev)
		}
	}
	return out
}

type fakeTemplates struct {
	templates map[string]*model.NotificationTemplate
	err       error
}

func (f *fakeTemplates) GetByID(_ context.Context, id string) (*model.NotificationTemplate, error) {
	if f.err != nil {
		return nil, fmt.Errorf("failed to get template: %w", f.err)
	}
	t, ok := f.templates[id]
	if !ok {
		return nil, repository.ErrTemplateNotFound
	}
	return t, nil
}

type fakeSignals struct {
	events map[string]*model.SignalEvent
}

func (f *fakeSignals) GetByID(_ context.Context, id string) (*model.SignalEvent, error) {
	ev, ok := f.events[id]
	if !ok {
		return nil, fmt.Errorf("signal event %s not found", id)
	}
	return ev, nil
}

type fakeGate struct {
	suppressed map[string]bool
}

func (f *fakeGate) IsSuppressed(_ context.Context, address string, channel model.Channel) (bool, error) {
	if channel != model.ChannelEmail {
		return false, nil
	}
	return f.suppressed[address], nil
}

type fakeSuppressor struct {
	mu      sync.Mutex
	bounced []string
}

func (f *fakeSuppressor) RecordBounce(_ context.Context, email string, _ model.BounceType, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bounced = append(f.bounced, email)
	return nil
}

type fakeAlerts struct {
	bounce    bool
	complaint bool
}

func (f *fakeAlerts) CurrentAlerts(_ context.Context) (bool, bool) {
	return f.bounce, f.complaint
}

type harness struct {
	queue     *fakeQueue
	events    *fakeEvents
	templates *fakeTemplates
	suppress  *fakeSuppressor
	gate      *fakeGate
	alerts    *fakeAlerts
	email     *provider.MemorySender
	sms       *provider.MemorySender
	worker    *Worker
}

func newHarness(t *testing.T, entries ...*model.NotificationQueueEntry) *harness {
	t.Helper()
	h := &harness{
		queue:  newFakeQueue(entries...),
		events: &fakeEvents{},
		templates: &fakeTemplates{templates: map[string]*model.NotificationTemplate{
			"tpl-1": {
				ID:               "tpl-1",
				EmailSubject:     "Hi {{clientName}}",
				EmailContentHTML: "<p>Hello {{clientName}}</p>",
				SMSContent:       "Hi {{clientName}}",
				Variables:        []string{"clientName"},
				IsActive:         true,
			},
		}},
		suppress: &fakeSuppressor{},
		gate:     &fakeGate{suppressed: map[string]bool{}},
		alerts:   &fakeAlerts{},
		email:    provider.NewMemorySender(),
		sms:      provider.NewMemorySender(),
	}
	h.worker = NewWorker(
		h.queue,
		h.events,
		h.templates,
		&fakeSignals{events: map[string]*model.SignalEvent{
			"sig-1": {ID: "sig-1", SignalType: "request_created", Payload: []byte(`{"clientName":"Alice"}`)},
			"sig-2": {ID: "sig-2", SignalType: "request_created", Payload: []byte(`{}`)},
		}},
		h.gate,
		h.suppress,
		h.alerts,
		map[model.Channel]provider.Sender{
			model.ChannelEmail: h.email,
			model.ChannelSMS:   h.sms,
		},
		Options{BatchSize: 10, WorkerCount: 1, BaseDelay: time.Minute, MaxDelay: time.Hour},
		zap.NewNop(),
	)
	return h
}

func emailEntry(id string) *model.NotificationQueueEntry {
	return &model.NotificationQueueEntry{
		ID:            id,
		SignalEventID: "sig-1",
		HookID:        "hook-1",
		TemplateID:    "tpl-1",
		Channel:       model.ChannelEmail,
		Recipient:     "owner@example.com",
		ScheduledAt:   time.Now().UTC().Add(-time.Minute),
		Status:        model.StatusPending,
		MaxRetries:    3,
	}
}

func TestWorkerSendsDueEntry(t *testing.T) {
	h := newHarness(t, emailEntry("n-1"))

	if err := h.worker.RunOnce(context.Background(), time.Now().UTC()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	got := h.queue.get("n-1")
	if got.Status != model.StatusSent {
		t.Fatalf("status = %s, want SENT", got.Status)
	}
	if got.SentAt == nil {
		t.Error("SentAt not set")
	}
	if got.RetryCount != 0 {
		t.Errorf("RetryCount = %d, want 0", got.RetryCount)
	}

	sent := h.email.Sent()
	if len(sent) != 1 || sent[0].Recipient != "owner@example.com" {
		t.Fatalf("unexpected deliveries: %+v", sent)
	}
	if sent[0].Content.Subject != "Hi Alice" {
		t.Errorf("rendered subject = %q", sent[0].Content.Subject)
	}

	success := h.events.ofType(model.EventEmailSuccess)
	if len(success) != 1 {
		t.Fatalf("expected exactly 1 EMAIL_SUCCESS event, got %d", len(success))
	}
	if success[0].ProviderID == "" {
		t.Error("success event missing provider id")
	}
}

func TestWorkerDirectContentSkipsTemplate(t *testing.T) {
	e := emailEntry("n-1")
	e.TemplateID = ""
	e.Channels = map[model.Channel]model.ChannelContent{
		model.ChannelEmail: {Subject: "Direct", BodyHTML: "<p>Direct body</p>"},
	}
	h := newHarness(t, e)

	if err := h.worker.RunOnce(context.Background(), time.Now().UTC()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	sent := h.email.Sent()
	if len(sent) != 1 || sent[0].Content.Subject != "Direct" {
		t.Fatalf("unexpected deliveries: %+v", sent)
	}
}

func TestWorkerRenderFailureIsNotRetried(t *testing.T) {
	e := emailEntry("n-1")
	e.SignalEventID = "sig-2" // payload lacks clientName
	h := newHarness(t, e)

	if err := h.worker.RunOnce(context.Background(), time.Now().UTC()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	got := h.queue.get("n-1")
	if got.Status != model.StatusFailed {
		t.Fatalf("status = %s, want FAILED", got.Status)
	}
	if got.RetryCount != 0 {
		t.Errorf("render failure consumed a retry: %d", got.RetryCount)
	}
	if len(h.email.Sent()) != 0 {
		t.Error("provider was called despite render failure")
	}

	failed := h.events.ofType(model.EventEmailFailed)
	if len(failed) != 1 || failed[0].ErrorCode != "MISSING_VARIABLE" {
		t.Fatalf("unexpected failure events: %+v", failed)
	}
}

func TestWorkerMissingTemplateFailsEntry(t *testing.T) {
	e := emailEntry("n-1")
	e.TemplateID = "tpl-gone"
	h := newHarness(t, e)

	if err := h.worker.RunOnce(context.Background(), time.Now().UTC()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	got := h.queue.get("n-1")
	if got.Status != model.StatusFailed {
		t.Fatalf("status = %s, want FAILED", got.Status)
	}
	failed := h.events.ofType(model.EventEmailFailed)
	if len(failed) != 1 || failed[0].ErrorCode != "TEMPLATE_NOT_FOUND" {
		t.Fatalf("unexpected failure events: %+v", failed)
	}
}

func TestWorkerTemplateStoreOutageReleasesEntry(t *testing.T) {
	e := emailEntry("n-1")
	h := newHarness(t, e)
	h.templates.err = fmt.Errorf("connection refused")

	if err := h.worker.RunOnce(context.Background(), time.Now().UTC()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	got := h.queue.get("n-1")
	if got.Status != model.StatusPending {
		t.Fatalf("status = %s, want PENDING after store outage", got.Status)
	}
	if got.RetryCount != 0 {
		t.Errorf("store outage consumed a retry: %d", got.RetryCount)
	}
	if len(h.email.Sent()) != 0 {
		t.Error("provider was called despite failed template lookup")
	}
	if len(h.events.events) != 0 {
		t.Errorf("no attempt happened, but events were recorded: %+v", h.events.events)
	}
}

func TestWorkerTransientFailureRetriesThenExhausts(t *testing.T) {
	e := emailEntry("n-1")
	e.MaxRetries = 2
	h := newHarness(t, e)
	h.email.Fail = &provider.SendError{Kind: provider.FailureTransient, Code: "provider_5xx", Message: "upstream unavailable"}

	// attempt 1 and 2 schedule retries with growing backoff
	var lastDelay time.Duration
	for attempt := 1; attempt <= 2; attempt++ {
		now := time.Now().UTC()
		if err := h.worker.RunOnce(context.Background(), now); err != nil {
			t.Fatalf("RunOnce %d failed: %v", attempt, err)
		}
		got := h.queue.get("n-1")
		if got.Status != model.StatusRetrying {
			t.Fatalf("attempt %d: status = %s, want RETRYING", attempt, got.Status)
		}
		if got.RetryCount != attempt {
			t.Fatalf("attempt %d: RetryCount = %d", attempt, got.RetryCount)
		}
		delay := got.ScheduledAt.Sub(now)
		if delay <= lastDelay {
			t.Fatalf("attempt %d: backoff %v did not grow past %v", attempt, delay, lastDelay)
		}
		lastDelay = delay

		// make it due again
		h.queue.mu.Lock()
		h.queue.entries["n-1"].ScheduledAt = now.Add(-time.Second)
		h.queue.mu.Unlock()
	}

	// attempt 3: retry budget is spent
	if err := h.worker.RunOnce(context.Background(), time.Now().UTC()); err != nil {
		t.Fatalf("final RunOnce failed: %v", err)
	}
	got := h.queue.get("n-1")
	if got.Status != model.StatusFailed {
		t.Fatalf("status = %s, want FAILED", got.Status)
	}
	if got.RetryCount != 2 {
		t.Fatalf("RetryCount = %d, want 2", got.RetryCount)
	}

	if n := len(h.events.ofType(model.EventAttempt)); n != 2 {
		t.Errorf("ATTEMPT events = %d, want 2", n)
	}
	if n := len(h.events.ofType(model.EventNotifyFailed)); n != 1 {
		t.Errorf("NOTIFICATION_FAILED events = %d, want 1", n)
	}
	if len(h.suppress.bounced) != 0 {
		t.Error("transient failure suppressed the recipient")
	}
}

func TestWorkerPermanentFailureSuppressesRecipient(t *testing.T) {
	h := newHarness(t, emailEntry("n-1"))
	h.email.Fail = &provider.SendError{Kind: provider.FailurePermanent, Code: "hard_bounce", Message: "mailbox does not exist"}

	if err := h.worker.RunOnce(context.Background(), time.Now().UTC()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	got := h.queue.get("n-1")
	if got.Status != model.StatusFailed {
		t.Fatalf("status = %s, want FAILED", got.Status)
	}
	if got.RetryCount != 0 {
		t.Errorf("permanent failure consumed a retry: %d", got.RetryCount)
	}
	if len(h.suppress.bounced) != 1 || h.suppress.bounced[0] != "owner@example.com" {
		t.Fatalf("recipient not suppressed: %v", h.suppress.bounced)
	}

	failed := h.events.ofType(model.EventEmailFailed)
	if len(failed) != 1 || failed[0].ErrorCode != "hard_bounce" {
		t.Fatalf("unexpected failure events: %+v", failed)
	}
}

func TestWorkerSuppressedRecipientIsPreempted(t *testing.T) {
	h := newHarness(t, emailEntry("n-1"))
	h.gate.suppressed["owner@example.com"] = true

	if err := h.worker.RunOnce(context.Background(), time.Now().UTC()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	got := h.queue.get("n-1")
	if got.Status != model.StatusFailed {
		t.Fatalf("status = %s, want FAILED", got.Status)
	}
	if got.RetryCount != 0 {
		t.Errorf("suppression consumed a retry: %d", got.RetryCount)
	}
	if len(h.email.Sent()) != 0 {
		t.Error("provider was called for a suppressed recipient")
	}

	failed := h.events.ofType(model.EventEmailFailed)
	if len(failed) != 1 || failed[0].ErrorCode != model.ErrorCodeSuppressed {
		t.Fatalf("unexpected failure events: %+v", failed)
	}
}

func TestWorkerReputationAlertDefersEmailOnly(t *testing.T) {
	email := emailEntry("n-email")
	sms := emailEntry("n-sms")
	sms.Channel = model.ChannelSMS
	sms.Recipient = "+15550001111"
	h := newHarness(t, email, sms)
	h.alerts.bounce = true

	now := time.Now().UTC()
	if err := h.worker.RunOnce(context.Background(), now); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	gotEmail := h.queue.get("n-email")
	if gotEmail.Status != model.StatusPending {
		t.Fatalf("email status = %s, want PENDING", gotEmail.Status)
	}
	if !gotEmail.ScheduledAt.After(now) {
		t.Error("deferred entry not pushed into the future")
	}
	if gotEmail.RetryCount != 0 {
		t.Errorf("deferral consumed a retry: %d", gotEmail.RetryCount)
	}
	if len(h.email.Sent()) != 0 {
		t.Error("email sent during reputation alert")
	}

	gotSMS := h.queue.get("n-sms")
	if gotSMS.Status != model.StatusSent {
		t.Fatalf("sms status = %s, want SENT", gotSMS.Status)
	}
}

func TestWorkerSkipsEntryClaimedElsewhere(t *testing.T) {
	e := emailEntry("n-1")
	h := newHarness(t, e)

	// another invocation claims the entry after this one read it
	stale := *e
	claimed, err := h.queue.Claim(context.Background(), "n-1", 0)
	if err != nil || !claimed {
		t.Fatalf("setup claim failed: claimed=%v err=%v", claimed, err)
	}

	h.worker.processEntry(context.Background(), &stale, time.Now().UTC(), false)

	if len(h.email.Sent()) != 0 {
		t.Error("entry processed despite losing the claim")
	}
	got := h.queue.get("n-1")
	if got.Status != model.StatusProcessing {
		t.Fatalf("status = %s, the winning claim should still own the entry", got.Status)
	}
}

func TestWorkerTerminalStatesAreFinal(t *testing.T) {
	e := emailEntry("n-1")
	e.Status = model.StatusSent
	h := newHarness(t, e)

	if err := h.worker.RunOnce(context.Background(), time.Now().UTC()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if len(h.email.Sent()) != 0 {
		t.Error("terminal entry was dispatched again")
	}
}
