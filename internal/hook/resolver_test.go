package hook

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"go.uber.org/zap"

	"renonotify/internal/model"
)

type fakeHookStore struct {
	hooks []*model.NotificationHook
	err   error
}

func (f *fakeHookStore) GetEnabledBySignalType(_ context.Context, _ string) ([]*model.NotificationHook, error) {
	return f.hooks, f.err
}

type fakeTemplateStore struct {
	templates map[string]*model.NotificationTemplate
}

func (f *fakeTemplateStore) GetByID(_ context.Context, id string) (*model.NotificationTemplate, error) {
	t, ok := f.templates[id]
	if !ok {
		return nil, fmt.Errorf("template %s not found", id)
	}
	return t, nil
}

type fakeContactStore struct {
	contacts []*model.Contact
}

func (f *fakeContactStore) GetByRoles(_ context.Context, _ []string) ([]*model.Contact, error) {
	return f.contacts, nil
}

type fakeSignalStore struct {
	event     *model.SignalEvent
	processed []string
}

func (f *fakeSignalStore) GetByID(_ context.Context, id string) (*model.SignalEvent, error) {
	if f.event == nil || f.event.ID != id {
		return nil, fmt.Errorf("signal event %s not found", id)
	}
	return f.event, nil
}

func (f *fakeSignalStore) MarkProcessed(_ context.Context, id string) error {
	f.processed = append(f.processed, id)
	return nil
}

type fakeQueueStore struct {
	inserted []*model.NotificationQueueEntry
	keys     map[string]struct{}
}

func (f *fakeQueueStore) Insert(_ context.Context, e *model.NotificationQueueEntry) (bool, error) {
	if f.keys == nil {
		f.keys = make(map[string]struct{})
	}
	key := e.SignalEventID + "|" + e.HookID + "|" + e.Recipient + "|" + string(e.Channel)
	if _, dup := f.keys[key]; dup {
		return false, nil
	}
	f.keys[key] = struct{}{}
	f.inserted = append(f.inserted, e)
	return true, nil
}

type fakeEventStore struct {
	events []*model.NotificationEvent
}

func (f *fakeEventStore) Insert(_ context.Context, ev *model.NotificationEvent) error {
	f.events = append(f.events, ev)
	return nil
}

func activeTemplate(id string) *model.NotificationTemplate {
	return &model.NotificationTemplate{
		ID:               id,
		Name:             "test",
		EmailSubject:     "Subject",
		EmailContentHTML: "<p>Body</p>",
		SMSContent:       "Body",
		IsActive:         true,
		Version:          1,
	}
}

func newTestResolver(hooks *fakeHookStore, templates *fakeTemplateStore, contacts *fakeContactStore, signals *fakeSignalStore, queue *fakeQueueStore, events *fakeEventStore) *Resolver {
	return NewResolver(hooks, templates, contacts, signals, queue, events, nil, zap.NewNop())
}

func TestResolveHooks(t *testing.T) {
	ev := &model.SignalEvent{
		ID:         "sig-1",
		SignalType: "request_created",
		Payload:    json.RawMessage(`{"status":"new","customer":{"email":"owner@example.com"}}`),
	}

	t.Run("static recipients with matching condition", func(t *testing.T) {
		hooks := &fakeHookStore{hooks: []*model.NotificationHook{{
			ID:              "hook-1",
			SignalType:      "request_created",
			TemplateID:      "tpl-1",
			Channel:         model.ChannelEmail,
			Enabled:         true,
			RecipientEmails: []string{"admin@example.com"},
			Conditions:      json.RawMessage(`{"op":"eq","field":"status","value":"new"}`),
			MaxRetries:      3,
		}}}
		templates := &fakeTemplateStore{templates: map[string]*model.NotificationTemplate{"tpl-1": activeTemplate("tpl-1")}}
		r := newTestResolver(hooks, templates, &fakeContactStore{}, &fakeSignalStore{}, &fakeQueueStore{}, &fakeEventStore{})

		dispatches, err := r.ResolveHooks(context.Background(), ev)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(dispatches) != 1 {
			t.Fatalf("expected 1 dispatch, got %d", len(dispatches))
		}
		if got := dispatches[0].Recipients; len(got) != 1 || got[0] != "admin@example.com" {
			t.Fatalf("unexpected recipients %v", got)
		}
	})

	t.Run("condition mismatch skips hook", func(t *testing.T) {
		hooks := &fakeHookStore{hooks: []*model.NotificationHook{{
			ID:              "hook-1",
			TemplateID:      "tpl-1",
			Channel:         model.ChannelEmail,
			RecipientEmails: []string{"admin@example.com"},
			Conditions:      json.RawMessage(`{"op":"eq","field":"status","value":"converted"}`),
		}}}
		templates := &fakeTemplateStore{templates: map[string]*model.NotificationTemplate{"tpl-1": activeTemplate("tpl-1")}}
		r := newTestResolver(hooks, templates, &fakeContactStore{}, &fakeSignalStore{}, &fakeQueueStore{}, &fakeEventStore{})

		dispatches, err := r.ResolveHooks(context.Background(), ev)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(dispatches) != 0 {
			t.Fatalf("expected no dispatches, got %d", len(dispatches))
		}
	})

	t.Run("malformed condition treated as not matched", func(t *testing.T) {
		hooks := &fakeHookStore{hooks: []*model.NotificationHook{{
			ID:              "hook-1",
			TemplateID:      "tpl-1",
			Channel:         model.ChannelEmail,
			RecipientEmails: []string{"admin@example.com"},
			Conditions:      json.RawMessage(`{"field":"status"}`),
		}}}
		templates := &fakeTemplateStore{templates: map[string]*model.NotificationTemplate{"tpl-1": activeTemplate("tpl-1")}}
		r := newTestResolver(hooks, templates, &fakeContactStore{}, &fakeSignalStore{}, &fakeQueueStore{}, &fakeEventStore{})

		dispatches, err := r.ResolveHooks(context.Background(), ev)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(dispatches) != 0 {
			t.Fatalf("expected no dispatches, got %d", len(dispatches))
		}
	})

	t.Run("inactive template skips hook", func(t *testing.T) {
		inactive := activeTemplate("tpl-1")
		inactive.IsActive = false
		hooks := &fakeHookStore{hooks: []*model.NotificationHook{{
			ID:              "hook-1",
			TemplateID:      "tpl-1",
			Channel:         model.ChannelEmail,
			RecipientEmails: []string{"admin@example.com"},
		}}}
		templates := &fakeTemplateStore{templates: map[string]*model.NotificationTemplate{"tpl-1": inactive}}
		r := newTestResolver(hooks, templates, &fakeContactStore{}, &fakeSignalStore{}, &fakeQueueStore{}, &fakeEventStore{})

		dispatches, err := r.ResolveHooks(context.Background(), ev)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(dispatches) != 0 {
			t.Fatalf("expected no dispatches, got %d", len(dispatches))
		}
	})

	t.Run("roles and dynamic paths deduplicated", func(t *testing.T) {
		hooks := &fakeHookStore{hooks: []*model.NotificationHook{{
			ID:               "hook-1",
			TemplateID:       "tpl-1",
			Channel:          model.ChannelEmail,
			RecipientEmails:  []string{"owner@example.com"},
			RecipientRoles:   []string{"admin"},
			RecipientDynamic: []string{"customer.email"},
		}}}
		templates := &fakeTemplateStore{templates: map[string]*model.NotificationTemplate{"tpl-1": activeTemplate("tpl-1")}}
		contacts := &fakeContactStore{contacts: []*model.Contact{
			{ID: "c-1", Email: "admin@example.com", Phone: "+15550001111", Role: "admin"},
		}}
		r := newTestResolver(hooks, templates, contacts, &fakeSignalStore{}, &fakeQueueStore{}, &fakeEventStore{})

		dispatches, err := r.ResolveHooks(context.Background(), ev)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(dispatches) != 1 {
			t.Fatalf("expected 1 dispatch, got %d", len(dispatches))
		}
		got := dispatches[0].Recipients
		// owner appears both statically and via the dynamic path
		want := []string{"owner@example.com", "admin@example.com"}
		if len(got) != len(want) {
			t.Fatalf("recipients = %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("recipients = %v, want %v", got, want)
			}
		}
	})

	t.Run("sms uses contact phone", func(t *testing.T) {
		hooks := &fakeHookStore{hooks: []*model.NotificationHook{{
			ID:             "hook-1",
			TemplateID:     "tpl-1",
			Channel:        model.ChannelSMS,
			RecipientRoles: []string{"admin"},
		}}}
		templates := &fakeTemplateStore{templates: map[string]*model.NotificationTemplate{"tpl-1": activeTemplate("tpl-1")}}
		contacts := &fakeContactStore{contacts: []*model.Contact{
			{ID: "c-1", Email: "admin@example.com", Phone: "+15550001111", Role: "admin"},
		}}
		r := newTestResolver(hooks, templates, contacts, &fakeSignalStore{}, &fakeQueueStore{}, &fakeEventStore{})

		dispatches, err := r.ResolveHooks(context.Background(), ev)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(dispatches) != 1 || dispatches[0].Recipients[0] != "+15550001111" {
			t.Fatalf("unexpected dispatches %+v", dispatches)
		}
	})
}

func TestHandleSignalEmitted(t *testing.T) {
	ev := &model.SignalEvent{
		ID:         "sig-1",
		SignalType: "request_created",
		Payload:    json.RawMessage(`{"status":"new"}`),
	}
	newStores := func() (*fakeSignalStore, *fakeQueueStore, *fakeEventStore, *Resolver) {
		hooks := &fakeHookStore{hooks: []*model.NotificationHook{{
			ID:              "hook-1",
			TemplateID:      "tpl-1",
			Channel:         model.ChannelEmail,
			RecipientEmails: []string{"a@example.com", "b@example.com"},
			MaxRetries:      3,
		}}}
		templates := &fakeTemplateStore{templates: map[string]*model.NotificationTemplate{"tpl-1": activeTemplate("tpl-1")}}
		signals := &fakeSignalStore{event: ev}
		queue := &fakeQueueStore{}
		events := &fakeEventStore{}
		r := newTestResolver(hooks, templates, &fakeContactStore{}, signals, queue, events)
		return signals, queue, events, r
	}

	t.Run("enqueues one entry per recipient", func(t *testing.T) {
		signals, queue, events, r := newStores()
		raw := json.RawMessage(`{"signal_event_id":"sig-1","signal_type":"request_created"}`)

		if err := r.HandleSignalEmitted(context.Background(), raw); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(queue.inserted) != 2 {
			t.Fatalf("expected 2 entries, got %d", len(queue.inserted))
		}
		if len(events.events) != 2 {
			t.Fatalf("expected 2 QUEUED events, got %d", len(events.events))
		}
		for _, e := range events.events {
			if e.EventType != model.EventQueued {
				t.Fatalf("unexpected event type %s", e.EventType)
			}
		}
		if len(signals.processed) != 1 || signals.processed[0] != "sig-1" {
			t.Fatalf("signal not marked processed: %v", signals.processed)
		}
	})

	t.Run("redelivery enqueues nothing new", func(t *testing.T) {
		_, queue, events, r := newStores()
		raw := json.RawMessage(`{"signal_event_id":"sig-1","signal_type":"request_created"}`)

		if err := r.HandleSignalEmitted(context.Background(), raw); err != nil {
			t.Fatalf("first delivery failed: %v", err)
		}
		if err := r.HandleSignalEmitted(context.Background(), raw); err != nil {
			t.Fatalf("redelivery failed: %v", err)
		}
		if len(queue.inserted) != 2 {
			t.Fatalf("expected 2 entries after redelivery, got %d", len(queue.inserted))
		}
		if len(events.events) != 2 {
			t.Fatalf("expected 2 events after redelivery, got %d", len(events.events))
		}
	})

	t.Run("malformed payload is dropped", func(t *testing.T) {
		_, queue, _, r := newStores()
		if err := r.HandleSignalEmitted(context.Background(), json.RawMessage(`not json`)); err != nil {
			t.Fatalf("expected nil for malformed payload, got %v", err)
		}
		if len(queue.inserted) != 0 {
			t.Fatalf("expected no entries, got %d", len(queue.inserted))
		}
	})
}
