package model

import "time"

type QueueStatus string

const (
	StatusPending  QueueStatus = "PENDING"
	StatusRetrying QueueStatus = "RETRYING"
	StatusSent     QueueStatus = "SENT"
	StatusFailed   QueueStatus = "FAILED"

	// StatusProcessing only exists inside one worker invocation: it is set
	// by the optimistic claim and always resolved to another status (or
	// released back to PENDING) before the invocation returns.
	StatusProcessing QueueStatus = "PROCESSING"
)

// IsTerminal reports whether no further transition is allowed.
func (s QueueStatus) IsTerminal() bool {
	return s == StatusSent || s == StatusFailed
}

// ChannelContent is pre-rendered content for one channel, used by the
// direct-content dispatch path.
type ChannelContent struct {
	Subject  string `json:"subject,omitempty"`
	BodyHTML string `json:"body_html,omitempty"`
	Text     string `json:"text,omitempty"`
}

// NotificationQueueEntry is the core mutable entity of the engine. Exactly
// one entry exists per (signal event, hook, recipient, channel); the
// repository enforces that with a unique key. Version backs the optimistic
// claim in the dispatcher.
//
// Channels carries direct content keyed by channel; when the entry's channel
// has an entry there the template path is skipped. TemplateID-based dispatch
// is the compatibility path for hooks configured before direct content
// existed.
type NotificationQueueEntry struct {
	ID            string
	SignalEventID string
	HookID        string
	TemplateID    string
	Channels      map[Channel]ChannelContent
	Channel       Channel
	Recipient     string
	ScheduledAt   time.Time
	Status        QueueStatus
	Priority      int
	RetryCount    int
	MaxRetries    int
	ErrorMessage  string
	SentAt        *time.Time
	Version       int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
