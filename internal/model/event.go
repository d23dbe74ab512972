package model

import "time"

type EventType string

const (
	EventQueued         EventType = "QUEUED"
	EventProcessing     EventType = "PROCESSING"
	EventAttempt        EventType = "ATTEMPT"
	EventEmailSuccess   EventType = "EMAIL_SUCCESS"
	EventSMSSuccess     EventType = "SMS_SUCCESS"
	EventEmailFailed    EventType = "EMAIL_FAILED"
	EventSMSFailed      EventType = "SMS_FAILED"
	EventNotifyFailed   EventType = "NOTIFICATION_FAILED"
	EventCompleted      EventType = "COMPLETED"
	EventEmailBounce    EventType = "EMAIL_BOUNCE"
	EventEmailComplaint EventType = "EMAIL_COMPLAINT"
)

// SuccessEventType returns the channel-qualified success event type.
func SuccessEventType(ch Channel) EventType {
	if ch == ChannelSMS {
		return EventSMSSuccess
	}
	return EventEmailSuccess
}

// FailedEventType returns the channel-qualified failure event type.
func FailedEventType(ch Channel) EventType {
	if ch == ChannelSMS {
		return EventSMSFailed
	}
	return EventEmailFailed
}

// ErrorCodeSuppressed marks a non-send caused by the suppression list. It is
// a policy decision, not a delivery failure.
const ErrorCodeSuppressed = "SUPPRESSED"

// NotificationEvent is one append-only audit record. A queue entry produces
// many of these over its lifetime; the log is the only audit source.
type NotificationEvent struct {
	EventID          string
	NotificationID   string
	EventType        EventType
	Channel          Channel
	Recipient        string
	Provider         string
	ProviderID       string
	ProviderStatus   string
	ErrorCode        string
	Timestamp        time.Time
	ProcessingTimeMs int64
	TTL              int64
}
