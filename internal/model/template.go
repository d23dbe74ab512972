package model

// NotificationTemplate holds channel-specific message content with
// {{placeholder}} variables. Variables lists the placeholders that must
// resolve for a render to succeed; anything else renders as empty.
type NotificationTemplate struct {
	ID               string
	Name             string
	EmailSubject     string
	EmailContentHTML string
	SMSContent       string
	Variables        []string
	IsActive         bool
	Version          int
}
