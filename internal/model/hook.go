package model

import "encoding/json"

type Channel string

const (
	ChannelEmail Channel = "EMAIL"
	ChannelSMS   Channel = "SMS"
)

// NotificationHook maps a signal type to a template, a channel and a
// recipient set. Administrators own these rows; the engine reads them at
// resolve time and snapshots the policy fields into each queue entry.
type NotificationHook struct {
	ID                  string
	SignalType          string
	TemplateID          string
	Channel             Channel
	Enabled             bool
	Priority            int
	RecipientEmails     []string
	RecipientRoles      []string
	RecipientDynamic    []string // payload paths, e.g. "customer.email"
	Conditions          json.RawMessage
	DeliveryDelaySeconds int
	MaxRetries          int
}
