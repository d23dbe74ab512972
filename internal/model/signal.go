package model

import (
	"encoding/json"
	"time"
)

// SignalEvent is one recorded business event. Immutable after creation
// except for the Processed flag.
type SignalEvent struct {
	ID         string
	SignalType string
	Payload    json.RawMessage
	EmittedAt  time.Time
	EmittedBy  string
	Source     string
	Processed  bool
}
