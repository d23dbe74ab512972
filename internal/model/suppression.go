package model

import "time"

type SuppressionType string

const (
	SuppressionBounce    SuppressionType = "BOUNCE"
	SuppressionComplaint SuppressionType = "COMPLAINT"
	SuppressionManual    SuppressionType = "MANUAL"
)

type BounceType string

const (
	BouncePermanent BounceType = "PERMANENT"
	BounceTransient BounceType = "TRANSIENT"
)

// Suppression is one entry in the email suppression list. Permanent bounces
// and complaints stay active until manually cleared; transient bounces may
// be expired by external policy.
type Suppression struct {
	EmailAddress    string
	SuppressionType SuppressionType
	BounceType      BounceType
	IsActive        bool
	SuppressedAt    time.Time
	Source          string
}
