package model

import "time"

type RequestStatus string

const (
	RequestNew       RequestStatus = "new"
	RequestQuoting   RequestStatus = "quoting"
	RequestConverted RequestStatus = "converted"
	RequestExpired   RequestStatus = "expired"
	RequestArchived  RequestStatus = "archived"
)

// IsTerminal reports whether the lifecycle processor should skip this status.
func (s RequestStatus) IsTerminal() bool {
	return s == RequestConverted || s == RequestExpired || s == RequestArchived
}

// Request is the business record aged out by the lifecycle processor. The
// processor is the only writer of time-driven status transitions; admin and
// form writers are external.
type Request struct {
	ID              string
	Status          RequestStatus
	OwnerEmail      string
	FollowUpDate    *time.Time
	LastContactDate *time.Time
	ExpiredDate     *time.Time
	ArchivedDate    *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
