package model

// Contact is a row in the externally owned contacts store, consulted when a
// hook routes by role.
type Contact struct {
	ID    string
	Name  string
	Email string
	Phone string
	Role  string
}
