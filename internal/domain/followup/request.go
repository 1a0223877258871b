// internal/domain/followup/request.go
package followup

import (
	"database/sql"
	"time"
)

// Person is the prospective student an inquiry belongs to.
type Person struct {
	ID        int64
	FirstName string
	LastName  sql.NullString
	Email     sql.NullString
	Phone     sql.NullString
}

// FullName joins first and last name, skipping an empty last name.
func (p Person) FullName() string {
	if p.LastName.Valid && p.LastName.String != "" {
		return p.FirstName + " " + p.LastName.String
	}
	return p.FirstName
}

// Request is a single inquiry tied to one Person.
// Corresponds to the 'requests' table.
type Request struct {
	ID               int64
	PersonID         int64
	StatusID         sql.NullInt64 // Nullable: a request may not have a status yet
	ReasonID         sql.NullInt64
	FollowUpCount    int          // Never decreases
	LastFollowUpDate sql.NullTime // Set by every successful follow-up
	Comments         string
	Description      string
	CreatedAt        time.Time
	CreatedBy        int64
	UpdatedAt        sql.NullTime
	UpdatedBy        sql.NullInt64 // NULL when the system changed the row

	// Loaded alongside the row by repository reads.
	Status *Status
	Person *Person
}

// ReferenceDate is the date follow-up intervals are measured from.
func (r *Request) ReferenceDate() time.Time {
	if r.LastFollowUpDate.Valid {
		return r.LastFollowUpDate.Time
	}
	return r.CreatedAt
}

// AppendComment adds an audit line to the free-text comments.
func (r *Request) AppendComment(line string) {
	if r.Comments == "" {
		r.Comments = line
		return
	}
	r.Comments = r.Comments + "\n\n" + line
}
