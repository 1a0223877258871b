// internal/domain/followup/log_entry.go
package followup

import (
	"database/sql"
	"time"
)

// LogEntry is one audit row of a follow-up action or status change.
// Corresponds to the 'follow_up_log' table. Exactly one entry per request is current.
type LogEntry struct {
	ID             int64
	RequestID      int64
	StatusID       int64
	ChangeReason   sql.NullString
	Comment        sql.NullString
	IsCurrent      bool
	FollowUpTypeID sql.NullInt64
	UpdatedAt      time.Time
	UpdatedBy      sql.NullInt64
}

// EntryFields are the editable fields of a log entry.
type EntryFields struct {
	StatusID       int64
	FollowUpTypeID sql.NullInt64
	ChangeReason   sql.NullString
	Comment        sql.NullString
}
