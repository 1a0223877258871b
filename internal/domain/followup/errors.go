// internal/domain/followup/errors.go
package followup

import "fmt"

// Error kinds reported by follow-up operations. Wrap with %w and match with errors.Is.
var (
	ErrNotFound      = fmt.Errorf("not found")
	ErrNoStatus      = fmt.Errorf("request has no status assigned")
	ErrNotRequired   = fmt.Errorf("status does not require follow-up")
	ErrNoPolicy      = fmt.Errorf("no follow-up policy configured for status")
	ErrLimitReached  = fmt.Errorf("maximum follow-ups already reached")
	ErrAlreadyClosed = fmt.Errorf("request is closed")
	ErrNotMostRecent = fmt.Errorf("only the most recent follow-up entry can be edited")
	ErrConfiguration = fmt.Errorf("follow-up configuration error")
)
