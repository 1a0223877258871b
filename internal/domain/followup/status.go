// internal/domain/followup/status.go
package followup

import "strings"

// Policy is the follow-up cadence attached to a status.
// Corresponds to the 'follow_up_policies' table.
type Policy struct {
	ID            int64
	MaxAttempts   int
	IntervalDays  int // <= 0 means manual (problem-solving) mode
	AutoCloseDays int // 0 disables auto-closure
}

// IsManual reports whether follow-ups are unscheduled.
func (p Policy) IsManual() bool {
	return p.IntervalDays <= 0
}

// AutoCloseEnabled reports whether exhausted requests are closed automatically.
func (p Policy) AutoCloseEnabled() bool {
	return p.AutoCloseDays > 0
}

// Status is the lookup describing the current stage of a request.
type Status struct {
	ID               int64
	Name             string
	RequiresFollowUp bool
	Policy           *Policy // nil when no policy is linked
}

// IsClosed reports whether the status belongs to the closed family.
func (s *Status) IsClosed() bool {
	return s != nil && IsClosedStatus(s.Name)
}

var closedKeywords = []string{"closed", "completed", "resolved", "cancelled"}

// closureTargetKeywords select the status the sweep moves requests into.
var closureTargetKeywords = []string{"closed", "auto"}

// IsClosedStatus matches status names meaning resolution, case-insensitively.
// Name matching is kept in this one place so a category column can replace it.
func IsClosedStatus(name string) bool {
	if name == "" {
		return false
	}
	lower := strings.ToLower(name)
	for _, kw := range closedKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func likePatterns(keywords []string) []string {
	patterns := make([]string, len(keywords))
	for i, kw := range keywords {
		patterns[i] = "%" + kw + "%"
	}
	return patterns
}

// ClosedPatterns returns SQL LIKE patterns matching the closed family on lower-cased names.
func ClosedPatterns() []string {
	return likePatterns(closedKeywords)
}

// ClosureTargetPatterns returns SQL LIKE patterns for the auto-closure target status.
func ClosureTargetPatterns() []string {
	return likePatterns(closureTargetKeywords)
}

// IsClosureTarget reports whether a status can receive auto-closed requests. It must
// match the "closed"/"auto" naming convention and belong to the closed family, so a
// second sweep never picks the same request up again.
func IsClosureTarget(name string) bool {
	if !IsClosedStatus(name) {
		return false
	}
	lower := strings.ToLower(name)
	for _, kw := range closureTargetKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
