// internal/domain/followup/eligibility.go
package followup

import (
	"fmt"
	"time"
)

// Mode describes how follow-ups for a request are paced.
type Mode string

const (
	ModeNone           Mode = "None"
	ModeScheduled      Mode = "Scheduled"
	ModeProblemSolving Mode = "Problem Solving"
)

// Status texts shown on dashboards and lists.
const (
	TextNotRequired       = "No follow-up required"
	TextMaxReached        = "Max reached"
	TextProblemSolving    = "Problem-solving available"
	TextClosed            = "Closed"
	overdueTextFormat     = "Overdue (%d days)"
	dueInTextFormat       = "Due in %d days"
	manualHighAfterDays   = 7
	manualMediumAfterDays = 3
)

// Priority tiers, 4 being the most urgent.
const (
	PriorityLow    = 1
	PriorityMedium = 2
	PriorityHigh   = 3
	PriorityUrgent = 4
)

// Eligibility is the result of evaluating one request against its policy.
type Eligibility struct {
	RequiresFollowUp bool
	IsOverdue        bool
	MaxReached       bool
	NextDueDate      *time.Time // Only set in scheduled mode
	StatusText       string
	IsManualMode     bool
	Mode             Mode
	DaysSince        int // Whole days since the reference date
	DaysOverdue      int // Scheduled mode only, 0 when not overdue
	Priority         int
}

// CanFollowUp reports whether a follow-up action is currently allowed.
func (e Eligibility) CanFollowUp() bool {
	return e.RequiresFollowUp
}

// Evaluate computes follow-up eligibility for a request. It reads the status from
// req.Status and never returns an error: missing policy or a closed status are
// represented in the result.
func Evaluate(req *Request, policy *Policy, now time.Time) Eligibility {
	notRequired := Eligibility{StatusText: TextNotRequired, Mode: ModeNone, Priority: PriorityLow}
	if req == nil || policy == nil || req.Status == nil || !req.Status.RequiresFollowUp {
		return notRequired
	}

	res := Eligibility{
		MaxReached:   req.FollowUpCount >= policy.MaxAttempts,
		IsManualMode: policy.IsManual(),
	}
	reference := req.ReferenceDate()
	res.DaysSince = DaysBetween(reference, now)

	if res.IsManualMode {
		res.Mode = ModeProblemSolving
		if res.MaxReached {
			res.StatusText = TextMaxReached
		} else {
			res.StatusText = TextProblemSolving
		}
	} else {
		res.Mode = ModeScheduled
		next := reference.AddDate(0, 0, policy.IntervalDays)
		res.NextDueDate = &next
		elapsed := res.DaysSince >= policy.IntervalDays
		res.IsOverdue = elapsed && !res.MaxReached
		switch {
		case res.MaxReached:
			res.StatusText = TextMaxReached
		case res.IsOverdue:
			res.DaysOverdue = res.DaysSince - policy.IntervalDays + 1
			res.StatusText = fmt.Sprintf(overdueTextFormat, res.DaysOverdue)
		default:
			res.StatusText = fmt.Sprintf(dueInTextFormat, policy.IntervalDays-res.DaysSince)
		}
	}

	res.RequiresFollowUp = !res.MaxReached
	res.Priority = PriorityTier(policy, res.DaysSince)

	if req.Status.IsClosed() {
		res.RequiresFollowUp = false
		res.IsOverdue = false
		res.DaysOverdue = 0
		res.StatusText = TextClosed
	}
	return res
}

// PriorityTier buckets urgency into tiers 1..4. Scheduled requests rank by days past
// the interval; manual requests by days since the reference date and top out at High.
func PriorityTier(policy *Policy, daysSince int) int {
	if policy == nil {
		return PriorityLow
	}
	if !policy.IsManual() {
		overdue := daysSince - policy.IntervalDays
		switch {
		case overdue > 5:
			return PriorityUrgent
		case overdue > 2:
			return PriorityHigh
		case overdue >= 0:
			return PriorityMedium
		default:
			return PriorityLow
		}
	}
	switch {
	case daysSince > manualHighAfterDays:
		return PriorityHigh
	case daysSince > manualMediumAfterDays:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// PriorityLabel names a priority tier.
func PriorityLabel(tier int) string {
	switch {
	case tier >= PriorityUrgent:
		return "urgent"
	case tier == PriorityHigh:
		return "high"
	case tier == PriorityMedium:
		return "medium"
	default:
		return "low"
	}
}

// DaysBetween counts calendar days from `from` to `to`, ignoring time of day.
// Dates are taken in to's location.
func DaysBetween(from, to time.Time) int {
	fy, fm, fd := from.In(to.Location()).Date()
	ty, tm, td := to.Date()
	a := time.Date(fy, fm, fd, 0, 0, 0, 0, time.UTC)
	b := time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}

// DueForAutoClose reports whether an exhausted request has waited out its policy's
// auto-close window. The request must not be closed already.
func DueForAutoClose(req *Request, policy *Policy, now time.Time) bool {
	if req == nil || policy == nil || req.Status == nil {
		return false
	}
	if !req.Status.RequiresFollowUp || !policy.AutoCloseEnabled() || req.Status.IsClosed() {
		return false
	}
	if req.FollowUpCount < policy.MaxAttempts || !req.LastFollowUpDate.Valid {
		return false
	}
	return DaysBetween(req.LastFollowUpDate.Time, now) >= policy.AutoCloseDays
}

// NearAutoClose reports whether an exhausted request will be auto-closed within two days.
func NearAutoClose(req *Request, policy *Policy, now time.Time) bool {
	if req == nil || policy == nil || req.Status == nil {
		return false
	}
	if !req.Status.RequiresFollowUp || !policy.AutoCloseEnabled() || req.Status.IsClosed() {
		return false
	}
	if req.FollowUpCount < policy.MaxAttempts || !req.LastFollowUpDate.Valid {
		return false
	}
	days := DaysBetween(req.LastFollowUpDate.Time, now)
	return days >= policy.AutoCloseDays-2 && days < policy.AutoCloseDays
}
