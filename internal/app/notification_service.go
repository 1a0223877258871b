// internal/app/notification_service.go
package app

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"callcenter_crm/internal/domain/followup"
	domainTelegram "callcenter_crm/internal/domain/telegram"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

// Follow-up type filter values accepted by ListDue.
const (
	TypeFilterScheduled      = "scheduled"
	TypeFilterProblemSolving = "problem_solving"
	TypeFilterOverdue        = "overdue"
)

// Sort keys accepted by ListDue.
const (
	SortByPriority     = "priority"
	SortByName         = "name"
	SortByLastFollowUp = "lastfollowup"
	SortByFollowUps    = "followups"
)

// DueFilters narrows and orders the due list. Zero values mean "no filter".
type DueFilters struct {
	FollowUpType string // scheduled, problem_solving, overdue
	StatusName   string
	Priority     string // urgent, high, medium, low
	Search       string // matched against name, email and phone
	SortBy       string
	SortOrder    string // asc or desc
}

// NotificationItem is one request currently due for follow-up.
type NotificationItem struct {
	RequestID        int64
	PersonID         int64
	FullName         string
	Email            string
	Phone            string
	StatusID         int64
	StatusName       string
	FollowUpCount    int
	LastFollowUpDate *time.Time
	CreatedAt        time.Time
	Eligibility      followup.Eligibility
}

// Summary holds dashboard counters.
type Summary struct {
	Due           int
	Overdue       int // Scheduled requests past their interval
	NearAutoClose int // Exhausted requests within two days of auto-closure
	ByPriority    map[string]int
}

// NotificationService answers which requests need follow-up and tells staff about them.
type NotificationService struct {
	repo              followup.Repository
	messenger         domainTelegram.Messenger // nil disables digests
	logger            *logrus.Entry
	managerTelegramID int64
}

func NewNotificationService(
	repo followup.Repository,
	messenger domainTelegram.Messenger,
	logger *logrus.Entry,
	managerID int64,
) *NotificationService {
	return &NotificationService{
		repo:              repo,
		messenger:         messenger,
		logger:            logger,
		managerTelegramID: managerID,
	}
}

type evaluated struct {
	req    *followup.Request
	policy *followup.Policy
	res    followup.Eligibility
}

func (s *NotificationService) evaluateTracked(ctx context.Context, now time.Time) ([]evaluated, error) {
	requests, err := s.repo.ListTrackedRequests(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tracked requests: %w", err)
	}
	out := make([]evaluated, 0, len(requests))
	for _, req := range requests {
		policy := policyFor(req.Status)
		if policy == nil {
			continue
		}
		out = append(out, evaluated{req: req, policy: policy, res: followup.Evaluate(req, policy, now)})
	}
	return out, nil
}

// isDue: manual requests are due until exhausted, scheduled ones once the interval elapsed.
func isDue(e evaluated) bool {
	if !e.res.RequiresFollowUp {
		return false
	}
	return e.res.IsManualMode || e.res.IsOverdue
}

func matchesType(e evaluated, followUpType string) bool {
	switch followUpType {
	case TypeFilterScheduled:
		return !e.policy.IsManual()
	case TypeFilterProblemSolving:
		return e.policy.IsManual()
	case TypeFilterOverdue:
		return !e.policy.IsManual() && e.res.DaysSince >= e.policy.IntervalDays
	default:
		return true
	}
}

func newNotificationItem(e evaluated) NotificationItem {
	item := NotificationItem{
		RequestID:     e.req.ID,
		PersonID:      e.req.PersonID,
		FollowUpCount: e.req.FollowUpCount,
		CreatedAt:     e.req.CreatedAt,
		Eligibility:   e.res,
	}
	if e.req.Person != nil {
		item.FullName = e.req.Person.FullName()
		item.Email = e.req.Person.Email.String
		item.Phone = e.req.Person.Phone.String
	}
	if e.req.Status != nil {
		item.StatusID = e.req.Status.ID
		item.StatusName = e.req.Status.Name
	}
	if e.req.LastFollowUpDate.Valid {
		last := e.req.LastFollowUpDate.Time
		item.LastFollowUpDate = &last
	}
	return item
}

func (f DueFilters) keep(item NotificationItem) bool {
	if f.StatusName != "" && item.StatusName != f.StatusName {
		return false
	}
	if f.Priority != "" && followup.PriorityLabel(item.Eligibility.Priority) != strings.ToLower(f.Priority) {
		return false
	}
	if f.Search != "" {
		term := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(item.FullName), term) &&
			!strings.Contains(strings.ToLower(item.Email), term) &&
			!strings.Contains(strings.ToLower(item.Phone), term) {
			return false
		}
	}
	return true
}

func lastFollowUpOrZero(item NotificationItem) time.Time {
	if item.LastFollowUpDate == nil {
		return time.Time{}
	}
	return *item.LastFollowUpDate
}

func sortItems(items []NotificationItem, sortBy, sortOrder string) {
	asc := strings.ToLower(sortOrder) == "asc"
	var less func(a, b NotificationItem) bool
	switch strings.ToLower(sortBy) {
	case SortByPriority:
		less = func(a, b NotificationItem) bool { return a.Eligibility.Priority < b.Eligibility.Priority }
	case SortByName:
		less = func(a, b NotificationItem) bool { return a.FullName < b.FullName }
	case SortByLastFollowUp:
		less = func(a, b NotificationItem) bool { return lastFollowUpOrZero(a).Before(lastFollowUpOrZero(b)) }
	case SortByFollowUps:
		less = func(a, b NotificationItem) bool { return a.FollowUpCount < b.FollowUpCount }
	default:
		// Most urgent first, newest request breaking ties.
		sort.SliceStable(items, func(i, j int) bool {
			if items[i].Eligibility.Priority != items[j].Eligibility.Priority {
				return items[i].Eligibility.Priority > items[j].Eligibility.Priority
			}
			return items[i].CreatedAt.After(items[j].CreatedAt)
		})
		return
	}
	sort.SliceStable(items, func(i, j int) bool {
		if asc {
			return less(items[i], items[j])
		}
		return less(items[j], items[i])
	})
}

// ListDue returns the requests due for follow-up at now, filtered and sorted.
func (s *NotificationService) ListDue(ctx context.Context, filters DueFilters, now time.Time) ([]NotificationItem, error) {
	all, err := s.evaluateTracked(ctx, now)
	if err != nil {
		return nil, err
	}

	items := make([]NotificationItem, 0)
	for _, e := range all {
		if !isDue(e) || !matchesType(e, filters.FollowUpType) {
			continue
		}
		item := newNotificationItem(e)
		if !filters.keep(item) {
			continue
		}
		items = append(items, item)
	}
	sortItems(items, filters.SortBy, filters.SortOrder)
	return items, nil
}

// Summary computes dashboard counters at now.
func (s *NotificationService) Summary(ctx context.Context, now time.Time) (*Summary, error) {
	all, err := s.evaluateTracked(ctx, now)
	if err != nil {
		return nil, err
	}
	sum := &Summary{ByPriority: map[string]int{}}
	for _, e := range all {
		if e.res.IsOverdue {
			sum.Overdue++
		}
		if followup.NearAutoClose(e.req, e.policy, now) {
			sum.NearAutoClose++
		}
		if isDue(e) {
			sum.Due++
			sum.ByPriority[followup.PriorityLabel(e.res.Priority)]++
		}
	}
	return sum, nil
}

// FormatDigest renders the summary and the first items of the due list as a chat message.
func FormatDigest(sum *Summary, items []NotificationItem, limit int, now time.Time) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Follow-up digest for %s\n", now.Format("2006-01-02")))
	b.WriteString(fmt.Sprintf("Due: %d, overdue: %d, near auto-closure: %d\n", sum.Due, sum.Overdue, sum.NearAutoClose))
	if len(items) == 0 {
		b.WriteString("No requests need follow-up at this time.")
		return b.String()
	}
	b.WriteString("\n")
	for i, item := range items {
		if i >= limit {
			b.WriteString(fmt.Sprintf("...and %d more\n", len(items)-limit))
			break
		}
		b.WriteString(fmt.Sprintf("#%d %s [%s] %s, %s\n",
			item.RequestID, item.FullName, item.StatusName,
			item.Eligibility.StatusText, followup.PriorityLabel(item.Eligibility.Priority)))
	}
	return b.String()
}

// SendDueDigest sends the manager a digest of what is due at now.
func (s *NotificationService) SendDueDigest(ctx context.Context, now time.Time, limit int) error {
	if s.messenger == nil || s.managerTelegramID == 0 {
		s.logger.Warn("Manager chat not configured. Skipping due digest.")
		return nil
	}

	sum, err := s.Summary(ctx, now)
	if err != nil {
		return err
	}
	items, err := s.ListDue(ctx, DueFilters{}, now)
	if err != nil {
		return err
	}

	text := FormatDigest(sum, items, limit, now)
	if err := s.messenger.SendMessage(s.managerTelegramID, text, &telebot.SendOptions{DisableWebPagePreview: true}); err != nil {
		s.logger.WithError(err).WithField("manager_id", s.managerTelegramID).Error("Failed to send due digest")
		return fmt.Errorf("failed to send due digest: %w", err)
	}
	s.logger.WithFields(logrus.Fields{"manager_id": s.managerTelegramID, "due": sum.Due}).Info("Due digest sent")
	return nil
}
