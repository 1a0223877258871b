package telegram

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"callcenter_crm/internal/app"
	"callcenter_crm/internal/domain/followup"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

const dueListLimit = 10

// btnFollowUp is the inline button attached to /due items. Its data is the request id.
var btnFollowUp = telebot.Btn{Unique: "followup"}

// FollowUpProcessor records follow-up attempts.
type FollowUpProcessor interface {
	ProcessFollowUp(ctx context.Context, requestID, actorID int64, now time.Time) error
	ProcessBulk(ctx context.Context, requestIDs []int64, actorID int64, now time.Time) map[int64]bool
}

// DueQuery answers which requests are due.
type DueQuery interface {
	ListDue(ctx context.Context, filters app.DueFilters, now time.Time) ([]app.NotificationItem, error)
	Summary(ctx context.Context, now time.Time) (*app.Summary, error)
}

// followUpErrorText turns a follow-up failure into a message for staff.
func followUpErrorText(requestID int64, err error) string {
	switch {
	case errors.Is(err, followup.ErrNotFound):
		return fmt.Sprintf("Request %d was not found.", requestID)
	case errors.Is(err, followup.ErrNoStatus):
		return fmt.Sprintf("Request %d has no status assigned.", requestID)
	case errors.Is(err, followup.ErrNotRequired):
		return fmt.Sprintf("Request %d does not require follow-up in its current status.", requestID)
	case errors.Is(err, followup.ErrNoPolicy):
		return fmt.Sprintf("No follow-up policy is configured for the status of request %d.", requestID)
	case errors.Is(err, followup.ErrLimitReached):
		return fmt.Sprintf("Request %d already used all of its follow-ups.", requestID)
	case errors.Is(err, followup.ErrAlreadyClosed):
		return fmt.Sprintf("Request %d is closed.", requestID)
	default:
		return fmt.Sprintf("Could not record the follow-up for request %d. Please try again later.", requestID)
	}
}

func parseRequestIDs(args []string) ([]int64, error) {
	var ids []int64
	for _, arg := range args {
		for _, part := range strings.Split(arg, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil || id <= 0 {
				return nil, fmt.Errorf("invalid request id %q", part)
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// RegisterStaffHandlers registers the follow-up commands available to registered staff.
func RegisterStaffHandlers(
	ctx context.Context,
	b Router,
	followUps FollowUpProcessor,
	due DueQuery,
	staff *app.StaffDirectory,
	now func() time.Time,
	baseLogger *logrus.Entry,
) {
	// authorize resolves the CRM actor for the sender, replying when there is none.
	authorize := func(c telebot.Context, handlerLogger *logrus.Entry) (int64, bool) {
		actorID, err := staff.ActorFor(c.Sender().ID)
		if err != nil {
			handlerLogger.Warn("Unauthorized access attempt")
			return 0, false
		}
		return actorID, true
	}
	const unauthorizedText = "Error: you are not allowed to run this command."

	b.Handle("/due", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/due",
			"sender_id": c.Sender().ID,
		})
		if _, ok := authorize(c, handlerLogger); !ok {
			return c.Send(unauthorizedText)
		}

		filters := app.DueFilters{}
		if args := c.Args(); len(args) > 0 {
			filters.FollowUpType = strings.ToLower(args[0])
			switch filters.FollowUpType {
			case app.TypeFilterScheduled, app.TypeFilterProblemSolving, app.TypeFilterOverdue:
			default:
				return c.Send("Unknown filter. Use 'scheduled', 'problem_solving' or 'overdue', or leave it empty.")
			}
		}

		items, err := due.ListDue(ctx, filters, now())
		if err != nil {
			handlerLogger.WithError(err).Error("Failed to list due requests")
			return c.Send("Could not load the due list. Please try again later.")
		}
		if len(items) == 0 {
			return c.Send("No requests need follow-up right now.")
		}

		markup := &telebot.ReplyMarkup{}
		var rows []telebot.Row
		var response strings.Builder
		response.WriteString(fmt.Sprintf("%d request(s) due for follow-up:\n\n", len(items)))
		for i, item := range items {
			if i >= dueListLimit {
				response.WriteString(fmt.Sprintf("...and %d more\n", len(items)-dueListLimit))
				break
			}
			response.WriteString(fmt.Sprintf("#%d %s [%s] %s, %s (%d done)\n",
				item.RequestID, item.FullName, item.StatusName, item.Eligibility.StatusText,
				followup.PriorityLabel(item.Eligibility.Priority), item.FollowUpCount))
			idStr := strconv.FormatInt(item.RequestID, 10)
			rows = append(rows, markup.Row(markup.Data("Follow up #"+idStr, btnFollowUp.Unique, idStr)))
		}
		markup.Inline(rows...)
		handlerLogger.WithField("items", len(items)).Info("Due list sent")
		return c.Send(response.String(), markup)
	})

	b.Handle("/followup", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/followup",
			"sender_id": c.Sender().ID,
		})
		actorID, ok := authorize(c, handlerLogger)
		if !ok {
			return c.Send(unauthorizedText)
		}

		args := c.Args()
		// Expected format: /followup <RequestID>
		if len(args) != 1 {
			return c.Send("Invalid format. Use: /followup <RequestID>")
		}
		requestID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return c.Send("Error: the request id must be a number.")
		}

		if err := followUps.ProcessFollowUp(ctx, requestID, actorID, now()); err != nil {
			handlerLogger.WithError(err).WithField("request_id", requestID).Warn("Follow-up failed")
			return c.Send(followUpErrorText(requestID, err))
		}
		return c.Send(fmt.Sprintf("Follow-up recorded for request %d.", requestID))
	})

	b.Handle("/bulk_followup", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/bulk_followup",
			"sender_id": c.Sender().ID,
		})
		actorID, ok := authorize(c, handlerLogger)
		if !ok {
			return c.Send(unauthorizedText)
		}

		ids, err := parseRequestIDs(c.Args())
		if err != nil || len(ids) == 0 {
			return c.Send("Invalid format. Use: /bulk_followup <RequestID> [RequestID...]")
		}

		results := followUps.ProcessBulk(ctx, ids, actorID, now())
		var failed []string
		for id, okID := range results {
			if !okID {
				failed = append(failed, strconv.FormatInt(id, 10))
			}
		}
		sort.Strings(failed)
		msg := fmt.Sprintf("Follow-up recorded for %d of %d request(s).", len(results)-len(failed), len(results))
		if len(failed) > 0 {
			msg += "\nFailed: " + strings.Join(failed, ", ")
		}
		return c.Send(msg)
	})

	b.Handle("/summary", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/summary",
			"sender_id": c.Sender().ID,
		})
		if _, ok := authorize(c, handlerLogger); !ok {
			return c.Send(unauthorizedText)
		}

		sum, err := due.Summary(ctx, now())
		if err != nil {
			handlerLogger.WithError(err).Error("Failed to compute summary")
			return c.Send("Could not load the summary. Please try again later.")
		}
		return c.Send(fmt.Sprintf("Due: %d\nOverdue: %d\nNear auto-closure: %d\nUrgent: %d, high: %d, medium: %d, low: %d",
			sum.Due, sum.Overdue, sum.NearAutoClose,
			sum.ByPriority["urgent"], sum.ByPriority["high"], sum.ByPriority["medium"], sum.ByPriority["low"]))
	})

	b.Handle(&btnFollowUp, func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "followup_button",
			"sender_id": c.Sender().ID,
		})
		actorID, ok := authorize(c, handlerLogger)
		if !ok {
			return c.Respond(&telebot.CallbackResponse{Text: unauthorizedText})
		}

		requestID, err := strconv.ParseInt(c.Data(), 10, 64)
		if err != nil {
			handlerLogger.WithField("data", c.Data()).Warn("Invalid callback data")
			return c.Respond(&telebot.CallbackResponse{Text: "Invalid request id."})
		}

		if err := followUps.ProcessFollowUp(ctx, requestID, actorID, now()); err != nil {
			handlerLogger.WithError(err).WithField("request_id", requestID).Warn("Follow-up failed")
			return c.Respond(&telebot.CallbackResponse{Text: followUpErrorText(requestID, err), ShowAlert: true})
		}
		return c.Respond(&telebot.CallbackResponse{Text: fmt.Sprintf("Follow-up recorded for request %d.", requestID)})
	})
}
