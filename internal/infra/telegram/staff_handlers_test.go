package telegram

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"callcenter_crm/internal/app"
	"callcenter_crm/internal/domain/followup"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gopkg.in/telebot.v3"
)

const (
	staffTelegramID    int64 = 1001
	staffActorID       int64 = 7
	strangerTelegramID int64 = 9999
)

var handlerNow = time.Date(2025, 6, 20, 9, 0, 0, 0, time.UTC)

type fakeRouter struct {
	handlers map[string]telebot.HandlerFunc
}

func (r *fakeRouter) Handle(endpoint interface{}, h telebot.HandlerFunc, _ ...telebot.MiddlewareFunc) {
	switch e := endpoint.(type) {
	case string:
		r.handlers[e] = h
	case telebot.CallbackEndpoint:
		r.handlers[e.CallbackUnique()] = h
	default:
		panic(fmt.Sprintf("unsupported endpoint %T", endpoint))
	}
}

type fakeContext struct {
	telebot.Context
	sender    *telebot.User
	args      []string
	data      string
	sent      []string
	sentOpts  [][]interface{}
	responses []*telebot.CallbackResponse
}

func (c *fakeContext) Sender() *telebot.User { return c.sender }
func (c *fakeContext) Args() []string        { return c.args }
func (c *fakeContext) Data() string          { return c.data }

func (c *fakeContext) Send(what interface{}, opts ...interface{}) error {
	c.sent = append(c.sent, fmt.Sprint(what))
	c.sentOpts = append(c.sentOpts, opts)
	return nil
}

func (c *fakeContext) Respond(resp ...*telebot.CallbackResponse) error {
	c.responses = append(c.responses, resp...)
	return nil
}

type mockFollowUps struct {
	mock.Mock
}

func (m *mockFollowUps) ProcessFollowUp(ctx context.Context, requestID, actorID int64, now time.Time) error {
	return m.Called(ctx, requestID, actorID, now).Error(0)
}

func (m *mockFollowUps) ProcessBulk(ctx context.Context, requestIDs []int64, actorID int64, now time.Time) map[int64]bool {
	return m.Called(ctx, requestIDs, actorID, now).Get(0).(map[int64]bool)
}

type mockDue struct {
	mock.Mock
}

func (m *mockDue) ListDue(ctx context.Context, filters app.DueFilters, now time.Time) ([]app.NotificationItem, error) {
	args := m.Called(ctx, filters, now)
	items, _ := args.Get(0).([]app.NotificationItem)
	return items, args.Error(1)
}

func (m *mockDue) Summary(ctx context.Context, now time.Time) (*app.Summary, error) {
	args := m.Called(ctx, now)
	sum, _ := args.Get(0).(*app.Summary)
	return sum, args.Error(1)
}

func setupHandlers(t *testing.T) (*fakeRouter, *mockFollowUps, *mockDue) {
	t.Helper()
	l := logrus.New()
	l.SetOutput(io.Discard)
	router := &fakeRouter{handlers: map[string]telebot.HandlerFunc{}}
	followUps := new(mockFollowUps)
	due := new(mockDue)
	staff := app.NewStaffDirectory(map[int64]int64{staffTelegramID: staffActorID})

	RegisterBotCommands(router, staff, logrus.NewEntry(l))
	RegisterStaffHandlers(context.Background(), router, followUps, due, staff,
		func() time.Time { return handlerNow }, logrus.NewEntry(l))
	return router, followUps, due
}

func run(t *testing.T, router *fakeRouter, endpoint string, c *fakeContext) {
	t.Helper()
	h, ok := router.handlers[endpoint]
	require.True(t, ok, "handler %q not registered", endpoint)
	require.NoError(t, h(c))
}

func staffContext(args ...string) *fakeContext {
	return &fakeContext{sender: &telebot.User{ID: staffTelegramID, FirstName: "Dana"}, args: args}
}

func TestStartAndHelp(t *testing.T) {
	router, _, _ := setupHandlers(t)

	c := staffContext()
	run(t, router, "/start", c)
	assert.Contains(t, c.sent[0], "Hello, Dana!")

	c = &fakeContext{sender: &telebot.User{ID: strangerTelegramID}}
	run(t, router, "/help", c)
	assert.Contains(t, c.sent[0], "No commands are available")

	c = staffContext()
	run(t, router, "/help", c)
	assert.Contains(t, c.sent[0], "/bulk_followup")
}

func TestFollowUpCommand(t *testing.T) {
	router, followUps, _ := setupHandlers(t)
	followUps.On("ProcessFollowUp", mock.Anything, int64(12), staffActorID, handlerNow).Return(nil).Once()
	followUps.On("ProcessFollowUp", mock.Anything, int64(13), staffActorID, handlerNow).
		Return(fmt.Errorf("wrapped: %w", followup.ErrLimitReached)).Once()

	c := staffContext("12")
	run(t, router, "/followup", c)
	assert.Equal(t, []string{"Follow-up recorded for request 12."}, c.sent)

	c = staffContext("13")
	run(t, router, "/followup", c)
	assert.Equal(t, []string{"Request 13 already used all of its follow-ups."}, c.sent)

	c = staffContext("abc")
	run(t, router, "/followup", c)
	assert.Contains(t, c.sent[0], "must be a number")

	followUps.AssertExpectations(t)
}

func TestStaffCommandsRejectStrangers(t *testing.T) {
	router, followUps, due := setupHandlers(t)

	for _, cmd := range []string{"/due", "/followup", "/bulk_followup", "/summary"} {
		c := &fakeContext{sender: &telebot.User{ID: strangerTelegramID}, args: []string{"1"}}
		run(t, router, cmd, c)
		assert.Equal(t, []string{"Error: you are not allowed to run this command."}, c.sent, cmd)
	}
	followUps.AssertNotCalled(t, "ProcessFollowUp", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	due.AssertNotCalled(t, "ListDue", mock.Anything, mock.Anything, mock.Anything)
}

func TestBulkFollowUpCommand(t *testing.T) {
	router, followUps, _ := setupHandlers(t)
	followUps.On("ProcessBulk", mock.Anything, []int64{1, 2, 3}, staffActorID, handlerNow).
		Return(map[int64]bool{1: true, 2: false, 3: true}).Once()

	c := staffContext("1,2", "3")
	run(t, router, "/bulk_followup", c)

	assert.Equal(t, []string{"Follow-up recorded for 2 of 3 request(s).\nFailed: 2"}, c.sent)
	followUps.AssertExpectations(t)

	c = staffContext("1,x")
	run(t, router, "/bulk_followup", c)
	assert.Contains(t, c.sent[0], "Invalid format")
}

func TestDueCommand(t *testing.T) {
	router, _, due := setupHandlers(t)
	items := []app.NotificationItem{
		{RequestID: 6, FullName: "Bob", StatusName: "New", FollowUpCount: 0,
			Eligibility: followup.Eligibility{StatusText: "Overdue (8 days)", Priority: followup.PriorityUrgent}},
		{RequestID: 3, FullName: "Chen", StatusName: "Problem", FollowUpCount: 1,
			Eligibility: followup.Eligibility{StatusText: "Problem-solving available", Priority: followup.PriorityHigh}},
	}
	due.On("ListDue", mock.Anything, app.DueFilters{FollowUpType: app.TypeFilterOverdue}, handlerNow).Return(items, nil).Once()

	c := staffContext("OVERDUE")
	run(t, router, "/due", c)

	require.Len(t, c.sent, 1)
	assert.Contains(t, c.sent[0], "2 request(s) due for follow-up")
	assert.Contains(t, c.sent[0], "#6 Bob [New] Overdue (8 days), urgent (0 done)")
	require.Len(t, c.sentOpts[0], 1)
	markup, ok := c.sentOpts[0][0].(*telebot.ReplyMarkup)
	require.True(t, ok)
	assert.Len(t, markup.InlineKeyboard, 2)
	due.AssertExpectations(t)

	c = staffContext("everything")
	run(t, router, "/due", c)
	assert.Contains(t, c.sent[0], "Unknown filter")
}

func TestSummaryCommand(t *testing.T) {
	router, _, due := setupHandlers(t)
	due.On("Summary", mock.Anything, handlerNow).Return(&app.Summary{
		Due: 3, Overdue: 2, NearAutoClose: 1,
		ByPriority: map[string]int{"urgent": 1, "high": 1, "medium": 1},
	}, nil).Once()

	c := staffContext()
	run(t, router, "/summary", c)

	assert.Equal(t, []string{"Due: 3\nOverdue: 2\nNear auto-closure: 1\nUrgent: 1, high: 1, medium: 1, low: 0"}, c.sent)
}

func TestFollowUpButton(t *testing.T) {
	router, followUps, _ := setupHandlers(t)
	followUps.On("ProcessFollowUp", mock.Anything, int64(6), staffActorID, handlerNow).Return(nil).Once()

	c := staffContext()
	c.data = "6"
	run(t, router, btnFollowUp.CallbackUnique(), c)

	require.Len(t, c.responses, 1)
	assert.Equal(t, "Follow-up recorded for request 6.", c.responses[0].Text)
	followUps.AssertExpectations(t)
}
