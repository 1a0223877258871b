// internal/infra/telegram/bot_commands_handler.go
package telegram

import (
	"fmt"
	"strings"

	"callcenter_crm/internal/app"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

func RegisterBotCommands(
	b Router,
	staff *app.StaffDirectory,
	baseLogger *logrus.Entry, // For contextual logging
) {
	startHelpLogger := baseLogger.WithField("handler_group", "start_help")

	b.Handle("/start", func(c telebot.Context) error {
		senderID := c.Sender().ID
		logCtx := startHelpLogger.WithField("command", "/start").WithField("sender_id", senderID)
		logCtx.Info("Processing /start command")

		if staff.IsStaff(senderID) {
			logCtx.Info("User identified as staff")
			return c.Send(fmt.Sprintf("Hello, %s! I track follow-ups for open requests. Use /help to see the commands.", c.Sender().FirstName))
		}

		logCtx.Info("User is unknown")
		return c.Send("Hello! This bot is for call-center staff. Ask your manager to register your Telegram account.")
	})

	b.Handle("/help", func(c telebot.Context) error {
		senderID := c.Sender().ID
		logCtx := startHelpLogger.WithField("command", "/help").WithField("sender_id", senderID)
		logCtx.Info("Processing /help command")

		if !staff.IsStaff(senderID) {
			logCtx.Info("User is unknown, sending restricted help.")
			return c.Send("No commands are available to you. Ask your manager to register your Telegram account.")
		}

		var helpText strings.Builder
		helpText.WriteString("Available commands:\n\n")
		helpText.WriteString("`/due [scheduled|problem_solving|overdue]`\n - List requests due for follow-up, most urgent first.\n\n")
		helpText.WriteString("`/followup <RequestID>`\n - Record one follow-up attempt on a request.\n\n")
		helpText.WriteString("`/bulk_followup <RequestID> [RequestID...]`\n - Record a follow-up on several requests at once.\n\n")
		helpText.WriteString("`/summary`\n - Show follow-up counters.\n\n")
		helpText.WriteString("`/help`\n - Show this message.")
		return c.Send(helpText.String(), &telebot.SendOptions{ParseMode: telebot.ModeMarkdown})
	})
}
