package telegram

import "gopkg.in/telebot.v3"

// Messenger sends text messages to staff chats.
// It keeps application services independent of the bot library.
type Messenger interface {
	SendMessage(chatID int64, text string, options *telebot.SendOptions) error
}
