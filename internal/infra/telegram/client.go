// internal/infra/telegram/client.go
package telegram

import (
	"context"
	"errors"
	"time"

	"gopkg.in/telebot.v3"

	"booking_reminder_bot/internal/domain/messaging"
)

// botAPI is the part of *telebot.Bot the sender needs.
type botAPI interface {
	Send(to telebot.Recipient, what interface{}, opts ...interface{}) (*telebot.Message, error)
}

// BotSender implements messaging.Sender for the managed bot. Customers reach it only
// after opting in, so user ids here are private chat ids.
type BotSender struct {
	bot botAPI
}

var _ messaging.Sender = (*BotSender)(nil)

func NewBotSender(b *telebot.Bot) *BotSender {
	return &BotSender{bot: b}
}

func (s *BotSender) Name() messaging.ChannelName {
	return messaging.ChannelBot
}

// Send delivers text to chatID. telebot has no context support; ctx is only checked up front.
func (s *BotSender) Send(ctx context.Context, chatID int64, text string) messaging.SendResult {
	if err := ctx.Err(); err != nil {
		return messaging.Failed(err)
	}
	msg, err := s.bot.Send(telebot.ChatID(chatID), text, &telebot.SendOptions{DisableWebPagePreview: true})
	if err != nil {
		return classifySendError(err)
	}
	return messaging.Sent(int64(msg.ID))
}

func classifySendError(err error) messaging.SendResult {
	if retry, ok := floodWait(err); ok {
		return messaging.RateLimited(retry)
	}
	switch {
	case errors.Is(err, telebot.ErrBlockedByUser),
		errors.Is(err, telebot.ErrChatNotFound),
		errors.Is(err, telebot.ErrUserIsDeactivated),
		errors.Is(err, telebot.ErrNotStartedByUser):
		return messaging.NotFound(err)
	}
	return messaging.Failed(err)
}

// floodWait extracts the server-requested wait from a flood-control error.
func floodWait(err error) (time.Duration, bool) {
	for e := err; e != nil; e = errors.Unwrap(e) {
		switch fe := e.(type) {
		case telebot.FloodError:
			return time.Duration(fe.RetryAfter) * time.Second, true
		case *telebot.FloodError:
			return time.Duration(fe.RetryAfter) * time.Second, true
		}
	}
	return 0, false
}
