// internal/infra/telegram/bot_commands_handler.go
package telegram

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"

	"booking_reminder_bot/internal/domain/customer"
	"booking_reminder_bot/internal/domain/messaging"
)

const shareContactButton = "📱 Поделиться номером"

// CustomerHandlers serves the customer side of the bot: opt-in and replies to reminders.
type CustomerHandlers struct {
	ctx     context.Context
	links   customer.Repository
	inbound messaging.InboundHandler
	isAdmin func(int64) bool
	log     *logrus.Entry
}

func NewCustomerHandlers(ctx context.Context, links customer.Repository, inbound messaging.InboundHandler, isAdmin func(int64) bool, log *logrus.Entry) *CustomerHandlers {
	return &CustomerHandlers{
		ctx:     ctx,
		links:   links,
		inbound: inbound,
		isAdmin: isAdmin,
		log:     log.WithField("handler_group", "customer"),
	}
}

// Register binds the handlers to the bot.
func (h *CustomerHandlers) Register(b *telebot.Bot) {
	b.Handle("/start", h.start)
	b.Handle("/help", h.help)
	b.Handle(telebot.OnContact, h.contact)
	b.Handle(telebot.OnText, h.text)
}

func contactKeyboard() *telebot.ReplyMarkup {
	menu := &telebot.ReplyMarkup{ResizeKeyboard: true, OneTimeKeyboard: true}
	menu.Reply(menu.Row(menu.Contact(shareContactButton)))
	return menu
}

func (h *CustomerHandlers) start(c telebot.Context) error {
	senderID := c.Sender().ID
	logCtx := h.log.WithFields(logrus.Fields{"command": "/start", "sender_id": senderID})
	logCtx.Info("Processing /start command")

	if h.isAdmin(senderID) {
		return c.Send("Привет! Команды администратора: /help")
	}

	link, err := h.links.GetByTelegramID(h.ctx, senderID)
	if err == nil && link.UsesBot() {
		return c.Send("Вы уже подписаны на напоминания о записях. Ответьте «да» на напоминание, чтобы подтвердить визит.")
	}

	return c.Send("Привет! Я напоминаю о записях и помогаю их подтвердить. "+
		"Нажмите кнопку ниже, чтобы поделиться номером телефона, с которым вы записываетесь.", contactKeyboard())
}

func (h *CustomerHandlers) contact(c telebot.Context) error {
	sender := c.Sender()
	contact := c.Message().Contact
	logCtx := h.log.WithFields(logrus.Fields{"event": "contact", "sender_id": sender.ID})

	if contact == nil || contact.UserID != sender.ID {
		logCtx.Warn("Rejected contact that does not belong to the sender")
		return c.Send("Пожалуйста, поделитесь своим номером с помощью кнопки.", contactKeyboard())
	}

	phone := customer.NormalizePhone(contact.PhoneNumber)
	if phone == "" {
		return c.Send("Не удалось распознать номер телефона.")
	}

	if err := h.links.SaveBotChat(h.ctx, phone, c.Chat().ID); err != nil {
		logCtx.WithError(err).Error("Failed to save bot opt-in")
		return c.Send("Произошла ошибка. Пожалуйста, попробуйте позже.")
	}
	logCtx.WithField("phone", phone).Info("Customer opted into bot reminders")
	return c.Send("Готово! Теперь напоминания о записях будут приходить сюда.",
		&telebot.ReplyMarkup{RemoveKeyboard: true})
}

func (h *CustomerHandlers) help(c telebot.Context) error {
	if h.isAdmin(c.Sender().ID) {
		var helpText strings.Builder
		helpText.WriteString("Доступные команды администратора:\n\n")
		helpText.WriteString("/status - состояние хранилища и планировщика\n")
		helpText.WriteString("/history <ID клиента> [кол-во] - последние сообщения клиента\n")
		helpText.WriteString("/sync - запустить сверку с журналом записи\n")
		helpText.WriteString("/help - это сообщение")
		return c.Send(helpText.String())
	}
	return c.Send("Я присылаю напоминания о ваших записях. Чтобы подтвердить визит, ответьте на напоминание «да».\n\n" +
		"/start - подписаться на напоминания\n/help - это сообщение")
}

// text forwards customer replies to the inbound handler. Unknown commands are ignored.
func (h *CustomerHandlers) text(c telebot.Context) error {
	msg := c.Message()
	if msg == nil || strings.HasPrefix(msg.Text, "/") {
		return nil
	}
	in := messaging.InboundMessage{
		Channel:    messaging.ChannelBot,
		SenderID:   c.Sender().ID,
		Text:       msg.Text,
		MessageID:  int64(msg.ID),
		ReceivedAt: msg.Time().UTC(),
	}
	if err := h.inbound.HandleInbound(h.ctx, in); err != nil {
		// the handler has already answered the customer
		h.log.WithError(err).WithField("sender_id", in.SenderID).Warn("Failed to handle customer reply")
	}
	return nil
}
