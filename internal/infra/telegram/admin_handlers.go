package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"

	"booking_reminder_bot/internal/app"
	"booking_reminder_bot/internal/domain/conversation"
)

const historyTimeLayout = "02.01 15:04"

// AdminHandlers serves the operator commands. Every command is gated on the configured admin id.
type AdminHandlers struct {
	ctx   context.Context
	admin *app.AdminService
	log   *logrus.Entry
}

func NewAdminHandlers(ctx context.Context, admin *app.AdminService, log *logrus.Entry) *AdminHandlers {
	return &AdminHandlers{ctx: ctx, admin: admin, log: log.WithField("handler_group", "admin")}
}

// Register binds the admin commands to the bot.
func (h *AdminHandlers) Register(b *telebot.Bot) {
	b.Handle("/status", h.status)
	b.Handle("/history", h.history)
	b.Handle("/sync", h.sync)
}

func (h *AdminHandlers) authorize(c telebot.Context, command string) (*logrus.Entry, bool) {
	handlerLogger := h.log.WithFields(logrus.Fields{
		"handler":   command,
		"sender_id": c.Sender().ID,
	})
	if !h.admin.IsAdmin(c.Sender().ID) {
		handlerLogger.Warn("Unauthorized access attempt")
		return handlerLogger, false
	}
	handlerLogger.Info("Command received")
	return handlerLogger, true
}

func (h *AdminHandlers) status(c telebot.Context) error {
	handlerLogger, ok := h.authorize(c, "/status")
	if !ok {
		return c.Send("Ошибка: У вас нет прав для выполнения этой команды.")
	}

	st, err := h.admin.Status(h.ctx)
	if err != nil {
		handlerLogger.WithError(err).Error("Failed to collect status")
		return c.Send(fmt.Sprintf("Не удалось получить состояние: %s", err.Error()))
	}

	seeded := "нет"
	if st.Seeded {
		seeded = "да"
	}
	var out strings.Builder
	out.WriteString("Состояние:\n")
	fmt.Fprintf(&out, "Активных записей: %d\n", st.ActiveRecords)
	fmt.Fprintf(&out, "Отменённых записей: %d\n", st.DeletedRecords)
	fmt.Fprintf(&out, "Отправлено напоминаний: %d\n", st.SentReminders)
	fmt.Fprintf(&out, "Ждут подтверждения: %d\n", st.PendingConfirmations)
	fmt.Fprintf(&out, "Первичная сверка выполнена: %s", seeded)
	return c.Send(out.String())
}

func (h *AdminHandlers) history(c telebot.Context) error {
	handlerLogger, ok := h.authorize(c, "/history")
	if !ok {
		return c.Send("Ошибка: У вас нет прав для выполнения этой команды.")
	}

	args := c.Args()
	if len(args) < 1 || len(args) > 2 {
		return c.Send("Неверный формат команды. Используйте: /history <ID клиента> [кол-во]")
	}
	customerID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return c.Send("Ошибка: ID клиента должен быть числом.")
	}
	limit := 0
	if len(args) == 2 {
		if limit, err = strconv.Atoi(args[1]); err != nil || limit <= 0 {
			return c.Send("Ошибка: количество должно быть положительным числом.")
		}
	}

	msgs, err := h.admin.History(h.ctx, c.Sender().ID, customerID, limit)
	if err != nil {
		if errors.Is(err, app.ErrAdminNotAuthorized) {
			return c.Send("Ошибка: У вас нет прав для выполнения этой команды.")
		}
		handlerLogger.WithError(err).Error("Failed to load conversation history")
		return c.Send(fmt.Sprintf("Не удалось получить историю: %s", err.Error()))
	}
	if len(msgs) == 0 {
		return c.Send(fmt.Sprintf("Сообщений с клиентом %d нет.", customerID))
	}
	return c.Send(formatHistory(customerID, msgs))
}

// formatHistory prints messages oldest first.
func formatHistory(customerID int64, msgs []*conversation.Message) string {
	var out strings.Builder
	fmt.Fprintf(&out, "--- Клиент %d ---\n", customerID)
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		arrow := "→"
		if m.Direction == conversation.DirectionIncoming {
			arrow = "←"
		}
		fmt.Fprintf(&out, "%s %s [%s] %s\n", m.CreatedAt.Format(historyTimeLayout), arrow, m.Channel, m.Text)
	}
	return out.String()
}

func (h *AdminHandlers) sync(c telebot.Context) error {
	handlerLogger, ok := h.authorize(c, "/sync")
	if !ok {
		return c.Send("Ошибка: У вас нет прав для выполнения этой команды.")
	}

	report, err := h.admin.Sync(h.ctx, c.Sender().ID)
	if err != nil {
		handlerLogger.WithError(err).Error("Manual reconciliation failed")
		return c.Send(fmt.Sprintf("Сверка не удалась: %s", err.Error()))
	}
	return c.Send(fmt.Sprintf("Сверка завершена. Получено: %d, новых: %d, изменённых: %d, отменённых: %d, уведомлений: %d.",
		report.Fetched,
		report.Counts[app.ClassNew],
		report.Counts[app.ClassChanged],
		report.Counts[app.ClassDeleted],
		len(report.Intents)))
}
