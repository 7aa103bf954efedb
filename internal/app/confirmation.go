package app

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"booking_reminder_bot/internal/domain/appointment"
	"booking_reminder_bot/internal/domain/booking"
	"booking_reminder_bot/internal/domain/conversation"
	"booking_reminder_bot/internal/domain/customer"
	"booking_reminder_bot/internal/domain/messaging"
	"booking_reminder_bot/internal/domain/reminder"
	idb "booking_reminder_bot/internal/infra/database"
	"booking_reminder_bot/internal/infra/templates"
)

var affirmativeTokens = map[string]struct{}{
	"+":           {},
	"yes":         {},
	"confirm":     {},
	"ok":          {},
	"да":          {},
	"подтверждаю": {},
	"ок":          {},
}

// IsAffirmative reports whether text is a confirmation reply.
func IsAffirmative(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	t = strings.TrimRight(t, "!.")
	_, ok := affirmativeTokens[t]
	return ok
}

// ConfirmationHandler turns affirmative replies into booking confirmations.
// A recipient is awaiting while a pending confirmation exists for them, idle otherwise.
type ConfirmationHandler struct {
	pending  reminder.PendingRepository
	records  appointment.Repository
	links    customer.Repository
	convo    conversation.Repository
	source   booking.Source
	router   *DeliveryRouter
	renderer MessageRenderer
	log      *logrus.Entry
	metrics  Recorder
	now      func() time.Time
}

func NewConfirmationHandler(
	pending reminder.PendingRepository,
	records appointment.Repository,
	links customer.Repository,
	convo conversation.Repository,
	source booking.Source,
	router *DeliveryRouter,
	renderer MessageRenderer,
	log *logrus.Entry,
) *ConfirmationHandler {
	return &ConfirmationHandler{
		pending:  pending,
		records:  records,
		links:    links,
		convo:    convo,
		source:   source,
		router:   router,
		renderer: renderer,
		log:      log,
		metrics:  nopRecorder{},
		now:      time.Now,
	}
}

// SetRecorder replaces the metrics sink.
func (h *ConfirmationHandler) SetRecorder(m Recorder) {
	h.metrics = m
}

// HandleInbound logs the message and, for an affirmative reply from an awaiting
// recipient, confirms the appointment at the booking source.
func (h *ConfirmationHandler) HandleInbound(ctx context.Context, msg messaging.InboundMessage) error {
	log := h.log.WithFields(logrus.Fields{"channel": msg.Channel, "sender_id": msg.SenderID})

	// looked up for every message: it also attributes free-text replies to the reminder
	pc, err := h.pending.GetPending(ctx, msg.SenderID)
	if err != nil {
		if !errors.Is(err, idb.ErrPendingConfirmationNotFound) {
			return storageError("get pending confirmation", err)
		}
		pc = nil
	}

	customerID := h.customerFor(ctx, msg.SenderID, pc)
	h.logIncoming(ctx, msg, customerID, pc)

	if pc == nil || !IsAffirmative(msg.Text) {
		return nil
	}

	log = log.WithField("appointment_id", pc.AppointmentID)
	data := templates.Data{ScheduledAt: pc.ScheduledAt}

	if err := h.source.ConfirmAppointment(ctx, pc.AppointmentID); err != nil {
		// pending entry stays so the customer can retry
		h.metrics.RecordConfirmation(false)
		log.WithError(err).Warn("Booking source rejected the confirmation")
		h.reply(ctx, msg, customerID, pc.AppointmentID, "confirm-failed", data, log)
		return errors.Join(ErrConfirmationFailed, err)
	}

	if err := h.pending.DeletePending(ctx, pc.RecipientID, pc.AppointmentID); err != nil {
		return storageError("delete pending confirmation", err)
	}
	h.metrics.RecordConfirmation(true)
	log.Info("Appointment confirmed by customer")

	if rec, err := h.records.Get(ctx, pc.AppointmentID); err == nil {
		data.Name = customer.FirstName(rec.CustomerName)
		data.Service, data.Staff = rec.ServiceName, rec.StaffName
	}
	h.reply(ctx, msg, customerID, pc.AppointmentID, "confirmed", data, log)
	return nil
}

func (h *ConfirmationHandler) customerFor(ctx context.Context, senderID int64, pc *reminder.PendingConfirmation) int64 {
	if pc != nil && pc.CustomerID != 0 {
		return pc.CustomerID
	}
	link, err := h.links.GetByTelegramID(ctx, senderID)
	if err != nil || !link.CustomerID.Valid {
		return 0
	}
	return link.CustomerID.Int64
}

func (h *ConfirmationHandler) logIncoming(ctx context.Context, msg messaging.InboundMessage, customerID int64, pc *reminder.PendingConfirmation) {
	at := msg.ReceivedAt
	if at.IsZero() {
		at = h.now()
	}
	m := conversation.NewMessage(customerID, conversation.DirectionIncoming, string(msg.Channel), msg.Text, at.UTC())
	if pc != nil {
		m.AppointmentID = sql.NullInt64{Int64: pc.AppointmentID, Valid: true}
	}
	if msg.MessageID != 0 {
		m.ExternalMessageID = sql.NullInt64{Int64: msg.MessageID, Valid: true}
	}
	if err := h.convo.Append(ctx, m); err != nil {
		h.log.WithError(err).Warn("Failed to append incoming message to conversation log")
	}
}

func (h *ConfirmationHandler) reply(ctx context.Context, msg messaging.InboundMessage, customerID, appointmentID int64, key string, data templates.Data, log *logrus.Entry) {
	text, err := h.renderer.Render(key, data)
	if err != nil {
		log.WithError(err).Error("Failed to render reply")
		return
	}
	res := h.router.Reply(ctx, msg.Channel, msg.SenderID, customerID, appointmentID, text)
	if res.Outcome != messaging.OutcomeOK {
		log.WithField("outcome", res.Outcome.String()).WithError(res.Err).Warn("Failed to send reply")
	}
}
