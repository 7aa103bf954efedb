package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"booking_reminder_bot/internal/domain/conversation"
	"booking_reminder_bot/internal/domain/customer"
	"booking_reminder_bot/internal/domain/messaging"
	"booking_reminder_bot/internal/domain/reminder"
	idb "booking_reminder_bot/internal/infra/database"
	"booking_reminder_bot/internal/infra/templates"
)

// DefaultMaxRetryWait caps how long the router sleeps on a rate limit before giving up.
const DefaultMaxRetryWait = 2 * time.Minute

// MessageRenderer turns a message key and its data into text.
type MessageRenderer interface {
	Render(key string, data templates.Data) (string, error)
}

// Channels are the configured transports. Either sender may be nil.
type Channels struct {
	Bot      messaging.Sender
	Agent    messaging.Sender
	Resolver messaging.Resolver // phone lookup for Agent
}

// DeliveryResult reports what happened to one intent.
type DeliveryResult struct {
	Intent    Intent
	Channel   messaging.ChannelName
	Recipient int64
	Outcome   messaging.Outcome
	MessageID int64
	Retried   bool
	Err       error
}

// Delivered reports whether the message reached the transport.
func (r *DeliveryResult) Delivered() bool {
	return r.Outcome == messaging.OutcomeOK
}

// DeliveryRouter sends intents over the preferred channel. It is the only writer of
// sent reminders and pending confirmations.
type DeliveryRouter struct {
	links    customer.Repository
	sent     reminder.Repository
	pending  reminder.PendingRepository
	convo    conversation.Repository
	channels Channels
	renderer MessageRenderer
	log      *logrus.Entry
	metrics  Recorder

	maxRetryWait time.Duration
	sleep        func(ctx context.Context, d time.Duration) error
	now          func() time.Time
}

func NewDeliveryRouter(
	links customer.Repository,
	sent reminder.Repository,
	pending reminder.PendingRepository,
	convo conversation.Repository,
	channels Channels,
	renderer MessageRenderer,
	log *logrus.Entry,
) *DeliveryRouter {
	return &DeliveryRouter{
		links:        links,
		sent:         sent,
		pending:      pending,
		convo:        convo,
		channels:     channels,
		renderer:     renderer,
		log:          log,
		metrics:      nopRecorder{},
		maxRetryWait: DefaultMaxRetryWait,
		sleep:        sleepContext,
		now:          time.Now,
	}
}

// SetRecorder replaces the metrics sink.
func (r *DeliveryRouter) SetRecorder(m Recorder) {
	r.metrics = m
}

// SetMaxRetryWait changes the longest rate-limit wait honoured before the single retry.
func (r *DeliveryRouter) SetMaxRetryWait(d time.Duration) {
	r.maxRetryWait = d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Deliver renders and sends one intent. A non-nil error means storage failed; every
// transport problem is reported in the result so the intent is retried on a later pass.
// A rate-limited send is retried once after the channel's wait, unless that wait exceeds
// the MaxRetryWait cap: then nothing is slept and the delivery fails for this pass.
func (r *DeliveryRouter) Deliver(ctx context.Context, in Intent) (*DeliveryResult, error) {
	res := &DeliveryResult{Intent: in}
	log := r.log.WithFields(logrus.Fields{"intent": in.String(), "customer_id": in.CustomerID()})

	text, err := r.renderer.Render(in.MessageKey(), in.messageData())
	if err != nil {
		res.Outcome, res.Err = messaging.OutcomeFailed, err
		log.WithError(err).Error("Failed to render message")
		return res, nil
	}

	id, err := r.recipient(ctx, in)
	if err != nil {
		if errors.Is(err, ErrStorage) {
			return nil, err
		}
		res.Outcome, res.Err = messaging.OutcomeNotFound, err
		log.WithError(err).Info("Recipient not reachable, will retry on a later pass")
		return res, nil
	}
	res.Channel, res.Recipient = id.Channel, id.UserID

	send := r.sendWithRetry(ctx, id, text, log)
	res.Outcome, res.MessageID, res.Err = send.Outcome, send.MessageID, send.Err
	res.Retried = send.retried
	r.metrics.RecordDelivery(id.Channel, send.Outcome)
	if send.Outcome != messaging.OutcomeOK {
		log.WithFields(logrus.Fields{
			"channel": id.Channel,
			"outcome": send.Outcome.String(),
		}).WithError(send.Err).Warn("Delivery failed")
		return res, nil
	}

	now := r.now().UTC()
	if key, ok := in.Key(); ok {
		sr := &reminder.SentReminder{Key: key, SentAt: now}
		if send.MessageID != 0 {
			sr.MessageID = sql.NullInt64{Int64: send.MessageID, Valid: true}
		}
		if err := r.sent.MarkSent(ctx, sr); err != nil {
			return nil, storageError("mark reminder sent", err)
		}
		if key.Kind.IsConfirmation() && in.Appointment != nil {
			pc := &reminder.PendingConfirmation{
				RecipientID:   id.UserID,
				Channel:       string(id.Channel),
				AppointmentID: in.Appointment.AppointmentID,
				CustomerID:    in.Appointment.CustomerID,
				ScheduledAt:   in.Appointment.ScheduledAt,
				CreatedAt:     now,
			}
			if err := r.pending.UpsertPending(ctx, pc); err != nil {
				return nil, storageError("save pending confirmation", err)
			}
		}
	}

	r.appendLog(ctx, in.CustomerID(), in.AppointmentID(), id.Channel, text, send.MessageID, now)
	log.WithFields(logrus.Fields{"channel": id.Channel, "message_id": send.MessageID}).Info("Notification delivered")
	return res, nil
}

// Reply sends text to a known recipient on a given channel, with the same retry policy.
func (r *DeliveryRouter) Reply(ctx context.Context, channel messaging.ChannelName, userID, customerID, appointmentID int64, text string) messaging.SendResult {
	id := messaging.Identity{Channel: channel, UserID: userID}
	log := r.log.WithFields(logrus.Fields{"channel": channel, "recipient": userID})
	send := r.sendWithRetry(ctx, id, text, log)
	r.metrics.RecordDelivery(channel, send.Outcome)
	if send.Outcome == messaging.OutcomeOK {
		r.appendLog(ctx, customerID, appointmentID, channel, text, send.MessageID, r.now().UTC())
	}
	return send.SendResult
}

// recipient picks the managed bot when the customer opted in, the direct agent otherwise.
func (r *DeliveryRouter) recipient(ctx context.Context, in Intent) (messaging.Identity, error) {
	phone := customer.NormalizePhone(in.Phone())
	if phone == "" {
		return messaging.Identity{}, fmt.Errorf("intent %s has no phone", in)
	}

	link, err := r.links.GetByPhone(ctx, phone)
	if err != nil && !errors.Is(err, idb.ErrLinkNotFound) {
		return messaging.Identity{}, storageError("get customer link", err)
	}
	if link.UsesBot() && r.channels.Bot != nil {
		// opt-in only knows the phone; attribute the chat so replies land in the customer's history
		if !link.CustomerID.Valid && in.CustomerID() != 0 {
			if err := r.links.SaveCustomerID(ctx, phone, in.CustomerID()); err != nil {
				return messaging.Identity{}, storageError("save customer id on link", err)
			}
		}
		return messaging.Identity{Channel: messaging.ChannelBot, UserID: link.BotChatID.Int64}, nil
	}

	if r.channels.Agent == nil {
		return messaging.Identity{}, fmt.Errorf("customer %s has not opted into the bot and no agent channel is configured", phone)
	}
	if link != nil && link.TelegramUserID.Valid {
		return messaging.Identity{
			Channel:  messaging.ChannelAgent,
			UserID:   link.TelegramUserID.Int64,
			Username: link.TelegramUsername.String,
		}, nil
	}
	if r.channels.Resolver == nil {
		return messaging.Identity{}, fmt.Errorf("no resolver for %s", phone)
	}

	rr := r.channels.Resolver.ResolveIdentity(ctx, phone)
	if rr.Outcome != messaging.OutcomeOK {
		if rr.Err != nil {
			return messaging.Identity{}, fmt.Errorf("resolve %s: %s: %w", phone, rr.Outcome, rr.Err)
		}
		return messaging.Identity{}, fmt.Errorf("resolve %s: %s", phone, rr.Outcome)
	}
	if err := r.links.SaveAgentIdentity(ctx, phone, in.CustomerID(), rr.Identity.UserID, rr.Identity.Username); err != nil {
		return messaging.Identity{}, storageError("save agent identity", err)
	}
	rr.Identity.Channel = messaging.ChannelAgent
	return rr.Identity, nil
}

type sendAttempt struct {
	messaging.SendResult
	retried bool
}

func (r *DeliveryRouter) sender(channel messaging.ChannelName) messaging.Sender {
	switch channel {
	case messaging.ChannelBot:
		return r.channels.Bot
	case messaging.ChannelAgent:
		return r.channels.Agent
	}
	return nil
}

// sendWithRetry retries exactly once after a rate limit, sleeping the server-specified wait.
func (r *DeliveryRouter) sendWithRetry(ctx context.Context, id messaging.Identity, text string, log *logrus.Entry) sendAttempt {
	s := r.sender(id.Channel)
	if s == nil {
		return sendAttempt{SendResult: messaging.Failed(fmt.Errorf("channel %s is not configured", id.Channel))}
	}

	res := s.Send(ctx, id.UserID, text)
	if res.Outcome != messaging.OutcomeRateLimited {
		return sendAttempt{SendResult: res}
	}

	wait := res.RetryAfter
	if wait > r.maxRetryWait {
		log.WithField("retry_after", wait.String()).Warn("Rate limit wait exceeds the cap, giving up this cycle")
		return sendAttempt{SendResult: res}
	}

	log.WithField("retry_after", wait.String()).Warn("Rate limited, retrying once")
	r.metrics.RecordRateLimitRetry(id.Channel)
	if err := r.sleep(ctx, wait); err != nil {
		return sendAttempt{SendResult: messaging.Failed(err), retried: false}
	}
	return sendAttempt{SendResult: s.Send(ctx, id.UserID, text), retried: true}
}

// appendLog writes the audit trail. Failures are logged only.
func (r *DeliveryRouter) appendLog(ctx context.Context, customerID, appointmentID int64, channel messaging.ChannelName, text string, messageID int64, at time.Time) {
	m := conversation.NewMessage(customerID, conversation.DirectionOutgoing, string(channel), text, at)
	if appointmentID != 0 {
		m.AppointmentID = sql.NullInt64{Int64: appointmentID, Valid: true}
	}
	if messageID != 0 {
		m.ExternalMessageID = sql.NullInt64{Int64: messageID, Valid: true}
	}
	if err := r.convo.Append(ctx, m); err != nil {
		r.log.WithError(err).WithField("customer_id", customerID).Warn("Failed to append conversation log")
	}
}
