package app

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"booking_reminder_bot/internal/domain/appointment"
	"booking_reminder_bot/internal/domain/customer"
	"booking_reminder_bot/internal/domain/reminder"
)

// Evaluator matches active appointments against minute-based reminder windows.
type Evaluator struct {
	windows []reminder.Window
	sent    reminder.Repository
	log     *logrus.Entry
}

func NewEvaluator(windows []reminder.Window, sent reminder.Repository, log *logrus.Entry) *Evaluator {
	return &Evaluator{windows: windows, sent: sent, log: log}
}

// MinutesUntil is the whole number of minutes from now to at, truncated toward zero.
func MinutesUntil(at, now time.Time) int {
	return int(at.Sub(now) / time.Minute)
}

// Evaluate returns one reminder intent per record that sits inside a window and has
// not been delivered for that window's kind yet.
func (e *Evaluator) Evaluate(ctx context.Context, records []*appointment.KnownRecord, now time.Time) ([]Intent, error) {
	var intents []Intent
	for _, rec := range records {
		if !rec.IsActive() || customer.NormalizePhone(rec.CustomerPhone) == "" {
			continue
		}

		delta := MinutesUntil(rec.ScheduledAt, now)
		for _, w := range e.windows {
			if !w.Contains(delta) {
				continue
			}
			key := reminder.Key{Kind: w.Kind, SubjectID: rec.AppointmentID}
			sent, err := e.sent.IsSent(ctx, key)
			if err != nil {
				return nil, storageError("check sent reminder", err)
			}
			if sent {
				e.log.WithFields(logrus.Fields{"key": key.String(), "delta_min": delta}).Debug("Reminder already sent")
				break
			}
			intents = append(intents, ReminderIntent(w.Kind, rec))
			break
		}
	}
	return intents, nil
}

// RosterEvaluator matches customers against day-based re-engagement windows.
type RosterEvaluator struct {
	windows []reminder.Window
	sent    reminder.Repository
	loc     *time.Location
	log     *logrus.Entry
}

func NewRosterEvaluator(windows []reminder.Window, sent reminder.Repository, loc *time.Location, log *logrus.Entry) *RosterEvaluator {
	if loc == nil {
		loc = time.UTC
	}
	return &RosterEvaluator{windows: windows, sent: sent, loc: loc, log: log}
}

// DaysSince counts calendar days between the dates of last and now in loc.
func DaysSince(last, now time.Time, loc *time.Location) int {
	ly, lm, ld := last.In(loc).Date()
	ny, nm, nd := now.In(loc).Date()
	a := time.Date(ly, lm, ld, 0, 0, 0, 0, time.UTC)
	b := time.Date(ny, nm, nd, 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}

// EvaluateRoster checks windows in order; at most the first matching one applies per customer.
func (e *RosterEvaluator) EvaluateRoster(ctx context.Context, customers []customer.Customer, now time.Time) ([]Intent, error) {
	var intents []Intent
	for _, c := range customers {
		if c.LastVisit.IsZero() || c.ID == 0 || customer.NormalizePhone(c.Phone) == "" {
			continue
		}

		days := DaysSince(c.LastVisit, now, e.loc)
		for _, w := range e.windows {
			if !w.Contains(days) {
				continue
			}
			key := reminder.Key{Kind: w.Kind, SubjectID: c.ID}
			sent, err := e.sent.IsSent(ctx, key)
			if err != nil {
				return nil, storageError("check sent reminder", err)
			}
			if !sent {
				intents = append(intents, RosterIntent(w.Kind, c))
			}
			break
		}
	}
	return intents, nil
}
