// internal/app/notification_service.go
package app

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"booking_reminder_bot/internal/domain/appointment"
	"booking_reminder_bot/internal/domain/booking"
	"booking_reminder_bot/internal/domain/messaging"
)

// NotificationService defines the periodic jobs driven by the scheduler.
type NotificationService interface {
	// RunReconciliation syncs the upcoming window and notifies about created, changed
	// and cancelled appointments.
	RunReconciliation(ctx context.Context) (*ReconcileReport, error)
	ProcessAppointmentReminders(ctx context.Context) error
	ProcessReviewRequests(ctx context.Context) error
	ProcessLostCustomers(ctx context.Context) error
}

// Windows configures how far the jobs look ahead and back.
type Windows struct {
	Horizon  time.Duration // reconcile and reminder look-ahead
	Lookback time.Duration // review look-back
}

// DispatchSummary counts delivery outcomes of one job.
type DispatchSummary struct {
	Intents   int
	Delivered int
	Failed    int
}

// NotificationServiceImpl implements the NotificationService interface.
type NotificationServiceImpl struct {
	reconciler *Reconciler
	upcoming   *Evaluator
	reviews    *Evaluator
	roster     *RosterEvaluator
	records    appointment.Repository
	source     booking.Source
	router     *DeliveryRouter
	windows    Windows
	log        *logrus.Entry
	now        func() time.Time
}

func NewNotificationServiceImpl(
	reconciler *Reconciler,
	upcoming *Evaluator,
	reviews *Evaluator,
	roster *RosterEvaluator,
	records appointment.Repository,
	source booking.Source,
	router *DeliveryRouter,
	windows Windows,
	log *logrus.Entry,
) *NotificationServiceImpl {
	return &NotificationServiceImpl{
		reconciler: reconciler,
		upcoming:   upcoming,
		reviews:    reviews,
		roster:     roster,
		records:    records,
		source:     source,
		router:     router,
		windows:    windows,
		log:        log,
		now:        time.Now,
	}
}

// RunReconciliation reconciles [now, now+horizon] and delivers the resulting intents.
func (s *NotificationServiceImpl) RunReconciliation(ctx context.Context) (*ReconcileReport, error) {
	now := s.now()
	report, err := s.reconciler.Reconcile(ctx, now, now.Add(s.windows.Horizon))
	if err != nil {
		return nil, err
	}
	if _, err := s.dispatch(ctx, "reconcile", report.Intents); err != nil {
		return report, err
	}
	return report, nil
}

// ProcessAppointmentReminders sends the confirmation and pre-visit reminders that are due.
func (s *NotificationServiceImpl) ProcessAppointmentReminders(ctx context.Context) error {
	now := s.now()
	records, err := s.records.ListActiveScheduledBetween(ctx, now, now.Add(s.windows.Horizon))
	if err != nil {
		return storageError("list upcoming known records", err)
	}
	intents, err := s.upcoming.Evaluate(ctx, records, now)
	if err != nil {
		return err
	}
	_, err = s.dispatch(ctx, "reminders", intents)
	return err
}

// ProcessReviewRequests asks for a review after recent visits. Past visits are
// outside the reconcile window, so each candidate is re-checked at the booking
// source before the request goes out.
func (s *NotificationServiceImpl) ProcessReviewRequests(ctx context.Context) error {
	now := s.now()
	records, err := s.records.ListActiveScheduledBetween(ctx, now.Add(-s.windows.Lookback), now)
	if err != nil {
		return storageError("list recent known records", err)
	}
	intents, err := s.reviews.Evaluate(ctx, records, now)
	if err != nil {
		return err
	}
	_, err = s.dispatch(ctx, "reviews", s.stillBooked(ctx, intents))
	return err
}

// stillBooked drops intents whose appointment is gone at the source. A failed
// lookup defers the intent to the next pass.
func (s *NotificationServiceImpl) stillBooked(ctx context.Context, intents []Intent) []Intent {
	kept := intents[:0]
	for _, in := range intents {
		id := in.Appointment.AppointmentID
		rec, err := s.source.GetAppointment(ctx, id)
		switch {
		case errors.Is(err, booking.ErrAppointmentNotFound):
			s.log.WithField("appointment_id", id).Info("Appointment removed at source, review skipped")
			continue
		case err != nil:
			s.log.WithError(err).WithField("appointment_id", id).Warn("Could not verify appointment, review deferred")
			continue
		case rec.Deleted:
			s.log.WithField("appointment_id", id).Info("Appointment cancelled at source, review skipped")
			continue
		}
		kept = append(kept, in)
	}
	return kept
}

// ProcessLostCustomers pages through the roster and nudges customers who have not
// visited for a while. Pages already processed stay processed if a later fetch fails.
func (s *NotificationServiceImpl) ProcessLostCustomers(ctx context.Context) error {
	now := s.now()
	pageSize := s.source.PageSize()
	seen := 0
	for page := 1; page <= maxPages; page++ {
		p, err := s.source.ListCustomers(ctx, page)
		if err != nil {
			return fetchError("list customers", err)
		}
		seen += len(p.Customers)

		intents, err := s.roster.EvaluateRoster(ctx, p.Customers, now)
		if err != nil {
			return err
		}
		if _, err := s.dispatch(ctx, "lost_customers", intents); err != nil {
			return err
		}

		if len(p.Customers) == 0 || (pageSize > 0 && len(p.Customers) < pageSize) {
			break
		}
		if p.TotalCount > 0 && seen >= p.TotalCount {
			break
		}
	}
	s.log.WithField("customers", seen).Info("Lost customer pass finished")
	return nil
}

// dispatch delivers intents in order. Only storage failures stop it.
func (s *NotificationServiceImpl) dispatch(ctx context.Context, job string, intents []Intent) (DispatchSummary, error) {
	sum := DispatchSummary{Intents: len(intents)}
	for _, in := range intents {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		res, err := s.router.Deliver(ctx, in)
		if err != nil {
			return sum, err
		}
		if res.Outcome == messaging.OutcomeOK {
			sum.Delivered++
		} else {
			sum.Failed++
		}
	}
	if sum.Intents > 0 {
		s.log.WithFields(logrus.Fields{
			"job":       job,
			"intents":   sum.Intents,
			"delivered": sum.Delivered,
			"failed":    sum.Failed,
		}).Info("Dispatched notifications")
	}
	return sum, nil
}
