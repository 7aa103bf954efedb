package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"booking_reminder_bot/internal/domain/appointment"
	"booking_reminder_bot/internal/domain/booking"
	idb "booking_reminder_bot/internal/infra/database"
)

// maxPages guards against a source that never returns a short page.
const maxPages = 500

// Classification counters of one reconciliation.
const (
	ClassNew        = "new"
	ClassChanged    = "changed"
	ClassUnchanged  = "unchanged"
	ClassDeleted    = "deleted"
	ClassReappeared = "reappeared"
)

// ReconcileReport summarises one reconciliation.
type ReconcileReport struct {
	WindowStart time.Time
	WindowEnd   time.Time
	Fetched     int
	Counts      map[string]int
	Seeding     bool // first run since start: created intents were suppressed
	Intents     []Intent
}

func (r *ReconcileReport) add(class string) {
	r.Counts[class]++
}

// Reconciler diffs the booking source against the known-record store.
// It is the only writer of known records.
type Reconciler struct {
	source  booking.Source
	records appointment.Repository
	log     *logrus.Entry
	metrics Recorder
	now     func() time.Time

	mu     sync.Mutex
	seeded bool
}

func NewReconciler(source booking.Source, records appointment.Repository, log *logrus.Entry) *Reconciler {
	return &Reconciler{
		source:  source,
		records: records,
		log:     log,
		metrics: nopRecorder{},
		now:     time.Now,
	}
}

// SetRecorder replaces the metrics sink.
func (r *Reconciler) SetRecorder(m Recorder) {
	r.metrics = m
}

// Seeded reports whether a reconciliation has completed since start.
func (r *Reconciler) Seeded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seeded
}

// Reconcile fetches [start, end] from the source, updates the store and returns the
// intents for new, changed and vanished appointments. Nothing is written if the fetch fails.
func (r *Reconciler) Reconcile(ctx context.Context, start, end time.Time) (*ReconcileReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fetched, err := r.fetchAll(ctx, start, end)
	if err != nil {
		return nil, err
	}

	now := r.now().UTC()
	report := &ReconcileReport{
		WindowStart: start,
		WindowEnd:   end,
		Fetched:     len(fetched),
		Counts:      map[string]int{},
		Seeding:     !r.seeded,
	}

	live := make(map[int64]struct{}, len(fetched))
	for _, rec := range fetched {
		if rec.Deleted {
			continue
		}
		if _, dup := live[rec.ID]; dup {
			continue
		}
		live[rec.ID] = struct{}{}

		// the source filters by calendar date, so the edges of the listing can
		// fall outside the window; such records only update what is already known
		inWindow := !rec.ScheduledAt.Before(start) && !rec.ScheduledAt.After(end)
		if err := r.classify(ctx, rec, inWindow, now, report); err != nil {
			return nil, err
		}
	}

	// Runs after every fetched record is classified so a changed record is never
	// mistaken for a vanished one.
	candidates, err := r.records.ListActiveScheduledBetween(ctx, start, end)
	if err != nil {
		return nil, storageError("list active known records", err)
	}
	for _, known := range candidates {
		if _, ok := live[known.AppointmentID]; ok {
			continue
		}
		if err := r.resolveMissing(ctx, known, now, report); err != nil {
			return nil, err
		}
	}

	r.seeded = true
	for class, n := range report.Counts {
		r.metrics.RecordClassification(class, n)
	}

	r.log.WithFields(logrus.Fields{
		"fetched":   report.Fetched,
		"new":       report.Counts[ClassNew],
		"changed":   report.Counts[ClassChanged],
		"deleted":   report.Counts[ClassDeleted],
		"unchanged": report.Counts[ClassUnchanged],
		"intents":   len(report.Intents),
		"seeding":   report.Seeding,
	}).Info("Reconciliation finished")
	return report, nil
}

func (r *Reconciler) fetchAll(ctx context.Context, start, end time.Time) ([]appointment.Record, error) {
	var all []appointment.Record
	seen := 0
	pageSize := r.source.PageSize()
	for page := 1; page <= maxPages; page++ {
		p, err := r.source.ListAppointments(ctx, start, end, page)
		if err != nil {
			return nil, fetchError("list appointments", err)
		}
		all = append(all, p.Records...)

		n := len(p.Records) + p.Skipped
		seen += n
		if n == 0 || (pageSize > 0 && n < pageSize) {
			break
		}
		if p.TotalCount > 0 && seen >= p.TotalCount {
			break
		}
	}
	return all, nil
}

func (r *Reconciler) classify(ctx context.Context, rec appointment.Record, inWindow bool, now time.Time, report *ReconcileReport) error {
	fp := appointment.Fingerprint(rec)
	known, err := r.records.Get(ctx, rec.ID)
	switch {
	case errors.Is(err, idb.ErrKnownRecordNotFound) && !inWindow:
		return nil
	case errors.Is(err, idb.ErrKnownRecordNotFound):
		snap := appointment.Snapshot(rec, fp)
		snap.CreatedAt, snap.UpdatedAt = now, now
		if err := r.records.Upsert(ctx, snap); err != nil {
			return storageError("insert known record", err)
		}
		report.add(ClassNew)
		if !report.Seeding {
			report.Intents = append(report.Intents, LifecycleIntent(EventCreated, snap))
		}
		return nil
	case err != nil:
		return storageError("get known record", err)
	}

	if !known.IsActive() {
		// status never goes back to active
		report.add(ClassReappeared)
		r.log.WithField("appointment_id", rec.ID).Warn("Deleted appointment reappeared at the booking source, ignoring")
		return nil
	}

	if known.Fingerprint == fp {
		report.add(ClassUnchanged)
		return nil
	}

	snap := appointment.Snapshot(rec, fp)
	snap.CreatedAt, snap.UpdatedAt = known.CreatedAt, now
	if err := r.records.Upsert(ctx, snap); err != nil {
		return storageError("update known record", err)
	}
	report.add(ClassChanged)
	report.Intents = append(report.Intents, LifecycleIntent(EventChanged, snap))
	return nil
}

// resolveMissing handles an active record that the window listing no longer reports.
// The source is asked directly so a reschedule out of the window is not taken for a cancellation.
func (r *Reconciler) resolveMissing(ctx context.Context, known *appointment.KnownRecord, now time.Time, report *ReconcileReport) error {
	log := r.log.WithField("appointment_id", known.AppointmentID)

	rec, err := r.source.GetAppointment(ctx, known.AppointmentID)
	switch {
	case errors.Is(err, booking.ErrAppointmentNotFound):
	case err != nil:
		// undecidable this tick; the next one retries
		log.WithError(err).Warn("Could not verify missing appointment, leaving it active")
		return nil
	case !rec.Deleted:
		return r.classify(ctx, *rec, true, now, report)
	}

	if err := r.records.MarkDeleted(ctx, known.AppointmentID, now); err != nil {
		return storageError("mark known record deleted", err)
	}
	known.Status = appointment.StatusDeleted
	known.UpdatedAt = now
	report.add(ClassDeleted)
	report.Intents = append(report.Intents, LifecycleIntent(EventCancelled, known))
	log.Info("Appointment disappeared from the booking source")
	return nil
}
