package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"booking_reminder_bot/internal/app" // For NotificationService interface
)

// Job names, also used as metric labels.
const (
	JobReconcile     = "reconcile"
	JobReminders     = "reminders"
	JobReviews       = "reviews"
	JobLostCustomers = "lost_customers"
)

// Specs are the cron schedules of the four jobs.
type Specs struct {
	Reconcile     string // e.g. "@every 60s"
	Reminders     string // e.g. "@every 5m"
	Reviews       string // e.g. "@every 30m"
	LostCustomers string // e.g. "0 10 * * *" (10:00 daily)
}

// TickObserver receives tick timings. Implemented by infra/metrics.
type TickObserver interface {
	ObserveTick(job string, took time.Duration, err error)
}

type job struct {
	name    string
	spec    string
	timeout time.Duration
	run     func(ctx context.Context) error
}

// NotificationScheduler drives the jobs on cron schedules. Ticks never overlap: a
// single lock serialises every job, so no two ticks mutate the stores at once.
type NotificationScheduler struct {
	cronEngine   *cron.Cron
	notifService app.NotificationService // Using the interface
	logger       *logrus.Entry
	observer     TickObserver
	specs        Specs

	tickMu  sync.Mutex
	baseCtx context.Context
	cancel  context.CancelFunc
	onFatal func(error)
	fatal   sync.Once
}

func NewNotificationScheduler(
	notifService app.NotificationService,
	logger *logrus.Entry,
	loc *time.Location,
	specs Specs,
) *NotificationScheduler {
	if loc == nil {
		loc = time.Local
	}
	cronLog := cron.PrintfLogger(logger.WithField("subsystem", "cron"))
	ctx, cancel := context.WithCancel(context.Background())
	return &NotificationScheduler{
		cronEngine: cron.New(
			cron.WithLocation(loc),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
		notifService: notifService,
		logger:       logger,
		specs:        specs,
		baseCtx:      ctx,
		cancel:       cancel,
		onFatal:      func(error) {},
	}
}

// SetObserver wires tick metrics.
func (s *NotificationScheduler) SetObserver(o TickObserver) {
	s.observer = o
}

// OnFatal registers the supervisor hook called once when a tick hits a storage failure.
func (s *NotificationScheduler) OnFatal(fn func(error)) {
	s.onFatal = fn
}

func (s *NotificationScheduler) jobs() []job {
	return []job{
		{JobReconcile, s.specs.Reconcile, 2 * time.Minute, func(ctx context.Context) error {
			_, err := s.notifService.RunReconciliation(ctx)
			return err
		}},
		{JobReminders, s.specs.Reminders, 5 * time.Minute, s.notifService.ProcessAppointmentReminders},
		{JobReviews, s.specs.Reviews, 5 * time.Minute, s.notifService.ProcessReviewRequests},
		{JobLostCustomers, s.specs.LostCustomers, 30 * time.Minute, s.notifService.ProcessLostCustomers},
	}
}

// Start seeds the known-record store with one synchronous reconciliation, then
// registers the cron jobs. A storage failure during the seed is returned.
func (s *NotificationScheduler) Start(ctx context.Context) error {
	s.logger.Info("Starting notification scheduler...")

	jobs := s.jobs()
	for _, j := range jobs {
		if _, err := cron.ParseStandard(j.spec); err != nil {
			return fmt.Errorf("invalid cron spec %q for job %s: %w", j.spec, j.name, err)
		}
	}

	if err := s.runTick(ctx, jobs[0]); err != nil && errors.Is(err, app.ErrStorage) {
		return fmt.Errorf("initial reconciliation: %w", err)
	}

	for _, j := range jobs {
		j := j
		if _, err := s.cronEngine.AddFunc(j.spec, func() { s.tick(j) }); err != nil {
			return fmt.Errorf("could not add %s cron job: %w", j.name, err)
		}
	}

	s.cronEngine.Start()
	s.logger.WithField("jobs", len(jobs)).Info("Notification scheduler started with jobs.")
	return nil
}

// RunReconciliation runs a reconciliation outside the schedule, serialised with ticks.
func (s *NotificationScheduler) RunReconciliation(ctx context.Context) (*app.ReconcileReport, error) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()
	return s.notifService.RunReconciliation(ctx)
}

// RunOnce runs every job once, in order, and returns the first error.
func (s *NotificationScheduler) RunOnce(ctx context.Context) error {
	for _, j := range s.jobs() {
		if err := s.runTick(ctx, j); err != nil {
			return fmt.Errorf("%s: %w", j.name, err)
		}
	}
	return nil
}

func (s *NotificationScheduler) tick(j job) {
	err := s.runTick(s.baseCtx, j)
	if err != nil && errors.Is(err, app.ErrStorage) {
		s.fatal.Do(func() { s.onFatal(err) })
	}
}

func (s *NotificationScheduler) runTick(parent context.Context, j job) error {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	log := s.logger.WithFields(logrus.Fields{"job": j.name, "run_id": uuid.NewString()})
	ctx, cancel := context.WithTimeout(parent, j.timeout) // Context for the job
	defer cancel()

	start := time.Now()
	log.Debug("Tick started")
	err := j.run(ctx)
	took := time.Since(start)
	if s.observer != nil {
		s.observer.ObserveTick(j.name, took, err)
	}

	switch {
	case err == nil:
		log.WithField("duration", took.String()).Debug("Tick finished")
	case errors.Is(err, app.ErrStorage):
		log.WithError(err).Error("Tick aborted: storage unavailable")
	default:
		log.WithError(err).Warn("Tick failed, will retry on next schedule")
	}
	return err
}

// Stop prevents new ticks and waits for the one in flight to finish.
func (s *NotificationScheduler) Stop() {
	s.logger.Info("Stopping notification scheduler...")
	ctx := s.cronEngine.Stop() // Stops the scheduler from adding new jobs, waits for running jobs.
	<-ctx.Done()               // Wait for graceful shutdown
	s.cancel()
	s.logger.Info("Notification scheduler gracefully stopped.")
}
