package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"booking_reminder_bot/internal/domain/appointment"
	"booking_reminder_bot/internal/domain/customer"
	"booking_reminder_bot/internal/domain/messaging"
	"booking_reminder_bot/internal/domain/reminder"
)

type serviceFixture struct {
	*routerFixture
	source  *fakeSource
	records *fakeRecords
	svc     *NotificationServiceImpl
}

func newServiceFixture() *serviceFixture {
	rf := newRouterFixture()
	rf.resolver.identities[testPhone] = messaging.Identity{UserID: 555}
	src := &fakeSource{}
	recs := newFakeRecords()
	log := testLogger()

	rec := NewReconciler(src, recs, log)
	rec.now = func() time.Time { return testNow }
	svc := NewNotificationServiceImpl(
		rec,
		NewEvaluator(reminder.UpcomingWindows(), rf.rem, log),
		NewEvaluator(reminder.ReviewWindows(), rf.rem, log),
		NewRosterEvaluator(reminder.LostCustomerWindows(), rf.rem, time.UTC, log),
		recs, src, rf.router,
		Windows{Horizon: 48 * time.Hour, Lookback: 3 * time.Hour},
		log,
	)
	svc.now = func() time.Time { return testNow }
	return &serviceFixture{routerFixture: rf, source: src, records: recs, svc: svc}
}

func TestRunReconciliationDeliversIntents(t *testing.T) {
	f := newServiceFixture()
	ctx := context.Background()

	_, err := f.svc.RunReconciliation(ctx)
	require.NoError(t, err)

	f.source.records = []appointment.Record{record(1, testNow.Add(5*time.Hour), 1)}
	report, err := f.svc.RunReconciliation(ctx)
	require.NoError(t, err)
	assert.Len(t, report.Intents, 1)
	require.Len(t, f.agent.sent, 1)
	assert.Equal(t, "created", f.agent.sent[0].Text)
}

func TestProcessAppointmentRemindersAtMostOnce(t *testing.T) {
	f := newServiceFixture()
	ctx := context.Background()
	f.records.rows[1] = known(1, 1430*time.Minute)
	f.records.rows[1].CustomerPhone = testPhone

	for i := 0; i < 3; i++ {
		require.NoError(t, f.svc.ProcessAppointmentReminders(ctx))
	}
	assert.Len(t, f.agent.sent, 1)
	assert.Len(t, f.rem.sent, 1)
	assert.Len(t, f.rem.pending, 1)
}

func TestProcessReviewRequests(t *testing.T) {
	f := newServiceFixture()
	f.records.rows[1] = known(1, -90*time.Minute)
	f.records.rows[2] = known(2, -4*time.Hour)
	f.source.records = []appointment.Record{
		record(1, testNow.Add(-90*time.Minute), 1),
		record(2, testNow.Add(-4*time.Hour), 1),
	}

	require.NoError(t, f.svc.ProcessReviewRequests(context.Background()))
	require.Len(t, f.agent.sent, 1)
	assert.Equal(t, "review", f.agent.sent[0].Text)
}

func TestProcessReviewRequestsSkipsVisitsGoneAtSource(t *testing.T) {
	f := newServiceFixture()
	ctx := context.Background()
	f.records.rows[1] = known(1, -90*time.Minute)
	f.records.rows[2] = known(2, -100*time.Minute)
	cancelled := record(2, testNow.Add(-100*time.Minute), 1)
	cancelled.Deleted = true
	f.source.records = []appointment.Record{cancelled}

	require.NoError(t, f.svc.ProcessReviewRequests(ctx))
	assert.Empty(t, f.agent.sent)
	assert.Empty(t, f.rem.sent)
}

func TestProcessReviewRequestsDefersOnLookupError(t *testing.T) {
	f := newServiceFixture()
	ctx := context.Background()
	f.records.rows[1] = known(1, -90*time.Minute)
	f.source.records = []appointment.Record{record(1, testNow.Add(-90*time.Minute), 1)}
	f.source.getErr = errors.New("gateway timeout")

	require.NoError(t, f.svc.ProcessReviewRequests(ctx))
	assert.Empty(t, f.agent.sent)

	f.source.getErr = nil
	require.NoError(t, f.svc.ProcessReviewRequests(ctx))
	require.Len(t, f.agent.sent, 1)
	assert.Equal(t, "review", f.agent.sent[0].Text)
}

func TestProcessLostCustomersPagesThroughRoster(t *testing.T) {
	f := newServiceFixture()
	f.source.pageSize = 2
	for i := int64(1); i <= 5; i++ {
		f.source.customers = append(f.source.customers, customer.Customer{
			ID: i, Name: "C", Phone: testPhone, LastVisit: testNow.AddDate(0, 0, -21),
		})
	}

	require.NoError(t, f.svc.ProcessLostCustomers(context.Background()))
	assert.Len(t, f.agent.sent, 5)
	assert.Len(t, f.rem.sent, 5)
}

func TestProcessLostCustomersFetchError(t *testing.T) {
	f := newServiceFixture()
	f.source.listErr = errBoom

	err := f.svc.ProcessLostCustomers(context.Background())
	assert.ErrorIs(t, err, ErrTransientFetch)
}

func TestDispatchStopsOnStorageFailure(t *testing.T) {
	f := newServiceFixture()
	f.rem.failMark = true
	f.records.rows[1] = known(1, time.Hour)
	f.records.rows[2] = known(2, 61*time.Minute)

	err := f.svc.ProcessAppointmentReminders(context.Background())
	assert.ErrorIs(t, err, ErrStorage)
	assert.Equal(t, 1, f.agent.calls)
}
