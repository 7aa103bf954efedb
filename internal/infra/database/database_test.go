package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"booking_reminder_bot/internal/domain/appointment"
	"booking_reminder_bot/internal/domain/conversation"
	"booking_reminder_bot/internal/domain/reminder"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(DriverSQLite, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	m, err := NewMigrator(db, logrus.NewEntry(logrus.New()))
	require.NoError(t, err)
	_, err = m.Up(context.Background())
	require.NoError(t, err)
	return db
}

func TestRebind(t *testing.T) {
	pg := &DB{driver: DriverPostgres}
	lite := &DB{driver: DriverSQLite}
	q := "SELECT * FROM t WHERE a = ? AND b = ?"

	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", pg.Rebind(q))
	assert.Equal(t, q, lite.Rebind(q))
}

func TestParseDriver(t *testing.T) {
	d, err := ParseDriver("")
	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, d)

	d, err = ParseDriver("SQLite3")
	require.NoError(t, err)
	assert.Equal(t, DriverSQLite, d)

	_, err = ParseDriver("mysql")
	assert.Error(t, err)
}

func TestMigratorIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	m, err := NewMigrator(db, logrus.NewEntry(logrus.New()))
	require.NoError(t, err)
	applied, err := m.Up(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, applied)

	migrations, err := m.Migrations()
	require.NoError(t, err)
	version, err := m.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, migrations[len(migrations)-1].Version, version)
}

func TestKnownRecordRepository(t *testing.T) {
	db := openTestDB(t)
	repo := NewKnownRecordRepository(db)
	ctx := context.Background()
	at := time.Date(2026, 10, 20, 12, 30, 0, 0, time.UTC)

	_, err := repo.Get(ctx, 42)
	assert.ErrorIs(t, err, ErrKnownRecordNotFound)

	rec := &appointment.KnownRecord{
		AppointmentID: 42,
		CustomerID:    7,
		CustomerPhone: "+79990001122",
		CustomerName:  "Anna",
		ServiceName:   "Haircut",
		StaffName:     "Olga",
		ScheduledAt:   at,
		Status:        appointment.StatusActive,
		Fingerprint:   "fp1",
	}
	require.NoError(t, repo.Upsert(ctx, rec))

	got, err := repo.Get(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "fp1", got.Fingerprint)
	assert.True(t, got.ScheduledAt.Equal(at))
	assert.True(t, got.IsActive())

	rec.Fingerprint = "fp2"
	rec.ScheduledAt = at.Add(time.Hour)
	require.NoError(t, repo.Upsert(ctx, rec))
	got, err = repo.Get(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "fp2", got.Fingerprint)

	list, err := repo.ListActiveScheduledBetween(ctx, at, at.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(42), list[0].AppointmentID)

	require.NoError(t, repo.MarkDeleted(ctx, 42, at))
	require.NoError(t, repo.MarkDeleted(ctx, 42, at))
	assert.ErrorIs(t, repo.MarkDeleted(ctx, 999, at), ErrKnownRecordNotFound)

	// a later upsert never resurrects a deleted record
	rec.Status = appointment.StatusActive
	require.NoError(t, repo.Upsert(ctx, rec))
	got, err = repo.Get(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusDeleted, got.Status)

	list, err = repo.ListActiveScheduledBetween(ctx, at, at.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, list)

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[appointment.StatusDeleted])
}

func TestReminderRepository(t *testing.T) {
	db := openTestDB(t)
	repo := NewReminderRepository(db)
	ctx := context.Background()
	key := reminder.Key{Kind: reminder.KindConfirmation, SubjectID: 42}

	sent, err := repo.IsSent(ctx, key)
	require.NoError(t, err)
	assert.False(t, sent)

	require.NoError(t, repo.MarkSent(ctx, &reminder.SentReminder{Key: key}))
	require.NoError(t, repo.MarkSent(ctx, &reminder.SentReminder{Key: key}))

	sent, err = repo.IsSent(ctx, key)
	require.NoError(t, err)
	assert.True(t, sent)

	sent, err = repo.IsSent(ctx, reminder.Key{Kind: reminder.KindPreVisit, SubjectID: 42})
	require.NoError(t, err)
	assert.False(t, sent)

	n, err := repo.CountSent(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPendingConfirmations(t *testing.T) {
	db := openTestDB(t)
	repo := NewReminderRepository(db)
	ctx := context.Background()
	at := time.Date(2026, 10, 20, 12, 30, 0, 0, time.UTC)

	_, err := repo.GetPending(ctx, 100)
	assert.ErrorIs(t, err, ErrPendingConfirmationNotFound)

	require.NoError(t, repo.UpsertPending(ctx, &reminder.PendingConfirmation{
		RecipientID: 100, Channel: "bot", AppointmentID: 1, CustomerID: 7, ScheduledAt: at,
	}))
	require.NoError(t, repo.UpsertPending(ctx, &reminder.PendingConfirmation{
		RecipientID: 100, Channel: "bot", AppointmentID: 2, CustomerID: 7, ScheduledAt: at,
	}))

	pc, err := repo.GetPending(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(2), pc.AppointmentID)

	// stale appointment id leaves the newer request in place
	require.NoError(t, repo.DeletePending(ctx, 100, 1))
	n, err := repo.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, repo.DeletePending(ctx, 100, 2))
	_, err = repo.GetPending(ctx, 100)
	assert.ErrorIs(t, err, ErrPendingConfirmationNotFound)
}

func TestCustomerLinkRepository(t *testing.T) {
	db := openTestDB(t)
	repo := NewCustomerLinkRepository(db)
	ctx := context.Background()

	_, err := repo.GetByPhone(ctx, "+79990001122")
	assert.ErrorIs(t, err, ErrLinkNotFound)

	require.NoError(t, repo.SaveAgentIdentity(ctx, "+79990001122", 7, 555, "anna"))
	link, err := repo.GetByPhone(ctx, "+79990001122")
	require.NoError(t, err)
	assert.Equal(t, int64(555), link.TelegramUserID.Int64)
	assert.Equal(t, "anna", link.TelegramUsername.String)
	assert.False(t, link.UsesBot())

	require.NoError(t, repo.SaveBotChat(ctx, "+79990001122", 9001))
	link, err = repo.GetByTelegramID(ctx, 9001)
	require.NoError(t, err)
	assert.True(t, link.UsesBot())
	assert.Equal(t, int64(7), link.CustomerID.Int64)

	// unknown customer id keeps the stored one
	require.NoError(t, repo.SaveAgentIdentity(ctx, "+79990001122", 0, 556, ""))
	link, err = repo.GetByTelegramID(ctx, 556)
	require.NoError(t, err)
	assert.Equal(t, int64(7), link.CustomerID.Int64)
	assert.False(t, link.TelegramUsername.Valid)
}

func TestCustomerLinkSaveCustomerID(t *testing.T) {
	db := openTestDB(t)
	repo := NewCustomerLinkRepository(db)
	ctx := context.Background()

	// no link yet: nothing to attribute
	require.NoError(t, repo.SaveCustomerID(ctx, "+79990001122", 5010))
	_, err := repo.GetByPhone(ctx, "+79990001122")
	assert.ErrorIs(t, err, ErrLinkNotFound)

	require.NoError(t, repo.SaveBotChat(ctx, "+79990001122", 9001))
	require.NoError(t, repo.SaveCustomerID(ctx, "+79990001122", 0))
	link, err := repo.GetByPhone(ctx, "+79990001122")
	require.NoError(t, err)
	assert.False(t, link.CustomerID.Valid)

	require.NoError(t, repo.SaveCustomerID(ctx, "+79990001122", 5010))
	require.NoError(t, repo.SaveCustomerID(ctx, "+79990001122", 42))
	link, err = repo.GetByTelegramID(ctx, 9001)
	require.NoError(t, err)
	assert.Equal(t, int64(5010), link.CustomerID.Int64)
}

func TestConversationRepository(t *testing.T) {
	db := openTestDB(t)
	repo := NewConversationRepository(db)
	ctx := context.Background()
	base := time.Date(2026, 10, 20, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Append(ctx, conversation.NewMessage(7, conversation.DirectionOutgoing, "bot", "first", base)))
	require.NoError(t, repo.Append(ctx, conversation.NewMessage(7, conversation.DirectionIncoming, "bot", "second", base.Add(time.Minute))))
	require.NoError(t, repo.Append(ctx, conversation.NewMessage(8, conversation.DirectionOutgoing, "agent", "other", base)))

	msgs, err := repo.ListByCustomer(ctx, 7, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "second", msgs[0].Text)
	assert.Equal(t, conversation.DirectionIncoming, msgs[0].Direction)

	msgs, err = repo.ListByCustomer(ctx, 7, 1)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}
