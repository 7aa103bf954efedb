package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"booking_reminder_bot/internal/domain/reminder"
)

// ReminderRepository backs both the sent-reminder dedup store and pending confirmations.
type ReminderRepository struct {
	db *DB
}

func NewReminderRepository(db *DB) *ReminderRepository {
	return &ReminderRepository{db: db}
}

// --- SentReminder Methods ---

func (r *ReminderRepository) IsSent(ctx context.Context, key reminder.Key) (bool, error) {
	query := r.db.Rebind(`SELECT 1 FROM sent_reminders WHERE subject_id = ? AND kind = ?`)
	var one int
	err := r.db.QueryRowContext(ctx, query, key.SubjectID, string(key.Kind)).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("error checking sent reminder %s: %w", key, err)
	}
	return true, nil
}

func (r *ReminderRepository) MarkSent(ctx context.Context, sr *reminder.SentReminder) error {
	if sr.SentAt.IsZero() {
		sr.SentAt = time.Now().UTC()
	}
	query := r.db.Rebind(`INSERT INTO sent_reminders (subject_id, kind, sent_at, message_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (subject_id, kind) DO UPDATE SET
			sent_at = excluded.sent_at,
			message_id = excluded.message_id`)
	_, err := r.db.ExecContext(ctx, query, sr.Key.SubjectID, string(sr.Key.Kind), sr.SentAt.UTC(), sr.MessageID)
	if err != nil {
		return fmt.Errorf("error marking reminder %s sent: %w", sr.Key, err)
	}
	return nil
}

func (r *ReminderRepository) CountSent(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sent_reminders`).Scan(&n); err != nil {
		return 0, fmt.Errorf("error counting sent reminders: %w", err)
	}
	return n, nil
}

// --- PendingConfirmation Methods ---

func (r *ReminderRepository) UpsertPending(ctx context.Context, pc *reminder.PendingConfirmation) error {
	if pc.CreatedAt.IsZero() {
		pc.CreatedAt = time.Now().UTC()
	}
	query := r.db.Rebind(`INSERT INTO pending_confirmations (recipient_id, channel, appointment_id, customer_id, scheduled_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (recipient_id) DO UPDATE SET
			channel = excluded.channel,
			appointment_id = excluded.appointment_id,
			customer_id = excluded.customer_id,
			scheduled_at = excluded.scheduled_at,
			created_at = excluded.created_at`)
	_, err := r.db.ExecContext(ctx, query, pc.RecipientID, pc.Channel, pc.AppointmentID, pc.CustomerID,
		pc.ScheduledAt.UTC(), pc.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("error saving pending confirmation for recipient %d: %w", pc.RecipientID, err)
	}
	return nil
}

func (r *ReminderRepository) GetPending(ctx context.Context, recipientID int64) (*reminder.PendingConfirmation, error) {
	query := r.db.Rebind(`SELECT recipient_id, channel, appointment_id, customer_id, scheduled_at, created_at
		FROM pending_confirmations WHERE recipient_id = ?`)
	pc := &reminder.PendingConfirmation{}
	err := r.db.QueryRowContext(ctx, query, recipientID).Scan(
		&pc.RecipientID, &pc.Channel, &pc.AppointmentID, &pc.CustomerID, &pc.ScheduledAt, &pc.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPendingConfirmationNotFound
		}
		return nil, fmt.Errorf("error getting pending confirmation for recipient %d: %w", recipientID, err)
	}
	pc.ScheduledAt = pc.ScheduledAt.UTC()
	return pc, nil
}

// DeletePending removes the entry only if it still points at appointmentID,
// so a newer request that replaced it survives.
func (r *ReminderRepository) DeletePending(ctx context.Context, recipientID int64, appointmentID int64) error {
	query := r.db.Rebind(`DELETE FROM pending_confirmations WHERE recipient_id = ? AND appointment_id = ?`)
	if _, err := r.db.ExecContext(ctx, query, recipientID, appointmentID); err != nil {
		return fmt.Errorf("error deleting pending confirmation for recipient %d: %w", recipientID, err)
	}
	return nil
}

func (r *ReminderRepository) CountPending(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_confirmations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("error counting pending confirmations: %w", err)
	}
	return n, nil
}
