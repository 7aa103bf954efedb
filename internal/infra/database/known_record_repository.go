package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"booking_reminder_bot/internal/domain/appointment"
)

type KnownRecordRepository struct {
	db *DB
}

func NewKnownRecordRepository(db *DB) *KnownRecordRepository {
	return &KnownRecordRepository{db: db}
}

const knownRecordColumns = `appointment_id, customer_id, customer_phone, customer_name, service_name, staff_name,
		scheduled_at, status, fingerprint, created_at, updated_at`

func scanKnownRecord(row interface{ Scan(...any) error }) (*appointment.KnownRecord, error) {
	rec := &appointment.KnownRecord{}
	err := row.Scan(
		&rec.AppointmentID, &rec.CustomerID, &rec.CustomerPhone, &rec.CustomerName,
		&rec.ServiceName, &rec.StaffName, &rec.ScheduledAt, &rec.Status, &rec.Fingerprint,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.ScheduledAt = rec.ScheduledAt.UTC()
	return rec, nil
}

func (r *KnownRecordRepository) Get(ctx context.Context, appointmentID int64) (*appointment.KnownRecord, error) {
	query := r.db.Rebind(`SELECT ` + knownRecordColumns + ` FROM known_records WHERE appointment_id = ?`)
	rec, err := scanKnownRecord(r.db.QueryRowContext(ctx, query, appointmentID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrKnownRecordNotFound
		}
		return nil, fmt.Errorf("error getting known record %d: %w", appointmentID, err)
	}
	return rec, nil
}

// Upsert inserts or replaces the snapshot. A deleted record keeps its status.
func (r *KnownRecordRepository) Upsert(ctx context.Context, rec *appointment.KnownRecord) error {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = now
	}
	if rec.Status == "" {
		rec.Status = appointment.StatusActive
	}

	query := r.db.Rebind(`INSERT INTO known_records (` + knownRecordColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (appointment_id) DO UPDATE SET
			customer_id = excluded.customer_id,
			customer_phone = excluded.customer_phone,
			customer_name = excluded.customer_name,
			service_name = excluded.service_name,
			staff_name = excluded.staff_name,
			scheduled_at = excluded.scheduled_at,
			status = CASE WHEN known_records.status = 'deleted' THEN known_records.status ELSE excluded.status END,
			fingerprint = excluded.fingerprint,
			updated_at = excluded.updated_at`)
	_, err := r.db.ExecContext(ctx, query,
		rec.AppointmentID, rec.CustomerID, rec.CustomerPhone, rec.CustomerName,
		rec.ServiceName, rec.StaffName, rec.ScheduledAt.UTC(), rec.Status, rec.Fingerprint,
		rec.CreatedAt.UTC(), rec.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("error upserting known record %d: %w", rec.AppointmentID, err)
	}
	return nil
}

// MarkDeleted flips an active record to deleted. Marking twice is a no-op.
func (r *KnownRecordRepository) MarkDeleted(ctx context.Context, appointmentID int64, at time.Time) error {
	query := r.db.Rebind(`UPDATE known_records SET status = ?, updated_at = ? WHERE appointment_id = ? AND status = ?`)
	res, err := r.db.ExecContext(ctx, query, appointment.StatusDeleted, at.UTC(), appointmentID, appointment.StatusActive)
	if err != nil {
		return fmt.Errorf("error marking known record %d deleted: %w", appointmentID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error checking rows affected for known record %d: %w", appointmentID, err)
	}
	if n == 0 {
		if _, err := r.Get(ctx, appointmentID); err != nil {
			return err
		}
	}
	return nil
}

func (r *KnownRecordRepository) ListActiveScheduledBetween(ctx context.Context, from, to time.Time) ([]*appointment.KnownRecord, error) {
	query := r.db.Rebind(`SELECT ` + knownRecordColumns + ` FROM known_records
		WHERE status = ? AND scheduled_at >= ? AND scheduled_at <= ?
		ORDER BY scheduled_at ASC, appointment_id ASC`)
	rows, err := r.db.QueryContext(ctx, query, appointment.StatusActive, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("error listing active known records: %w", err)
	}
	defer rows.Close()

	var records []*appointment.KnownRecord
	for rows.Next() {
		rec, err := scanKnownRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning known record: %w", err)
		}
		records = append(records, rec)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating known records: %w", err)
	}
	return records, nil
}

func (r *KnownRecordRepository) CountByStatus(ctx context.Context) (map[appointment.Status]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM known_records GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("error counting known records: %w", err)
	}
	defer rows.Close()

	counts := map[appointment.Status]int{}
	for rows.Next() {
		var status appointment.Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("error scanning known record count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
