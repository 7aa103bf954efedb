// internal/domain/reminder/sent.go
package reminder

import (
	"database/sql"
	"time"
)

// SentReminder records a successful delivery.
// Corresponds to the 'sent_reminders' table, unique on (subject_id, kind).
type SentReminder struct {
	Key       Key
	SentAt    time.Time
	MessageID sql.NullInt64 // outbound message id, when the channel returns one
}

// PendingConfirmation is a confirmation request waiting for the customer's reply.
// Keyed by the recipient's messaging user id; a newer request replaces an older one.
type PendingConfirmation struct {
	RecipientID   int64
	Channel       string
	AppointmentID int64
	CustomerID    int64
	ScheduledAt   time.Time
	CreatedAt     time.Time
}
