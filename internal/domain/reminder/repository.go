// internal/domain/reminder/repository.go
package reminder

import "context"

// Repository is the dedup store. Only the delivery router writes to it.
type Repository interface {
	IsSent(ctx context.Context, key Key) (bool, error)
	// MarkSent is idempotent: marking an existing key again overwrites it.
	MarkSent(ctx context.Context, sr *SentReminder) error
	CountSent(ctx context.Context) (int, error)
}

// PendingRepository stores confirmation requests awaiting a reply.
// The router upserts, the confirmation reply handler deletes.
type PendingRepository interface {
	UpsertPending(ctx context.Context, pc *PendingConfirmation) error
	GetPending(ctx context.Context, recipientID int64) (*PendingConfirmation, error)
	DeletePending(ctx context.Context, recipientID int64, appointmentID int64) error
	CountPending(ctx context.Context) (int, error)
}
