package appointment

import (
	"context"
	"time"
)

// Repository persists KnownRecords. Only the reconciler writes through it.
type Repository interface {
	Get(ctx context.Context, appointmentID int64) (*KnownRecord, error)
	Upsert(ctx context.Context, rec *KnownRecord) error
	MarkDeleted(ctx context.Context, appointmentID int64, at time.Time) error
	// ListActiveScheduledBetween returns active records with from <= scheduled_at <= to.
	ListActiveScheduledBetween(ctx context.Context, from, to time.Time) ([]*KnownRecord, error)
	CountByStatus(ctx context.Context) (map[Status]int, error)
}
