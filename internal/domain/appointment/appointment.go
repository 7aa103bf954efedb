// internal/domain/appointment/appointment.go
package appointment

import (
	"time"
)

// Record is an appointment as reported by the booking source on a single poll.
// It is never persisted as-is; the reconciler turns it into a KnownRecord.
type Record struct {
	ID            int64
	CustomerID    int64
	CustomerPhone string
	CustomerName  string
	StaffID       int64
	StaffName     string
	ServiceIDs    []int64 // in the order the booking source lists them
	ServiceNames  []string
	ScheduledAt   time.Time
	Deleted       bool
}

// Status of a known appointment. Transitions only go from active to deleted.
type Status string

const (
	StatusActive  Status = "active"
	StatusDeleted Status = "deleted"
)

// KnownRecord is the last observed state of an appointment.
// Corresponds to the 'known_records' table.
type KnownRecord struct {
	AppointmentID int64
	CustomerID    int64
	CustomerPhone string
	CustomerName  string
	ServiceName   string // comma-joined service titles
	StaffName     string
	ScheduledAt   time.Time
	Status        Status
	Fingerprint   string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsActive reports whether the record still represents a live appointment.
func (k *KnownRecord) IsActive() bool {
	return k.Status == StatusActive
}

// Snapshot builds the persisted view of a fetched record.
func Snapshot(r Record, fingerprint string) *KnownRecord {
	return &KnownRecord{
		AppointmentID: r.ID,
		CustomerID:    r.CustomerID,
		CustomerPhone: r.CustomerPhone,
		CustomerName:  r.CustomerName,
		ServiceName:   JoinServiceNames(r.ServiceNames),
		StaffName:     r.StaffName,
		ScheduledAt:   r.ScheduledAt,
		Status:        StatusActive,
		Fingerprint:   fingerprint,
	}
}

// JoinServiceNames renders service titles the way they appear in messages.
func JoinServiceNames(names []string) string {
	out := ""
	for _, n := range names {
		if n == "" {
			continue
		}
		if out != "" {
			out += ", "
		}
		out += n
	}
	return out
}
