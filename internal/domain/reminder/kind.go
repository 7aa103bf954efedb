// internal/domain/reminder/kind.go
package reminder

import "fmt"

// Kind identifies a reminder class. Stored as its label in 'sent_reminders.kind'.
type Kind string

const (
	KindConfirmation Kind = "24h"    // confirmation request a day ahead
	KindPreVisit     Kind = "1h"     // pre-visit nudge
	KindReview       Kind = "review" // review ask after the visit
	KindLost21       Kind = "lost-21"
	KindLost35       Kind = "lost-35"
	KindLost65       Kind = "lost-65"
)

// IsConfirmation reports whether a delivered reminder of this kind waits for a reply.
func (k Kind) IsConfirmation() bool {
	return k == KindConfirmation
}

// IsRoster reports whether the kind is keyed by customer rather than by appointment.
func (k Kind) IsRoster() bool {
	switch k {
	case KindLost21, KindLost35, KindLost65:
		return true
	}
	return false
}

func (k Kind) String() string { return string(k) }

// Key is the dedup key: at most one successful delivery per (subject, kind).
// SubjectID is an appointment id for appointment kinds and a customer id for roster kinds.
type Key struct {
	Kind      Kind
	SubjectID int64
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%d", k.Kind, k.SubjectID)
}
