package reminder

// Window is an inclusive tolerance range. For appointment kinds the bounds are minutes
// until the visit (negative once it has passed); for roster kinds they are days since
// the last visit.
type Window struct {
	Kind Kind
	Min  int
	Max  int
}

// Contains reports whether v lies in [Min, Max].
func (w Window) Contains(v int) bool {
	return v >= w.Min && v <= w.Max
}

// Default windows. The ranges are wide on purpose so a 60s or 5m tick always lands inside.
var (
	ConfirmationWindow = Window{Kind: KindConfirmation, Min: 1380, Max: 1500}
	PreVisitWindow     = Window{Kind: KindPreVisit, Min: 45, Max: 75}
	ReviewWindow       = Window{Kind: KindReview, Min: -180, Max: -60}

	Lost21Window = Window{Kind: KindLost21, Min: 20, Max: 22}
	Lost35Window = Window{Kind: KindLost35, Min: 34, Max: 36}
	Lost65Window = Window{Kind: KindLost65, Min: 64, Max: 66}
)

// UpcomingWindows are evaluated on the reminder tick.
func UpcomingWindows() []Window {
	return []Window{ConfirmationWindow, PreVisitWindow}
}

// ReviewWindows are evaluated on the review tick.
func ReviewWindows() []Window {
	return []Window{ReviewWindow}
}

// LostCustomerWindows are evaluated on the daily roster tick, in order.
func LostCustomerWindows() []Window {
	return []Window{Lost21Window, Lost35Window, Lost65Window}
}

// Overlaps reports whether any two windows in ws share a value.
func Overlaps(ws []Window) bool {
	for i := range ws {
		for j := i + 1; j < len(ws); j++ {
			if ws[i].Min <= ws[j].Max && ws[j].Min <= ws[i].Max {
				return true
			}
		}
	}
	return false
}
