package day

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Phase labels the fixed local-hour bands a day record moves through.
// Transitions are driven purely by the wall clock except the final explicit
// close, so a stale record is corrected lazily on the next read.
type Phase string

const (
	PhaseMorning   Phase = "morning"   // [00:00, 11:00)
	PhaseMidday    Phase = "midday"    // [11:00, 14:00)
	PhaseAfternoon Phase = "afternoon" // [14:00, 17:00)
	PhaseEvening   Phase = "evening"   // [17:00, 21:00)
	PhaseNight     Phase = "night"     // [21:00, 24:00)
	PhaseClosed    Phase = "closed"
)

// PhaseAt resolves the phase for a local wall-clock time.
func PhaseAt(local time.Time) Phase {
	switch h := local.Hour(); {
	case h < 11:
		return PhaseMorning
	case h < 14:
		return PhaseMidday
	case h < 17:
		return PhaseAfternoon
	case h < 21:
		return PhaseEvening
	default:
		return PhaseNight
	}
}

const dateLayout = "2006-01-02"

// DateKey renders the calendar date of a local time. All day-keyed state is
// stored under the user's local date, never an ambiguous UTC instant.
func DateKey(local time.Time) string {
	return local.Format(dateLayout)
}

// ParseDateKey validates a YYYY-MM-DD key in the given location.
func ParseDateKey(key string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(dateLayout, key, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", key, err)
	}
	return t, nil
}

// NextMidnight returns the start of the next local calendar day.
func NextMidnight(local time.Time) time.Time {
	next := local.AddDate(0, 0, 1)
	return time.Date(next.Year(), next.Month(), next.Day(), 0, 0, 0, 0, local.Location())
}

// MinutesToMidnight is the whole minutes remaining in the local day.
func MinutesToMidnight(local time.Time) int {
	return int(NextMidnight(local).Sub(local) / time.Minute)
}

// Record tracks one (user, date) through its phases to the irreversible
// close. Immutable once closed.
type Record struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	UserID    uuid.UUID  `json:"userId" db:"user_id"`
	Date      string     `json:"date" db:"date"`
	Phase     Phase      `json:"phase" db:"phase"`
	Closed    bool       `json:"closed" db:"closed"`
	ClosedAt  *time.Time `json:"closedAt,omitempty" db:"closed_at"`
	CreatedAt time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time  `json:"updatedAt" db:"updated_at"`
}

// ReconciliationDue reports whether unresolved instances require attention:
// the record has reached evening and at least one instance is still pending.
func ReconciliationDue(phase Phase, pendingInstances int) bool {
	return (phase == PhaseEvening || phase == PhaseNight) && pendingInstances > 0
}
