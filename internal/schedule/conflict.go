package schedule

import (
	"time"

	"klinika-scheduler/internal/model"
)

// Window is the half-open interval [Start, End).
type Window struct {
	Start, End time.Time
}

func WindowAt(start time.Time) Window {
	return Window{Start: start, End: start.Add(SlotLength)}
}

// Overlaps applies the three-way test: a starts inside b, a ends inside b,
// or a contains b. Touching windows do not overlap.
func (a Window) Overlaps(b Window) bool {
	startsInside := !a.Start.Before(b.Start) && a.Start.Before(b.End)
	endsInside := a.End.After(b.Start) && !a.End.After(b.End)
	contains := !a.Start.After(b.Start) && !a.End.Before(b.End)
	return startsInside || endsInside || contains
}

// Conflicts returns the appointments in existing whose window overlaps a new
// appointment starting at start. Cancelled appointments and excludeID, the
// appointment being moved, are skipped.
func Conflicts(existing []model.Appointment, start time.Time, excludeID string) []model.Appointment {
	cand := WindowAt(start)
	var out []model.Appointment
	for _, a := range existing {
		if a.Status == model.StatusCancelled || (excludeID != "" && a.ID == excludeID) {
			continue
		}
		if a.AppointmentDate.IsZero() {
			continue
		}
		if cand.Overlaps(WindowAt(a.AppointmentDate.Time)) {
			out = append(out, a)
		}
	}
	return out
}

// HasConflict is the advisory check shown before assigning a doctor. The
// backend decides for real.
func HasConflict(existing []model.Appointment, start time.Time, excludeID string) bool {
	return len(Conflicts(existing, start, excludeID)) > 0
}
