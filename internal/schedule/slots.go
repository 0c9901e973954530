// Package schedule holds the clinic's booking rules: which half-hour slots a
// day offers, and when two appointments collide.
package schedule

import (
	"errors"
	"fmt"
	"time"
)

// SlotLength is both the booking grid and the length of every appointment.
const SlotLength = 30 * time.Minute

var ErrClosed = errors.New("clinic closed on that day")

// Span is one day's opening hours as minutes since midnight.
type Span struct {
	Open, Close int
}

func Clock(h, m int) int { return h*60 + m }

// Hours maps weekdays to opening hours. A missing weekday is a closed day.
type Hours struct {
	Days map[time.Weekday]Span
	// Exclusive stops at the last slot that ends by closing time. By default
	// a slot also starts at closing time itself, which is how the clinic has
	// always offered them.
	Exclusive bool
}

// DefaultHours: weekdays 08:00-16:00, Saturday 09:00-12:00, Sunday closed.
var DefaultHours = Hours{
	Days: map[time.Weekday]Span{
		time.Monday:    {Clock(8, 0), Clock(16, 0)},
		time.Tuesday:   {Clock(8, 0), Clock(16, 0)},
		time.Wednesday: {Clock(8, 0), Clock(16, 0)},
		time.Thursday:  {Clock(8, 0), Clock(16, 0)},
		time.Friday:    {Clock(8, 0), Clock(16, 0)},
		time.Saturday:  {Clock(9, 0), Clock(12, 0)},
	},
}

// Slots returns the "HH:MM" start times offered on date, in order.
func Slots(date time.Time) []string {
	return DefaultHours.Slots(date)
}

// SlotTimes is Slots as instants on date, in date's location.
func SlotTimes(date time.Time) []time.Time {
	return DefaultHours.SlotTimes(date)
}

func (h Hours) Slots(date time.Time) []string {
	mins := h.minutes(date.Weekday())
	out := make([]string, len(mins))
	for i, m := range mins {
		out[i] = fmt.Sprintf("%02d:%02d", m/60, m%60)
	}
	return out
}

func (h Hours) SlotTimes(date time.Time) []time.Time {
	y, mo, d := date.Date()
	mins := h.minutes(date.Weekday())
	out := make([]time.Time, len(mins))
	for i, m := range mins {
		out[i] = time.Date(y, mo, d, m/60, m%60, 0, 0, date.Location())
	}
	return out
}

// Open reports whether t falls on one of the day's slot starts.
func (h Hours) Open(t time.Time) bool {
	if t.Second() != 0 || t.Nanosecond() != 0 {
		return false
	}
	m := Clock(t.Hour(), t.Minute())
	for _, s := range h.minutes(t.Weekday()) {
		if s == m {
			return true
		}
	}
	return false
}

func (h Hours) minutes(day time.Weekday) []int {
	span, ok := h.Days[day]
	if !ok {
		return nil
	}
	step := int(SlotLength / time.Minute)
	last := span.Close
	if h.Exclusive {
		last -= step
	}
	var out []int
	for m := span.Open; m <= last; m += step {
		out = append(out, m)
	}
	return out
}

// ParseSlot combines a date and an "HH:MM" slot into an instant in loc.
func ParseSlot(date, slot string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02 15:04", date+" "+slot, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad slot %s %s: %w", date, slot, err)
	}
	return t, nil
}
