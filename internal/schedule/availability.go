package schedule

import (
	"context"
	"fmt"
	"time"
)

// Checker asks the backend whether one slot is still free.
type Checker interface {
	CheckAvailability(ctx context.Context, t time.Time) (bool, error)
}

// Finder offers only the slots of a day the backend confirms as free. It
// asks once per slot, in order.
type Finder struct {
	check Checker
	hours Hours
	now   func() time.Time
}

type FinderOption func(*Finder)

func WithHours(h Hours) FinderOption { return func(f *Finder) { f.hours = h } }

func WithClock(now func() time.Time) FinderOption { return func(f *Finder) { f.now = now } }

func NewFinder(c Checker, opts ...FinderOption) *Finder {
	f := &Finder{check: c, hours: DefaultHours, now: time.Now}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Hours are the working hours the finder lays slots out on.
func (f *Finder) Hours() Hours { return f.hours }

// Available returns the free slots of date. Slots that already started are
// not offered. The first failed check aborts the lookup.
func (f *Finder) Available(ctx context.Context, date time.Time) ([]time.Time, error) {
	slots := f.hours.SlotTimes(date)
	if len(slots) == 0 {
		return nil, ErrClosed
	}
	now := f.now()
	var out []time.Time
	for _, s := range slots {
		if s.Before(now) {
			continue
		}
		free, err := f.check.CheckAvailability(ctx, s)
		if err != nil {
			return nil, fmt.Errorf("check %s: %w", s.Format("15:04"), err)
		}
		if free {
			out = append(out, s)
		}
	}
	return out, nil
}

// AvailableLabels is Available formatted as "HH:MM".
func (f *Finder) AvailableLabels(ctx context.Context, date time.Time) ([]string, error) {
	ts, err := f.Available(ctx, date)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.Format("15:04")
	}
	return out, nil
}
