package timeline

import (
	"errors"
	"fmt"
	"time"
)

// ErrEmptyInterval is returned when an interval's start is not before its
// end.
var ErrEmptyInterval = errors.New("interval start must be before its end")

// Interval is a half-open validity range [Start, End). A zero Start means
// the validity reaches arbitrarily far into the past; a zero End means the
// record is still active.
type Interval struct {
	Start time.Time
	End   time.Time
}

// Between builds the interval [start, end).
func Between(start, end time.Time) Interval {
	return Interval{Start: start, End: end}
}

// Since builds the open-ended interval [start, ∞).
func Since(start time.Time) Interval {
	return Interval{Start: start}
}

// OpenEnded reports whether the interval has no end.
func (iv Interval) OpenEnded() bool { return iv.End.IsZero() }

// Validate checks the Start < End invariant for bounded intervals.
func (iv Interval) Validate() error {
	if !iv.Start.IsZero() && !iv.End.IsZero() && !iv.Start.Before(iv.End) {
		return fmt.Errorf("%w: %s", ErrEmptyInterval, iv)
	}
	return nil
}

// Contains reports whether t falls inside the interval: the start is
// inclusive, the end exclusive.
func (iv Interval) Contains(t time.Time) bool {
	if !iv.Start.IsZero() && t.Before(iv.Start) {
		return false
	}
	return iv.End.IsZero() || t.Before(iv.End)
}

// Overlaps reports whether the two half-open intervals share any instant.
func (iv Interval) Overlaps(o Interval) bool {
	return iv.startsBefore(o.End) && o.startsBefore(iv.End)
}

// Equal reports whether both intervals cover exactly the same range.
func (iv Interval) Equal(o Interval) bool {
	return iv.Start.Equal(o.Start) && iv.End.Equal(o.End)
}

// startsBefore reports whether the interval starts before instant t, where
// a zero t stands for "infinitely late".
func (iv Interval) startsBefore(t time.Time) bool {
	return t.IsZero() || iv.Start.Before(t)
}

// endsAfter reports whether the interval is still running at instant t.
func (iv Interval) endsAfter(t time.Time) bool {
	return iv.End.IsZero() || iv.End.After(t)
}

// subtract returns the parts of iv not covered by any interval in covers,
// in start order. covers must be sorted by start and non-overlapping — the
// invariant a Timeline maintains. The result has at most len(covers)+1
// pieces.
func subtract(iv Interval, covers []Interval) []Interval {
	var out []Interval
	cur := iv
	for _, c := range covers {
		if !cur.Overlaps(c) {
			continue
		}
		// Piece before the cover.
		if cur.startsBefore(c.Start) && !c.Start.IsZero() {
			out = append(out, Interval{Start: cur.Start, End: c.Start})
		}
		// Continue with the part after the cover, if any.
		if c.End.IsZero() || !cur.endsAfter(c.End) {
			return out
		}
		cur = Interval{Start: c.End, End: cur.End}
	}
	return append(out, cur)
}

// String renders the interval with RFC 3339 bounds, using "…" for open
// ends.
func (iv Interval) String() string {
	start, end := "…", "…"
	if !iv.Start.IsZero() {
		start = iv.Start.Format(time.RFC3339)
	}
	if !iv.End.IsZero() {
		end = iv.End.Format(time.RFC3339)
	}
	return fmt.Sprintf("[%s, %s)", start, end)
}
