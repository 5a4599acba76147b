package domain

import (
	"fmt"
	"time"
)

// DefaultGridStep is the hourly master index step.
const DefaultGridStep = time.Hour

// TimeGrid is a gap-free, fixed-step sequence of UTC timestamps. Row i labels
// the half-open interval [Time(i), Time(i)+Step).
type TimeGrid struct {
	Start time.Time
	Step  time.Duration
	Len   int
}

// NewTimeGrid builds the grid covering [start, end). The last interval may
// extend past end when the period is not a multiple of step.
func NewTimeGrid(start, end time.Time, step time.Duration) (TimeGrid, error) {
	if step <= 0 {
		return TimeGrid{}, fmt.Errorf("%w: grid step must be positive, got %s", ErrAlignment, step)
	}
	if !end.After(start) {
		return TimeGrid{}, fmt.Errorf("%w: empty study period [%s, %s)", ErrAlignment,
			start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	span := end.Sub(start)
	n := int(span / step)
	if span%step != 0 {
		n++
	}
	return TimeGrid{Start: start.UTC(), Step: step, Len: n}, nil
}

// Time returns the timestamp of row i.
func (g TimeGrid) Time(i int) time.Time {
	return g.Start.Add(time.Duration(i) * g.Step)
}

// End returns the exclusive end of the last interval.
func (g TimeGrid) End() time.Time {
	return g.Time(g.Len)
}

// Index returns the row whose interval contains t, and false when t falls
// outside the grid.
func (g TimeGrid) Index(t time.Time) (int, bool) {
	d := t.Sub(g.Start)
	if d < 0 {
		return 0, false
	}
	i := int(d / g.Step)
	if i >= g.Len {
		return 0, false
	}
	return i, true
}

// Times materializes every grid timestamp.
func (g TimeGrid) Times() []time.Time {
	out := make([]time.Time, g.Len)
	for i := range out {
		out[i] = g.Time(i)
	}
	return out
}

// Slice returns the sub-grid of rows [from, to).
func (g TimeGrid) Slice(from, to int) TimeGrid {
	return TimeGrid{Start: g.Time(from), Step: g.Step, Len: to - from}
}

// Equal reports whether two grids describe the same index.
func (g TimeGrid) Equal(o TimeGrid) bool {
	return g.Start.Equal(o.Start) && g.Step == o.Step && g.Len == o.Len
}
