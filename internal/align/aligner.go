// Package align resamples raw series onto the canonical hourly grid.
//
// Alignment is a pure function of its inputs: no shared state is touched, so
// independent variables are aligned concurrently by [AlignAll].
package align

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/couchcryptid/nitrate-forecast/internal/domain"
	"golang.org/x/sync/errgroup"
)

// Options describe the study period and grid step. A zero Start or End is
// derived from the data span.
type Options struct {
	Start time.Time
	End   time.Time
	Step  time.Duration
}

// NewGrid builds the grid for opts, deriving any unset bound from series.
func NewGrid(opts Options, series []domain.RawSeries) (domain.TimeGrid, error) {
	if opts.Step <= 0 {
		return domain.TimeGrid{}, fmt.Errorf("%w: grid step must be positive, got %s", domain.ErrAlignment, opts.Step)
	}
	start, end := opts.Start, opts.End
	if start.IsZero() || end.IsZero() {
		spanStart, spanEnd, ok := Span(series, opts.Step)
		if !ok {
			return domain.TimeGrid{}, fmt.Errorf("%w: study period unset and no observations to derive it from", domain.ErrAlignment)
		}
		if start.IsZero() {
			start = spanStart
		}
		if end.IsZero() {
			end = spanEnd
		}
	}
	return domain.NewTimeGrid(start, end, opts.Step)
}

// Span returns the step-aligned period covering every finite observation.
func Span(series []domain.RawSeries, step time.Duration) (time.Time, time.Time, bool) {
	var first, last time.Time
	found := false
	for _, s := range series {
		for _, o := range s.Observations {
			if !domain.IsFinite(o.Value) {
				continue
			}
			t := o.Time.UTC()
			if !found || t.Before(first) {
				first = t
			}
			if !found || t.After(last) {
				last = t
			}
			found = true
		}
	}
	if !found {
		return time.Time{}, time.Time{}, false
	}
	return first.Truncate(step), last.Truncate(step).Add(step), true
}

// bucket accumulates the observations of one grid interval.
type bucket struct {
	n     int
	sum   float64
	last  float64
	lastT time.Time
}

// Align resamples one series onto grid by bucketing observations into grid
// intervals and applying the series' aggregation policy.
func Align(grid domain.TimeGrid, s domain.RawSeries) (*domain.AlignedColumn, error) {
	if grid.Step <= 0 || grid.Len <= 0 {
		return nil, fmt.Errorf("%w: invalid grid (step %s, %d rows)", domain.ErrAlignment, grid.Step, grid.Len)
	}
	if s.Name == "" {
		return nil, fmt.Errorf("%w: series without a name", domain.ErrAlignment)
	}
	policy := s.Policy
	if policy == "" {
		policy = domain.PolicyMean
	}
	if policy != domain.PolicyMean && policy != domain.PolicySum && policy != domain.PolicyLast {
		return nil, fmt.Errorf("%w: series %q has unknown policy %q", domain.ErrConfig, s.Name, policy)
	}
	role := s.Role
	if role == "" {
		role = domain.RoleObserved
	}

	buckets := make([]bucket, grid.Len)
	var first, last time.Time
	seen := false
	for _, o := range s.Observations {
		if !domain.IsFinite(o.Value) {
			continue
		}
		t := o.Time.UTC()
		if !seen || t.Before(first) {
			first = t
		}
		if !seen || t.After(last) {
			last = t
		}
		seen = true

		i, ok := grid.Index(t)
		if !ok {
			continue
		}
		b := &buckets[i]
		if b.n == 0 || !t.Before(b.lastT) {
			b.last = o.Value
			b.lastT = t
		}
		b.n++
		b.sum += o.Value
	}

	freq := s.NativeFrequency()
	if freq <= 0 {
		freq = grid.Step
	}

	col := &domain.AlignedColumn{
		Name:   s.Name,
		Unit:   s.Unit,
		Policy: policy,
		Role:   role,
		Values: make([]float64, grid.Len),
		Mask:   make([]domain.MaskState, grid.Len),
	}
	for i := range buckets {
		b := buckets[i]
		lo := grid.Time(i)
		hi := lo.Add(grid.Step)

		if b.n == 0 {
			if policy == domain.PolicySum && s.EmptyIsZero && seen && !lo.After(last) && hi.After(first) {
				col.Values[i] = 0
				col.Mask[i] = domain.MaskObserved
				continue
			}
			col.Values[i] = math.NaN()
			col.Mask[i] = domain.MaskMissing
			continue
		}

		switch policy {
		case domain.PolicySum:
			col.Values[i] = b.sum
		case domain.PolicyLast:
			col.Values[i] = b.last
		default:
			col.Values[i] = b.sum / float64(b.n)
		}
		col.Mask[i] = domain.MaskObserved
		if boundaryPartial(lo, hi, first, last, freq, grid.Step) {
			col.Mask[i] = domain.MaskBoundaryPartial
		}
	}
	return col, nil
}

// boundaryPartial reports whether the series' coverage starts or ends strictly
// inside [lo, hi). Only meaningful when the source is finer than the grid.
func boundaryPartial(lo, hi, first, last time.Time, freq, step time.Duration) bool {
	if freq >= step {
		return false
	}
	if first.After(lo) && first.Before(hi) {
		return true
	}
	coveredUntil := last.Add(freq)
	return !last.Before(lo) && last.Before(hi) && coveredUntil.Before(hi)
}

// AlignAll aligns every series onto grid using at most workers goroutines and
// joins the columns into one dataset. Any single failure aborts the whole call.
func AlignAll(ctx context.Context, grid domain.TimeGrid, series []domain.RawSeries, workers int) (*domain.AlignedDataset, error) {
	if workers <= 0 {
		workers = 1
	}
	cols := make([]*domain.AlignedColumn, len(series))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range series {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			col, err := Align(grid, series[i])
			if err != nil {
				return err
			}
			cols[i] = col
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return domain.NewAlignedDataset(grid, cols)
}
