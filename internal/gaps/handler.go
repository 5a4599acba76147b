// Package gaps classifies missing runs in aligned columns and fills them
// according to a gap policy, keeping the original missingness mask intact.
package gaps

import (
	"fmt"

	"github.com/couchcryptid/nitrate-forecast/internal/domain"
)

// FillMethod interpolates short gaps.
type FillMethod string

const (
	// FillDefault picks ffill for last-state variables and linear otherwise.
	FillDefault FillMethod = ""
	FillLinear  FillMethod = "linear"
	FillForward FillMethod = "ffill"
)

// LongFill is the fallback for gaps above the short threshold.
type LongFill string

const (
	LongFillNone          LongFill = "none"
	LongFillSeasonalNaive LongFill = "seasonal-naive"
)

// Policy configures gap handling. Runs of at most ShortMaxSteps cells are
// interpolated; runs up to LongMaxSteps get the LongFill fallback; longer runs
// are left unfilled.
type Policy struct {
	ShortMaxSteps  int
	LongMaxSteps   int
	ShortFill      FillMethod
	LongFill       LongFill
	SeasonalPeriod int

	// Overrides sets the short fill method per variable.
	Overrides map[string]FillMethod
}

// Validate rejects inconsistent thresholds and unknown methods.
func (p Policy) Validate() error {
	if p.ShortMaxSteps < 0 {
		return fmt.Errorf("%w: short gap threshold must be >= 0, got %d", domain.ErrGapPolicy, p.ShortMaxSteps)
	}
	if p.ShortMaxSteps >= p.LongMaxSteps {
		return fmt.Errorf("%w: short gap threshold (%d) must be below long gap threshold (%d)",
			domain.ErrGapPolicy, p.ShortMaxSteps, p.LongMaxSteps)
	}
	if err := validMethod(p.ShortFill); err != nil {
		return err
	}
	for name, m := range p.Overrides {
		if err := validMethod(m); err != nil {
			return fmt.Errorf("%w (variable %q)", err, name)
		}
	}
	switch p.LongFill {
	case LongFillNone, "":
	case LongFillSeasonalNaive:
		if p.SeasonalPeriod <= 0 {
			return fmt.Errorf("%w: seasonal-naive fill needs a positive seasonal period", domain.ErrGapPolicy)
		}
	default:
		return fmt.Errorf("%w: unknown long gap fill policy %q", domain.ErrGapPolicy, p.LongFill)
	}
	return nil
}

func validMethod(m FillMethod) error {
	switch m {
	case FillDefault, FillLinear, FillForward:
		return nil
	default:
		return fmt.Errorf("%w: unknown short gap fill method %q", domain.ErrGapPolicy, m)
	}
}

func (p Policy) methodFor(col *domain.AlignedColumn) FillMethod {
	if m, ok := p.Overrides[col.Name]; ok && m != FillDefault {
		return m
	}
	if p.ShortFill != FillDefault {
		return p.ShortFill
	}
	if col.Policy == domain.PolicyLast {
		return FillForward
	}
	return FillLinear
}

// Run is a maximal stretch of cells without a value.
type Run struct {
	Start int
	Len   int
}

// MissingRuns lists the runs of cells that carry no value.
func MissingRuns(mask []domain.MaskState) []Run {
	var runs []Run
	for i := 0; i < len(mask); {
		if mask[i].HasValue() {
			i++
			continue
		}
		j := i
		for j < len(mask) && !mask[j].HasValue() {
			j++
		}
		runs = append(runs, Run{Start: i, Len: j - i})
		i = j
	}
	return runs
}

// Stats counts cells by the fill they received.
type Stats struct {
	ShortFilled int
	LongFilled  int
	Unfillable  int
}

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.ShortFilled += o.ShortFilled
	s.LongFilled += o.LongFilled
	s.Unfillable += o.Unfillable
}

// Fill returns a filled copy of col. The input is never modified, and the
// copy's mask still marks every originally missing cell as was-missing.
func Fill(col *domain.AlignedColumn, p Policy) (*domain.AlignedColumn, Stats, error) {
	if err := p.Validate(); err != nil {
		return nil, Stats{}, err
	}
	out := col.Clone()
	method := p.methodFor(col)

	var st Stats
	for _, r := range MissingRuns(col.Mask) {
		switch {
		case r.Len <= p.ShortMaxSteps:
			st.Add(fillShort(out, r, method))
		case r.Len <= p.LongMaxSteps && p.LongFill == LongFillSeasonalNaive:
			st.Add(fillSeasonal(out, r, p.SeasonalPeriod))
		default:
			markUnfillable(out, r)
			st.Unfillable += r.Len
		}
	}
	return out, st, nil
}

func fillShort(col *domain.AlignedColumn, r Run, method FillMethod) Stats {
	left, right := r.Start-1, r.Start+r.Len
	hasLeft := left >= 0 && col.Mask[left].HasValue()
	hasRight := right < len(col.Mask) && col.Mask[right].HasValue()

	switch {
	case method == FillLinear && hasLeft && hasRight:
		lv, rv := col.Values[left], col.Values[right]
		span := float64(right - left)
		for i := r.Start; i < right; i++ {
			col.Values[i] = lv + (rv-lv)*float64(i-left)/span
			col.Mask[i] = domain.MaskShortGapFilled
		}
	case hasLeft:
		for i := r.Start; i < right; i++ {
			col.Values[i] = col.Values[left]
			col.Mask[i] = domain.MaskShortGapFilled
		}
	default:
		markUnfillable(col, r)
		return Stats{Unfillable: r.Len}
	}
	return Stats{ShortFilled: r.Len}
}

func fillSeasonal(col *domain.AlignedColumn, r Run, period int) Stats {
	var st Stats
	for i := r.Start; i < r.Start+r.Len; i++ {
		src := i - period
		if src >= 0 && col.Mask[src].HasValue() {
			col.Values[i] = col.Values[src]
			col.Mask[i] = domain.MaskLongGapFilled
			st.LongFilled++
			continue
		}
		col.Mask[i] = domain.MaskUnfillable
		st.Unfillable++
	}
	return st
}

func markUnfillable(col *domain.AlignedColumn, r Run) {
	for i := r.Start; i < r.Start+r.Len; i++ {
		col.Mask[i] = domain.MaskUnfillable
	}
}

// FillAll fills every column of ds and returns a new dataset.
func FillAll(ds *domain.AlignedDataset, p Policy) (*domain.AlignedDataset, Stats, error) {
	if err := p.Validate(); err != nil {
		return nil, Stats{}, err
	}
	var total Stats
	cols := make([]*domain.AlignedColumn, 0, len(ds.Names()))
	for _, c := range ds.Columns() {
		filled, st, err := Fill(c, p)
		if err != nil {
			return nil, Stats{}, err
		}
		total.Add(st)
		cols = append(cols, filled)
	}
	out, err := domain.NewAlignedDataset(ds.Grid, cols)
	if err != nil {
		return nil, Stats{}, err
	}
	return out, total, nil
}
