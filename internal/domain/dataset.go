package domain

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// MaskState records the provenance of one aligned cell.
type MaskState uint8

const (
	// MaskObserved cells aggregate at least one observation over the full interval.
	MaskObserved MaskState = iota
	// MaskBoundaryPartial cells aggregate observations covering only part of
	// the interval because the series starts or ends inside it.
	MaskBoundaryPartial
	// MaskMissing cells had no observation and have not been through gap handling.
	MaskMissing
	// MaskShortGapFilled cells were interpolated inside a short gap.
	MaskShortGapFilled
	// MaskLongGapFilled cells were filled by the long-gap fallback.
	MaskLongGapFilled
	// MaskUnfillable cells were missing and left empty by gap handling.
	MaskUnfillable
)

var maskNames = [...]string{"observed", "boundary-partial", "missing", "short-gap-filled", "long-gap-filled", "unfillable"}

func (m MaskState) String() string {
	if int(m) < len(maskNames) {
		return maskNames[m]
	}
	return fmt.Sprintf("mask(%d)", m)
}

// WasMissing reports whether the cell had no observation, regardless of fill.
func (m MaskState) WasMissing() bool {
	return m >= MaskMissing
}

// HasValue reports whether the cell carries a usable value.
func (m MaskState) HasValue() bool {
	return m != MaskMissing && m != MaskUnfillable
}

// AlignedColumn is a RawSeries resampled onto a TimeGrid. Missing cells hold NaN.
type AlignedColumn struct {
	Name   string
	Unit   string
	Policy AggregationPolicy
	Role   Role
	Values []float64
	Mask   []MaskState
}

// Indicator returns the was-missing column: 1 where the original value was
// absent, 0 otherwise. It is independent of any fill applied later.
func (c *AlignedColumn) Indicator() []float64 {
	out := make([]float64, len(c.Mask))
	for i, m := range c.Mask {
		if m.WasMissing() {
			out[i] = 1
		}
	}
	return out
}

// Clone deep-copies the column so fills never alias the source.
func (c *AlignedColumn) Clone() *AlignedColumn {
	out := *c
	out.Values = append([]float64(nil), c.Values...)
	out.Mask = append([]MaskState(nil), c.Mask...)
	return &out
}

// Slice returns a copy of rows [from, to).
func (c *AlignedColumn) Slice(from, to int) *AlignedColumn {
	out := *c
	out.Values = append([]float64(nil), c.Values[from:to]...)
	out.Mask = append([]MaskState(nil), c.Mask[from:to]...)
	return &out
}

// AlignedDataset maps variable names to columns sharing one grid.
type AlignedDataset struct {
	Grid    TimeGrid
	columns map[string]*AlignedColumn
}

// NewAlignedDataset validates that every column matches the grid length.
func NewAlignedDataset(grid TimeGrid, cols []*AlignedColumn) (*AlignedDataset, error) {
	ds := &AlignedDataset{Grid: grid, columns: make(map[string]*AlignedColumn, len(cols))}
	for _, c := range cols {
		if err := ds.put(c); err != nil {
			return nil, err
		}
	}
	return ds, nil
}

func (ds *AlignedDataset) put(c *AlignedColumn) error {
	if len(c.Values) != ds.Grid.Len || len(c.Mask) != ds.Grid.Len {
		return fmt.Errorf("%w: column %q has %d values / %d mask cells, grid has %d rows",
			ErrAlignment, c.Name, len(c.Values), len(c.Mask), ds.Grid.Len)
	}
	if _, dup := ds.columns[c.Name]; dup {
		return fmt.Errorf("%w: duplicate column %q", ErrAlignment, c.Name)
	}
	ds.columns[c.Name] = c
	return nil
}

// Column returns the named column.
func (ds *AlignedDataset) Column(name string) (*AlignedColumn, bool) {
	c, ok := ds.columns[name]
	return c, ok
}

// Names returns column names in sorted order.
func (ds *AlignedDataset) Names() []string {
	names := make([]string, 0, len(ds.columns))
	for n := range ds.columns {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Columns returns the columns in name order.
func (ds *AlignedDataset) Columns() []*AlignedColumn {
	names := ds.Names()
	out := make([]*AlignedColumn, len(names))
	for i, n := range names {
		out[i] = ds.columns[n]
	}
	return out
}

// Slice returns a dataset holding copies of rows [from, to).
func (ds *AlignedDataset) Slice(from, to int) *AlignedDataset {
	out := &AlignedDataset{Grid: ds.Grid.Slice(from, to), columns: make(map[string]*AlignedColumn, len(ds.columns))}
	for n, c := range ds.columns {
		out.columns[n] = c.Slice(from, to)
	}
	return out
}

// LagSpec names a source variable shifted by Lag grid steps.
type LagSpec struct {
	Source string `json:"source" yaml:"source"`
	Lag    int    `json:"lag" yaml:"lag"`
}

// ColumnName is the derived column name, e.g. "flow_lag24".
func (s LagSpec) ColumnName() string {
	return fmt.Sprintf("%s_lag%d", s.Source, s.Lag)
}

// LaggedColumn is one materialized LagSpec. Row i holds the source value at
// row i-Lag; rows i < Lag are NaN with MaskMissing.
type LaggedColumn struct {
	Spec   LagSpec
	Values []float64
	Mask   []MaskState
}

// LaggedFeatureTable is an aligned dataset plus its derived lag columns.
type LaggedFeatureTable struct {
	*AlignedDataset
	Lags []LaggedColumn
}

// Lag returns the lagged column for spec.
func (t *LaggedFeatureTable) Lag(spec LagSpec) (LaggedColumn, bool) {
	for _, l := range t.Lags {
		if l.Spec == spec {
			return l, true
		}
	}
	return LaggedColumn{}, false
}

// Regressor is an exogenous model input: a lagged variable, or its
// was-missing indicator when Indicator is set.
type Regressor struct {
	Source    string `json:"source" yaml:"source"`
	Lag       int    `json:"lag" yaml:"lag"`
	Indicator bool   `json:"indicator,omitempty" yaml:"indicator"`
}

// Name is the regressor's column name.
func (r Regressor) Name() string {
	if r.Indicator {
		return fmt.Sprintf("%s_missing_lag%d", r.Source, r.Lag)
	}
	return LagSpec{Source: r.Source, Lag: r.Lag}.ColumnName()
}

// IsFinite reports whether v is neither NaN nor infinite.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// FeatureRow is one timestamp of the output feature table. Values follow
// LaggedFeatureTable.Header order; missing cells are NaN.
type FeatureRow struct {
	Time   time.Time
	Values []float64
}

// Header names the output columns: every variable, then its was-missing
// indicator ("<name>_missing"), then every lag column.
func (t *LaggedFeatureTable) Header() []string {
	names := t.Names()
	out := make([]string, 0, 2*len(names)+len(t.Lags))
	out = append(out, names...)
	for _, n := range names {
		out = append(out, n+"_missing")
	}
	for _, l := range t.Lags {
		out = append(out, l.Spec.ColumnName())
	}
	return out
}

// Rows materializes the table row by row in Header order.
func (t *LaggedFeatureTable) Rows() []FeatureRow {
	cols := t.Columns()
	rows := make([]FeatureRow, t.Grid.Len)
	for i := range rows {
		vals := make([]float64, 0, 2*len(cols)+len(t.Lags))
		for _, c := range cols {
			vals = append(vals, c.Values[i])
		}
		for _, c := range cols {
			ind := 0.0
			if c.Mask[i].WasMissing() {
				ind = 1
			}
			vals = append(vals, ind)
		}
		for _, l := range t.Lags {
			vals = append(vals, l.Values[i])
		}
		rows[i] = FeatureRow{Time: t.Grid.Time(i), Values: vals}
	}
	return rows
}
