// Package model defines the forecast model capability (fit, forecast,
// diagnose) and its concrete families. Callers depend only on [Model]; a
// fitted [State] is immutable and superseded by refitting, never updated.
package model

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/nitrate-forecast/internal/domain"
)

// Family names accepted by New.
const (
	FamilySARIMAX       = "sarimax"
	FamilySeasonalNaive = "seasonal-naive"
)

// SafetyMargin is added to the summed model orders to form the minimum
// training length.
const SafetyMargin = 2

// Model is a fittable seasonal time-series model with exogenous regressors.
type Model interface {
	Name() string
	// MinTrainingRows is the fewest complete rows Fit accepts for orders
	// with nExog regressors.
	MinTrainingRows(o Orders, nExog int) int
	Fit(ctx context.Context, slice TrainingSlice, o Orders) (*State, error)
	// Forecast predicts the horizon rows that immediately follow the
	// training slice. future must cover exactly those rows.
	Forecast(ctx context.Context, st *State, horizon int, future FutureExog) (*domain.ForecastResult, error)
	Diagnose(st *State, slice TrainingSlice) (*domain.ResidualDiagnostics, error)
}

// Settings bound the estimation procedure and set the interval level.
type Settings struct {
	MaxIterations int
	Tolerance     float64
	IntervalLevel float64
}

// DefaultSettings mirror the configuration defaults.
var DefaultSettings = Settings{MaxIterations: 50, Tolerance: 1e-6, IntervalLevel: 0.95}

// Validate rejects settings outside their domain.
func (s Settings) Validate() error {
	if s.MaxIterations <= 0 {
		return fmt.Errorf("%w: max iterations must be positive, got %d", domain.ErrConfig, s.MaxIterations)
	}
	if !(s.Tolerance > 0) {
		return fmt.Errorf("%w: tolerance must be positive, got %g", domain.ErrConfig, s.Tolerance)
	}
	if !(s.IntervalLevel > 0 && s.IntervalLevel < 1) {
		return fmt.Errorf("%w: interval level must be in (0, 1), got %g", domain.ErrConfig, s.IntervalLevel)
	}
	return nil
}

// New returns the model family registered under name.
func New(name string, s Settings) (Model, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	switch name {
	case FamilySARIMAX, "":
		return &SARIMAX{settings: s}, nil
	case FamilySeasonalNaive:
		return &SeasonalNaive{settings: s}, nil
	default:
		return nil, fmt.Errorf("%w: unknown model family %q", domain.ErrConfig, name)
	}
}

// Orders are the (p,d,q)(P,D,Q,s) model orders.
type Orders struct {
	P      int `json:"p" yaml:"p"`
	D      int `json:"d" yaml:"d"`
	Q      int `json:"q" yaml:"q"`
	SP     int `json:"seasonal_p" yaml:"seasonal_p"`
	SD     int `json:"seasonal_d" yaml:"seasonal_d"`
	SQ     int `json:"seasonal_q" yaml:"seasonal_q"`
	Period int `json:"period" yaml:"period"`
}

// ParseOrders parses "p,d,q,P,D,Q,s".
func ParseOrders(s string) (Orders, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 7 {
		return Orders{}, fmt.Errorf("%w: model orders %q: want 7 comma-separated integers p,d,q,P,D,Q,s", domain.ErrConfig, s)
	}
	vals := make([]int, 7)
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return Orders{}, fmt.Errorf("%w: model orders %q: %v", domain.ErrConfig, s, err)
		}
		vals[i] = v
	}
	o := Orders{P: vals[0], D: vals[1], Q: vals[2], SP: vals[3], SD: vals[4], SQ: vals[5], Period: vals[6]}
	return o, o.Validate()
}

// Validate rejects negative orders and seasonal terms without a period.
func (o Orders) Validate() error {
	for _, v := range []int{o.P, o.D, o.Q, o.SP, o.SD, o.SQ, o.Period} {
		if v < 0 {
			return fmt.Errorf("%w: model orders must be non-negative: %s", domain.ErrConfig, o)
		}
	}
	if (o.SP > 0 || o.SD > 0 || o.SQ > 0) && o.Period < 2 {
		return fmt.Errorf("%w: seasonal orders need a period >= 2: %s", domain.ErrConfig, o)
	}
	return nil
}

// Sum is p+d+q+P+D+Q.
func (o Orders) Sum() int {
	return o.P + o.D + o.Q + o.SP + o.SD + o.SQ
}

func (o Orders) String() string {
	return fmt.Sprintf("(%d,%d,%d)(%d,%d,%d,%d)", o.P, o.D, o.Q, o.SP, o.SD, o.SQ, o.Period)
}

// TrainingSlice is the bounded, read-only input to Fit. Exog[j][i] is
// regressor j at row i.
type TrainingSlice struct {
	Grid      domain.TimeGrid
	Target    []float64
	ExogNames []string
	Exog      [][]float64
}

// Rows is the number of grid rows in the slice.
func (s TrainingSlice) Rows() int { return len(s.Target) }

func (s TrainingSlice) validate() error {
	if s.Grid.Len != len(s.Target) {
		return fmt.Errorf("%w: training slice has %d target rows for a %d-row grid", domain.ErrFit, len(s.Target), s.Grid.Len)
	}
	if len(s.Exog) != len(s.ExogNames) {
		return fmt.Errorf("%w: %d exogenous columns for %d names", domain.ErrFit, len(s.Exog), len(s.ExogNames))
	}
	for j, c := range s.Exog {
		if len(c) != len(s.Target) {
			return fmt.Errorf("%w: exogenous column %q has %d rows, want %d", domain.ErrFit, s.ExogNames[j], len(c), len(s.Target))
		}
	}
	return nil
}

// CompleteTail returns the trailing run of rows in which the target and every
// regressor are finite. The run always ends at the slice's last row, so the
// forecast origin never moves.
func (s TrainingSlice) CompleteTail() TrainingSlice {
	start := len(s.Target)
	for i := len(s.Target) - 1; i >= 0; i-- {
		if !s.rowComplete(i) {
			break
		}
		start = i
	}
	return s.slice(start, len(s.Target))
}

func (s TrainingSlice) rowComplete(i int) bool {
	if !domain.IsFinite(s.Target[i]) {
		return false
	}
	for _, c := range s.Exog {
		if !domain.IsFinite(c[i]) {
			return false
		}
	}
	return true
}

func (s TrainingSlice) slice(from, to int) TrainingSlice {
	out := TrainingSlice{
		Grid:      s.Grid.Slice(from, to),
		Target:    s.Target[from:to],
		ExogNames: s.ExogNames,
		Exog:      make([][]float64, len(s.Exog)),
	}
	for j, c := range s.Exog {
		out.Exog[j] = c[from:to]
	}
	return out
}

// FutureExog carries regressor values for the forecast horizon.
type FutureExog struct {
	Grid    domain.TimeGrid
	Columns [][]float64
}

// State is a fitted model. It is never mutated after Fit returns.
type State struct {
	Family     string
	Orders     Orders
	ExogNames  []string
	NObs       int
	Iterations int
	Sigma2     float64
	TrainEnd   time.Time
	Step       time.Duration

	params fitted
}

// Coefficients returns the named parameter estimates.
func (st *State) Coefficients() map[string]float64 {
	if st.params == nil {
		return nil
	}
	return st.params.coefficients()
}

type fitted interface {
	coefficients() map[string]float64
}

// checkFuture validates that future covers exactly horizon rows right after
// the state's training end.
func checkFuture(st *State, horizon int, future FutureExog) error {
	if horizon <= 0 {
		return fmt.Errorf("%w: horizon must be positive, got %d", domain.ErrHorizonMismatch, horizon)
	}
	want := st.TrainEnd.Add(st.Step)
	if future.Grid.Step != st.Step || !future.Grid.Start.Equal(want) || future.Grid.Len != horizon {
		return fmt.Errorf("%w: future grid starts %s step %s len %d, want %s step %s len %d", domain.ErrHorizonMismatch,
			future.Grid.Start.Format(time.RFC3339), future.Grid.Step, future.Grid.Len,
			want.Format(time.RFC3339), st.Step, horizon)
	}
	if len(future.Columns) != len(st.ExogNames) {
		return fmt.Errorf("%w: %d future exogenous columns, model has %d", domain.ErrHorizonMismatch, len(future.Columns), len(st.ExogNames))
	}
	for j, c := range future.Columns {
		if len(c) != horizon {
			return fmt.Errorf("%w: future %q has %d rows, want %d", domain.ErrHorizonMismatch, st.ExogNames[j], len(c), horizon)
		}
		for i, v := range c {
			if !domain.IsFinite(v) {
				return fmt.Errorf("%w: future %q row %d is not finite", domain.ErrHorizonMismatch, st.ExogNames[j], i)
			}
		}
	}
	return nil
}

func resultPoints(grid domain.TimeGrid, pred, halfWidth []float64) []domain.ForecastPoint {
	pts := make([]domain.ForecastPoint, len(pred))
	for i := range pred {
		pts[i] = domain.ForecastPoint{
			Time:      grid.Time(i),
			Step:      i + 1,
			Predicted: pred[i],
			Lower:     pred[i] - halfWidth[i],
			Upper:     pred[i] + halfWidth[i],
		}
	}
	return pts
}
