package model

import (
	"context"
	"fmt"

	"github.com/couchcryptid/nitrate-forecast/internal/domain"
)

// SeasonalNaive repeats the last observed season. It ignores regressors and
// needs no estimation, which makes it the reference every fitted family has
// to beat.
type SeasonalNaive struct {
	settings Settings
}

// Name returns the family name.
func (m *SeasonalNaive) Name() string { return FamilySeasonalNaive }

func naivePeriod(o Orders) int {
	if o.Period > 0 {
		return o.Period
	}
	return 1
}

func (m *SeasonalNaive) MinTrainingRows(o Orders, _ int) int {
	return max(o.Sum()+1+SafetyMargin, 2*naivePeriod(o))
}

type naiveParams struct {
	period int
	last   []float64
}

func (p *naiveParams) coefficients() map[string]float64 {
	return map[string]float64{"period": float64(p.period)}
}

func seasonalResiduals(y []float64, period int) []float64 {
	return difference(y, period)
}

// Fit keeps the last season of the complete training tail; the residual
// variance comes from seasonal differences.
func (m *SeasonalNaive) Fit(ctx context.Context, slice TrainingSlice, o Orders) (*State, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	if err := slice.validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := slice.CompleteTail()
	if need := m.MinTrainingRows(o, len(s.Exog)); s.Rows() < need {
		return nil, fmt.Errorf("%w: %d complete training rows, seasonal-naive needs %d", domain.ErrInsufficientData, s.Rows(), need)
	}
	period := naivePeriod(o)
	e := seasonalResiduals(s.Target, period)
	var sse float64
	for _, v := range e {
		sse += v * v
	}
	return &State{
		Family:     m.Name(),
		Orders:     o,
		ExogNames:  append([]string(nil), s.ExogNames...),
		NObs:       s.Rows(),
		Iterations: 1,
		Sigma2:     sse / float64(len(e)),
		TrainEnd:   s.Grid.Time(s.Grid.Len - 1),
		Step:       s.Grid.Step,
		params: &naiveParams{
			period: period,
			last:   append([]float64(nil), s.Target[s.Rows()-period:]...),
		},
	}, nil
}

// Forecast repeats the last season, widening intervals once per season ahead.
func (m *SeasonalNaive) Forecast(ctx context.Context, st *State, horizon int, future FutureExog) (*domain.ForecastResult, error) {
	p, ok := st.params.(*naiveParams)
	if !ok {
		return nil, fmt.Errorf("%w: state of family %q passed to %s", domain.ErrFit, st.Family, m.Name())
	}
	if err := checkFuture(st, horizon, future); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pred := make([]float64, horizon)
	cum := make([]float64, horizon)
	for h := range pred {
		pred[h] = p.last[h%p.period]
		cum[h] = float64(h/p.period + 1)
	}
	half := intervalHalfWidths(cum, st.Sigma2, m.settings.IntervalLevel)
	return &domain.ForecastResult{Model: m.Name(), Points: resultPoints(future.Grid, pred, half)}, nil
}

// Diagnose tests the seasonal differences of slice.
func (m *SeasonalNaive) Diagnose(st *State, slice TrainingSlice) (*domain.ResidualDiagnostics, error) {
	p, ok := st.params.(*naiveParams)
	if !ok {
		return nil, fmt.Errorf("%w: state of family %q passed to %s", domain.ErrFit, st.Family, m.Name())
	}
	if err := slice.validate(); err != nil {
		return nil, err
	}
	e := seasonalResiduals(slice.CompleteTail().Target, p.period)
	if len(e) < 3 {
		return nil, fmt.Errorf("%w: too few rows to diagnose", domain.ErrInsufficientData)
	}
	return residualDiagnostics(e, 0), nil
}

