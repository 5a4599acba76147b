// Package evaluate runs rolling-origin forecast evaluation: it plans every
// window up front, then fits and scores windows concurrently on read-only data.
package evaluate

import (
	"fmt"
	"runtime"
	"time"

	"github.com/couchcryptid/nitrate-forecast/internal/domain"
	"github.com/couchcryptid/nitrate-forecast/internal/gaps"
	"github.com/couchcryptid/nitrate-forecast/internal/model"
)

// Options configure a rolling evaluation. All sizes are in grid steps.
type Options struct {
	Target      string
	Regressors  []domain.Regressor
	Orders      model.Orders
	Mode        domain.RollingMode
	TrainWindow int
	Horizon     int
	StepAdvance int
	Gaps        gaps.Policy

	Workers       int
	WindowTimeout time.Duration
}

// Validate checks the options against ds. Every failure is fatal and wraps
// domain.ErrConfig; regressors that would read observed-only values from the
// forecast period also wrap domain.ErrLeakage.
func (o Options) Validate(ds *domain.AlignedDataset) error {
	if o.TrainWindow <= 0 || o.Horizon <= 0 || o.StepAdvance <= 0 {
		return fmt.Errorf("%w: train window (%d), horizon (%d) and step advance (%d) must be positive",
			domain.ErrConfig, o.TrainWindow, o.Horizon, o.StepAdvance)
	}
	switch o.Mode {
	case domain.ModeRolling, domain.ModeExpanding:
	default:
		return fmt.Errorf("%w: unknown rolling mode %q", domain.ErrConfig, o.Mode)
	}
	if o.WindowTimeout < 0 {
		return fmt.Errorf("%w: negative window timeout %s", domain.ErrConfig, o.WindowTimeout)
	}
	if err := o.Orders.Validate(); err != nil {
		return err
	}
	if err := o.Gaps.Validate(); err != nil {
		return err
	}
	if _, ok := ds.Column(o.Target); !ok {
		return fmt.Errorf("%w: target %q not in dataset", domain.ErrConfig, o.Target)
	}
	seen := make(map[string]bool, len(o.Regressors))
	for _, r := range o.Regressors {
		col, ok := ds.Column(r.Source)
		if !ok {
			return fmt.Errorf("%w: regressor source %q not in dataset", domain.ErrConfig, r.Source)
		}
		if r.Lag < 0 {
			return fmt.Errorf("%w: regressor %s has negative lag", domain.ErrConfig, r.Name())
		}
		if seen[r.Name()] {
			return fmt.Errorf("%w: duplicate regressor %s", domain.ErrConfig, r.Name())
		}
		seen[r.Name()] = true
		if !forecastKnown(col, o.Target) && r.Lag < o.Horizon {
			return fmt.Errorf("%w: %w: observed-only regressor %s needs lag >= horizon %d",
				domain.ErrConfig, domain.ErrLeakage, r.Name(), o.Horizon)
		}
	}
	return nil
}

func (o Options) workers() int {
	if o.Workers > 0 {
		return o.Workers
	}
	return runtime.NumCPU()
}

func (o Options) maxLag() int {
	m := 0
	for _, r := range o.Regressors {
		m = max(m, r.Lag)
	}
	return m
}

// forecastKnown reports whether col's future values may be read. The target
// is never forecast-known.
func forecastKnown(col *domain.AlignedColumn, target string) bool {
	return col.Name != target && col.Role == domain.RoleForecastKnown
}

// PlanWindows precomputes every window over grid. Window w has cutoff
// TrainWindow + w*StepAdvance; planning stops when cutoff plus horizon would
// pass the end of the data. A horizon that leaves no room for a single window
// is a fatal domain.ErrHorizonMismatch.
func PlanWindows(grid domain.TimeGrid, o Options) ([]domain.ForecastWindow, error) {
	if o.TrainWindow <= 0 || o.Horizon <= 0 || o.StepAdvance <= 0 {
		return nil, fmt.Errorf("%w: train window (%d), horizon (%d) and step advance (%d) must be positive",
			domain.ErrConfig, o.TrainWindow, o.Horizon, o.StepAdvance)
	}
	if o.TrainWindow+o.Horizon > grid.Len {
		return nil, fmt.Errorf("%w: train window %d plus horizon %d exceeds the %d-row grid",
			domain.ErrHorizonMismatch, o.TrainWindow, o.Horizon, grid.Len)
	}
	var windows []domain.ForecastWindow
	for c := o.TrainWindow; c+o.Horizon <= grid.Len; c += o.StepAdvance {
		start := c - o.TrainWindow
		if o.Mode == domain.ModeExpanding {
			start = 0
		}
		windows = append(windows, domain.ForecastWindow{
			Index:      len(windows),
			TrainStart: start,
			Cutoff:     c,
			Horizon:    o.Horizon,
			CutoffTime: grid.Time(c),
		})
	}
	return windows, nil
}
