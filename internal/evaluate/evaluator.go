package evaluate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/couchcryptid/nitrate-forecast/internal/domain"
	"github.com/couchcryptid/nitrate-forecast/internal/gaps"
	"github.com/couchcryptid/nitrate-forecast/internal/lag"
	"github.com/couchcryptid/nitrate-forecast/internal/model"
	"github.com/couchcryptid/nitrate-forecast/internal/observability"
	"golang.org/x/sync/errgroup"
)

// Evaluator drives fit-forecast-score cycles over precomputed windows.
type Evaluator struct {
	model   model.Model
	opts    Options
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New creates an Evaluator for model m.
func New(m model.Model, opts Options, logger *slog.Logger, metrics *observability.Metrics) *Evaluator {
	return &Evaluator{model: m, opts: opts, logger: logger, metrics: metrics}
}

// Run evaluates every planned window. raw is the aligned dataset before gap
// handling (used for training slices and scoring); filled is the same data
// after global gap handling, read only for forecast-known future values.
//
// Outcomes are indexed by window. Window-level failures are recorded in the
// outcome and the window is skipped; structural failures (bad options, grid
// mismatch, a leakage audit failure) abort the run with no partial output.
func (e *Evaluator) Run(ctx context.Context, raw, filled *domain.AlignedDataset) ([]domain.WindowOutcome, error) {
	if !raw.Grid.Equal(filled.Grid) {
		return nil, fmt.Errorf("%w: raw and filled datasets use different grids", domain.ErrAlignment)
	}
	if err := e.opts.Validate(raw); err != nil {
		return nil, err
	}
	windows, err := PlanWindows(raw.Grid, e.opts)
	if err != nil {
		return nil, err
	}
	if need := e.model.MinTrainingRows(e.opts.Orders, len(e.opts.Regressors)); e.opts.Mode == domain.ModeRolling && e.opts.TrainWindow < need {
		e.logger.Warn("train window shorter than model minimum, windows will be skipped",
			"train_window", e.opts.TrainWindow, "min_rows", need, "model", e.model.Name())
	}

	e.logger.Info("rolling evaluation started",
		"windows", len(windows),
		"mode", e.opts.Mode,
		"model", e.model.Name(),
		"orders", e.opts.Orders.String(),
		"regressors", len(e.opts.Regressors),
	)

	outcomes := make([]domain.WindowOutcome, len(windows))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.workers())
	for i, w := range windows {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out := e.evaluateWindow(gctx, raw, filled, w)
			if out.Err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				if domain.IsFatal(out.Err) {
					return fmt.Errorf("window %d: %w", w.Index, out.Err)
				}
				e.recordSkip(out)
			} else {
				e.metrics.Windows.WithLabelValues("scored").Inc()
			}
			outcomes[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

func (e *Evaluator) recordSkip(out domain.WindowOutcome) {
	cause := domain.ErrorKind(out.Err)
	e.metrics.Windows.WithLabelValues("skipped").Inc()
	e.metrics.WindowSkips.WithLabelValues(cause).Inc()
	e.logger.Warn("window skipped",
		"window", out.Window.Index,
		"cutoff", out.Window.CutoffTime,
		"cause", cause,
		"error", out.Err,
	)
}

// evaluateWindow runs one window under the per-window timeout.
func (e *Evaluator) evaluateWindow(ctx context.Context, raw, filled *domain.AlignedDataset, w domain.ForecastWindow) domain.WindowOutcome {
	wctx := ctx
	if e.opts.WindowTimeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, e.opts.WindowTimeout)
		defer cancel()
	}
	start := domain.Now()
	out := e.runWindow(wctx, raw, filled, w)
	out.Duration = domain.Since(start)
	e.metrics.WindowDuration.Observe(out.Duration.Seconds())

	if out.Err == nil && errors.Is(wctx.Err(), context.DeadlineExceeded) {
		out.Result, out.Diagnostics = nil, nil
		out.Err = fmt.Errorf("window exceeded %s: %w", e.opts.WindowTimeout, context.DeadlineExceeded)
	}
	return out
}

// runWindow materializes the window's training slice from rows strictly
// before the cutoff, fills gaps on that slice alone, then fits, forecasts and
// scores.
func (e *Evaluator) runWindow(ctx context.Context, raw, filled *domain.AlignedDataset, w domain.ForecastWindow) domain.WindowOutcome {
	out := domain.WindowOutcome{Window: w}
	grid := raw.Grid
	from := max(0, w.TrainStart-e.opts.maxLag())
	end := w.Cutoff + w.Horizon

	trained, _, err := gaps.FillAll(raw.Slice(from, w.Cutoff), e.opts.Gaps)
	if err != nil {
		out.Err = err
		return out
	}
	ext, err := e.extend(trained, filled, from, end)
	if err != nil {
		out.Err = err
		return out
	}

	target, _ := trained.Column(e.opts.Target)
	offset := w.TrainStart - from
	slice := model.TrainingSlice{
		Grid:   grid.Slice(w.TrainStart, w.Cutoff),
		Target: target.Values[offset:],
	}
	future := model.FutureExog{Grid: grid.Slice(w.Cutoff, end)}
	for _, r := range e.opts.Regressors {
		vals, err := lag.RegressorValues(ext, r)
		if err != nil {
			out.Err = err
			return out
		}
		cut := w.Cutoff - from
		slice.ExogNames = append(slice.ExogNames, r.Name())
		slice.Exog = append(slice.Exog, vals[offset:cut])
		future.Columns = append(future.Columns, carryForward(vals[cut:], vals[:cut]))
	}
	out.TrainRows = slice.Rows()
	out.LatestObservedInput = e.latestObservedInput(raw, w)

	st, err := e.model.Fit(ctx, slice, e.opts.Orders)
	if err != nil {
		out.Err = err
		return out
	}
	e.metrics.FitIterations.Observe(float64(st.Iterations))
	out.TrainEnd = st.TrainEnd
	if err := audit(out); err != nil {
		out.Err = err
		return out
	}

	res, err := e.model.Forecast(ctx, st, w.Horizon, future)
	if err != nil {
		out.Err = err
		return out
	}
	if diag, err := e.model.Diagnose(st, slice); err != nil {
		e.logger.Debug("residual diagnostics unavailable", "window", w.Index, "error", err)
	} else {
		out.Diagnostics = diag
	}

	score(res, raw, e.opts.Target, w.Cutoff)
	out.Result = res
	return out
}

// extend lays the training-filled regressor sources over rows [from, end).
// Rows at or after the cutoff carry values only for forecast-known sources,
// taken from the globally filled data; everything else stays missing.
func (e *Evaluator) extend(trained, filled *domain.AlignedDataset, from, end int) (*domain.AlignedDataset, error) {
	grid := filled.Grid.Slice(from, end)
	cutoff := trained.Grid.Len
	var cols []*domain.AlignedColumn
	added := make(map[string]bool)
	for _, r := range e.opts.Regressors {
		if added[r.Source] {
			continue
		}
		added[r.Source] = true
		tc, _ := trained.Column(r.Source)
		fc, _ := filled.Column(r.Source)

		c := &domain.AlignedColumn{
			Name:   tc.Name,
			Unit:   tc.Unit,
			Policy: tc.Policy,
			Role:   tc.Role,
			Values: make([]float64, grid.Len),
			Mask:   make([]domain.MaskState, grid.Len),
		}
		copy(c.Values, tc.Values)
		copy(c.Mask, tc.Mask)
		known := forecastKnown(tc, e.opts.Target)
		for i := cutoff; i < grid.Len; i++ {
			if known {
				c.Values[i] = fc.Values[from+i]
				c.Mask[i] = fc.Mask[from+i]
				continue
			}
			c.Values[i] = math.NaN()
			c.Mask[i] = domain.MaskMissing
		}
		cols = append(cols, c)
	}
	return domain.NewAlignedDataset(grid, cols)
}

// latestObservedInput is the latest row of observed-only data the window
// reads: the target up to the cutoff and every observed-only regressor up to
// its lag before the end of the horizon.
func (e *Evaluator) latestObservedInput(raw *domain.AlignedDataset, w domain.ForecastWindow) time.Time {
	latest := w.Cutoff - 1
	last := w.Cutoff + w.Horizon - 1
	for _, r := range e.opts.Regressors {
		col, _ := raw.Column(r.Source)
		if forecastKnown(col, e.opts.Target) {
			continue
		}
		latest = max(latest, last-r.Lag)
	}
	return raw.Grid.Time(latest)
}

// audit enforces that nothing at or after the cutoff fed the window.
func audit(out domain.WindowOutcome) error {
	cutoff := out.Window.CutoffTime
	if !out.TrainEnd.Before(cutoff) {
		return fmt.Errorf("%w: window %d trained through %s, cutoff %s", domain.ErrLeakage,
			out.Window.Index, out.TrainEnd.Format(time.RFC3339), cutoff.Format(time.RFC3339))
	}
	if !out.LatestObservedInput.Before(cutoff) {
		return fmt.Errorf("%w: window %d read observed-only input at %s, cutoff %s", domain.ErrLeakage,
			out.Window.Index, out.LatestObservedInput.Format(time.RFC3339), cutoff.Format(time.RFC3339))
	}
	return nil
}

// carryForward fills non-finite future values from the previous value,
// starting from the last finite training value.
func carryForward(future, history []float64) []float64 {
	out := append([]float64(nil), future...)
	prev := math.NaN()
	for i := len(history) - 1; i >= 0; i-- {
		if domain.IsFinite(history[i]) {
			prev = history[i]
			break
		}
	}
	for i, v := range out {
		if domain.IsFinite(v) {
			prev = v
			continue
		}
		out[i] = prev
	}
	return out
}

// score attaches realized target values that were genuinely observed.
func score(res *domain.ForecastResult, raw *domain.AlignedDataset, target string, cutoff int) {
	col, _ := raw.Column(target)
	for i := range res.Points {
		row := cutoff + i
		if row >= len(col.Values) || col.Mask[row].WasMissing() {
			continue
		}
		v := col.Values[row]
		res.Points[i].Realized = &v
	}
}
