package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/nitrate-forecast/internal/align"
	"github.com/couchcryptid/nitrate-forecast/internal/config"
	"github.com/couchcryptid/nitrate-forecast/internal/domain"
	"github.com/couchcryptid/nitrate-forecast/internal/evaluate"
	"github.com/couchcryptid/nitrate-forecast/internal/gaps"
	"github.com/couchcryptid/nitrate-forecast/internal/lag"
	"github.com/couchcryptid/nitrate-forecast/internal/model"
	"github.com/couchcryptid/nitrate-forecast/internal/observability"
	"github.com/couchcryptid/nitrate-forecast/internal/report"
)

// SeriesSource reads every raw series of a study.
type SeriesSource interface {
	LoadSeries(ctx context.Context) ([]domain.RawSeries, error)
}

// DatasetSink persists the output feature table of a run.
type DatasetSink interface {
	WriteDataset(ctx context.Context, runID string, table *domain.LaggedFeatureTable) error
}

// ReportSink persists the evaluation report of a run.
type ReportSink interface {
	WriteReport(ctx context.Context, rep *domain.EvaluationReport) error
}

// Sinks are the run outputs. Every sink receives every run; the first
// failing sink fails the run.
type Sinks struct {
	Datasets []DatasetSink
	Reports  []ReportSink
}

// Options configure one run. Eval.Regressors may be empty, in which case up
// to AutoLagTopN regressors are screened from the data.
type Options struct {
	Grid        align.Options
	Catalog     *config.Catalog
	LagRange    lag.Range
	AutoLagTopN int
	Eval        evaluate.Options
	Threshold   *float64
}

// OptionsFromConfig derives the run options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	o := Options{
		Grid:        align.Options{Start: cfg.StudyStart, End: cfg.StudyEnd, Step: cfg.GridStep},
		Catalog:     cfg.Catalog,
		LagRange:    cfg.LagRange,
		AutoLagTopN: cfg.AutoLagTopN,
		Threshold:   cfg.AlertThreshold,
		Eval: evaluate.Options{
			Target:        cfg.Target,
			Orders:        cfg.Orders,
			Mode:          cfg.Mode,
			TrainWindow:   cfg.TrainWindow,
			Horizon:       cfg.Horizon,
			StepAdvance:   cfg.StepAdvance,
			Gaps:          cfg.Gaps,
			Workers:       cfg.Workers,
			WindowTimeout: cfg.WindowTimeout,
		},
	}
	if cfg.Catalog != nil {
		o.Eval.Regressors = cfg.Catalog.Regressors
	}
	return o
}

// Pipeline orchestrates the align-fill-evaluate-report run.
type Pipeline struct {
	source  SeriesSource
	sinks   Sinks
	model   model.Model
	opts    Options
	logger  *slog.Logger
	metrics *observability.Metrics
	clock   clockwork.Clock
	ready   atomic.Bool
	last    atomic.Pointer[domain.EvaluationReport]
}

// New creates a Pipeline with the given stages and observability.
func New(src SeriesSource, sinks Sinks, m model.Model, opts Options, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{
		source:  src,
		sinks:   sinks,
		model:   m,
		opts:    opts,
		logger:  logger,
		metrics: metrics,
		clock:   clockwork.NewRealClock(),
	}
}

// WithClock replaces the scheduling clock used by Run.
func (p *Pipeline) WithClock(c clockwork.Clock) *Pipeline {
	p.clock = c
	return p
}

// CheckReadiness returns nil once a run has completed, or an error describing
// why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("no forecast run has completed yet")
	}
	return nil
}

// LastReport returns the report of the most recent completed run, or nil.
func (p *Pipeline) LastReport() *domain.EvaluationReport {
	return p.last.Load()
}

// Run executes one forecast run and, when interval is positive, repeats it on
// every tick until the context is cancelled. In periodic mode a failed run is
// logged and retried on the next tick; otherwise its error is returned.
func (p *Pipeline) Run(ctx context.Context, interval time.Duration) error {
	_, err := p.RunOnce(ctx)
	if interval <= 0 {
		return err
	}
	if err != nil && ctx.Err() == nil {
		p.logger.Error("forecast run failed, retrying on next tick", "error", err, "interval", interval)
	}

	ticker := p.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		case <-ticker.Chan():
			if _, err := p.RunOnce(ctx); err != nil && ctx.Err() == nil {
				p.logger.Error("forecast run failed, retrying on next tick", "error", err, "interval", interval)
			}
		}
	}
}

// RunOnce performs a complete run and publishes its outputs. Any error is
// structural: window-level failures are carried inside the report.
func (p *Pipeline) RunOnce(ctx context.Context) (*domain.EvaluationReport, error) {
	runID := uuid.NewString()
	logger := p.logger.With("run_id", runID)
	start := domain.Now()
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	logger.Info("forecast run started", "target", p.opts.Eval.Target)

	series, err := p.source.LoadSeries(ctx)
	if err != nil {
		return nil, fmt.Errorf("load series: %w", err)
	}
	p.metrics.SeriesLoaded.Add(float64(len(series)))
	if p.opts.Catalog != nil {
		series = p.opts.Catalog.Apply(series)
	}

	raw, filled, err := p.prepare(ctx, series, logger)
	if err != nil {
		return nil, err
	}

	evalOpts := p.opts.Eval
	if len(evalOpts.Regressors) == 0 && p.opts.AutoLagTopN > 0 {
		if evalOpts.Regressors, err = p.screen(ctx, raw, evalOpts, logger); err != nil {
			return nil, err
		}
	}
	if err := evalOpts.Validate(raw); err != nil {
		return nil, err
	}

	table, err := lag.MaterializeLags(filled, lagSpecs(evalOpts.Regressors))
	if err != nil {
		return nil, fmt.Errorf("materialize lags: %w", err)
	}
	for _, s := range p.sinks.Datasets {
		if err := s.WriteDataset(ctx, runID, table); err != nil {
			return nil, fmt.Errorf("write dataset: %w", err)
		}
		p.metrics.RowsPublished.WithLabelValues("features").Add(float64(table.Grid.Len))
	}

	outcomes, err := evaluate.New(p.model, evalOpts, logger, p.metrics).Run(ctx, raw, filled)
	if err != nil {
		return nil, fmt.Errorf("rolling evaluation: %w", err)
	}
	rep := report.Build(outcomes, report.Options{RunID: runID, Target: evalOpts.Target, Threshold: p.opts.Threshold})

	rows := len(rep.Rows())
	for _, s := range p.sinks.Reports {
		if err := s.WriteReport(ctx, rep); err != nil {
			return nil, fmt.Errorf("write report: %w", err)
		}
		p.metrics.RowsPublished.WithLabelValues("report").Add(float64(rows))
	}

	elapsed := domain.Since(start)
	p.metrics.RunDuration.Observe(elapsed.Seconds())
	p.last.Store(rep)
	p.ready.Store(true)
	logger.Info("forecast run complete",
		"windows", rep.Summary.WindowsPlanned,
		"scored", rep.Summary.WindowsScored,
		"skipped", rep.Summary.SkippedCount,
		"rmse", rep.Summary.Overall.RMSE,
		"mae", rep.Summary.Overall.MAE,
		"duration", elapsed,
	)
	return rep, nil
}

// prepare aligns the series onto the grid and applies global gap handling.
// The unfilled dataset is kept for per-window filling and scoring.
func (p *Pipeline) prepare(ctx context.Context, series []domain.RawSeries, logger *slog.Logger) (*domain.AlignedDataset, *domain.AlignedDataset, error) {
	grid, err := align.NewGrid(p.opts.Grid, series)
	if err != nil {
		return nil, nil, fmt.Errorf("build grid: %w", err)
	}
	raw, err := align.AlignAll(ctx, grid, series, p.opts.Eval.Workers)
	if err != nil {
		return nil, nil, fmt.Errorf("align series: %w", err)
	}
	p.metrics.SeriesAligned.Add(float64(len(series)))

	filled, st, err := gaps.FillAll(raw, p.opts.Eval.Gaps)
	if err != nil {
		return nil, nil, fmt.Errorf("fill gaps: %w", err)
	}
	p.metrics.GapCells.WithLabelValues("short").Add(float64(st.ShortFilled))
	p.metrics.GapCells.WithLabelValues("long").Add(float64(st.LongFilled))
	p.metrics.GapCells.WithLabelValues("unfillable").Add(float64(st.Unfillable))

	logger.Info("series aligned",
		"series", len(series),
		"grid_start", grid.Start,
		"grid_rows", grid.Len,
		"short_filled", st.ShortFilled,
		"long_filled", st.LongFilled,
		"unfillable", st.Unfillable,
	)
	return raw, filled, nil
}

// screen selects regressors from the rows before the first window's cutoff,
// gap-filled on their own, so no forecast period shapes the choice of lags.
func (p *Pipeline) screen(ctx context.Context, raw *domain.AlignedDataset, o evaluate.Options, logger *slog.Logger) ([]domain.Regressor, error) {
	windows, err := evaluate.PlanWindows(raw.Grid, o)
	if err != nil {
		return nil, err
	}
	history, _, err := gaps.FillAll(raw.Slice(0, windows[0].Cutoff), o.Gaps)
	if err != nil {
		return nil, fmt.Errorf("fill screening history: %w", err)
	}
	profiles, err := lag.Screen(ctx, history, o.Target, p.opts.LagRange, o.Workers)
	if err != nil {
		return nil, fmt.Errorf("screen lags: %w", err)
	}
	regs := lag.Select(profiles, p.opts.AutoLagTopN, o.Horizon)
	for _, r := range regs {
		logger.Info("regressor selected", "regressor", r.Name(), "screened_rows", history.Grid.Len)
	}
	return regs, nil
}

func lagSpecs(regs []domain.Regressor) []domain.LagSpec {
	specs := make([]domain.LagSpec, 0, len(regs))
	for _, r := range regs {
		if r.Indicator {
			continue
		}
		specs = append(specs, domain.LagSpec{Source: r.Source, Lag: r.Lag})
	}
	return specs
}
