// Package report turns window outcomes into the final evaluation report:
// per-window and aggregate error statistics, optional threshold
// classification, and an explicit record of every skipped window.
package report

import (
	"math"
	"sort"

	"github.com/couchcryptid/nitrate-forecast/internal/domain"
	"gonum.org/v1/gonum/stat"
)

// Options identify the run and enable threshold classification when
// Threshold is set.
type Options struct {
	RunID     string
	Target    string
	Threshold *float64
}

// Build assembles the report. Outcomes may arrive in any order; the report
// is ordered by window index.
func Build(outcomes []domain.WindowOutcome, opts Options) *domain.EvaluationReport {
	sorted := append([]domain.WindowOutcome(nil), outcomes...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Window.Index < sorted[j].Window.Index })

	rep := &domain.EvaluationReport{
		RunID:       opts.RunID,
		Target:      opts.Target,
		GeneratedAt: domain.Now(),
		Forecasts:   []domain.WindowForecast{},
		Windows:     []domain.WindowSummary{},
		Skips:       []domain.SkipRecord{},
	}

	var all []domain.ForecastPoint
	byStep := map[int][]domain.ForecastPoint{}
	maxStep := 0
	for _, out := range sorted {
		if out.Err != nil || out.Result == nil {
			rep.Skips = append(rep.Skips, skipRecord(out))
			continue
		}
		rep.Forecasts = append(rep.Forecasts, domain.WindowForecast{Window: out.Window, Result: *out.Result})
		rep.Windows = append(rep.Windows, domain.WindowSummary{
			WindowIndex:   out.Window.Index,
			Cutoff:        out.Window.CutoffTime,
			TrainRows:     out.TrainRows,
			Errors:        ErrorStats(out.Result.Points),
			Diagnostics:   out.Diagnostics,
			Model:         out.Result.Model,
			DurationMilli: out.Duration.Milliseconds(),
		})
		for _, p := range out.Result.Points {
			all = append(all, p)
			byStep[p.Step] = append(byStep[p.Step], p)
			maxStep = max(maxStep, p.Step)
		}
	}

	rep.Summary = domain.Summary{
		WindowsPlanned: len(sorted),
		WindowsScored:  len(rep.Forecasts),
		SkippedCount:   len(rep.Skips),
		Overall:        ErrorStats(all),
		ByHorizonStep:  make([]domain.ErrorStats, maxStep),
	}
	for step := 1; step <= maxStep; step++ {
		rep.Summary.ByHorizonStep[step-1] = ErrorStats(byStep[step])
	}
	if opts.Threshold != nil {
		c := Classify(all, *opts.Threshold)
		rep.Summary.Classification = &c
	}
	return rep
}

func skipRecord(out domain.WindowOutcome) domain.SkipRecord {
	rec := domain.SkipRecord{
		WindowIndex: out.Window.Index,
		Cutoff:      out.Window.CutoffTime,
		Cause:       domain.ErrorKind(out.Err),
	}
	if out.Err != nil {
		rec.Message = out.Err.Error()
	} else {
		rec.Cause = "UnclassifiedError"
		rec.Message = "window produced no forecast"
	}
	return rec
}

// ErrorStats computes RMSE, MAE and bias (mean of predicted minus realized)
// over the points that have a realized value.
func ErrorStats(points []domain.ForecastPoint) domain.ErrorStats {
	var diffs, abs, sq []float64
	for _, p := range points {
		if p.Realized == nil {
			continue
		}
		d := p.Predicted - *p.Realized
		diffs = append(diffs, d)
		abs = append(abs, math.Abs(d))
		sq = append(sq, d*d)
	}
	if len(diffs) == 0 {
		return domain.ErrorStats{}
	}
	return domain.ErrorStats{
		N:    len(diffs),
		RMSE: math.Sqrt(stat.Mean(sq, nil)),
		MAE:  stat.Mean(abs, nil),
		Bias: stat.Mean(diffs, nil),
	}
}

// Classify labels predicted and realized values as exceeding threshold when
// strictly above it and scores the predicted labels. Ratios with an empty
// denominator are reported as 0.
func Classify(points []domain.ForecastPoint, threshold float64) domain.Classification {
	c := domain.Classification{Threshold: threshold}
	for _, p := range points {
		if p.Realized == nil {
			continue
		}
		predicted := p.Predicted > threshold
		actual := *p.Realized > threshold
		switch {
		case predicted && actual:
			c.TruePositives++
		case predicted && !actual:
			c.FalsePositives++
		case !predicted && actual:
			c.FalseNegatives++
		default:
			c.TrueNegatives++
		}
	}
	c.Precision = ratio(c.TruePositives, c.TruePositives+c.FalsePositives)
	c.Recall = ratio(c.TruePositives, c.TruePositives+c.FalseNegatives)
	if c.Precision+c.Recall > 0 {
		c.F1 = 2 * c.Precision * c.Recall / (c.Precision + c.Recall)
	}
	return c
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
