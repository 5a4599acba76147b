package domain

import (
	"encoding/json"
	"time"
)

// RollingMode selects how the training interval moves between windows.
type RollingMode string

const (
	// ModeRolling keeps a fixed-size training slice that shifts forward.
	ModeRolling RollingMode = "rolling"
	// ModeExpanding keeps the training start fixed and grows the end.
	ModeExpanding RollingMode = "expanding"
)

// ForecastWindow is one precomputed evaluation window, expressed in grid rows.
// Training covers [TrainStart, Cutoff); the forecast covers [Cutoff, Cutoff+Horizon).
type ForecastWindow struct {
	Index      int       `json:"window_index"`
	TrainStart int       `json:"train_start"`
	Cutoff     int       `json:"cutoff"`
	Horizon    int       `json:"horizon"`
	CutoffTime time.Time `json:"cutoff_time"`
}

// ForecastPoint is one predicted timestamp.
type ForecastPoint struct {
	Time      time.Time `json:"timestamp"`
	Step      int       `json:"step"`
	Predicted float64   `json:"predicted"`
	Lower     float64   `json:"lower"`
	Upper     float64   `json:"upper"`
	Realized  *float64  `json:"realized,omitempty"`
}

// AbsError returns |predicted - realized| and false when nothing was realized.
func (p ForecastPoint) AbsError() (float64, bool) {
	if p.Realized == nil {
		return 0, false
	}
	d := p.Predicted - *p.Realized
	if d < 0 {
		d = -d
	}
	return d, true
}

// ForecastResult holds the predictions for consecutive timestamps.
type ForecastResult struct {
	Model  string          `json:"model"`
	Points []ForecastPoint `json:"points"`
}

// ResidualDiagnostics summarizes in-sample residual behaviour of a fit.
type ResidualDiagnostics struct {
	N              int       `json:"n"`
	Mean           float64   `json:"mean"`
	StdDev         float64   `json:"std_dev"`
	ACF            []float64 `json:"acf"`
	LjungBox       float64   `json:"ljung_box"`
	LjungBoxPValue float64   `json:"ljung_box_p"`
	JarqueBera     float64   `json:"jarque_bera"`
	JarqueBeraP    float64   `json:"jarque_bera_p"`
	VarianceRatio  float64   `json:"variance_ratio"`
}

// jsonFloat encodes non-finite values as null.
type jsonFloat float64

func (f jsonFloat) MarshalJSON() ([]byte, error) {
	if !IsFinite(float64(f)) {
		return []byte("null"), nil
	}
	return json.Marshal(float64(f))
}

// MarshalJSON writes undefined statistics (e.g. the ACF of a constant
// residual series) as null.
func (d ResidualDiagnostics) MarshalJSON() ([]byte, error) {
	acf := make([]jsonFloat, len(d.ACF))
	for i, v := range d.ACF {
		acf[i] = jsonFloat(v)
	}
	return json.Marshal(struct {
		N              int         `json:"n"`
		Mean           jsonFloat   `json:"mean"`
		StdDev         jsonFloat   `json:"std_dev"`
		ACF            []jsonFloat `json:"acf"`
		LjungBox       jsonFloat   `json:"ljung_box"`
		LjungBoxPValue jsonFloat   `json:"ljung_box_p"`
		JarqueBera     jsonFloat   `json:"jarque_bera"`
		JarqueBeraP    jsonFloat   `json:"jarque_bera_p"`
		VarianceRatio  jsonFloat   `json:"variance_ratio"`
	}{
		N:              d.N,
		Mean:           jsonFloat(d.Mean),
		StdDev:         jsonFloat(d.StdDev),
		ACF:            acf,
		LjungBox:       jsonFloat(d.LjungBox),
		LjungBoxPValue: jsonFloat(d.LjungBoxPValue),
		JarqueBera:     jsonFloat(d.JarqueBera),
		JarqueBeraP:    jsonFloat(d.JarqueBeraP),
		VarianceRatio:  jsonFloat(d.VarianceRatio),
	})
}

// WindowOutcome is what one evaluation worker produces for one window.
// Exactly one of Result and Err is set.
type WindowOutcome struct {
	Window      ForecastWindow
	Result      *ForecastResult
	Diagnostics *ResidualDiagnostics
	Err         error

	// TrainEnd is the last timestamp used for training, and
	// LatestObservedInput the latest observed-only timestamp read anywhere
	// in the window. Both are strictly before Window.CutoffTime.
	TrainEnd            time.Time
	LatestObservedInput time.Time
	TrainRows           int
	Duration            time.Duration
}

// SkipRecord keeps a skipped window visible in the final report.
type SkipRecord struct {
	WindowIndex int       `json:"window_index"`
	Cutoff      time.Time `json:"cutoff"`
	Cause       string    `json:"cause"`
	Message     string    `json:"message"`
}

// ErrorStats are point-error aggregates over a set of scored forecasts.
type ErrorStats struct {
	N    int     `json:"n"`
	RMSE float64 `json:"rmse"`
	MAE  float64 `json:"mae"`
	Bias float64 `json:"bias"`
}

// Classification scores exceed/not-exceed alerts against a threshold.
type Classification struct {
	Threshold      float64 `json:"threshold"`
	TruePositives  int     `json:"true_positives"`
	FalsePositives int     `json:"false_positives"`
	FalseNegatives int     `json:"false_negatives"`
	TrueNegatives  int     `json:"true_negatives"`
	Precision      float64 `json:"precision"`
	Recall         float64 `json:"recall"`
	F1             float64 `json:"f1"`
}

// WindowSummary carries per-window figures so drift across windows is visible.
type WindowSummary struct {
	WindowIndex   int                  `json:"window_index"`
	Cutoff        time.Time            `json:"cutoff"`
	TrainRows     int                  `json:"train_rows"`
	Errors        ErrorStats           `json:"errors"`
	Diagnostics   *ResidualDiagnostics `json:"diagnostics,omitempty"`
	Model         string               `json:"model"`
	DurationMilli int64                `json:"duration_ms"`
}

// Summary is the aggregate record of a report.
type Summary struct {
	WindowsPlanned int             `json:"windows_planned"`
	WindowsScored  int             `json:"windows_scored"`
	SkippedCount   int             `json:"skipped_count"`
	Overall        ErrorStats      `json:"overall"`
	ByHorizonStep  []ErrorStats    `json:"by_horizon_step"`
	Classification *Classification `json:"classification,omitempty"`
}

// WindowForecast groups a window's predictions.
type WindowForecast struct {
	Window ForecastWindow `json:"window"`
	Result ForecastResult `json:"result"`
}

// EvaluationReport is the final, read-only output of a rolling evaluation.
// Forecasts, Windows and Skips are ordered by window index.
type EvaluationReport struct {
	RunID       string           `json:"run_id"`
	Target      string           `json:"target"`
	GeneratedAt time.Time        `json:"generated_at"`
	Forecasts   []WindowForecast `json:"forecasts"`
	Windows     []WindowSummary  `json:"windows"`
	Skips       []SkipRecord     `json:"skips"`
	Summary     Summary          `json:"summary"`
}

// ReportRow is one line of the flat evaluation table.
type ReportRow struct {
	WindowIndex   int       `json:"window_index"`
	Timestamp     time.Time `json:"forecast_timestamp"`
	Predicted     float64   `json:"predicted"`
	LowerBound    float64   `json:"lower_bound"`
	UpperBound    float64   `json:"upper_bound"`
	Realized      *float64  `json:"realized,omitempty"`
	AbsoluteError *float64  `json:"absolute_error,omitempty"`
}

// Rows flattens the report into the evaluation table.
func (r *EvaluationReport) Rows() []ReportRow {
	var rows []ReportRow
	for _, wf := range r.Forecasts {
		for _, p := range wf.Result.Points {
			row := ReportRow{
				WindowIndex: wf.Window.Index,
				Timestamp:   p.Time,
				Predicted:   p.Predicted,
				LowerBound:  p.Lower,
				UpperBound:  p.Upper,
				Realized:    p.Realized,
			}
			if e, ok := p.AbsError(); ok {
				row.AbsoluteError = &e
			}
			rows = append(rows, row)
		}
	}
	return rows
}
