package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/couchcryptid/nitrate-forecast/internal/domain"
)

// CSVHeader is the flat evaluation table header.
var CSVHeader = []string{
	"window_index", "forecast_timestamp", "predicted", "lower_bound", "upper_bound", "realized", "absolute_error",
}

// WriteCSV writes the evaluation table, one row per forecast point.
// Unrealized values are written as empty cells.
func WriteCSV(w io.Writer, rep *domain.EvaluationReport) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range rep.Rows() {
		rec := []string{
			strconv.Itoa(r.WindowIndex),
			r.Timestamp.UTC().Format(time.RFC3339),
			formatFloat(r.Predicted),
			formatFloat(r.LowerBound),
			formatFloat(r.UpperBound),
			formatOptional(r.Realized),
			formatOptional(r.AbsoluteError),
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSON writes the whole report as indented JSON.
func WriteJSON(w io.Writer, rep *domain.EvaluationReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}

// WriteFeatureCSV writes the output feature table keyed by timestamp.
func WriteFeatureCSV(w io.Writer, table *domain.LaggedFeatureTable) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{"timestamp"}, table.Header()...)); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range table.Rows() {
		rec := make([]string, 0, len(row.Values)+1)
		rec = append(rec, row.Time.UTC().Format(time.RFC3339))
		for _, v := range row.Values {
			rec = append(rec, formatFloat(v))
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64) string {
	if !domain.IsFinite(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}
