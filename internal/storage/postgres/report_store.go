package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/couchcryptid/nitrate-forecast/internal/domain"
)

// ReportStore persists evaluation reports: a run summary with the full JSON
// document, the flat forecast rows and the skipped windows. It implements
// pipeline.ReportSink.
type ReportStore struct {
	pool *Pool
}

// NewReportStore creates a ReportStore.
func NewReportStore(pool *Pool) *ReportStore {
	return &ReportStore{pool: pool}
}

var forecastRowColumns = []string{
	"run_id", "window_index", "forecast_timestamp", "predicted",
	"lower_bound", "upper_bound", "realized", "absolute_error",
}

// WriteReport stores rep atomically. Storing the same run twice returns
// ErrDuplicateRun.
func (s *ReportStore) WriteReport(ctx context.Context, rep *domain.EvaluationReport) error {
	doc, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	_, err = tx.Exec(ctx, `
		INSERT INTO forecast_runs (
			run_id, target, generated_at, windows_planned, windows_scored, skipped_count, rmse, mae, bias, report
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		rep.RunID,
		rep.Target,
		rep.GeneratedAt,
		rep.Summary.WindowsPlanned,
		rep.Summary.WindowsScored,
		rep.Summary.SkippedCount,
		rep.Summary.Overall.RMSE,
		rep.Summary.Overall.MAE,
		rep.Summary.Overall.Bias,
		doc,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateRun
		}
		return fmt.Errorf("insert run: %w", err)
	}

	if rows := forecastRowValues(rep); len(rows) > 0 {
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"forecast_rows"}, forecastRowColumns, pgx.CopyFromRows(rows)); err != nil {
			return fmt.Errorf("copy forecast rows: %w", err)
		}
	}

	for _, sk := range rep.Skips {
		if _, err := tx.Exec(ctx, `
			INSERT INTO window_skips (run_id, window_index, cutoff, cause, message)
			VALUES ($1, $2, $3, $4, $5)
		`, rep.RunID, sk.WindowIndex, sk.Cutoff, sk.Cause, sk.Message); err != nil {
			return fmt.Errorf("insert window skip: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// LatestReport returns the most recently generated report for target.
func (s *ReportStore) LatestReport(ctx context.Context, target string) (*domain.EvaluationReport, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, `
		SELECT report FROM forecast_runs
		WHERE target = $1
		ORDER BY generated_at DESC
		LIMIT 1
	`, target).Scan(&doc)
	if err != nil {
		if isNotFoundError(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get latest report: %w", err)
	}

	var rep domain.EvaluationReport
	if err := json.Unmarshal(doc, &rep); err != nil {
		return nil, fmt.Errorf("decode stored report: %w", err)
	}
	return &rep, nil
}

// CountRows returns the number of stored forecast rows for a run.
func (s *ReportStore) CountRows(ctx context.Context, runID string) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM forecast_rows WHERE run_id = $1`, runID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count forecast rows: %w", err)
	}
	return n, nil
}

func forecastRowValues(rep *domain.EvaluationReport) [][]any {
	rows := rep.Rows()
	out := make([][]any, 0, len(rows))
	for _, r := range rows {
		out = append(out, []any{
			rep.RunID,
			r.WindowIndex,
			r.Timestamp,
			r.Predicted,
			r.LowerBound,
			r.UpperBound,
			r.Realized,
			r.AbsoluteError,
		})
	}
	return out
}
