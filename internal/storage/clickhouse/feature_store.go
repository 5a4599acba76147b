package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/couchcryptid/nitrate-forecast/internal/domain"
)

// FeatureValue is one cell of a stored feature table. A nil Value is a
// missing cell.
type FeatureValue struct {
	RunID  string
	Time   time.Time
	Column string
	Value  *float64
}

// FeatureStore writes feature tables in long format, one row per
// (run, column, timestamp). It implements pipeline.DatasetSink.
type FeatureStore struct {
	conn *Conn
}

// NewFeatureStore creates a FeatureStore.
func NewFeatureStore(conn *Conn) *FeatureStore {
	return &FeatureStore{conn: conn}
}

// WriteDataset inserts every cell of table in one batch.
func (s *FeatureStore) WriteDataset(ctx context.Context, runID string, table *domain.LaggedFeatureTable) error {
	values := featureValues(runID, table)
	if len(values) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO feature_values (run_id, ts, column, value)`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	for _, v := range values {
		if err := batch.Append(v.RunID, v.Time, v.Column, v.Value); err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// ReadColumn returns one column of a stored run ordered by timestamp.
func (s *FeatureStore) ReadColumn(ctx context.Context, runID, column string) ([]FeatureValue, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT run_id, ts, column, value
		FROM feature_values FINAL
		WHERE run_id = ? AND column = ?
		ORDER BY ts ASC
	`, runID, column)
	if err != nil {
		return nil, fmt.Errorf("query feature column: %w", err)
	}
	defer rows.Close()

	var out []FeatureValue
	for rows.Next() {
		var v FeatureValue
		if err := rows.Scan(&v.RunID, &v.Time, &v.Column, &v.Value); err != nil {
			return nil, fmt.Errorf("scan feature value: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// featureValues flattens a table in Header order, timestamp by timestamp.
func featureValues(runID string, table *domain.LaggedFeatureTable) []FeatureValue {
	header := table.Header()
	rows := table.Rows()
	out := make([]FeatureValue, 0, len(header)*len(rows))
	for _, r := range rows {
		for i, v := range r.Values {
			fv := FeatureValue{RunID: runID, Time: r.Time, Column: header[i]}
			if domain.IsFinite(v) {
				fv.Value = &v
			}
			out = append(out, fv)
		}
	}
	return out
}
