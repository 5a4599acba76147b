package file

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/nitrate-forecast/internal/domain"
)

var t0 = time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const sampleDocument = `{
  "series": [
    {
      "name": "nitrate",
      "unit": "mg/L",
      "frequency": "1h",
      "observations": [
        {"timestamp": "2024-07-01T00:00:00Z", "value": 8.1},
        {"timestamp": "2024-07-01T01:00:00Z", "value": {"Name": "Shutdown", "Value": 0}}
      ]
    },
    {
      "name": "rain",
      "policy": "sum",
      "role": "forecast-known",
      "empty_is_zero": true,
      "observations": [
        {"timestamp": "2024-07-01T00:15:00Z", "value": "0.2"}
      ]
    }
  ]
}`

func TestDecode(t *testing.T) {
	series, err := Decode(strings.NewReader(sampleDocument))
	require.NoError(t, err)
	require.Len(t, series, 2)

	assert.Equal(t, "nitrate", series[0].Name)
	assert.Equal(t, domain.PolicyMean, series[0].Policy)
	assert.Equal(t, domain.RoleObserved, series[0].Role)
	assert.Equal(t, time.Hour, series[0].Frequency)
	assert.True(t, math.IsNaN(series[0].Observations[1].Value))
	assert.Equal(t, "Shutdown", series[0].Observations[1].Label)

	assert.Equal(t, domain.PolicySum, series[1].Policy)
	assert.Equal(t, domain.RoleForecastKnown, series[1].Role)
	assert.True(t, series[1].EmptyIsZero)
	assert.InDelta(t, 0.2, series[1].Observations[0].Value, 1e-12)
}

func TestDecode_Invalid(t *testing.T) {
	tests := map[string]string{
		"not json":      `[`,
		"no name":       `{"series":[{"observations":[]}]}`,
		"bad policy":    `{"series":[{"name":"a","policy":"median"}]}`,
		"bad role":      `{"series":[{"name":"a","role":"guessed"}]}`,
		"bad frequency": `{"series":[{"name":"a","frequency":"hourly"}]}`,
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(doc))
			require.Error(t, err)
		})
	}
}

func TestEncode_RoundTripsThroughDecode(t *testing.T) {
	in := []domain.RawSeries{{
		Name:      "flow",
		Policy:    domain.PolicyMean,
		Role:      domain.RoleObserved,
		Frequency: 15 * time.Minute,
		Observations: []domain.Observation{
			{Time: t0, Value: 120},
			{Time: t0.Add(15 * time.Minute), Value: math.NaN(), Label: "I/O Timeout"},
		},
	}}

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, in))
	assert.Contains(t, buf.String(), `"frequency": "15m0s"`)

	out, err := Decode(&buf)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 15*time.Minute, out[0].Frequency)
	assert.True(t, math.IsNaN(out[0].Observations[1].Value))
	assert.Equal(t, "I/O Timeout", out[0].Observations[1].Label)
}

func TestSource_LoadSeries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "series.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleDocument), 0o600))

	series, err := NewSource(path).LoadSeries(context.Background())
	require.NoError(t, err)
	assert.Len(t, series, 2)

	_, err = NewSource(filepath.Join(t.TempDir(), "missing.json")).LoadSeries(context.Background())
	require.Error(t, err)
}

func TestSink_WritesOutputs(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	sink, err := NewSink(dir, discardLogger())
	require.NoError(t, err)

	grid := domain.TimeGrid{Start: t0, Step: time.Hour, Len: 1}
	ds, err := domain.NewAlignedDataset(grid, []*domain.AlignedColumn{{
		Name: "nitrate", Values: []float64{8}, Mask: []domain.MaskState{domain.MaskObserved},
	}})
	require.NoError(t, err)
	require.NoError(t, sink.WriteDataset(context.Background(), "run-1", &domain.LaggedFeatureTable{AlignedDataset: ds}))

	realized := 8.5
	rep := &domain.EvaluationReport{
		RunID:  "run-1",
		Target: "nitrate",
		Forecasts: []domain.WindowForecast{{
			Window: domain.ForecastWindow{Index: 0},
			Result: domain.ForecastResult{Points: []domain.ForecastPoint{
				{Time: t0, Predicted: 8, Lower: 7, Upper: 9, Realized: &realized},
			}},
		}},
	}
	require.NoError(t, sink.WriteReport(context.Background(), rep))

	features, err := os.ReadFile(filepath.Join(dir, "features_run-1.csv"))
	require.NoError(t, err)
	assert.Equal(t, "timestamp,nitrate,nitrate_missing\n2024-07-01T00:00:00Z,8,0\n", string(features))

	table, err := os.ReadFile(filepath.Join(dir, "report_run-1.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(table), "0,2024-07-01T00:00:00Z,8,7,9,8.5,0.5")

	doc, err := os.ReadFile(filepath.Join(dir, "report_run-1.json"))
	require.NoError(t, err)
	assert.Contains(t, string(doc), `"run_id": "run-1"`)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 3, "no temporary files are left behind")
}
