package http_test

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpadapter "github.com/couchcryptid/nitrate-forecast/internal/adapter/http"
	"github.com/couchcryptid/nitrate-forecast/internal/domain"
)

type mockStatus struct {
	err error
	rep *domain.EvaluationReport
}

func (m *mockStatus) CheckReadiness(_ context.Context) error { return m.err }
func (m *mockStatus) LastReport() *domain.EvaluationReport   { return m.rep }

func newTestServer(readyErr error) *httpadapter.Server {
	return httpadapter.NewServer(":0", &mockStatus{err: readyErr}, slog.Default())
}

func get(t *testing.T, srv *httpadapter.Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthzReturns200(t *testing.T) {
	rec := get(t, newTestServer(nil), "/healthz")

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestReadyzReturns200WhenReady(t *testing.T) {
	rec := get(t, newTestServer(nil), "/readyz")

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ready", body["status"])
}

func TestReadyzReturns503WhenNotReady(t *testing.T) {
	rec := get(t, newTestServer(fmt.Errorf("no forecast run has completed yet")), "/readyz")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not ready", body["status"])
	assert.Equal(t, "no forecast run has completed yet", body["error"])
}

func TestMetricsEndpoint(t *testing.T) {
	rec := get(t, newTestServer(nil), "/metrics")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestReportEndpoints(t *testing.T) {
	t.Run("404 before the first run", func(t *testing.T) {
		rec := get(t, newTestServer(nil), "/report")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	rep := &domain.EvaluationReport{
		RunID:       "run-7",
		Target:      "nitrate",
		GeneratedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		Forecasts:   []domain.WindowForecast{{Window: domain.ForecastWindow{Index: 0}}},
		Windows:     []domain.WindowSummary{},
		Skips:       []domain.SkipRecord{{WindowIndex: 1, Cause: "NonConvergenceError"}},
		Summary:     domain.Summary{WindowsPlanned: 2, WindowsScored: 1, SkippedCount: 1},
	}
	srv := httpadapter.NewServer(":0", &mockStatus{rep: rep}, slog.Default())

	t.Run("full report", func(t *testing.T) {
		rec := get(t, srv, "/report")
		require.Equal(t, http.StatusOK, rec.Code)
		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "run-7", body["run_id"])
		assert.Len(t, body["forecasts"], 1)
	})

	t.Run("summary omits forecasts", func(t *testing.T) {
		rec := get(t, srv, "/report/summary")
		require.Equal(t, http.StatusOK, rec.Code)
		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.NotContains(t, body, "forecasts")
		summary := body["summary"].(map[string]any)
		assert.Equal(t, 1.0, summary["skipped_count"])
		assert.Len(t, body["skips"], 1)
	})
}
