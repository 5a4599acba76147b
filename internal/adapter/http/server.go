package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/nitrate-forecast/internal/domain"
)

// ReportProvider exposes the most recent evaluation report, nil before the
// first completed run.
type ReportProvider interface {
	LastReport() *domain.EvaluationReport
}

// Status is the pipeline surface the server needs.
type Status interface {
	sharedobs.ReadinessChecker
	ReportProvider
}

// Server exposes health, readiness, metrics and report HTTP endpoints.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics,
// /report and /report/summary routes.
func NewServer(addr string, status Status, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(status))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /report", handleReport(status, false))
	mux.HandleFunc("GET /report/summary", handleReport(status, true))

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

type reportSummary struct {
	RunID       string              `json:"run_id"`
	Target      string              `json:"target"`
	GeneratedAt time.Time           `json:"generated_at"`
	Summary     domain.Summary      `json:"summary"`
	Skips       []domain.SkipRecord `json:"skips"`
}

func handleReport(p ReportProvider, summaryOnly bool) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		rep := p.LastReport()
		if rep == nil {
			sharedobs.WriteJSON(w, http.StatusNotFound, map[string]string{"error": "no completed forecast run"})
			return
		}
		if summaryOnly {
			sharedobs.WriteJSON(w, http.StatusOK, reportSummary{
				RunID:       rep.RunID,
				Target:      rep.Target,
				GeneratedAt: rep.GeneratedAt,
				Summary:     rep.Summary,
				Skips:       rep.Skips,
			})
			return
		}
		sharedobs.WriteJSON(w, http.StatusOK, rep)
	}
}
