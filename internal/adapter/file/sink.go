package file

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/couchcryptid/nitrate-forecast/internal/domain"
	"github.com/couchcryptid/nitrate-forecast/internal/report"
)

// Sink writes run outputs below a directory:
//
//	features_<run>.csv   the lagged feature table
//	report_<run>.csv     the flat evaluation table
//	report_<run>.json    the full evaluation report
//
// It implements both pipeline.DatasetSink and pipeline.ReportSink.
type Sink struct {
	dir    string
	logger *slog.Logger
}

// NewSink creates a sink writing below dir, creating it if needed.
func NewSink(dir string, logger *slog.Logger) (*Sink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &Sink{dir: dir, logger: logger}, nil
}

func (s *Sink) WriteDataset(_ context.Context, runID string, table *domain.LaggedFeatureTable) error {
	return s.write("features_"+runID+".csv", func(w io.Writer) error {
		return report.WriteFeatureCSV(w, table)
	})
}

func (s *Sink) WriteReport(_ context.Context, rep *domain.EvaluationReport) error {
	if err := s.write("report_"+rep.RunID+".csv", func(w io.Writer) error {
		return report.WriteCSV(w, rep)
	}); err != nil {
		return err
	}
	return s.write("report_"+rep.RunID+".json", func(w io.Writer) error {
		return report.WriteJSON(w, rep)
	})
}

// write renders into a temporary file and renames it into place, so readers
// never observe a partial output.
func (s *Sink) write(name string, render func(io.Writer) error) error {
	tmp, err := os.CreateTemp(s.dir, "."+name+".*")
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	defer os.Remove(tmp.Name())

	if err := render(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("render %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	path := filepath.Join(s.dir, name)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename %s: %w", name, err)
	}
	s.logger.Info("output written", "path", path)
	return nil
}
