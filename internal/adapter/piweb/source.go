package piweb

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/nitrate-forecast/internal/config"
	"github.com/couchcryptid/nitrate-forecast/internal/domain"
)

// fetchConcurrency bounds parallel tag downloads against one historian.
const fetchConcurrency = 4

type recorder interface {
	Recorded(ctx context.Context, webID, start, end string) ([]domain.Observation, error)
}

// Source loads every catalog series that carries a tag path from the
// historian. It implements pipeline.SeriesSource.
type Source struct {
	resolver webIDResolver
	recorder recorder
	entries  []config.SeriesEntry
	start    string
	end      string
	logger   *slog.Logger
}

// NewSource creates a historian source. A zero start or end falls back to
// the PI relative times *-5y and *.
func NewSource(c *Client, resolver webIDResolver, catalog *config.Catalog, start, end time.Time, logger *slog.Logger) *Source {
	s := &Source{
		resolver: resolver,
		recorder: c,
		start:    piTime(start, "*-5y"),
		end:      piTime(end, "*"),
		logger:   logger,
	}
	if catalog != nil {
		s.entries = catalog.Series
	}
	return s
}

func piTime(t time.Time, def string) string {
	if t.IsZero() {
		return def
	}
	return t.UTC().Format(time.RFC3339)
}

// LoadSeries resolves and downloads every tagged catalog entry. The first
// failing tag fails the load; series keep catalog order.
func (s *Source) LoadSeries(ctx context.Context) ([]domain.RawSeries, error) {
	tagged := make([]config.SeriesEntry, 0, len(s.entries))
	for _, e := range s.entries {
		if e.Tag == "" {
			s.logger.Warn("catalog series has no tag path, skipping", "series", e.Name)
			continue
		}
		tagged = append(tagged, e)
	}

	out := make([]domain.RawSeries, len(tagged))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for i, e := range tagged {
		g.Go(func() error {
			webID, err := s.resolver.ResolveWebID(gctx, e.Tag)
			if err != nil {
				return fmt.Errorf("series %s: %w", e.Name, err)
			}
			obs, err := s.recorder.Recorded(gctx, webID, s.start, s.end)
			if err != nil {
				return fmt.Errorf("series %s: %w", e.Name, err)
			}
			out[i] = domain.RawSeries{
				Name:         e.Name,
				Unit:         e.Unit,
				Policy:       e.Policy,
				Role:         e.Role,
				Frequency:    e.Frequency,
				EmptyIsZero:  e.EmptyIsZero,
				Observations: obs,
			}
			s.logger.Info("historian series loaded", "series", e.Name, "tag", e.Tag, "observations", len(obs))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
