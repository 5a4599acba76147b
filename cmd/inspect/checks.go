package main

import (
	"fmt"

	"github.com/couchcryptid/nitrate-forecast/internal/config"
	"github.com/couchcryptid/nitrate-forecast/internal/domain"
)

// phase collects the failures of one group of checks.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool {
	return len(p.errors) == 0
}

// checkSeries flags series the aligner cannot use or that look corrupt.
func checkSeries(series []domain.RawSeries, profiles []domain.SeriesProfile) *phase {
	p := &phase{name: "Series integrity"}
	seen := make(map[string]bool, len(series))
	for i, s := range series {
		prof := profiles[i]
		if seen[s.Name] {
			p.errorf("%s: declared more than once", s.Name)
		}
		seen[s.Name] = true

		if prof.Rows == 0 {
			p.errorf("%s: no observations", s.Name)
			continue
		}
		if prof.NumericRows == 0 {
			p.errorf("%s: no numeric observations", s.Name)
		}
		if prof.DuplicateTimestamps > 0 && s.Policy != domain.PolicySum {
			p.errorf("%s: %d duplicate timestamps", s.Name, prof.DuplicateTimestamps)
		}
		if s.EmptyIsZero && s.Policy != domain.PolicySum {
			p.errorf("%s: empty_is_zero needs the sum policy", s.Name)
		}
	}
	return p
}

// checkCatalog verifies that every catalog variable is present and that a
// declared frequency matches the observed sampling.
func checkCatalog(c *config.Catalog, series []domain.RawSeries, profiles []domain.SeriesProfile) *phase {
	p := &phase{name: "Catalog coverage"}
	byName := make(map[string]domain.SeriesProfile, len(series))
	for i, s := range series {
		byName[s.Name] = profiles[i]
	}

	for _, e := range c.Series {
		prof, ok := byName[e.Name]
		if !ok {
			p.errorf("%s: in catalog but not in the series document", e.Name)
			continue
		}
		if e.Frequency > 0 && prof.MedianInterval > 0 && prof.MedianInterval != e.Frequency {
			p.errorf("%s: catalog frequency %s, observed median interval %s", e.Name, e.Frequency, prof.MedianInterval)
		}
	}
	if c.Target != "" {
		if _, ok := byName[c.Target]; !ok {
			p.errorf("target %s has no series", c.Target)
		}
	}
	return p
}
