package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/couchcryptid/nitrate-forecast/internal/domain"
	"github.com/couchcryptid/nitrate-forecast/internal/gaps"
)

// SeriesEntry declares one variable of the study.
type SeriesEntry struct {
	Name        string
	Tag         string
	Unit        string
	Policy      domain.AggregationPolicy
	Role        domain.Role
	EmptyIsZero bool
	Frequency   time.Duration
	Fill        gaps.FillMethod
}

// Catalog is the parsed series catalog file.
type Catalog struct {
	Target     string
	Series     []SeriesEntry
	Regressors []domain.Regressor
}

type catalogFile struct {
	Target string `yaml:"target"`
	Series []struct {
		Name        string `yaml:"name"`
		Tag         string `yaml:"tag"`
		Unit        string `yaml:"unit"`
		Policy      string `yaml:"policy"`
		Role        string `yaml:"role"`
		EmptyIsZero bool   `yaml:"empty_is_zero"`
		Frequency   string `yaml:"frequency"`
		Fill        string `yaml:"fill"`
	} `yaml:"series"`
	Regressors []domain.Regressor `yaml:"regressors"`
}

// LoadCatalog reads and validates the catalog at path.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read CATALOG_FILE: %w", domain.ErrConfig, err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes a YAML catalog. Every entry must be named uniquely;
// empty_is_zero is only meaningful for sum-policy variables.
func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: parse catalog: %w", domain.ErrConfig, err)
	}

	c := &Catalog{Target: f.Target, Regressors: f.Regressors}
	seen := make(map[string]bool, len(f.Series))
	for i, s := range f.Series {
		if s.Name == "" {
			return nil, fmt.Errorf("%w: catalog series #%d has no name", domain.ErrConfig, i)
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("%w: catalog series %q declared twice", domain.ErrConfig, s.Name)
		}
		seen[s.Name] = true

		policy, err := domain.ParseAggregationPolicy(s.Policy)
		if err != nil {
			return nil, fmt.Errorf("catalog series %q: %w", s.Name, err)
		}
		role, err := domain.ParseRole(s.Role)
		if err != nil {
			return nil, fmt.Errorf("catalog series %q: %w", s.Name, err)
		}
		if s.EmptyIsZero && policy != domain.PolicySum {
			return nil, fmt.Errorf("%w: catalog series %q: empty_is_zero needs the sum policy", domain.ErrConfig, s.Name)
		}
		entry := SeriesEntry{
			Name:        s.Name,
			Tag:         s.Tag,
			Unit:        s.Unit,
			Policy:      policy,
			Role:        role,
			EmptyIsZero: s.EmptyIsZero,
			Fill:        gaps.FillMethod(s.Fill),
		}
		switch entry.Fill {
		case gaps.FillDefault, gaps.FillLinear, gaps.FillForward:
		default:
			return nil, fmt.Errorf("%w: catalog series %q: unknown fill %q", domain.ErrConfig, s.Name, s.Fill)
		}
		if s.Frequency != "" {
			d, err := time.ParseDuration(s.Frequency)
			if err != nil || d <= 0 {
				return nil, fmt.Errorf("%w: catalog series %q: invalid frequency %q", domain.ErrConfig, s.Name, s.Frequency)
			}
			entry.Frequency = d
		}
		c.Series = append(c.Series, entry)
	}

	for _, r := range c.Regressors {
		if !seen[r.Source] {
			return nil, fmt.Errorf("%w: regressor source %q is not a catalog series", domain.ErrConfig, r.Source)
		}
	}
	if c.Target != "" && !seen[c.Target] {
		return nil, fmt.Errorf("%w: target %q is not a catalog series", domain.ErrConfig, c.Target)
	}
	return c, nil
}

// Entry returns the catalog entry for name.
func (c *Catalog) Entry(name string) (SeriesEntry, bool) {
	for _, e := range c.Series {
		if e.Name == name {
			return e, true
		}
	}
	return SeriesEntry{}, false
}

// FillOverrides returns the per-variable short fill methods.
func (c *Catalog) FillOverrides() map[string]gaps.FillMethod {
	out := make(map[string]gaps.FillMethod)
	for _, e := range c.Series {
		if e.Fill != gaps.FillDefault {
			out[e.Name] = e.Fill
		}
	}
	return out
}

// Apply overlays catalog metadata on series of the same name. Series the
// catalog does not mention pass through unchanged; the inputs are not modified.
func (c *Catalog) Apply(series []domain.RawSeries) []domain.RawSeries {
	out := make([]domain.RawSeries, len(series))
	for i, s := range series {
		if e, ok := c.Entry(s.Name); ok {
			s.Policy = e.Policy
			s.Role = e.Role
			s.EmptyIsZero = e.EmptyIsZero
			if e.Unit != "" {
				s.Unit = e.Unit
			}
			if e.Frequency > 0 {
				s.Frequency = e.Frequency
			}
		}
		out[i] = s
	}
	return out
}
