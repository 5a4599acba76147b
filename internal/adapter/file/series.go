// Package file reads series documents from disk and writes run outputs to a
// local directory.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/couchcryptid/nitrate-forecast/internal/domain"
)

// Document is the on-disk series format. Frequencies are Go duration strings.
type Document struct {
	Series []SeriesRecord `json:"series"`
}

// SeriesRecord is one series of a Document.
type SeriesRecord struct {
	Name         string               `json:"name"`
	Unit         string               `json:"unit,omitempty"`
	Policy       string               `json:"policy,omitempty"`
	Role         string               `json:"role,omitempty"`
	Frequency    string               `json:"frequency,omitempty"`
	EmptyIsZero  bool                 `json:"empty_is_zero,omitempty"`
	Observations []domain.Observation `json:"observations"`
}

// NewDocument converts raw series into their on-disk form.
func NewDocument(series []domain.RawSeries) Document {
	doc := Document{Series: make([]SeriesRecord, 0, len(series))}
	for _, s := range series {
		rec := SeriesRecord{
			Name:         s.Name,
			Unit:         s.Unit,
			Policy:       string(s.Policy),
			Role:         string(s.Role),
			EmptyIsZero:  s.EmptyIsZero,
			Observations: s.Observations,
		}
		if s.Frequency > 0 {
			rec.Frequency = s.Frequency.String()
		}
		doc.Series = append(doc.Series, rec)
	}
	return doc
}

// RawSeries validates the document and converts it to domain series.
func (d Document) RawSeries() ([]domain.RawSeries, error) {
	out := make([]domain.RawSeries, 0, len(d.Series))
	for i, rec := range d.Series {
		if rec.Name == "" {
			return nil, fmt.Errorf("series #%d has no name", i)
		}
		policy, err := domain.ParseAggregationPolicy(rec.Policy)
		if err != nil {
			return nil, fmt.Errorf("series %s: %w", rec.Name, err)
		}
		role, err := domain.ParseRole(rec.Role)
		if err != nil {
			return nil, fmt.Errorf("series %s: %w", rec.Name, err)
		}
		s := domain.RawSeries{
			Name:         rec.Name,
			Unit:         rec.Unit,
			Policy:       policy,
			Role:         role,
			EmptyIsZero:  rec.EmptyIsZero,
			Observations: rec.Observations,
		}
		if rec.Frequency != "" {
			if s.Frequency, err = time.ParseDuration(rec.Frequency); err != nil {
				return nil, fmt.Errorf("series %s: invalid frequency %q", rec.Name, rec.Frequency)
			}
		}
		out = append(out, s)
	}
	return out, nil
}

// Decode reads a Document from r.
func Decode(r io.Reader) ([]domain.RawSeries, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode series document: %w", err)
	}
	return doc.RawSeries()
}

// Encode writes series to w as an indented Document.
func Encode(w io.Writer, series []domain.RawSeries) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(NewDocument(series))
}

// Source reads every series from one JSON document. It implements
// pipeline.SeriesSource; the file is re-read on every load.
type Source struct {
	path string
}

// NewSource creates a source for the document at path.
func NewSource(path string) *Source {
	return &Source{path: path}
}

func (s *Source) LoadSeries(_ context.Context) ([]domain.RawSeries, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open series file: %w", err)
	}
	defer f.Close()
	return Decode(f)
}
