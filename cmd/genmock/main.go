// Command genmock writes a deterministic synthetic study for demos and tests:
// 15-minute precipitation, hourly nitrate and river flow, a daily reservoir
// level and a pump state indicator, with sensor outages and bad historian
// states mixed in. It also writes a matching series catalog.
//
// Usage:
//
//	go run ./cmd/genmock \
//	  -out data/series.json \
//	  -catalog-out data/catalog.yaml \
//	  -days 60
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/couchcryptid/nitrate-forecast/internal/adapter/file"
	"github.com/couchcryptid/nitrate-forecast/internal/domain"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "data/series.json", "output path for the series document")
	catalogOut := flag.String("catalog-out", "data/catalog.yaml", "output path for the series catalog")
	days := flag.Int("days", 60, "length of the study in days")
	seed := flag.Uint64("seed", 42, "random seed")
	start := flag.String("start", "2024-04-01T00:00:00Z", "study start (RFC3339)")
	flag.Parse()

	if *days < 2 {
		flag.Usage()
		return fmt.Errorf("-days must be at least 2")
	}
	t0, err := time.Parse(time.RFC3339, *start)
	if err != nil {
		return fmt.Errorf("invalid -start: %w", err)
	}

	series := generate(t0.UTC(), *days, *seed)
	for _, s := range series {
		p := domain.ProfileSeries(s)
		log.Printf("%-10s %6d rows, median interval %s, %.1f%% numeric", s.Name, p.Rows, p.MedianInterval, p.NumericPct)
	}

	if err := writeFile(*out, func(f *os.File) error { return file.Encode(f, series) }); err != nil {
		return fmt.Errorf("writing series document: %w", err)
	}
	log.Printf("wrote series document: %s", *out)

	if err := writeFile(*catalogOut, func(f *os.File) error {
		enc := yaml.NewEncoder(f)
		enc.SetIndent(2)
		if err := enc.Encode(mockCatalog()); err != nil {
			return err
		}
		return enc.Close()
	}); err != nil {
		return fmt.Errorf("writing catalog: %w", err)
	}
	log.Printf("wrote catalog: %s", *catalogOut)
	return nil
}

func writeFile(path string, write func(*os.File) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
