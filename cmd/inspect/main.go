// Command inspect profiles a series document before it is fed to the
// forecaster: row counts, coverage, duplicate timestamps, median sampling
// interval and text labels per series. With a catalog it also checks that
// every declared variable is present and sampled as declared.
//
// Usage:
//
//	go run ./cmd/inspect \
//	  -input data/series.json \
//	  -catalog data/catalog.yaml
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/couchcryptid/nitrate-forecast/internal/adapter/file"
	"github.com/couchcryptid/nitrate-forecast/internal/config"
	"github.com/couchcryptid/nitrate-forecast/internal/domain"
)

func main() {
	input := flag.String("input", "data/series.json", "path to the series document")
	catalogPath := flag.String("catalog", "", "optional series catalog to check against")
	asJSON := flag.Bool("json", false, "print profiles as JSON instead of a table")
	flag.Parse()

	os.Exit(run(*input, *catalogPath, *asJSON))
}

func run(input, catalogPath string, asJSON bool) int {
	f, err := os.Open(input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: open series document: %v\n", err)
		return 1
	}
	series, err := file.Decode(f)
	f.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return 1
	}

	var catalog *config.Catalog
	if catalogPath != "" {
		if catalog, err = config.LoadCatalog(catalogPath); err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
			return 1
		}
	}

	profiles := make([]domain.SeriesProfile, 0, len(series))
	for _, s := range series {
		profiles = append(profiles, domain.ProfileSeries(s))
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(profiles); err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: encode profiles: %v\n", err)
			return 1
		}
	} else {
		printProfiles(profiles)
	}

	phases := []*phase{checkSeries(series, profiles)}
	if catalog != nil {
		phases = append(phases, checkCatalog(catalog, series, profiles))
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}
	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll checks passed.")
		return 0
	}
	fmt.Println("\nInspection FAILED.")
	return 1
}

func printProfiles(profiles []domain.SeriesProfile) {
	fmt.Printf("%-14s %8s %-20s %-20s %6s %10s %8s\n", "SERIES", "ROWS", "START", "END", "DUPES", "INTERVAL", "NUMERIC")
	for _, p := range profiles {
		start, end := "-", "-"
		if p.Rows > 0 {
			start = p.Start.Format("2006-01-02T15:04Z")
			end = p.End.Format("2006-01-02T15:04Z")
		}
		fmt.Printf("%-14s %8d %-20s %-20s %6d %10s %7.2f%%\n",
			p.Name, p.Rows, start, end, p.DuplicateTimestamps, p.MedianInterval, p.NumericPct)
		for label, n := range p.Labels {
			fmt.Printf("%-14s   label %q x%d\n", "", label, n)
		}
	}
}
