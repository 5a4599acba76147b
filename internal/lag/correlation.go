// Package lag computes lag diagnostics (autocorrelation, cross-correlation)
// and materializes shifted predictor columns on the shared grid.
package lag

import (
	"fmt"
	"math"

	"github.com/couchcryptid/nitrate-forecast/internal/domain"
	"gonum.org/v1/gonum/stat"
)

// minPairs is the fewest pairwise-complete observations a coefficient needs.
const minPairs = 3

// Range bounds signed lags in grid steps, inclusive on both ends.
type Range struct {
	Min int
	Max int
}

// DefaultRange is the physically interpretable 0-72 hour window.
var DefaultRange = Range{Min: 0, Max: 72}

// Validate rejects inverted ranges.
func (r Range) Validate() error {
	if r.Min > r.Max {
		return fmt.Errorf("%w: lag range min %d exceeds max %d", domain.ErrConfig, r.Min, r.Max)
	}
	return nil
}

// Correlation is the coefficient at one lag and the number of pairs behind it.
type Correlation struct {
	Lag         int     `json:"lag"`
	Coefficient float64 `json:"coefficient"`
	Pairs       int     `json:"pairs"`
}

// Autocorrelation returns coefficients for lags 0..maxLag. Each coefficient
// uses only pairs where both x[i] and x[i-k] are present; lags without enough
// pairs or variance yield NaN.
func Autocorrelation(x []float64, maxLag int) ([]float64, error) {
	if maxLag < 0 {
		return nil, fmt.Errorf("%w: max lag must be >= 0, got %d", domain.ErrConfig, maxLag)
	}
	out := make([]float64, maxLag+1)
	for k := 0; k <= maxLag; k++ {
		out[k] = pairCorrelation(x, x, k).Coefficient
	}
	return out, nil
}

// CrossCorrelation returns one coefficient per lag in r. A positive lag k
// pairs target[i] with predictor[i-k], i.e. the predictor leads the target.
func CrossCorrelation(target, predictor []float64, r Range) ([]Correlation, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if len(target) != len(predictor) {
		return nil, fmt.Errorf("%w: series lengths differ (%d vs %d)", domain.ErrAlignment, len(target), len(predictor))
	}
	out := make([]Correlation, 0, r.Max-r.Min+1)
	for k := r.Min; k <= r.Max; k++ {
		out = append(out, pairCorrelation(target, predictor, k))
	}
	return out, nil
}

// pairCorrelation correlates a[i] with b[i-k] over pairwise-complete rows.
func pairCorrelation(a, b []float64, k int) Correlation {
	c := Correlation{Lag: k, Coefficient: math.NaN()}
	var xs, ys []float64
	for i := range a {
		j := i - k
		if j < 0 || j >= len(b) {
			continue
		}
		if !domain.IsFinite(a[i]) || !domain.IsFinite(b[j]) {
			continue
		}
		xs = append(xs, a[i])
		ys = append(ys, b[j])
	}
	c.Pairs = len(xs)
	if c.Pairs < minPairs {
		return c
	}
	if stat.Variance(xs, nil) == 0 || stat.Variance(ys, nil) == 0 {
		return c
	}
	c.Coefficient = stat.Correlation(xs, ys, nil)
	return c
}

// Best returns the correlation with the largest absolute coefficient, skipping
// NaN entries and any lag below minLag.
func Best(cs []Correlation, minLag int) (Correlation, bool) {
	var best Correlation
	found := false
	for _, c := range cs {
		if c.Lag < minLag || math.IsNaN(c.Coefficient) {
			continue
		}
		if !found || math.Abs(c.Coefficient) > math.Abs(best.Coefficient) {
			best = c
			found = true
		}
	}
	return best, found
}
