package lag

import (
	"fmt"
	"math"

	"github.com/couchcryptid/nitrate-forecast/internal/domain"
)

// MaterializeLags returns ds plus one shifted column per spec. Row i of a
// lagged column holds the source value at row i-Lag; the first Lag rows are
// missing. Shifting never leaves the dataset's grid.
func MaterializeLags(ds *domain.AlignedDataset, specs []domain.LagSpec) (*domain.LaggedFeatureTable, error) {
	table := &domain.LaggedFeatureTable{AlignedDataset: ds}
	seen := make(map[domain.LagSpec]bool, len(specs))
	for _, spec := range specs {
		if seen[spec] {
			continue
		}
		seen[spec] = true

		lc, err := Shift(ds, spec)
		if err != nil {
			return nil, err
		}
		table.Lags = append(table.Lags, lc)
	}
	return table, nil
}

// Shift materializes a single LagSpec against ds.
func Shift(ds *domain.AlignedDataset, spec domain.LagSpec) (domain.LaggedColumn, error) {
	if spec.Lag < 0 {
		return domain.LaggedColumn{}, fmt.Errorf("%w: negative lag %d for %q reads the future", domain.ErrConfig, spec.Lag, spec.Source)
	}
	src, ok := ds.Column(spec.Source)
	if !ok {
		return domain.LaggedColumn{}, fmt.Errorf("%w: lag source %q not in dataset", domain.ErrConfig, spec.Source)
	}
	n := len(src.Values)
	lc := domain.LaggedColumn{
		Spec:   spec,
		Values: make([]float64, n),
		Mask:   make([]domain.MaskState, n),
	}
	for i := 0; i < n; i++ {
		j := i - spec.Lag
		if j < 0 {
			lc.Values[i] = math.NaN()
			lc.Mask[i] = domain.MaskMissing
			continue
		}
		lc.Values[i] = src.Values[j]
		lc.Mask[i] = src.Mask[j]
	}
	return lc, nil
}

// RegressorValues returns the column a regressor feeds to a model: the lagged
// values, or the lagged was-missing indicator.
func RegressorValues(ds *domain.AlignedDataset, r domain.Regressor) ([]float64, error) {
	lc, err := Shift(ds, domain.LagSpec{Source: r.Source, Lag: r.Lag})
	if err != nil {
		return nil, err
	}
	if !r.Indicator {
		return lc.Values, nil
	}
	out := make([]float64, len(lc.Mask))
	for i, m := range lc.Mask {
		if i < r.Lag {
			out[i] = math.NaN()
			continue
		}
		if m.WasMissing() {
			out[i] = 1
		}
	}
	return out, nil
}
