package lag

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/couchcryptid/nitrate-forecast/internal/domain"
	"golang.org/x/sync/errgroup"
)

// Profile is the cross-correlation profile of one predictor against the target.
type Profile struct {
	Variable     string        `json:"variable"`
	Role         domain.Role   `json:"role"`
	Correlations []Correlation `json:"correlations"`
	Best         Correlation   `json:"best"`
	HasBest      bool          `json:"has_best"`
}

// Screen correlates every non-target column of ds with the target over r,
// using at most workers goroutines. Profiles are returned in name order.
func Screen(ctx context.Context, ds *domain.AlignedDataset, target string, r Range, workers int) ([]Profile, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	tcol, ok := ds.Column(target)
	if !ok {
		return nil, fmt.Errorf("%w: target %q not in dataset", domain.ErrConfig, target)
	}
	if workers <= 0 {
		workers = 1
	}

	var preds []*domain.AlignedColumn
	for _, c := range ds.Columns() {
		if c.Name != target {
			preds = append(preds, c)
		}
	}
	out := make([]Profile, len(preds))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, c := range preds {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			cs, err := CrossCorrelation(tcol.Values, c.Values, r)
			if err != nil {
				return err
			}
			best, found := Best(cs, r.Min)
			out[i] = Profile{Variable: c.Name, Role: c.Role, Correlations: cs, Best: best, HasBest: found}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Select picks up to topN regressors from profiles by absolute correlation.
// Observed-only variables are restricted to lags >= horizon so their values
// are known when the forecast is issued.
func Select(profiles []Profile, topN, horizon int) []domain.Regressor {
	type candidate struct {
		reg  domain.Regressor
		coef float64
	}
	var cands []candidate
	for _, p := range profiles {
		minLag := 0
		if p.Role != domain.RoleForecastKnown {
			minLag = horizon
		}
		best, ok := Best(p.Correlations, minLag)
		if !ok {
			continue
		}
		cands = append(cands, candidate{
			reg:  domain.Regressor{Source: p.Variable, Lag: best.Lag},
			coef: math.Abs(best.Coefficient),
		})
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].coef != cands[j].coef {
			return cands[i].coef > cands[j].coef
		}
		return cands[i].reg.Source < cands[j].reg.Source
	})
	if topN > 0 && len(cands) > topN {
		cands = cands[:topN]
	}
	out := make([]domain.Regressor, len(cands))
	for i, c := range cands {
		out[i] = c.reg
	}
	return out
}
