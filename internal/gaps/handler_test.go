package gaps

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/couchcryptid/nitrate-forecast/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var nan = math.NaN()

func column(policy domain.AggregationPolicy, values ...float64) *domain.AlignedColumn {
	col := &domain.AlignedColumn{Name: "v", Policy: policy, Values: values, Mask: make([]domain.MaskState, len(values))}
	for i, v := range values {
		if math.IsNaN(v) {
			col.Mask[i] = domain.MaskMissing
		}
	}
	return col
}

func basePolicy() Policy {
	return Policy{ShortMaxSteps: 2, LongMaxSteps: 5, LongFill: LongFillNone, SeasonalPeriod: 3}
}

func TestPolicy_Validate(t *testing.T) {
	tests := []struct {
		name string
		mut  func(*Policy)
	}{
		{"short equals long", func(p *Policy) { p.ShortMaxSteps = 5 }},
		{"short above long", func(p *Policy) { p.ShortMaxSteps = 9 }},
		{"negative short", func(p *Policy) { p.ShortMaxSteps = -1 }},
		{"unknown short method", func(p *Policy) { p.ShortFill = "spline" }},
		{"unknown long policy", func(p *Policy) { p.LongFill = "model" }},
		{"seasonal without period", func(p *Policy) { p.LongFill = LongFillSeasonalNaive; p.SeasonalPeriod = 0 }},
		{"bad override", func(p *Policy) { p.Overrides = map[string]FillMethod{"x": "cubic"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := basePolicy()
			tt.mut(&p)
			err := p.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrGapPolicy))
		})
	}

	require.NoError(t, basePolicy().Validate())
}

func TestMissingRuns(t *testing.T) {
	col := column(domain.PolicyMean, nan, 1, nan, nan, 2, nan)
	assert.Equal(t, []Run{{0, 1}, {2, 2}, {5, 1}}, MissingRuns(col.Mask))
}

func TestFill_ShortLinear(t *testing.T) {
	col := column(domain.PolicyMean, 1, nan, nan, 4, 5)
	out, st, err := Fill(col, basePolicy())
	require.NoError(t, err)

	assert.InDeltaSlice(t, []float64{1, 2, 3, 4, 5}, out.Values, 1e-12)
	assert.Equal(t, domain.MaskShortGapFilled, out.Mask[1])
	assert.Equal(t, 2, st.ShortFilled)

	// Input untouched.
	assert.True(t, math.IsNaN(col.Values[1]))
	assert.Equal(t, domain.MaskMissing, col.Mask[1])
}

func TestFill_ForwardForLastState(t *testing.T) {
	col := column(domain.PolicyLast, 1, nan, nan, 0)
	out, _, err := Fill(col, basePolicy())
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1, 1, 0}, out.Values)
}

func TestFill_Override(t *testing.T) {
	col := column(domain.PolicyMean, 1, nan, 3)
	p := basePolicy()
	p.Overrides = map[string]FillMethod{"v": FillForward}
	out, _, err := Fill(col, p)
	require.NoError(t, err)
	assert.Equal(t, 1.0, out.Values[1])
}

func TestFill_EdgesFallBack(t *testing.T) {
	col := column(domain.PolicyMean, nan, 2, 3, nan)
	out, st, err := Fill(col, basePolicy())
	require.NoError(t, err)

	assert.Equal(t, domain.MaskUnfillable, out.Mask[0], "leading gap has no left neighbour")
	assert.True(t, math.IsNaN(out.Values[0]))
	assert.Equal(t, 3.0, out.Values[3], "trailing gap forward-fills")
	assert.Equal(t, 1, st.Unfillable)
	assert.Equal(t, 1, st.ShortFilled)
}

func TestFill_LongGapPolicies(t *testing.T) {
	values := []float64{1, 2, 3, 1, 2, 3, nan, nan, nan, nan, 4}

	t.Run("none leaves flagged", func(t *testing.T) {
		out, st, err := Fill(column(domain.PolicyMean, values...), basePolicy())
		require.NoError(t, err)
		for i := 6; i < 10; i++ {
			assert.Equal(t, domain.MaskUnfillable, out.Mask[i])
			assert.True(t, math.IsNaN(out.Values[i]))
		}
		assert.Equal(t, 4, st.Unfillable)
	})

	t.Run("seasonal naive repeats the previous period", func(t *testing.T) {
		p := basePolicy()
		p.LongFill = LongFillSeasonalNaive
		out, st, err := Fill(column(domain.PolicyMean, values...), p)
		require.NoError(t, err)
		assert.Equal(t, []float64{1, 2, 3, 1}, out.Values[6:10])
		assert.Equal(t, domain.MaskLongGapFilled, out.Mask[9])
		assert.Equal(t, 4, st.LongFilled)
	})

	t.Run("above long threshold is unfillable", func(t *testing.T) {
		p := basePolicy()
		p.LongFill = LongFillSeasonalNaive
		p.LongMaxSteps = 3
		out, _, err := Fill(column(domain.PolicyMean, values...), p)
		require.NoError(t, err)
		assert.Equal(t, domain.MaskUnfillable, out.Mask[6])
	})
}

func TestFill_IndicatorSurvivesFill(t *testing.T) {
	col := column(domain.PolicyMean, 1, nan, 3, nan, nan, nan, nan, nan, nan, 9)
	p := basePolicy()
	p.LongFill = LongFillSeasonalNaive
	out, _, err := Fill(col, p)
	require.NoError(t, err)
	assert.Equal(t, col.Indicator(), out.Indicator())
	assert.Equal(t, []float64{0, 1, 0, 1, 1, 1, 1, 1, 1, 0}, out.Indicator())
}

func TestFill_Deterministic(t *testing.T) {
	col := column(domain.PolicyMean, 1, nan, 3, nan, nan, nan, 7, nan)
	p := basePolicy()
	p.LongFill = LongFillSeasonalNaive
	a, _, err := Fill(col, p)
	require.NoError(t, err)
	b, _, err := Fill(col, p)
	require.NoError(t, err)
	assert.Equal(t, a.Mask, b.Mask)
	for i := range a.Values {
		if math.IsNaN(a.Values[i]) {
			assert.True(t, math.IsNaN(b.Values[i]))
			continue
		}
		assert.Equal(t, a.Values[i], b.Values[i])
	}
}

func TestFillAll(t *testing.T) {
	grid, err := domain.NewTimeGrid(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 1, 4, 0, 0, 0, time.UTC), time.Hour)
	require.NoError(t, err)
	a := column(domain.PolicyMean, 1, nan, 3, 4)
	a.Name = "a"
	b := column(domain.PolicyLast, 0, 1, nan, 1)
	b.Name = "b"
	ds, err := domain.NewAlignedDataset(grid, []*domain.AlignedColumn{a, b})
	require.NoError(t, err)

	out, st, err := FillAll(ds, basePolicy())
	require.NoError(t, err)
	ca, _ := out.Column("a")
	cb, _ := out.Column("b")
	assert.Equal(t, 2.0, ca.Values[1])
	assert.Equal(t, 1.0, cb.Values[2])
	assert.Equal(t, 2, st.ShortFilled)

	_, _, err = FillAll(ds, Policy{ShortMaxSteps: 3, LongMaxSteps: 3})
	assert.True(t, errors.Is(err, domain.ErrGapPolicy))
}
