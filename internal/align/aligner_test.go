package align

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/couchcryptid/nitrate-forecast/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC)

func hourlyGrid(t *testing.T, hours int) domain.TimeGrid {
	t.Helper()
	g, err := domain.NewTimeGrid(t0, t0.Add(time.Duration(hours)*time.Hour), time.Hour)
	require.NoError(t, err)
	return g
}

func TestNewGrid_Errors(t *testing.T) {
	t.Run("non-positive step", func(t *testing.T) {
		_, err := NewGrid(Options{Start: t0, End: t0.Add(time.Hour), Step: 0}, nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrAlignment))
	})

	t.Run("empty period", func(t *testing.T) {
		_, err := NewGrid(Options{Start: t0, End: t0, Step: time.Hour}, nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrAlignment))
	})

	t.Run("derived period without data", func(t *testing.T) {
		_, err := NewGrid(Options{Step: time.Hour}, nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrAlignment))
	})
}

func TestNewGrid_DerivesSpan(t *testing.T) {
	s := domain.RawSeries{Name: "x", Observations: []domain.Observation{
		{Time: t0.Add(90 * time.Minute), Value: 1},
		{Time: t0.Add(5*time.Hour + 10*time.Minute), Value: 2},
	}}
	g, err := NewGrid(Options{Step: time.Hour}, []domain.RawSeries{s})
	require.NoError(t, err)
	assert.Equal(t, t0.Add(time.Hour), g.Start)
	assert.Equal(t, 5, g.Len)
}

func TestAlign_HourlyIdempotent(t *testing.T) {
	grid := hourlyGrid(t, 24)
	obs := make([]domain.Observation, 24)
	for i := range obs {
		obs[i] = domain.Observation{Time: t0.Add(time.Duration(i) * time.Hour), Value: float64(i) * 1.5}
	}

	for _, policy := range []domain.AggregationPolicy{domain.PolicyMean, domain.PolicySum, domain.PolicyLast} {
		t.Run(string(policy), func(t *testing.T) {
			col, err := Align(grid, domain.RawSeries{Name: "no3", Policy: policy, Frequency: time.Hour, Observations: obs})
			require.NoError(t, err)
			require.Len(t, col.Values, 24)
			for i := range obs {
				assert.Equal(t, obs[i].Value, col.Values[i])
				assert.Equal(t, domain.MaskObserved, col.Mask[i])
			}
		})
	}
}

func TestAlign_PrecipitationSumScenario(t *testing.T) {
	grid := hourlyGrid(t, 48)
	var obs []domain.Observation
	for i := 0; i < 48*4; i++ {
		v := 0.0
		if i == 13 { // hour 3, second quarter
			v = 2
		}
		obs = append(obs, domain.Observation{Time: t0.Add(time.Duration(i) * 15 * time.Minute), Value: v})
	}

	col, err := Align(grid, domain.RawSeries{Name: "precip", Policy: domain.PolicySum, Frequency: 15 * time.Minute, Observations: obs})
	require.NoError(t, err)
	assert.Equal(t, 2.0, col.Values[3])
	assert.False(t, col.Mask[3].WasMissing())
	assert.Equal(t, domain.MaskObserved, col.Mask[3])
	assert.Equal(t, 0.0, col.Values[4])
}

func TestAlign_EmptyIntervalIsMissingNotZero(t *testing.T) {
	grid := hourlyGrid(t, 4)
	obs := []domain.Observation{
		{Time: t0, Value: 5},
		{Time: t0.Add(3 * time.Hour), Value: 7},
	}

	for _, policy := range []domain.AggregationPolicy{domain.PolicyMean, domain.PolicyLast, domain.PolicySum} {
		t.Run(string(policy), func(t *testing.T) {
			col, err := Align(grid, domain.RawSeries{Name: "v", Policy: policy, Frequency: time.Hour, Observations: obs})
			require.NoError(t, err)
			assert.True(t, math.IsNaN(col.Values[1]))
			assert.Equal(t, domain.MaskMissing, col.Mask[1])
			assert.Equal(t, domain.MaskMissing, col.Mask[2])
		})
	}

	t.Run("sum with empty-is-zero", func(t *testing.T) {
		col, err := Align(grid, domain.RawSeries{Name: "precip", Policy: domain.PolicySum, EmptyIsZero: true, Frequency: time.Hour, Observations: obs})
		require.NoError(t, err)
		assert.Equal(t, 0.0, col.Values[1])
		assert.Equal(t, domain.MaskObserved, col.Mask[1])
	})

	t.Run("empty-is-zero stops at coverage", func(t *testing.T) {
		col, err := Align(hourlyGrid(t, 6), domain.RawSeries{Name: "precip", Policy: domain.PolicySum, EmptyIsZero: true, Frequency: time.Hour, Observations: obs})
		require.NoError(t, err)
		assert.Equal(t, domain.MaskMissing, col.Mask[4])
		assert.Equal(t, domain.MaskMissing, col.Mask[5])
	})
}

func TestAlign_MeanAndLastPolicies(t *testing.T) {
	grid := hourlyGrid(t, 1)
	obs := []domain.Observation{
		{Time: t0, Value: 1},
		{Time: t0.Add(30 * time.Minute), Value: 3},
		{Time: t0.Add(15 * time.Minute), Value: 5},
		{Time: t0.Add(45 * time.Minute), Value: math.NaN(), Label: "Bad Input"},
	}

	mean, err := Align(grid, domain.RawSeries{Name: "m", Policy: domain.PolicyMean, Frequency: 15 * time.Minute, Observations: obs})
	require.NoError(t, err)
	assert.InDelta(t, 3.0, mean.Values[0], 1e-12)

	last, err := Align(grid, domain.RawSeries{Name: "l", Policy: domain.PolicyLast, Frequency: 15 * time.Minute, Observations: obs})
	require.NoError(t, err)
	assert.Equal(t, 3.0, last.Values[0], "latest timestamp wins, not input order")
}

func TestAlign_BoundaryPartial(t *testing.T) {
	grid := hourlyGrid(t, 3)
	obs := []domain.Observation{
		{Time: t0.Add(30 * time.Minute), Value: 1},
		{Time: t0.Add(45 * time.Minute), Value: 3},
		{Time: t0.Add(60 * time.Minute), Value: 2},
		{Time: t0.Add(75 * time.Minute), Value: 2},
		{Time: t0.Add(90 * time.Minute), Value: 2},
		{Time: t0.Add(105 * time.Minute), Value: 2},
		{Time: t0.Add(120 * time.Minute), Value: 4},
	}

	col, err := Align(grid, domain.RawSeries{Name: "p", Policy: domain.PolicySum, Frequency: 15 * time.Minute, Observations: obs})
	require.NoError(t, err)
	assert.Equal(t, domain.MaskBoundaryPartial, col.Mask[0])
	assert.Equal(t, 4.0, col.Values[0], "aggregated over the available sub-interval")
	assert.Equal(t, domain.MaskObserved, col.Mask[1])
	assert.Equal(t, domain.MaskBoundaryPartial, col.Mask[2])
	assert.False(t, col.Mask[2].WasMissing())
}

func TestAlign_UnknownPolicy(t *testing.T) {
	_, err := Align(hourlyGrid(t, 2), domain.RawSeries{Name: "x", Policy: "median"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConfig))
}

func TestAlign_DoesNotMutateInput(t *testing.T) {
	obs := []domain.Observation{{Time: t0.Add(time.Hour), Value: 2}, {Time: t0, Value: 1}}
	s := domain.RawSeries{Name: "x", Observations: obs}
	_, err := Align(hourlyGrid(t, 2), s)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(time.Hour), s.Observations[0].Time)
}

func TestAlignAll(t *testing.T) {
	grid := hourlyGrid(t, 6)
	var series []domain.RawSeries
	for _, name := range []string{"a", "b", "c", "d"} {
		obs := make([]domain.Observation, 6)
		for i := range obs {
			obs[i] = domain.Observation{Time: t0.Add(time.Duration(i) * time.Hour), Value: float64(i)}
		}
		series = append(series, domain.RawSeries{Name: name, Frequency: time.Hour, Observations: obs})
	}

	ds, err := AlignAll(context.Background(), grid, series, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, ds.Names())
	for _, c := range ds.Columns() {
		assert.Len(t, c.Values, grid.Len)
	}

	t.Run("duplicate names fail", func(t *testing.T) {
		_, err := AlignAll(context.Background(), grid, append(series, series[0]), 2)
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrAlignment))
	})
}
