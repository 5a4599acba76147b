package model

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/couchcryptid/nitrate-forecast/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func hourly(n int) domain.TimeGrid {
	return domain.TimeGrid{Start: start, Step: time.Hour, Len: n}
}

func trainingSlice(y []float64, names []string, exog ...[]float64) TrainingSlice {
	return TrainingSlice{Grid: hourly(len(y)), Target: y, ExogNames: names, Exog: exog}
}

func futureFor(st *State, h int, cols ...[]float64) FutureExog {
	return FutureExog{Grid: domain.TimeGrid{Start: st.TrainEnd.Add(st.Step), Step: st.Step, Len: h}, Columns: cols}
}

func ar1(n int, phi float64, seed uint64) []float64 {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	y := make([]float64, n)
	for t := 1; t < n; t++ {
		y[t] = phi*y[t-1] + rng.NormFloat64()
	}
	return y
}

func arma11(n int, phi, theta float64, seed uint64) []float64 {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	y := make([]float64, n)
	prev := 0.0
	for t := 1; t < n; t++ {
		eps := rng.NormFloat64()
		y[t] = phi*y[t-1] + eps + theta*prev
		prev = eps
	}
	return y
}

func sarimax(t *testing.T, s Settings) *SARIMAX {
	t.Helper()
	m, err := NewSARIMAX(s)
	require.NoError(t, err)
	return m
}

func TestParseOrders(t *testing.T) {
	o, err := ParseOrders("1, 0,1,1,0,0,24")
	require.NoError(t, err)
	assert.Equal(t, Orders{P: 1, Q: 1, SP: 1, Period: 24}, o)
	assert.Equal(t, 3, o.Sum())
	assert.Equal(t, "(1,0,1)(1,0,0,24)", o.String())

	for _, bad := range []string{"1,2", "1,0,x,0,0,0,0", "1,0,0,1,0,0,0", "-1,0,0,0,0,0,0"} {
		_, err := ParseOrders(bad)
		assert.True(t, errors.Is(err, domain.ErrConfig), bad)
	}
}

func TestNew(t *testing.T) {
	m, err := New(FamilySeasonalNaive, DefaultSettings)
	require.NoError(t, err)
	assert.Equal(t, FamilySeasonalNaive, m.Name())

	m, err = New("", DefaultSettings)
	require.NoError(t, err)
	assert.Equal(t, FamilySARIMAX, m.Name())

	_, err = New("prophet", DefaultSettings)
	assert.True(t, errors.Is(err, domain.ErrConfig))

	_, err = New(FamilySARIMAX, Settings{MaxIterations: 10, Tolerance: 1e-6, IntervalLevel: 1})
	assert.True(t, errors.Is(err, domain.ErrConfig))
}

func TestSARIMAX_RecoversAR1(t *testing.T) {
	m := sarimax(t, DefaultSettings)
	st, err := m.Fit(context.Background(), trainingSlice(ar1(600, 0.6, 7), nil), Orders{P: 1})
	require.NoError(t, err)

	assert.Equal(t, 1, st.Iterations, "pure AR needs a single pass")
	assert.InDelta(t, 0.6, st.Coefficients()["ar.L1"], 0.12)
	assert.InDelta(t, 1.0, st.Sigma2, 0.2)
	assert.Equal(t, hourly(600).Time(599), st.TrainEnd)
	assert.Equal(t, 600, st.NObs)
}

func TestSARIMAX_ExogenousCoefficient(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	n := 300
	x := make([]float64, n)
	y := make([]float64, n)
	for i := range y {
		x[i] = math.Sin(float64(i)*0.3) + 0.5*math.Cos(float64(i)*0.11)
		y[i] = 2*x[i] + 0.5*rng.NormFloat64()
	}

	m := sarimax(t, DefaultSettings)
	st, err := m.Fit(context.Background(), trainingSlice(y, []string{"flow_lag6"}, x), Orders{})
	require.NoError(t, err)
	assert.InDelta(t, 2.0, st.Coefficients()["flow_lag6"], 0.15)

	fut := []float64{1, 1, 1}
	res, err := m.Forecast(context.Background(), st, 3, futureFor(st, 3, fut))
	require.NoError(t, err)
	for _, p := range res.Points {
		assert.InDelta(t, 2.0, p.Predicted, 0.3)
	}
}

func TestSARIMAX_DifferencedTrend(t *testing.T) {
	y := make([]float64, 30)
	for i := range y {
		y[i] = 5 + 3*float64(i)
	}
	m := sarimax(t, DefaultSettings)
	st, err := m.Fit(context.Background(), trainingSlice(y, nil), Orders{D: 1})
	require.NoError(t, err)

	res, err := m.Forecast(context.Background(), st, 4, futureFor(st, 4))
	require.NoError(t, err)
	require.Len(t, res.Points, 4)
	for h, p := range res.Points {
		assert.InDelta(t, 5+3*float64(30+h), p.Predicted, 1e-6)
		assert.Equal(t, hourly(40).Time(30+h), p.Time)
		assert.Equal(t, h+1, p.Step)
	}
}

func TestSARIMAX_SeasonalDifference(t *testing.T) {
	pattern := []float64{1, 4, 2, 8}
	y := make([]float64, 40)
	for i := range y {
		y[i] = pattern[i%4]
	}
	m := sarimax(t, DefaultSettings)
	st, err := m.Fit(context.Background(), trainingSlice(y, nil), Orders{SD: 1, Period: 4})
	require.NoError(t, err)

	res, err := m.Forecast(context.Background(), st, 6, futureFor(st, 6))
	require.NoError(t, err)
	for h, p := range res.Points {
		assert.InDelta(t, pattern[(40+h)%4], p.Predicted, 1e-9)
	}
}

func TestSARIMAX_MovingAverageConverges(t *testing.T) {
	m := sarimax(t, Settings{MaxIterations: 200, Tolerance: 1e-4, IntervalLevel: 0.9})
	st, err := m.Fit(context.Background(), trainingSlice(arma11(800, 0.5, 0.3, 11), nil), Orders{P: 1, Q: 1})
	require.NoError(t, err)
	assert.Greater(t, st.Iterations, 1)
	assert.InDelta(t, 0.5, st.Coefficients()["ar.L1"], 0.15)
	assert.InDelta(t, 0.3, st.Coefficients()["ma.L1"], 0.15)
}

func TestSARIMAX_NonConvergence(t *testing.T) {
	m := sarimax(t, Settings{MaxIterations: 1, Tolerance: 1e-6, IntervalLevel: 0.95})
	_, err := m.Fit(context.Background(), trainingSlice(arma11(200, 0.5, 0.3, 5), nil), Orders{P: 1, Q: 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNonConvergence))
	assert.Equal(t, "NonConvergenceError", domain.ErrorKind(err))
}

func TestSARIMAX_InsufficientData(t *testing.T) {
	m := sarimax(t, DefaultSettings)
	o := Orders{P: 1, D: 1, Q: 1, SP: 1, Period: 24}

	t.Run("shorter than summed orders", func(t *testing.T) {
		_, err := m.Fit(context.Background(), trainingSlice(ar1(o.Sum(), 0.5, 1), nil), o)
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrInsufficientData))
	})

	t.Run("minimum covers seasonal lags", func(t *testing.T) {
		assert.Greater(t, m.MinTrainingRows(o, 2), o.Sum()+1)
		assert.GreaterOrEqual(t, m.MinTrainingRows(o, 0), 1+24+4+1)
	})

	t.Run("incomplete rows shorten the slice", func(t *testing.T) {
		y := ar1(100, 0.5, 2)
		y[97] = math.NaN()
		_, err := m.Fit(context.Background(), trainingSlice(y, nil), Orders{P: 1})
		assert.True(t, errors.Is(err, domain.ErrInsufficientData))
	})
}

func TestSARIMAX_HorizonMismatch(t *testing.T) {
	rng := rand.New(rand.NewPCG(9, 9))
	x := make([]float64, 100)
	for i := range x {
		x[i] = rng.NormFloat64()
	}
	m := sarimax(t, DefaultSettings)
	st, err := m.Fit(context.Background(), trainingSlice(ar1(100, 0.4, 3), []string{"rain_lag6"}, x), Orders{P: 1})
	require.NoError(t, err)

	cases := map[string]FutureExog{
		"short grid":      futureFor(st, 3, []float64{0, 0, 0}),
		"missing column":  futureFor(st, 4),
		"short column":    futureFor(st, 4, []float64{0, 0}),
		"non-finite":      futureFor(st, 4, []float64{0, math.NaN(), 0, 0}),
		"late start":      {Grid: domain.TimeGrid{Start: st.TrainEnd.Add(2 * time.Hour), Step: time.Hour, Len: 4}, Columns: [][]float64{{0, 0, 0, 0}}},
		"different step":  {Grid: domain.TimeGrid{Start: st.TrainEnd.Add(time.Hour), Step: 30 * time.Minute, Len: 4}, Columns: [][]float64{{0, 0, 0, 0}}},
		"empty horizon":   futureFor(st, 0, []float64{}),
	}
	for name, fut := range cases {
		t.Run(name, func(t *testing.T) {
			h := 4
			if name == "empty horizon" {
				h = 0
			}
			_, err := m.Forecast(context.Background(), st, h, fut)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrHorizonMismatch))
		})
	}
}

func TestSARIMAX_IntervalsWiden(t *testing.T) {
	m := sarimax(t, DefaultSettings)
	st, err := m.Fit(context.Background(), trainingSlice(ar1(400, 0.7, 21), nil), Orders{P: 1, D: 1})
	require.NoError(t, err)

	res, err := m.Forecast(context.Background(), st, 12, futureFor(st, 12))
	require.NoError(t, err)
	prev := 0.0
	for _, p := range res.Points {
		assert.LessOrEqual(t, p.Lower, p.Predicted)
		assert.GreaterOrEqual(t, p.Upper, p.Predicted)
		width := p.Upper - p.Lower
		assert.Greater(t, width, prev)
		prev = width
	}

	again, err := m.Forecast(context.Background(), st, 12, futureFor(st, 12))
	require.NoError(t, err)
	assert.Equal(t, res.Points, again.Points, "state is not consumed by forecasting")
}

func TestSARIMAX_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := sarimax(t, DefaultSettings)
	_, err := m.Fit(ctx, trainingSlice(ar1(100, 0.5, 1), nil), Orders{P: 1})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSARIMAX_Diagnose(t *testing.T) {
	m := sarimax(t, DefaultSettings)
	slice := trainingSlice(ar1(500, 0.6, 13), nil)
	st, err := m.Fit(context.Background(), slice, Orders{P: 1})
	require.NoError(t, err)

	d, err := m.Diagnose(st, slice)
	require.NoError(t, err)
	assert.Equal(t, 499, d.N)
	require.Len(t, d.ACF, 25)
	assert.InDelta(t, 1.0, d.ACF[0], 1e-9)
	assert.InDelta(t, 0.0, d.Mean, 0.1)
	assert.GreaterOrEqual(t, d.LjungBoxPValue, 0.0)
	assert.LessOrEqual(t, d.LjungBoxPValue, 1.0)
	assert.GreaterOrEqual(t, d.JarqueBera, 0.0)
	assert.Greater(t, d.VarianceRatio, 0.0)

	naive := &SeasonalNaive{settings: DefaultSettings}
	_, err = naive.Diagnose(st, slice)
	assert.True(t, errors.Is(err, domain.ErrFit))
}

func TestSeasonalNaive(t *testing.T) {
	m, err := New(FamilySeasonalNaive, DefaultSettings)
	require.NoError(t, err)

	y := make([]float64, 48)
	for i := range y {
		y[i] = float64(i % 6)
	}
	y[47] = 9
	o := Orders{Period: 6}
	st, err := m.Fit(context.Background(), trainingSlice(y, nil), o)
	require.NoError(t, err)

	res, err := m.Forecast(context.Background(), st, 8, futureFor(st, 8))
	require.NoError(t, err)
	want := []float64{0, 1, 2, 3, 4, 9, 0, 1}
	for h, p := range res.Points {
		assert.Equal(t, want[h], p.Predicted)
	}
	w0 := res.Points[0].Upper - res.Points[0].Lower
	assert.InDelta(t, w0, res.Points[5].Upper-res.Points[5].Lower, 1e-12)
	assert.Greater(t, res.Points[6].Upper-res.Points[6].Lower, w0)

	_, err = m.Fit(context.Background(), trainingSlice(y[:10], nil), o)
	assert.True(t, errors.Is(err, domain.ErrInsufficientData))
}

func TestDifferencingRoundTrip(t *testing.T) {
	x := make([]float64, 60)
	for i := range x {
		x[i] = math.Sin(float64(i)*0.4)*10 + float64(i)
	}
	stages := diffStages(Orders{D: 1, SD: 1, Period: 12})
	require.Equal(t, []int{1, 12}, stages)

	_, tails := applyStages(x[:50], stages)
	full, _ := applyStages(x, stages)
	back := integrate(full[len(full)-10:], stages, tails)
	assert.InDeltaSlice(t, x[50:], back, 1e-9)
}

func TestPsiWeights(t *testing.T) {
	psi := psiWeights([]float64{1, -0.5}, []float64{1}, 4)
	assert.InDeltaSlice(t, []float64{1, 0.5, 0.25, 0.125}, psi, 1e-12)

	// Random walk: every weight is one.
	psi = psiWeights([]float64{1, -1}, []float64{1}, 3)
	assert.Equal(t, []float64{1, 1, 1}, psi)
	assert.Equal(t, []float64{1, 2, 3}, cumulativeSquares(psi))
}
