package model

import (
	"context"
	"fmt"
	"math"

	"github.com/couchcryptid/nitrate-forecast/internal/domain"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// SARIMAX is a seasonal ARIMA model with exogenous regressors. The series is
// differenced d times at lag 1 and D times at the seasonal period; the
// differenced series is modelled with additive AR lags {1..p, s..Ps}, MA lags
// {1..q, s..Qs}, an intercept and the equally differenced regressors.
//
// Estimation is iterated Hannan-Rissanen regression: each pass regresses the
// series on its own lags, the previous pass's residuals and the regressors,
// then recomputes residuals recursively. A pure AR model converges after one
// pass; otherwise passes repeat until the parameters move less than the
// configured tolerance or the iteration budget is exhausted.
type SARIMAX struct {
	settings Settings
}

// NewSARIMAX returns a SARIMAX family with the given settings.
func NewSARIMAX(s Settings) (*SARIMAX, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &SARIMAX{settings: s}, nil
}

// Name returns the family name.
func (m *SARIMAX) Name() string { return FamilySARIMAX }

// MinTrainingRows exceeds both the summed orders plus SafetyMargin and the
// rows lost to differencing and lags plus one per parameter.
func (m *SARIMAX) MinTrainingRows(o Orders, nExog int) int {
	ar, ma := lagsFor(o)
	loss := o.D + o.SD*o.Period
	nParams := 1 + len(ar) + len(ma) + nExog
	return max(o.Sum()+1+SafetyMargin, loss+maxLag(ar, ma)+nParams+1)
}

func lagsFor(o Orders) (ar, ma []int) {
	ar = seasonalLags(o.P, o.SP, o.Period)
	ma = seasonalLags(o.Q, o.SQ, o.Period)
	return ar, ma
}

func seasonalLags(n, seasonal, period int) []int {
	var lags []int
	for l := 1; l <= n; l++ {
		lags = append(lags, l)
	}
	for j := 1; j <= seasonal; j++ {
		if l := j * period; l > n {
			lags = append(lags, l)
		}
	}
	return lags
}

func maxLag(sets ...[]int) int {
	m := 0
	for _, s := range sets {
		for _, l := range s {
			m = max(m, l)
		}
	}
	return m
}

type sarimaxParams struct {
	arLags    []int
	maLags    []int
	exogNames []string
	maxLag    int

	intercept float64
	ar        []float64
	ma        []float64
	beta      []float64

	stages   []int
	yTails   [][]float64
	exogTail [][]float64
	wTail    []float64
	eTail    []float64
}

func (p *sarimaxParams) setVector(v []float64) {
	i := 0
	p.intercept = v[i]
	i++
	p.ar = append(p.ar[:0], v[i:i+len(p.arLags)]...)
	i += len(p.arLags)
	p.ma = append(p.ma[:0], v[i:i+len(p.maLags)]...)
	i += len(p.maLags)
	p.beta = append(p.beta[:0], v[i:]...)
}

func (p *sarimaxParams) coefficients() map[string]float64 {
	out := map[string]float64{"const": p.intercept}
	for i, l := range p.arLags {
		out[fmt.Sprintf("ar.L%d", l)] = p.ar[i]
	}
	for i, l := range p.maLags {
		out[fmt.Sprintf("ma.L%d", l)] = p.ma[i]
	}
	for i, n := range p.exogNames {
		out[n] = p.beta[i]
	}
	return out
}

// predict is the one-step conditional mean of the differenced series at t.
func (p *sarimaxParams) predict(w, e []float64, t int, x []float64) float64 {
	v := p.intercept
	for i, l := range p.arLags {
		v += p.ar[i] * w[t-l]
	}
	for i, l := range p.maLags {
		v += p.ma[i] * e[t-l]
	}
	for j, b := range p.beta {
		v += b * x[j]
	}
	return v
}

func (p *sarimaxParams) residuals(w []float64, z [][]float64) ([]float64, error) {
	e := make([]float64, len(w))
	x := make([]float64, len(z))
	for t := p.maxLag; t < len(w); t++ {
		for j := range z {
			x[j] = z[j][t]
		}
		e[t] = w[t] - p.predict(w, e, t, x)
		if !domain.IsFinite(e[t]) {
			return nil, fmt.Errorf("%w: residual recursion diverged at row %d", domain.ErrNonConvergence, t)
		}
	}
	return e, nil
}

func (p *sarimaxParams) design(w, e []float64, z [][]float64) (*mat.Dense, []float64) {
	rows := len(w) - p.maxLag
	cols := 1 + len(p.arLags) + len(p.maLags) + len(z)
	a := mat.NewDense(rows, cols, nil)
	b := make([]float64, rows)
	for r := 0; r < rows; r++ {
		t := r + p.maxLag
		c := 0
		a.Set(r, c, 1)
		c++
		for _, l := range p.arLags {
			a.Set(r, c, w[t-l])
			c++
		}
		for _, l := range p.maLags {
			a.Set(r, c, e[t-l])
			c++
		}
		for j := range z {
			a.Set(r, c, z[j][t])
			c++
		}
		b[r] = w[t]
	}
	return a, b
}

// differenced returns the differenced target and regressors of s.
func (p *sarimaxParams) differenced(s TrainingSlice) ([]float64, [][]float64) {
	w, _ := applyStages(s.Target, p.stages)
	z := make([][]float64, len(s.Exog))
	for j, c := range s.Exog {
		z[j], _ = applyStages(c, p.stages)
	}
	return w, z
}

// Fit estimates the model on the complete tail of slice by iterated least
// squares. It fails with ErrInsufficientData on short slices and with
// ErrNonConvergence when the iteration budget runs out.
func (m *SARIMAX) Fit(ctx context.Context, slice TrainingSlice, o Orders) (*State, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	if err := slice.validate(); err != nil {
		return nil, err
	}
	s := slice.CompleteTail()
	k := len(s.Exog)
	if need := m.MinTrainingRows(o, k); s.Rows() < need {
		return nil, fmt.Errorf("%w: %d complete training rows, %s needs %d", domain.ErrInsufficientData, s.Rows(), o, need)
	}

	ar, ma := lagsFor(o)
	p := &sarimaxParams{
		arLags:    ar,
		maLags:    ma,
		exogNames: append([]string(nil), s.ExogNames...),
		maxLag:    maxLag(ar, ma),
		stages:    diffStages(o),
		exogTail:  make([][]float64, k),
	}
	var w []float64
	w, p.yTails = applyStages(s.Target, p.stages)
	_, z := p.differenced(s)
	loss := s.Rows() - len(w)
	for j, c := range s.Exog {
		p.exogTail[j] = append([]float64(nil), c[len(c)-loss:]...)
	}

	e := make([]float64, len(w))
	var prev []float64
	iterations := 0
	converged := false
	for it := 1; it <= m.settings.MaxIterations; it++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		iterations = it
		a, b := p.design(w, e, z)
		v, err := solveRidge(a, b)
		if err != nil {
			return nil, err
		}
		p.setVector(v)
		if e, err = p.residuals(w, z); err != nil {
			return nil, err
		}
		if len(ma) == 0 || (prev != nil && maxAbsDiff(v, prev) < m.settings.Tolerance) {
			converged = true
			break
		}
		prev = v
	}
	if !converged {
		return nil, fmt.Errorf("%w: %s not converged after %d iterations (tolerance %g)",
			domain.ErrNonConvergence, o, iterations, m.settings.Tolerance)
	}

	nParams := 1 + len(ar) + len(ma) + k
	var sse float64
	for t := p.maxLag; t < len(e); t++ {
		sse += e[t] * e[t]
	}
	dof := len(e) - p.maxLag - nParams
	if dof <= 0 {
		return nil, fmt.Errorf("%w: no residual degrees of freedom", domain.ErrInsufficientData)
	}
	p.wTail = append([]float64(nil), w[len(w)-p.maxLag:]...)
	p.eTail = append([]float64(nil), e[len(e)-p.maxLag:]...)

	return &State{
		Family:     m.Name(),
		Orders:     o,
		ExogNames:  p.exogNames,
		NObs:       s.Rows(),
		Iterations: iterations,
		Sigma2:     sse / float64(dof),
		TrainEnd:   s.Grid.Time(s.Grid.Len - 1),
		Step:       s.Grid.Step,
		params:     p,
	}, nil
}

// Forecast predicts horizon steps past the training end, with intervals from
// the psi weights of the fitted ARMA and differencing polynomials.
func (m *SARIMAX) Forecast(ctx context.Context, st *State, horizon int, future FutureExog) (*domain.ForecastResult, error) {
	p, ok := st.params.(*sarimaxParams)
	if !ok {
		return nil, fmt.Errorf("%w: state of family %q passed to %s", domain.ErrFit, st.Family, m.Name())
	}
	if err := checkFuture(st, horizon, future); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	zf := make([][]float64, len(future.Columns))
	for j, c := range future.Columns {
		joined := append(append([]float64(nil), p.exogTail[j]...), c...)
		zf[j], _ = applyStages(joined, p.stages)
	}

	base := len(p.wTail)
	w := append(append([]float64(nil), p.wTail...), make([]float64, horizon)...)
	e := append(append([]float64(nil), p.eTail...), make([]float64, horizon)...)
	x := make([]float64, len(zf))
	for h := 0; h < horizon; h++ {
		for j := range zf {
			x[j] = zf[j][h]
		}
		w[base+h] = p.predict(w, e, base+h, x)
	}
	pred := integrate(w[base:], p.stages, p.yTails)

	arPoly := make([]float64, maxLag(p.arLags)+1)
	arPoly[0] = 1
	for i, l := range p.arLags {
		arPoly[l] -= p.ar[i]
	}
	for _, lag := range p.stages {
		d := make([]float64, lag+1)
		d[0], d[lag] = 1, -1
		arPoly = polyMul(arPoly, d)
	}
	maPoly := make([]float64, maxLag(p.maLags)+1)
	maPoly[0] = 1
	for i, l := range p.maLags {
		maPoly[l] += p.ma[i]
	}
	half := intervalHalfWidths(cumulativeSquares(psiWeights(arPoly, maPoly, horizon)), st.Sigma2, m.settings.IntervalLevel)

	return &domain.ForecastResult{Model: m.Name(), Points: resultPoints(future.Grid, pred, half)}, nil
}

// Diagnose computes residual diagnostics of st over slice.
func (m *SARIMAX) Diagnose(st *State, slice TrainingSlice) (*domain.ResidualDiagnostics, error) {
	p, ok := st.params.(*sarimaxParams)
	if !ok {
		return nil, fmt.Errorf("%w: state of family %q passed to %s", domain.ErrFit, st.Family, m.Name())
	}
	if err := slice.validate(); err != nil {
		return nil, err
	}
	if len(slice.Exog) != len(p.beta) {
		return nil, fmt.Errorf("%w: %d exogenous columns, model has %d", domain.ErrFit, len(slice.Exog), len(p.beta))
	}
	w, z := p.differenced(slice.CompleteTail())
	if len(w)-p.maxLag < 3 {
		return nil, fmt.Errorf("%w: too few rows to diagnose", domain.ErrInsufficientData)
	}
	e, err := p.residuals(w, z)
	if err != nil {
		return nil, err
	}
	return residualDiagnostics(e[p.maxLag:], len(p.arLags)+len(p.maLags)), nil
}

// intervalHalfWidths converts cumulative psi² sums into symmetric normal
// interval half-widths at level.
func intervalHalfWidths(cum []float64, sigma2, level float64) []float64 {
	z := distuv.UnitNormal.Quantile(1 - (1-level)/2)
	out := make([]float64, len(cum))
	for i, c := range cum {
		out[i] = z * math.Sqrt(sigma2*c)
	}
	return out
}
