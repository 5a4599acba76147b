package model

import (
	"fmt"
	"math"

	"github.com/couchcryptid/nitrate-forecast/internal/domain"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ridgeScale sets the ridge penalty relative to the mean diagonal of AᵀA.
const ridgeScale = 1e-9

// solveRidge returns argmin ||Ax-b||² + λ||x||² via a Cholesky solve of the
// normal equations. The small ridge keeps collinear regressors solvable.
func solveRidge(a *mat.Dense, b []float64) ([]float64, error) {
	rows, cols := a.Dims()
	if rows < cols {
		return nil, fmt.Errorf("%w: %d rows for %d parameters", domain.ErrInsufficientData, rows, cols)
	}
	ata := mat.NewSymDense(cols, nil)
	ata.SymOuterK(1, a.T())

	var trace float64
	for i := 0; i < cols; i++ {
		trace += ata.At(i, i)
	}
	lambda := ridgeScale * (trace/float64(cols) + 1)
	for i := 0; i < cols; i++ {
		ata.SetSym(i, i, ata.At(i, i)+lambda)
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(ata); !ok {
		return nil, fmt.Errorf("%w: normal equations are not positive definite", domain.ErrFit)
	}
	atb := mat.NewVecDense(cols, nil)
	atb.MulVec(a.T(), mat.NewVecDense(rows, b))

	var x mat.VecDense
	if err := chol.SolveVecTo(&x, atb); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrFit, err)
	}
	out := make([]float64, cols)
	for i := range out {
		out[i] = x.AtVec(i)
	}
	return out, nil
}

// difference returns x[i+lag]-x[i].
func difference(x []float64, lag int) []float64 {
	if len(x) <= lag {
		return nil
	}
	out := make([]float64, len(x)-lag)
	for i := range out {
		out[i] = x[i+lag] - x[i]
	}
	return out
}

// diffStages lists the lag of each differencing pass: d passes at lag 1, then
// D passes at the seasonal period.
func diffStages(o Orders) []int {
	var stages []int
	for i := 0; i < o.D; i++ {
		stages = append(stages, 1)
	}
	for i := 0; i < o.SD; i++ {
		stages = append(stages, o.Period)
	}
	return stages
}

// applyStages differences x through every stage and returns the result plus,
// per stage, the trailing values of that stage's input (needed to integrate
// forecasts back).
func applyStages(x []float64, stages []int) ([]float64, [][]float64) {
	tails := make([][]float64, len(stages))
	cur := x
	for i, lag := range stages {
		if len(cur) >= lag {
			tails[i] = append([]float64(nil), cur[len(cur)-lag:]...)
		}
		cur = difference(cur, lag)
	}
	return cur, tails
}

// integrate undoes applyStages for values that continue the differenced series.
func integrate(w []float64, stages []int, tails [][]float64) []float64 {
	cur := append([]float64(nil), w...)
	for s := len(stages) - 1; s >= 0; s-- {
		lag := stages[s]
		ext := append(append([]float64(nil), tails[s]...), make([]float64, len(cur))...)
		base := len(tails[s])
		for i := range cur {
			ext[base+i] = cur[i] + ext[base+i-lag]
		}
		cur = ext[base:]
	}
	return cur
}

// polyMul multiplies two polynomials in the backshift operator.
func polyMul(a, b []float64) []float64 {
	out := make([]float64, len(a)+len(b)-1)
	for i, av := range a {
		for j, bv := range b {
			out[i+j] += av * bv
		}
	}
	return out
}

// psiWeights returns the first n MA(∞) weights of y = θ(B)/a(B) ε, where
// ar[0] == 1 and ma[0] == 1.
func psiWeights(ar, ma []float64, n int) []float64 {
	psi := make([]float64, n)
	for j := 0; j < n; j++ {
		v := 0.0
		if j < len(ma) {
			v = ma[j]
		}
		for i := 1; i <= j && i < len(ar); i++ {
			v -= ar[i] * psi[j-i]
		}
		psi[j] = v
	}
	return psi
}

// cumulativeSquares returns s[h] = Σ_{j<=h} psi[j]².
func cumulativeSquares(psi []float64) []float64 {
	sq := make([]float64, len(psi))
	for i, p := range psi {
		sq[i] = p * p
	}
	floats.CumSum(sq, sq)
	return sq
}

func maxAbsDiff(a, b []float64) float64 {
	return floats.Distance(a, b, math.Inf(1))
}
