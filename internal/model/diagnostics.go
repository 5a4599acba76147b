package model

import (
	"math"

	"github.com/couchcryptid/nitrate-forecast/internal/domain"
	"github.com/couchcryptid/nitrate-forecast/internal/lag"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// maxDiagnosticLag caps the residual ACF at one day of hourly lags.
const maxDiagnosticLag = 24

// residualDiagnostics summarizes residuals e of a model with armaTerms
// estimated AR/MA coefficients: residual ACF, Ljung-Box whiteness test,
// Jarque-Bera normality test and the late/early variance ratio.
func residualDiagnostics(e []float64, armaTerms int) *domain.ResidualDiagnostics {
	n := len(e)
	d := &domain.ResidualDiagnostics{N: n}
	d.Mean, d.StdDev = stat.MeanStdDev(e, nil)

	h := min(maxDiagnosticLag, n/4)
	if h < 1 {
		h = 1
	}
	d.ACF, _ = lag.Autocorrelation(e, h)

	var q float64
	for k := 1; k <= h && k < n; k++ {
		r := d.ACF[k]
		if math.IsNaN(r) {
			continue
		}
		q += r * r / float64(n-k)
	}
	d.LjungBox = float64(n) * float64(n+2) * q
	dof := max(h-armaTerms, 1)
	d.LjungBoxPValue = distuv.ChiSquared{K: float64(dof)}.Survival(d.LjungBox)

	skew := stat.Skew(e, nil)
	exKurt := stat.ExKurtosis(e, nil)
	d.JarqueBera = float64(n) / 6 * (skew*skew + exKurt*exKurt/4)
	d.JarqueBeraP = distuv.ChiSquared{K: 2}.Survival(d.JarqueBera)

	d.VarianceRatio = math.NaN()
	if half := n / 2; half >= 2 && n-half >= 2 {
		early := stat.Variance(e[:half], nil)
		if early > 0 {
			d.VarianceRatio = stat.Variance(e[half:], nil) / early
		}
	}
	return d
}
