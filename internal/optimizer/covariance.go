package optimizer

import (
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// TradingDays annualizes a daily covariance.
const TradingDays = 252

// LedoitWolf estimates the covariance of rows (observations) by shrinking the
// sample covariance toward a scaled identity with the Ledoit-Wolf optimal
// intensity. The sample covariance uses the biased 1/n normalization. It
// returns the daily covariance and the shrinkage intensity in [0, 1].
func LedoitWolf(rows [][]float64) (*mat.SymDense, float64) {
	n := len(rows)
	if n == 0 {
		return nil, 0
	}
	p := len(rows[0])

	x := mat.NewDense(n, p, nil)
	for i, row := range rows {
		x.SetRow(i, row)
	}
	col := make([]float64, n)
	for j := 0; j < p; j++ {
		mat.Col(col, j, x)
		mean := stat.Mean(col, nil)
		for i := 0; i < n; i++ {
			x.Set(i, j, col[i]-mean)
		}
	}

	var sample mat.SymDense
	sample.SymOuterK(1/float64(n), x.T())

	trace := mat.Trace(&sample)
	mu := trace / float64(p)

	var x2 mat.Dense
	x2.MulElem(x, x)
	var x2tx2 mat.Dense
	x2tx2.Mul(x2.T(), &x2)
	betaRaw := mat.Sum(&x2tx2)

	frob := 0.0
	for i := 0; i < p; i++ {
		for j := 0; j < p; j++ {
			v := sample.At(i, j)
			frob += v * v
		}
	}

	beta := (betaRaw/float64(n) - frob) / (float64(p) * float64(n))
	delta := (frob - 2*mu*trace + float64(p)*mu*mu) / float64(p)
	if beta > delta {
		beta = delta
	}
	shrinkage := 0.0
	if delta > 0 && beta > 0 {
		shrinkage = beta / delta
	}

	out := mat.NewSymDense(p, nil)
	for i := 0; i < p; i++ {
		for j := i; j < p; j++ {
			v := (1 - shrinkage) * sample.At(i, j)
			if i == j {
				v += shrinkage * mu
			}
			out.SetSym(i, j, v)
		}
	}
	return out, shrinkage
}

// AnnualizedCovariance is the Ledoit-Wolf estimate scaled to a yearly horizon.
func AnnualizedCovariance(rows [][]float64) *mat.SymDense {
	cov, _ := LedoitWolf(rows)
	if cov == nil {
		return nil
	}
	cov.ScaleSym(TradingDays, cov)
	return cov
}
