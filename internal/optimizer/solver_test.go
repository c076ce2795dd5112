package optimizer

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/sawpanic/etftrend/internal/faults"
)

// independentReturns draws n rows of uncorrelated returns with the given
// daily volatilities.
func independentReturns(n int, vols []float64, seed int64) [][]float64 {
	rng := rand.New(rand.NewSource(seed))
	rows := make([][]float64, n)
	for i := range rows {
		row := make([]float64, len(vols))
		for j, v := range vols {
			row[j] = 0.0003 + v*rng.NormFloat64()
		}
		rows[i] = row
	}
	return rows
}

func assertFeasible(t *testing.T, res Result, limit float64) {
	t.Helper()
	sum := 0.0
	for s, w := range res.Weights {
		assert.GreaterOrEqual(t, w, -1e-12, s)
		assert.LessOrEqual(t, w, limit+1e-9, s)
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-6)
}

func TestMinVarianceFavoursLowestVolatility(t *testing.T) {
	symbols := []string{"HIGH", "LOW", "MID"}
	rows := independentReturns(250, []float64{0.02, 0.005, 0.01}, 7)

	res, err := Solve(symbols, rows, MinVariance, 1.0, DefaultConfig())
	require.NoError(t, err)
	require.True(t, res.Converged)
	assertFeasible(t, res, 1.0)

	assert.Greater(t, res.Weights["LOW"], res.Weights["MID"])
	assert.Greater(t, res.Weights["MID"], res.Weights["HIGH"])
	assert.Equal(t, symbols, res.Symbols)
	assert.NoError(t, res.Err())
}

func TestMinVarianceRespectsCap(t *testing.T) {
	symbols := []string{"A", "B", "C", "D"}
	rows := independentReturns(300, []float64{0.004, 0.012, 0.015, 0.02}, 11)

	res, err := Solve(symbols, rows, MinVariance, 0.4, DefaultConfig())
	require.NoError(t, err)
	assert.True(t, res.Converged)
	assertFeasible(t, res, 0.4)
	assert.InDelta(t, 0.4, res.Weights["A"], 1e-6, "lowest vol asset should sit at the cap")
}

func TestRiskParityEqualizesContributions(t *testing.T) {
	symbols := []string{"A", "B", "C"}
	rows := independentReturns(400, []float64{0.006, 0.012, 0.018}, 3)

	res, err := Solve(symbols, rows, RiskParity, 1.0, DefaultConfig())
	require.NoError(t, err)
	require.True(t, res.Converged)
	assertFeasible(t, res, 1.0)

	cov := AnnualizedCovariance(rows)
	for _, rc := range RiskContributions(cov, res.Vector()) {
		assert.InDelta(t, 1.0/3, rc, 1e-4)
	}
	assert.Greater(t, res.Weights["A"], res.Weights["C"])
}

func TestInfeasibleCapIsRaised(t *testing.T) {
	symbols := []string{"A", "B", "C"}
	rows := independentReturns(100, []float64{0.01, 0.02, 0.03}, 5)

	res, err := Solve(symbols, rows, MinVariance, 0.2, DefaultConfig())
	require.NoError(t, err)
	assert.InDelta(t, 1.0/3, res.Cap, 1e-12)
	for _, w := range res.Weights {
		assert.InDelta(t, 1.0/3, w, 1e-9)
	}
}

func TestIterationCapReturnsFeasibleBestEffort(t *testing.T) {
	symbols := []string{"A", "B", "C"}
	rows := independentReturns(200, []float64{0.004, 0.01, 0.03}, 9)
	cfg := DefaultConfig()
	cfg.MaxIterations = 1

	res, err := Solve(symbols, rows, RiskParity, 0.6, cfg)
	require.NoError(t, err)
	assert.False(t, res.Converged)
	assert.ErrorIs(t, res.Err(), faults.ErrNonConvergence)
	assert.Equal(t, 1, res.Iterations)
	assertFeasible(t, res, 0.6)
}

func TestSolveInputErrors(t *testing.T) {
	rows := independentReturns(10, []float64{0.01, 0.02}, 1)

	_, err := Solve(nil, rows, MinVariance, 1, DefaultConfig())
	var ide *faults.InsufficientDataError
	assert.ErrorAs(t, err, &ide)

	_, err = Solve([]string{"A", "B"}, rows[:1], MinVariance, 1, DefaultConfig())
	assert.ErrorAs(t, err, &ide)

	_, err = Solve([]string{"A", "B", "C"}, rows, MinVariance, 1, DefaultConfig())
	assert.True(t, faults.IsConfig(err))

	_, err = Solve([]string{"A", "B"}, rows, MinVariance, 0, DefaultConfig())
	assert.True(t, faults.IsConfig(err))

	_, err = Solve([]string{"A", "B"}, rows, Objective(7), 1, DefaultConfig())
	assert.True(t, faults.IsConfig(err))

	bad := DefaultConfig()
	bad.BacktrackingRatio = 1
	_, err = Solve([]string{"A", "B"}, rows, MinVariance, 1, bad)
	assert.True(t, faults.IsConfig(err))
}

func TestProjectCappedSimplex(t *testing.T) {
	v := []float64{0.9, -0.3, 0.5, 0.2}
	ProjectCappedSimplex(v, 0.5)
	assert.InDelta(t, 1.0, floats.Sum(v), 1e-12)
	for _, x := range v {
		assert.GreaterOrEqual(t, x, 0.0)
		assert.LessOrEqual(t, x, 0.5+1e-12)
	}
	assert.Equal(t, 0.0, v[1])

	feasible := []float64{0.25, 0.25, 0.5}
	ProjectCappedSimplex(feasible, 1)
	assert.InDeltaSlice(t, []float64{0.25, 0.25, 0.5}, feasible, 1e-12)
}

func TestLedoitWolfIsSymmetricPSD(t *testing.T) {
	rows := independentReturns(40, []float64{0.01, 0.02, 0.015, 0.03, 0.005}, 21)
	cov, shrink := LedoitWolf(rows)
	require.NotNil(t, cov)
	assert.GreaterOrEqual(t, shrink, 0.0)
	assert.LessOrEqual(t, shrink, 1.0)

	var eig mat.EigenSym
	require.True(t, eig.Factorize(cov, false))
	for _, v := range eig.Values(nil) {
		assert.Greater(t, v, 0.0)
	}

	annual := AnnualizedCovariance(rows)
	assert.InDelta(t, cov.At(1, 1)*TradingDays, annual.At(1, 1), 1e-15)
}

func TestLedoitWolfShrinksTowardScaledIdentity(t *testing.T) {
	// perfectly correlated columns: the estimate must pull the off-diagonal
	// below the sample covariance
	rows := make([][]float64, 30)
	for i := range rows {
		x := math.Sin(float64(i))
		rows[i] = []float64{x, 2 * x}
	}
	cov, shrink := LedoitWolf(rows)
	assert.Greater(t, shrink, 0.0)

	var sample float64
	for _, r := range rows {
		sample += r[0] * r[1]
	}
	mean0, mean1 := 0.0, 0.0
	for _, r := range rows {
		mean0 += r[0]
		mean1 += r[1]
	}
	n := float64(len(rows))
	sample = sample/n - (mean0/n)*(mean1/n)
	assert.Less(t, cov.At(0, 1), sample)
}

func TestAnalyticGradients(t *testing.T) {
	rows := independentReturns(120, []float64{0.01, 0.02, 0.015}, 13)
	cov := AnnualizedCovariance(rows)
	w := []float64{0.5, 0.2, 0.3}

	cases := []struct {
		name string
		f    func([]float64) float64
		grad func(dst, w []float64)
	}{
		{"min variance", func(x []float64) float64 { return portfolioVariance(cov, x) },
			func(dst, x []float64) { minVarianceGradient(dst, cov, x) }},
		{"risk parity", func(x []float64) float64 { return riskParityObjective(cov, x) },
			func(dst, x []float64) { riskParityGradient(dst, cov, x) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := make([]float64, len(w))
			tc.grad(got, w)
			want := fd.Gradient(nil, tc.f, w, &fd.Settings{Formula: fd.Central})
			assert.InDeltaSlice(t, want, got, 1e-5)
		})
	}
}

func TestObjectiveString(t *testing.T) {
	assert.Equal(t, "min_variance", MinVariance.String())
	assert.Equal(t, "risk_parity", RiskParity.String())
	assert.Equal(t, "unknown", Objective(5).String())
}
