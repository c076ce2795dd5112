// Package optimizer solves long-only, fully invested portfolio weights under
// a per-asset cap for the minimum-variance and equal-risk-contribution
// objectives over a shrunk covariance estimate.
package optimizer

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/sawpanic/etftrend/internal/faults"
)

// Objective selects what Solve minimizes
type Objective int

const (
	MinVariance Objective = iota
	RiskParity
)

func (o Objective) String() string {
	switch o {
	case MinVariance:
		return "min_variance"
	case RiskParity:
		return "risk_parity"
	default:
		return "unknown"
	}
}

// Config controls the projected gradient iteration
type Config struct {
	MaxIterations      int     `yaml:"max_iterations"`      // Iteration cap per solve (default: 500)
	Tolerance          float64 `yaml:"tolerance"`           // Projected gradient stationarity (default: 1e-9)
	BacktrackingRatio  float64 `yaml:"backtracking_ratio"`  // Line search reduction factor (default: 0.5)
	MinStepSize        float64 `yaml:"min_step_size"`       // Smallest line search step (default: 1e-12)
	SufficientDecrease float64 `yaml:"sufficient_decrease"` // Armijo coefficient (default: 1e-4)
	MemoryWindow       int     `yaml:"memory_window"`       // Non-monotone reference window (default: 10)
}

// DefaultConfig returns the default solver configuration
func DefaultConfig() Config {
	return Config{
		MaxIterations:      500,
		Tolerance:          1e-9,
		BacktrackingRatio:  0.5,
		MinStepSize:        1e-12,
		SufficientDecrease: 1e-4,
		MemoryWindow:       10,
	}
}

// Validate checks solver settings
func (c Config) Validate() error {
	if c.MaxIterations <= 0 {
		return faults.Configf("optimizer.max_iterations", c.MaxIterations, "must be positive")
	}
	if c.Tolerance <= 0 {
		return faults.Configf("optimizer.tolerance", c.Tolerance, "must be positive")
	}
	if c.BacktrackingRatio <= 0 || c.BacktrackingRatio >= 1 {
		return faults.Configf("optimizer.backtracking_ratio", c.BacktrackingRatio, "must be in (0, 1)")
	}
	if c.MinStepSize <= 0 {
		return faults.Configf("optimizer.min_step_size", c.MinStepSize, "must be positive")
	}
	if c.SufficientDecrease <= 0 || c.SufficientDecrease >= 1 {
		return faults.Configf("optimizer.sufficient_decrease", c.SufficientDecrease, "must be in (0, 1)")
	}
	if c.MemoryWindow <= 0 {
		return faults.Configf("optimizer.memory_window", c.MemoryWindow, "must be positive")
	}
	return nil
}

// Result holds solved weights in input symbol order
type Result struct {
	Symbols    []string           `json:"symbols"`
	Weights    map[string]float64 `json:"weights"`
	Objective  float64            `json:"objective"`
	Iterations int                `json:"iterations"`
	Converged  bool               `json:"converged"`
	Cap        float64            `json:"cap"` // effective per-asset upper bound
}

// Err reports ErrNonConvergence for a best-effort result.
func (r Result) Err() error {
	if r.Converged {
		return nil
	}
	return faults.ErrNonConvergence
}

// Vector returns the weights in symbol order.
func (r Result) Vector() []float64 {
	out := make([]float64, len(r.Symbols))
	for i, s := range r.Symbols {
		out[i] = r.Weights[s]
	}
	return out
}

// Solve finds weights over symbols from a matrix of daily returns (one row per
// observation, one column per symbol). The covariance is the annualized
// Ledoit-Wolf estimate. Weights always satisfy sum(w) = 1 and
// 0 <= w <= cap, where cap is maxWeight raised to 1/n when maxWeight is too
// small to be feasible. Exhausting MaxIterations yields the best iterate with
// Converged false.
func Solve(symbols []string, returns [][]float64, objective Objective, maxWeight float64, cfg Config) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}
	n := len(symbols)
	if n == 0 {
		return Result{}, &faults.InsufficientDataError{What: "solver symbols", Have: 0, Need: 1}
	}
	if len(returns) < 2 {
		return Result{}, &faults.InsufficientDataError{What: "return observations", Have: len(returns), Need: 2}
	}
	for _, row := range returns {
		if len(row) != n {
			return Result{}, faults.Configf("returns", len(row), "each row needs %d columns", n)
		}
	}
	if maxWeight <= 0 || math.IsNaN(maxWeight) {
		return Result{}, faults.Configf("max_weight", maxWeight, "must be positive")
	}

	cov := AnnualizedCovariance(returns)
	return SolveCovariance(symbols, cov, objective, maxWeight, cfg)
}

// SolveCovariance runs the solver against a precomputed covariance matrix.
func SolveCovariance(symbols []string, cov mat.Symmetric, objective Objective, maxWeight float64, cfg Config) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}
	n := len(symbols)
	if cov == nil || cov.SymmetricDim() != n {
		return Result{}, faults.Configf("covariance", n, "dimension does not match symbol count")
	}

	limit := math.Min(math.Max(maxWeight, 1/float64(n)), 1)

	var f func(w []float64) float64
	var grad func(dst, w []float64)
	switch objective {
	case MinVariance:
		f = func(w []float64) float64 { return portfolioVariance(cov, w) }
		grad = func(dst, w []float64) { minVarianceGradient(dst, cov, w) }
	case RiskParity:
		f = func(w []float64) float64 { return riskParityObjective(cov, w) }
		grad = func(dst, w []float64) { riskParityGradient(dst, cov, w) }
	default:
		return Result{}, faults.Configf("objective", int(objective), "unknown objective")
	}

	w := make([]float64, n)
	for i := range w {
		w[i] = 1 / float64(n)
	}

	iters, converged := spectralProjectedGradient(w, f, grad, limit, cfg)

	res := Result{
		Symbols:    append([]string(nil), symbols...),
		Weights:    make(map[string]float64, n),
		Objective:  f(w),
		Iterations: iters,
		Converged:  converged,
		Cap:        limit,
	}
	for i, s := range symbols {
		res.Weights[s] = w[i]
	}
	return res, nil
}

// spectralProjectedGradient minimizes f over the capped simplex in place,
// using Barzilai-Borwein steps with a non-monotone Armijo line search. Every
// iterate is feasible.
func spectralProjectedGradient(w []float64, f func([]float64) float64, grad func(dst, w []float64), limit float64, cfg Config) (int, bool) {
	const (
		minSpectral = 1e-10
		maxSpectral = 1e10
	)
	n := len(w)
	g := make([]float64, n)
	gNext := make([]float64, n)
	trial := make([]float64, n)
	d := make([]float64, n)
	s := make([]float64, n)
	y := make([]float64, n)

	fw := f(w)
	grad(g, w)
	history := []float64{fw}

	// first spectral step from the projected gradient length
	floats.SubTo(trial, w, g)
	ProjectCappedSimplex(trial, limit)
	floats.Sub(trial, w)
	alpha := 1.0
	if norm := floats.Norm(trial, math.Inf(1)); norm > 0 {
		alpha = math.Min(maxSpectral, math.Max(minSpectral, 1/norm))
	}

	for iter := 1; iter <= cfg.MaxIterations; iter++ {
		// stationarity: unit-step projected gradient
		floats.SubTo(trial, w, g)
		ProjectCappedSimplex(trial, limit)
		floats.Sub(trial, w)
		if floats.Norm(trial, math.Inf(1)) < cfg.Tolerance {
			return iter - 1, true
		}

		floats.AddScaledTo(d, w, -alpha, g)
		ProjectCappedSimplex(d, limit)
		floats.Sub(d, w)

		ref := history[0]
		for _, v := range history[1:] {
			ref = math.Max(ref, v)
		}
		slope := floats.Dot(g, d)

		lambda := 1.0
		var fTrial float64
		for {
			floats.AddScaledTo(trial, w, lambda, d)
			fTrial = f(trial)
			if fTrial <= ref+cfg.SufficientDecrease*lambda*slope {
				break
			}
			lambda *= cfg.BacktrackingRatio
			if lambda < cfg.MinStepSize {
				return iter, false
			}
		}

		floats.SubTo(s, trial, w)
		copy(w, trial)
		fw = fTrial
		grad(gNext, w)
		floats.SubTo(y, gNext, g)
		copy(g, gNext)

		history = append(history, fw)
		if len(history) > cfg.MemoryWindow {
			history = history[1:]
		}

		sy := floats.Dot(s, y)
		if sy <= 0 {
			alpha = maxSpectral
		} else {
			alpha = math.Min(maxSpectral, math.Max(minSpectral, floats.Dot(s, s)/sy))
		}
	}

	floats.SubTo(trial, w, g)
	ProjectCappedSimplex(trial, limit)
	floats.Sub(trial, w)
	return cfg.MaxIterations, floats.Norm(trial, math.Inf(1)) < cfg.Tolerance
}

// ProjectCappedSimplex replaces v with its Euclidean projection onto
// {w : sum(w) = 1, 0 <= w_i <= limit}. limit*len(v) must be at least 1.
func ProjectCappedSimplex(v []float64, limit float64) {
	clip := func(x float64) float64 { return math.Max(0, math.Min(limit, x)) }
	total := func(tau float64) float64 {
		sum := 0.0
		for _, x := range v {
			sum += clip(x - tau)
		}
		return sum
	}

	lo := floats.Min(v) - limit
	hi := floats.Max(v)
	for i := 0; i < 200 && hi-lo > 1e-15; i++ {
		mid := 0.5 * (lo + hi)
		if total(mid) > 1 {
			lo = mid
		} else {
			hi = mid
		}
	}
	tau := 0.5 * (lo + hi)
	for i, x := range v {
		v[i] = clip(x - tau)
	}

	// spread the bisection residual over coordinates strictly inside the box
	residual := 1 - floats.Sum(v)
	free := 0
	for _, x := range v {
		if x > 0 && x < limit {
			free++
		}
	}
	if free > 0 && residual != 0 {
		share := residual / float64(free)
		for i, x := range v {
			if x > 0 && x < limit {
				v[i] = math.Max(0, math.Min(limit, x+share))
			}
		}
	}
}

func mulVec(cov mat.Symmetric, w []float64) []float64 {
	out := make([]float64, len(w))
	for i := range w {
		sum := 0.0
		for j, wj := range w {
			sum += cov.At(i, j) * wj
		}
		out[i] = sum
	}
	return out
}

func portfolioVariance(cov mat.Symmetric, w []float64) float64 {
	return floats.Dot(w, mulVec(cov, w))
}

func minVarianceGradient(dst []float64, cov mat.Symmetric, w []float64) {
	m := mulVec(cov, w)
	for i := range dst {
		dst[i] = 2 * m[i]
	}
}

// RiskContributions returns each asset's share of portfolio variance,
// w_i (Σw)_i / wᵀΣw. They sum to one when the variance is positive.
func RiskContributions(cov mat.Symmetric, w []float64) []float64 {
	m := mulVec(cov, w)
	v := floats.Dot(w, m)
	rc := make([]float64, len(w))
	if v <= 0 {
		return rc
	}
	for i := range w {
		rc[i] = w[i] * m[i] / v
	}
	return rc
}

func riskParityObjective(cov mat.Symmetric, w []float64) float64 {
	rc := RiskContributions(cov, w)
	target := 1 / float64(len(w))
	sum := 0.0
	for _, r := range rc {
		sum += (r - target) * (r - target)
	}
	return sum
}

func riskParityGradient(dst []float64, cov mat.Symmetric, w []float64) {
	n := len(w)
	m := mulVec(cov, w)
	v := floats.Dot(w, m)
	if v <= 0 {
		for i := range dst {
			dst[i] = 0
		}
		return
	}
	target := 1 / float64(n)
	dev := make([]float64, n)
	weighted := make([]float64, n)
	devDotRC := 0.0
	for i := range w {
		rc := w[i] * m[i] / v
		dev[i] = rc - target
		weighted[i] = dev[i] * w[i]
		devDotRC += dev[i] * rc
	}
	cw := mulVec(cov, weighted)
	for k := range dst {
		dst[k] = 2*dev[k]*m[k]/v + 2*cw[k]/v - 4*m[k]*devDotRC/v
	}
}
