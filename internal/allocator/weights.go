package allocator

import (
	"math"
	"sort"
)

// Weights maps symbol to portfolio weight. Values are non-negative.
type Weights map[string]float64

// Sum returns the total weight, accumulated in symbol order so repeated
// calls agree to the last bit.
func (w Weights) Sum() float64 {
	total := 0.0
	for _, s := range w.Symbols() {
		total += w[s]
	}
	return total
}

// Symbols returns the held symbols in lexical order.
func (w Weights) Symbols() []string {
	out := make([]string, 0, len(w))
	for s := range w {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Clone returns an independent copy.
func (w Weights) Clone() Weights {
	out := make(Weights, len(w))
	for s, v := range w {
		out[s] = v
	}
	return out
}

// SelectTopN keeps symbols with a finite momentum and a strictly positive
// volatility, ranks them by momentum (highest first, ties in input order)
// and returns the first n.
func SelectTopN(symbols []string, momentum, volatility map[string]float64, n int) []string {
	valid := make([]string, 0, len(symbols))
	for _, s := range symbols {
		m, okM := momentum[s]
		v, okV := volatility[s]
		if !okM || !okV || math.IsNaN(m) || math.IsInf(m, 0) || math.IsNaN(v) || !(v > 0) {
			continue
		}
		valid = append(valid, s)
	}
	sort.SliceStable(valid, func(i, j int) bool { return momentum[valid[i]] > momentum[valid[j]] })
	if n < len(valid) {
		valid = valid[:n]
	}
	return valid
}

// InverseVolWeights weights symbols proportionally to 1/volatility, summing to one.
func InverseVolWeights(symbols []string, volatility map[string]float64) Weights {
	out := make(Weights, len(symbols))
	total := 0.0
	for _, s := range symbols {
		total += 1 / volatility[s]
	}
	for _, s := range symbols {
		out[s] = (1 / volatility[s]) / total
	}
	return out
}

// EqualWeights splits one unit equally across symbols.
func EqualWeights(symbols []string) Weights {
	out := make(Weights, len(symbols))
	for _, s := range symbols {
		out[s] = 1 / float64(len(symbols))
	}
	return out
}

// Constraints bound a merged weight vector
type Constraints struct {
	MaxSingle float64
	MaxCore   float64
	Core      []string
	MinWeight float64
}

// ApplyConstraints clips every weight to MaxSingle, scales the core group
// down when it exceeds MaxCore, renormalizes only when the total exceeds one
// and finally drops weights below MinWeight. The input is not modified.
func ApplyConstraints(w Weights, c Constraints) Weights {
	if len(w) == 0 {
		return Weights{}
	}
	out := make(Weights, len(w))
	for s, v := range w {
		out[s] = math.Min(v, c.MaxSingle)
	}

	core := make(map[string]bool, len(c.Core))
	coreSum := 0.0
	for _, s := range c.Core {
		if core[s] {
			continue
		}
		core[s] = true
		coreSum += out[s]
	}
	if coreSum > c.MaxCore {
		scale := c.MaxCore / coreSum
		for s := range core {
			if _, held := out[s]; held {
				out[s] *= scale
			}
		}
	}

	if total := out.Sum(); total > 1 {
		for s := range out {
			out[s] /= total
		}
	}

	for s, v := range out {
		if v < c.MinWeight {
			delete(out, s)
		}
	}
	return out
}
