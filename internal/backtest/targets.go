package backtest

import (
	"math"
	"sort"

	"github.com/sawpanic/etftrend/internal/allocator"
	"github.com/sawpanic/etftrend/internal/prices"
	"github.com/sawpanic/etftrend/internal/regime"
	"github.com/sawpanic/etftrend/internal/selector"
)

// Target is one desired portfolio weight on a rebalance day
type Target struct {
	Symbol string  `json:"symbol"`
	Weight float64 `json:"weight"`
}

// Targeter turns a regime reading into target weights from history dated on
// or before the rebalance day. The last row of hist is the rebalance day.
// Weights need not sum to one; the remainder is held as cash.
type Targeter interface {
	Targets(hist *prices.Table, state regime.State) ([]Target, error)
}

// CandidateTargets splits the risk budget equally across the selector's
// candidates that have a price on the rebalance day, capping each at
// MaxWeight.
type CandidateTargets struct {
	Selector  selector.Selector
	MaxWeight float64
}

// Targets implements Targeter
func (c CandidateTargets) Targets(hist *prices.Table, state regime.State) ([]Target, error) {
	cands, err := c.Selector.Select(hist, state)
	if err != nil {
		return nil, err
	}
	last := hist.Len() - 1
	seen := make(map[string]bool, len(cands))
	valid := make([]string, 0, len(cands))
	for _, cand := range cands {
		if seen[cand.Symbol] {
			continue
		}
		if _, err := hist.Price(cand.Symbol, last); err != nil {
			continue
		}
		seen[cand.Symbol] = true
		valid = append(valid, cand.Symbol)
	}
	if len(valid) == 0 {
		return nil, nil
	}
	w := math.Min(state.RiskBudget/float64(len(valid)), c.MaxWeight)
	out := make([]Target, len(valid))
	for i, s := range valid {
		out[i] = Target{Symbol: s, Weight: w}
	}
	return out, nil
}

// AllocatorTargets uses the full allocation engine for target weights.
type AllocatorTargets struct {
	Allocator *allocator.Allocator
}

// Targets implements Targeter
func (a AllocatorTargets) Targets(hist *prices.Table, state regime.State) ([]Target, error) {
	alloc, err := a.Allocator.Allocate(hist, state, hist.Last())
	if err != nil {
		return nil, err
	}
	return fromWeights(alloc.Weights), nil
}

// FixedTargets holds the same weights on every rebalance day.
type FixedTargets map[string]float64

// Targets implements Targeter
func (f FixedTargets) Targets(*prices.Table, regime.State) ([]Target, error) {
	return fromWeights(f), nil
}

func fromWeights(w map[string]float64) []Target {
	out := make([]Target, 0, len(w))
	for s, v := range w {
		out = append(out, Target{Symbol: s, Weight: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
