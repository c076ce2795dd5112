package backtest

import (
	"math"
	"sort"
	"time"

	"github.com/sawpanic/etftrend/internal/allocator"
	"github.com/sawpanic/etftrend/internal/faults"
	"github.com/sawpanic/etftrend/internal/prices"
	"github.com/sawpanic/etftrend/internal/signals"
)

// Rebalance is a dated target weight vector for the weights engine. Weights
// take effect on Date and are held until the next Rebalance.
type Rebalance struct {
	Date    time.Time          `json:"date"`
	Weights map[string]float64 `json:"weights"`
}

// EngineResult holds the daily series produced by RunWeights
type EngineResult struct {
	Dates    []time.Time `json:"dates"`
	GrossRet []float64   `json:"port_ret"`
	NetRet   []float64   `json:"net_ret"`
	NAV      []float64   `json:"nav"`
	Drawdown []float64   `json:"drawdown"`
	Turnover []float64   `json:"turnover"`
	Cost     []float64   `json:"cost"`
	Stats    Stats       `json:"stats"`
}

// RunWeights is the vectorised backtest: each day earns the previous day's
// weights times the day's price returns, less the cost of the day's weight
// change. The book starts in cash, so entering the first weights counts as
// turnover on their effective day. A schedule entry dated between trading
// days takes effect on the next trading day.
func RunWeights(t *prices.Table, schedule []Rebalance, costBps float64) (*EngineResult, error) {
	n := t.Len()
	if n == 0 {
		return nil, &faults.InsufficientDataError{What: "price rows", Have: 0, Need: 1}
	}
	if costBps < 0 {
		return nil, faults.Configf("backtest.cost_bps", costBps, "must not be negative")
	}
	sorted := append([]Rebalance(nil), schedule...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	cols := map[string][]float64{}
	for _, rb := range sorted {
		for sym := range rb.Weights {
			if _, ok := cols[sym]; ok {
				continue
			}
			col, ok := t.Column(sym)
			if !ok {
				return nil, faults.Configf("weights", sym, "symbol not present in price data")
			}
			cols[sym] = col
		}
	}

	dates := t.Dates()
	held := make([]map[string]float64, n)
	cur := map[string]float64{}
	next := 0
	for i, d := range dates {
		for next < len(sorted) && !sorted[next].Date.After(d) {
			cur = sorted[next].Weights
			next++
		}
		held[i] = cur
	}

	res := &EngineResult{
		Dates:    dates,
		GrossRet: make([]float64, n),
		NetRet:   make([]float64, n),
		NAV:      make([]float64, n),
		Turnover: make([]float64, n),
		Cost:     make([]float64, n),
	}
	prev := map[string]float64{}
	nav := 1.0
	for i := 0; i < n; i++ {
		if i > 0 {
			gross := 0.0
			for sym, w := range held[i-1] {
				col := cols[sym]
				r := col[i]/col[i-1] - 1
				if math.IsNaN(r) || math.IsInf(r, 0) {
					continue
				}
				gross += w * r
			}
			res.GrossRet[i] = gross
		}
		res.Turnover[i] = Turnover(prev, held[i])
		res.Cost[i] = CostFromTurnover(res.Turnover[i], costBps)
		res.NetRet[i] = res.GrossRet[i] - res.Cost[i]
		nav *= 1 + res.NetRet[i]
		res.NAV[i] = nav
		prev = held[i]
	}
	res.Drawdown = Drawdown(res.NAV)
	res.Stats = ComputeStats(res.NAV, res.NetRet, res.Turnover, res.Cost)
	return res, nil
}

// WeightsConfig drives BuildRebalanceWeights
type WeightsConfig struct {
	Symbols         []string  `yaml:"symbols"`
	MAWindow        int       `yaml:"ma_window"`
	MomentumWindows []int     `yaml:"momentum_windows"`
	MomentumWeights []float64 `yaml:"momentum_weights"`
	VolLookback     int       `yaml:"vol_lookback"`
	MaxWeightSingle float64   `yaml:"max_weight_single"`
	MaxWeightCore   float64   `yaml:"max_weight_core"`
	CoreSymbols     []string  `yaml:"core_symbols"`
}

// DefaultWeightsConfig mirrors the allocation defaults for a symbol universe
func DefaultWeightsConfig(symbols []string) WeightsConfig {
	a := allocator.DefaultConfig()
	return WeightsConfig{
		Symbols:         symbols,
		MAWindow:        200,
		MomentumWindows: a.MomentumWindows,
		MomentumWeights: a.MomentumWeights,
		VolLookback:     a.VolLookback,
		MaxWeightSingle: a.MaxWeightSingle,
		MaxWeightCore:   a.MaxWeightCore,
		CoreSymbols:     a.CoreSymbols,
	}
}

// BuildRebalanceWeights computes month-end weights for RunWeights. On each
// month end a symbol is eligible when its momentum score is positive and its
// price is above the moving average; eligible symbols are weighted by
// inverse volatility and made fully invested under the caps. A month with
// no eligible symbol is all cash.
func BuildRebalanceWeights(t *prices.Table, cfg WeightsConfig) ([]Rebalance, error) {
	if cfg.MAWindow <= 0 {
		return nil, faults.Configf("weights.ma_window", cfg.MAWindow, "must be positive")
	}
	if len(cfg.MomentumWindows) == 0 || len(cfg.MomentumWindows) != len(cfg.MomentumWeights) {
		return nil, faults.Configf("weights.momentum_weights", len(cfg.MomentumWeights), "need one weight per momentum window")
	}
	for _, sym := range cfg.Symbols {
		if !t.Has(sym) {
			return nil, faults.Configf("weights.symbols", sym, "symbol not present in price data")
		}
	}

	var out []Rebalance
	for _, d := range MonthEndDates(t.Dates()) {
		hist := t.Until(d)
		vols := make(map[string]float64, len(cfg.Symbols))
		var eligible []string
		for _, sym := range cfg.Symbols {
			col, _ := hist.Column(sym)
			price := col[len(col)-1]
			mom := signals.MomentumScore(col, cfg.MomentumWindows, cfg.MomentumWeights)
			vol := signals.RealizedVolAnnual(col, cfg.VolLookback)
			if !(mom > 0) || !(price > signals.SMA(col, cfg.MAWindow)) || !(vol > 0) || math.IsInf(vol, 0) {
				continue
			}
			vols[sym] = vol
			eligible = append(eligible, sym)
		}
		w := map[string]float64{}
		if len(eligible) > 0 {
			w = FullyInvested(allocator.InverseVolWeights(eligible, vols), cfg.MaxWeightSingle, cfg.MaxWeightCore, cfg.CoreSymbols)
		}
		out = append(out, Rebalance{Date: d, Weights: w})
	}
	return out, nil
}

// FullyInvested normalizes w to one, clips single weights at maxSingle and
// renormalizes, then scales the core group down to maxCore and spreads the
// remainder over the other symbols. With no non-core symbol the core group
// is renormalized instead.
func FullyInvested(w map[string]float64, maxSingle, maxCore float64, core []string) map[string]float64 {
	out := make(map[string]float64, len(w))
	total := 0.0
	for s, v := range w {
		out[s] = math.Max(0, v)
		total += out[s]
	}
	if total == 0 {
		return out
	}
	capped := 0.0
	for s, v := range out {
		out[s] = math.Min(v/total, maxSingle)
		capped += out[s]
	}
	for s := range out {
		out[s] /= capped
	}

	isCore := map[string]bool{}
	coreSum := 0.0
	for _, s := range core {
		if v, ok := out[s]; ok && !isCore[s] {
			isCore[s] = true
			coreSum += v
		}
	}
	if len(isCore) == 0 || coreSum <= maxCore {
		return out
	}
	restSum := 0.0
	for s, v := range out {
		if isCore[s] {
			out[s] = v * maxCore / coreSum
		} else {
			restSum += v
		}
	}
	if restSum > 0 {
		for s, v := range out {
			if !isCore[s] {
				out[s] = v * (1 - maxCore) / restSum
			}
		}
		return out
	}
	for s := range isCore {
		out[s] /= maxCore
	}
	return out
}
