package main

import (
	"github.com/spf13/cobra"

	"github.com/sawpanic/etftrend/internal/backtest"
	"github.com/sawpanic/etftrend/internal/faults"
	"github.com/sawpanic/etftrend/internal/prices"
)

type engineReport struct {
	Start      string             `json:"start"`
	End        string             `json:"end"`
	Symbols    []string           `json:"symbols"`
	Rebalances int                `json:"rebalances"`
	FinalNAV   float64            `json:"final_nav"`
	Stats      map[string]float64 `json:"stats"`
}

func newEngineCmd(a *app) *cobra.Command {
	var (
		rng     dateRange
		symbols []string
	)
	cmd := &cobra.Command{
		Use:   "engine",
		Short: "Run the vectorised month-end inverse-volatility backtest",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			table, _, err := a.loadInputs(ctx)
			if err != nil {
				return err
			}
			start, end, err := rng.resolve(table)
			if err != nil {
				return err
			}

			if len(symbols) == 0 {
				for _, group := range [][]string{a.cfg.Allocation.EquitySymbols, a.cfg.Allocation.DefensiveSymbols} {
					for _, sym := range group {
						if table.Has(sym) {
							symbols = append(symbols, sym)
						}
					}
				}
			}
			if len(symbols) == 0 {
				return faults.Configf("symbols", symbols, "no configured symbol is present in %s", a.cfg.Data.Prices)
			}

			wcfg := backtest.DefaultWeightsConfig(symbols)
			wcfg.MAWindow = a.cfg.Regime.MAWindow
			wcfg.MomentumWindows = a.cfg.Allocation.MomentumWindows
			wcfg.MomentumWeights = a.cfg.Allocation.MomentumWeights
			wcfg.VolLookback = a.cfg.Allocation.VolLookback
			wcfg.MaxWeightSingle = a.cfg.Allocation.MaxWeightSingle
			wcfg.MaxWeightCore = a.cfg.Allocation.MaxWeightCore
			wcfg.CoreSymbols = a.cfg.Allocation.CoreSymbols

			// weights are built on the full history so the window's first
			// month end already has its lookback
			schedule, err := backtest.BuildRebalanceWeights(table.Until(end), wcfg)
			if err != nil {
				return err
			}
			res, err := backtest.RunWeights(table.Between(start, end).Select(symbols), schedule, a.cfg.Backtest.CostBps)
			if err != nil {
				return err
			}

			report := engineReport{
				Start:      start.Format(prices.DateLayout),
				End:        end.Format(prices.DateLayout),
				Symbols:    symbols,
				Rebalances: len(schedule),
				Stats:      res.Stats.Map(),
			}
			if n := len(res.NAV); n > 0 {
				report.FinalNAV = res.NAV[n-1]
			}
			a.logger.Info().
				Int("days", len(res.NAV)).
				Int("rebalances", len(schedule)).
				Float64("final_nav", report.FinalNAV).
				Msg("engine run complete")
			return a.printJSON(report)
		},
	}
	cmd.Flags().AddFlagSet(rng.flags())
	cmd.Flags().StringSliceVar(&symbols, "symbols", nil, "symbols to trade (default: configured equity and defensive ETFs present in the data)")
	return cmd
}
