package main

import (
	"github.com/spf13/cobra"

	"github.com/sawpanic/etftrend/internal/allocator"
	"github.com/sawpanic/etftrend/internal/regime"
)

func newAllocateCmd(a *app) *cobra.Command {
	var asOf string
	cmd := &cobra.Command{
		Use:   "allocate",
		Short: "Compute target portfolio weights as of a date",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			table, fear, err := a.loadInputs(ctx)
			if err != nil {
				return err
			}
			date, err := parseDate(asOf, table.Last())
			if err != nil {
				return err
			}
			hist := table.Until(date)
			state, err := regime.Detect(a.cfg.Regime, hist, fear, a.cfg.Backtest.Benchmark)
			if err != nil {
				return err
			}

			alloc, err := allocator.New(a.cfg.Allocation,
				allocator.WithLogger(a.logger),
				allocator.WithSolverConfig(a.cfg.Optimizer),
				allocator.WithRecorder(a.recorder),
			)
			if err != nil {
				return err
			}
			res, err := alloc.Allocate(hist, state, date)
			if err != nil {
				return err
			}
			a.logger.Info().
				Str("regime", res.Regime.String()).
				Str("method", a.cfg.Allocation.Method.String()).
				Int("positions", len(res.Weights)).
				Float64("total_weight", res.Metadata.TotalWeight).
				Msg("allocation computed")
			return a.printJSON(res)
		},
	}
	cmd.Flags().StringVar(&asOf, "as-of", "", "allocation date (default: last row)")
	return cmd
}
