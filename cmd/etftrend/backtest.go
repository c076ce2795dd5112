package main

import (
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sawpanic/etftrend/internal/allocator"
	"github.com/sawpanic/etftrend/internal/backtest"
	"github.com/sawpanic/etftrend/internal/faults"
	atomicio "github.com/sawpanic/etftrend/internal/io"
	"github.com/sawpanic/etftrend/internal/persistence"
	"github.com/sawpanic/etftrend/internal/prices"
	"github.com/sawpanic/etftrend/internal/selector"
)

// Target policies accepted by --targets
const (
	targetsAllocator  = "allocator"
	targetsCandidates = "candidates"
	targetsUniverse   = "universe"
)

func newBacktestCmd(a *app) *cobra.Command {
	var (
		rng     dateRange
		targets string
		navOut  string
		resOut  string
		full    bool
		persist bool
	)
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay the strategy day by day with share-level trading",
		Long: `backtest walks the price table from --start to --end, marking the ledger to
market every day and rebalancing on the configured schedule.

--targets picks the weight policy:
  allocator   regime budgets split across equity and defensive ETFs
  candidates  momentum selector, equal split capped per candidate
  universe    every non-benchmark symbol, equal split capped per candidate`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			table, fear, err := a.loadInputs(ctx)
			if err != nil {
				return err
			}
			start, end, err := rng.resolve(table)
			if err != nil {
				return err
			}

			opts := []backtest.Option{
				backtest.WithLogger(a.logger),
				backtest.WithRecorder(a.recorder),
				backtest.WithFear(fear),
				backtest.WithRegimeConfig(a.cfg.Regime),
			}
			policy, err := a.targetOption(targets)
			if err != nil {
				return err
			}
			if policy != nil {
				opts = append(opts, policy)
			}

			sim, err := backtest.New(table, a.cfg.Backtest, opts...)
			if err != nil {
				return err
			}
			res, err := sim.Run(ctx, start, end)
			if err != nil {
				return err
			}
			summary := persistence.Summarize(res)

			if navOut != "" {
				if err := writeNAV(navOut, res); err != nil {
					return err
				}
			}
			if resOut != "" {
				if err := atomicio.WriteJSONAtomic(resOut, res); err != nil {
					return err
				}
			}
			if persist {
				if err := a.withStore(ctx, func(repo *persistence.Repository) error {
					return repo.Runs.Save(ctx, res)
				}); err != nil {
					return err
				}
				a.logger.Info().Str("run_id", res.RunID.String()).Msg("run stored")
			}

			if full {
				return a.printJSON(res)
			}
			return a.printJSON(summary)
		},
	}
	cmd.Flags().AddFlagSet(rng.flags())
	cmd.Flags().StringVar(&targets, "targets", targetsAllocator, "target policy (allocator|candidates|universe)")
	cmd.Flags().StringVar(&navOut, "nav-out", "", "write the NAV and drawdown path to this CSV file")
	cmd.Flags().StringVar(&resOut, "result-out", "", "write the complete result as JSON to this file")
	cmd.Flags().BoolVar(&full, "full", false, "print the complete result instead of the summary")
	cmd.Flags().BoolVar(&persist, "persist", false, "store the run (requires storage)")
	return cmd
}

// targetOption maps --targets to a simulator option. The universe policy is
// the simulator default and needs none.
func (a *app) targetOption(name string) (backtest.Option, error) {
	switch strings.ToLower(name) {
	case targetsAllocator:
		alloc, err := allocator.New(a.cfg.Allocation,
			allocator.WithLogger(a.logger),
			allocator.WithSolverConfig(a.cfg.Optimizer),
			allocator.WithRecorder(a.recorder),
		)
		if err != nil {
			return nil, err
		}
		return backtest.WithTargeter(backtest.AllocatorTargets{Allocator: alloc}), nil
	case targetsCandidates:
		sel, err := selector.NewMomentum(a.cfg.Selector, nil)
		if err != nil {
			return nil, err
		}
		return backtest.WithSelector(sel), nil
	case targetsUniverse:
		return nil, nil
	default:
		return nil, faults.Configf("targets", name, "want %s, %s or %s", targetsAllocator, targetsCandidates, targetsUniverse)
	}
}

func writeNAV(path string, res *backtest.Result) error {
	dates := make([]time.Time, len(res.NAV))
	for i, p := range res.NAV {
		dates[i] = p.Date
	}
	t, err := prices.NewTable(dates, []string{"NAV", "Drawdown"}, map[string][]float64{
		"NAV":      res.Values(),
		"Drawdown": res.Drawdown,
	})
	if err != nil {
		return err
	}
	return atomicio.WriteAtomic(path, func(w io.Writer) error { return prices.WriteCSV(w, t) })
}
