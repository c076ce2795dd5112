package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/sawpanic/etftrend/internal/config"
	"github.com/sawpanic/etftrend/internal/faults"
	"github.com/sawpanic/etftrend/internal/infrastructure/db"
	"github.com/sawpanic/etftrend/internal/persistence"
	"github.com/sawpanic/etftrend/internal/prices"
	"github.com/sawpanic/etftrend/internal/regime"
)

type regimeReport struct {
	Regime      regime.Label           `json:"regime"`
	Description string                 `json:"description"`
	RiskBudget  float64                `json:"risk_budget"`
	AsOf        string                 `json:"as_of"`
	Signals     map[string]interface{} `json:"signal_detail"`
}

func newRegimeCmd(a *app) *cobra.Command {
	var asOf string
	var persist bool
	cmd := &cobra.Command{
		Use:   "regime",
		Short: "Classify the market regime as of a date",
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
			state, err := regime.Detect(a.cfg.Regime, table.Until(date), fear, a.cfg.Backtest.Benchmark)
			if err != nil {
				return err
			}
			a.logger.Info().
				Str("regime", state.Label.String()).
				Float64("risk_budget", state.RiskBudget).
				Time("as_of", state.AsOf).
				Msg("regime detected")

			if persist {
				if err := a.withStore(ctx, func(repo *persistence.Repository) error {
					return repo.Regimes.Upsert(ctx, persistence.SnapshotOf(state))
				}); err != nil {
					return err
				}
			}

			return a.printJSON(regimeReport{
				Regime:      state.Label,
				Description: state.Label.Description(),
				RiskBudget:  state.RiskBudget,
				AsOf:        state.AsOf.Format(prices.DateLayout),
				Signals:     state.Detail.Map(),
			})
		},
	}
	cmd.Flags().StringVar(&asOf, "as-of", "", "classification date (default: last row)")
	cmd.Flags().BoolVar(&persist, "persist", false, "store the reading (requires storage)")
	return cmd
}

// withStore opens the database, applies the schema and hands fn the
// breaker-guarded repositories.
func (a *app) withStore(ctx context.Context, fn func(*persistence.Repository) error) error {
	if !a.cfg.Storage.Enabled {
		return faults.Configf("storage.enabled", false, "--persist needs storage (set %s)", config.EnvDSN)
	}
	m, err := db.NewManager(a.cfg.Storage, a.logger)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Migrate(ctx); err != nil {
		return err
	}
	return fn(m.Repository())
}
