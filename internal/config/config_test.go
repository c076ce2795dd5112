package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/etftrend/internal/allocator"
	"github.com/sawpanic/etftrend/internal/faults"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "etftrend_config")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.False(t, cfg.Storage.Enabled)
	assert.Equal(t, 500, cfg.Optimizer.MaxIterations)
	assert.Equal(t, "W-FRI", cfg.Backtest.Rebalance)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeFile(t, `
allocation:
  method: risk_parity
  equity_symbols: [SPY, QQQ]
backtest:
  rebalance: ME
  churn_threshold: 0.02
  progress_interval: 30s
regime:
  weights:
    trend: 0.5
    fear: 0.25
    momentum: 0.25
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, allocator.RiskParity, cfg.Allocation.Method)
	assert.Equal(t, []string{"SPY", "QQQ"}, cfg.Allocation.EquitySymbols)
	assert.Equal(t, allocator.DefaultConfig().DefensiveSymbols, cfg.Allocation.DefensiveSymbols)
	assert.Equal(t, "ME", cfg.Backtest.Rebalance)
	assert.Equal(t, 0.02, cfg.Backtest.ChurnThreshold)
	assert.Equal(t, 30*time.Second, cfg.Backtest.ProgressInterval)
	assert.Equal(t, 0.25, cfg.Backtest.MaxCandidateWeight)
	assert.Equal(t, 0.5, cfg.Regime.Weights.Trend)
	assert.Equal(t, 200, cfg.Regime.MAWindow)
}

func TestLoadNamesInvalidField(t *testing.T) {
	path := writeFile(t, "backtest:\n  max_candidate_weight: 2\n")
	_, err := Load(path)
	var cfgErr *faults.ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "backtest.max_candidate_weight", cfgErr.Field)

	_, err = Load(writeFile(t, "allocation:\n  method: momentum\n"))
	assert.Error(t, err)

	_, err = Load(filepath.Join(os.TempDir(), "does-not-exist.yaml"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvDSN:       "postgres://localhost/etftrend?sslmode=disable",
		EnvRedisAddr: "localhost:6379",
		EnvRedisDB:   "2",
	}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(lookup))
	assert.True(t, cfg.Storage.Enabled)
	assert.Equal(t, env[EnvDSN], cfg.Storage.DSN)
	assert.Equal(t, "localhost:6379", cfg.Cache.RedisAddr)
	assert.Equal(t, 2, cfg.Cache.DB)
	assert.NoError(t, cfg.Validate())

	env[EnvRedisDB] = "two"
	assert.True(t, faults.IsConfig(cfg.ApplyEnv(lookup)))
}

func TestStorageRequiresDSN(t *testing.T) {
	cfg := Default()
	cfg.Storage.Enabled = true
	var cfgErr *faults.ConfigError
	require.True(t, errors.As(cfg.Validate(), &cfgErr))
	assert.Equal(t, "storage.dsn", cfgErr.Field)
}

func TestSaveThenLoad(t *testing.T) {
	cfg := Default()
	cfg.Allocation.Method = allocator.MinVariance
	cfg.Data.Fear = "data/vix.csv"
	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.ApplyEnv(os.LookupEnv))
	assert.Equal(t, cfg, loaded)
}
