// Package config assembles the application configuration from each
// component's own settings.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/sawpanic/etftrend/internal/allocator"
	"github.com/sawpanic/etftrend/internal/backtest"
	"github.com/sawpanic/etftrend/internal/cache"
	"github.com/sawpanic/etftrend/internal/faults"
	"github.com/sawpanic/etftrend/internal/infrastructure/db"
	atomicio "github.com/sawpanic/etftrend/internal/io"
	"github.com/sawpanic/etftrend/internal/optimizer"
	"github.com/sawpanic/etftrend/internal/regime"
	"github.com/sawpanic/etftrend/internal/selector"
)

// Environment overrides
const (
	EnvDSN       = "ETFTREND_DSN"
	EnvRedisAddr = "REDIS_ADDR"
	EnvRedisDB   = "REDIS_DB"
	EnvPrices    = "ETFTREND_PRICES"
)

// DataConfig locates the input files
type DataConfig struct {
	Prices      string `yaml:"prices"`       // CSV: date column then one column per symbol
	Fear        string `yaml:"fear"`         // optional CSV holding the fear index
	FearColumn  string `yaml:"fear_column"`  // Default: VIX
	FillMissing bool   `yaml:"fill_missing"` // forward then back fill gaps
}

// Config is the complete application configuration
type Config struct {
	Data       DataConfig       `yaml:"data"`
	Regime     regime.Config    `yaml:"regime"`
	Allocation allocator.Config `yaml:"allocation"`
	Optimizer  optimizer.Config `yaml:"optimizer"`
	Selector   selector.Config  `yaml:"selector"`
	Backtest   backtest.Config  `yaml:"backtest"`
	Storage    db.Config        `yaml:"storage"`
	Cache      cache.Config     `yaml:"cache"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		Data: DataConfig{
			Prices:      "data/prices.csv",
			FearColumn:  "VIX",
			FillMissing: true,
		},
		Regime:     regime.DefaultConfig(),
		Allocation: allocator.DefaultConfig(),
		Optimizer:  optimizer.DefaultConfig(),
		Selector:   selector.DefaultConfig(),
		Backtest:   backtest.DefaultConfig(),
		Storage:    db.DefaultConfig(),
		Cache:      cache.DefaultConfig(),
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overlays environment settings. A DSN enables storage.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvDSN); ok && v != "" {
		c.Storage.DSN = v
		c.Storage.Enabled = true
	}
	if v, ok := lookup(EnvRedisAddr); ok {
		c.Cache.RedisAddr = v
	}
	if v, ok := lookup(EnvRedisDB); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return faults.Configf("cache.db", v, "%s must be an integer", EnvRedisDB)
		}
		c.Cache.DB = n
	}
	if v, ok := lookup(EnvPrices); ok && v != "" {
		c.Data.Prices = v
	}
	return nil
}

// Validate checks every section, naming the offending field on failure
func (c Config) Validate() error {
	if c.Data.Prices == "" {
		return faults.Configf("data.prices", "", "price file is required")
	}
	if c.Data.Fear != "" && c.Data.FearColumn == "" {
		return faults.Configf("data.fear_column", "", "required when data.fear is set")
	}
	for _, v := range []interface{ Validate() error }{
		c.Regime, c.Allocation, c.Optimizer, c.Selector, c.Backtest,
	} {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	if c.Storage.Enabled && c.Storage.DSN == "" {
		return faults.Configf("storage.dsn", "", "required when storage is enabled (or set %s)", EnvDSN)
	}
	if c.Storage.Enabled && c.Storage.QueryTimeout <= 0 {
		return faults.Configf("storage.query_timeout", c.Storage.QueryTimeout, "must be positive")
	}
	if c.Cache.TTL < 0 {
		return faults.Configf("cache.ttl", c.Cache.TTL, "must not be negative")
	}
	return nil
}

// Save writes the configuration as YAML
func Save(path string, c Config) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := atomicio.WriteFileAtomic(path, data); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
