package main

import (
	"context"

	"github.com/sawpanic/etftrend/internal/cache"
	"github.com/sawpanic/etftrend/internal/faults"
	"github.com/sawpanic/etftrend/internal/prices"
)

// loadInputs reads the price table, through the cache, and the optional
// fear index series.
func (a *app) loadInputs(ctx context.Context) (*prices.Table, *prices.Series, error) {
	c, err := cache.New(ctx, a.cfg.Cache)
	if err != nil {
		a.logger.Warn().Err(err).Msg("price cache unavailable, using memory")
		c = cache.NewMemory()
	}

	file := prices.CSVSource{Path: a.cfg.Data.Prices}
	key, err := file.CacheKey()
	if err != nil {
		return nil, nil, err
	}
	src := prices.CachedSource{
		Inner:  file,
		Cache:  c,
		Key:    key,
		TTL:    a.cfg.Cache.TTL,
		Logger: a.logger,
	}
	table, err := src.Load(ctx)
	if err != nil {
		return nil, nil, err
	}
	if a.cfg.Data.FillMissing {
		table = prices.FillMissing(table)
	}
	a.logger.Info().
		Str("path", a.cfg.Data.Prices).
		Int("rows", table.Len()).
		Strs("symbols", table.Symbols()).
		Msg("loaded prices")

	if a.cfg.Data.Fear == "" {
		return table, nil, nil
	}
	fearTable, err := prices.CSVSource{Path: a.cfg.Data.Fear}.Load(ctx)
	if err != nil {
		return nil, nil, err
	}
	fear, ok := prices.SeriesFromColumn(fearTable, a.cfg.Data.FearColumn)
	if !ok {
		return nil, nil, faults.Configf("data.fear_column", a.cfg.Data.FearColumn, "column not present in %s", a.cfg.Data.Fear)
	}
	return table, fear, nil
}
