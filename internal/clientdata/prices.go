package clientdata

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/aristath/autopublish/internal/clients/yahoo"
	"github.com/rs/zerolog"
)

// PriceFetcher is the upstream source of daily bars
type PriceFetcher interface {
	GetHistoricalPrices(ctx context.Context, symbol, period string) ([]yahoo.HistoricalPrice, error)
}

// CachedPrices serves price history cache-first. When the upstream fails,
// expired bars are served instead of an error.
type CachedPrices struct {
	source PriceFetcher
	repo   *Repository
	ttl    time.Duration
	log    zerolog.Logger
}

// NewCachedPrices wraps source with the cache
func NewCachedPrices(source PriceFetcher, repo *Repository, ttl time.Duration, log zerolog.Logger) *CachedPrices {
	return &CachedPrices{
		source: source,
		repo:   repo,
		ttl:    ttl,
		log:    log.With().Str("component", "price_cache").Logger(),
	}
}

// GetHistoricalPrices implements analysis.PriceSource
func (c *CachedPrices) GetHistoricalPrices(ctx context.Context, symbol, period string) ([]yahoo.HistoricalPrice, error) {
	key := strings.ToUpper(symbol) + "|" + period

	if bars, ok := c.read(c.repo.GetIfFresh, key); ok {
		c.log.Debug().Str("symbol", symbol).Msg("Price history served from cache")
		return bars, nil
	}

	bars, err := c.source.GetHistoricalPrices(ctx, symbol, period)
	if err != nil {
		// Cancellation is not an upstream failure
		if ctx.Err() != nil {
			return nil, err
		}
		if stale, ok := c.read(c.repo.Get, key); ok {
			c.log.Warn().Err(err).Str("symbol", symbol).Msg("Upstream failed, using stale price history")
			return stale, nil
		}
		return nil, err
	}

	if err := c.repo.Store(TablePriceHistory, key, bars, c.ttl); err != nil {
		c.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to cache price history")
	}
	return bars, nil
}

func (c *CachedPrices) read(get func(table, key string) (json.RawMessage, error), key string) ([]yahoo.HistoricalPrice, bool) {
	raw, err := get(TablePriceHistory, key)
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Failed to read price cache")
		return nil, false
	}
	if raw == nil {
		return nil, false
	}

	var bars []yahoo.HistoricalPrice
	if err := json.Unmarshal(raw, &bars); err != nil || len(bars) == 0 {
		return nil, false
	}
	return bars, true
}
