package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/joelkehle/winelist-scanner/internal/observability"
	"github.com/joelkehle/winelist-scanner/internal/winescan"
)

const DefaultTTL = 24 * time.Hour

// PriceStatsCache wraps a WineDataService and caches successful responses.
// A broken cache degrades to a pass-through; it never fails a lookup that
// the wrapped service would have answered.
type PriceStatsCache struct {
	next  winescan.WineDataService
	store Store
	ttl   time.Duration
	log   zerolog.Logger
}

var _ winescan.WineDataService = (*PriceStatsCache)(nil)

func NewPriceStatsCache(next winescan.WineDataService, store Store, ttl time.Duration, log zerolog.Logger) *PriceStatsCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &PriceStatsCache{next: next, store: store, ttl: ttl, log: log}
}

func (c *PriceStatsCache) PriceStats(ctx context.Context, lwin, vintage, region string) (winescan.PriceStats, error) {
	key := Key("price", lwin, vintage, region)
	if b, ok := c.lookup(ctx, key); ok {
		var stats winescan.PriceStats
		if err := json.Unmarshal(b, &stats); err == nil {
			return stats, nil
		}
		c.log.Warn().Str("key", key).Msg("cache corrupt_entry")
	}
	stats, err := c.next.PriceStats(ctx, lwin, vintage, region)
	if err != nil {
		return stats, err
	}
	if b, err := json.Marshal(stats); err == nil {
		c.save(ctx, key, b)
	}
	return stats, nil
}

func (c *PriceStatsCache) CriticScores(ctx context.Context, lwin, vintage string) ([]byte, error) {
	key := Key("scores", lwin, vintage)
	if b, ok := c.lookup(ctx, key); ok {
		return b, nil
	}
	body, err := c.next.CriticScores(ctx, lwin, vintage)
	if err != nil {
		return body, err
	}
	c.save(ctx, key, body)
	return body, nil
}

func (c *PriceStatsCache) lookup(ctx context.Context, key string) ([]byte, bool) {
	b, err := c.store.Get(ctx, key)
	switch {
	case err == nil:
		observability.CacheLookups.WithLabelValues("hit").Inc()
		return b, true
	case errors.Is(err, ErrMiss):
		observability.CacheLookups.WithLabelValues("miss").Inc()
	default:
		observability.CacheLookups.WithLabelValues("error").Inc()
		c.log.Warn().Err(err).Str("key", key).Msg("cache get_failed")
	}
	return nil, false
}

func (c *PriceStatsCache) save(ctx context.Context, key string, value []byte) {
	if err := c.store.Set(ctx, key, value, c.ttl); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache set_failed")
	}
}
