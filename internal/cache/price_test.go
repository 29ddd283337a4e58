package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joelkehle/winelist-scanner/internal/winescan"
)

type countingData struct {
	priceCalls int
	scoreCalls int
	err        error
}

func (c *countingData) PriceStats(_ context.Context, lwin, vintage, region string) (winescan.PriceStats, error) {
	c.priceCalls++
	if c.err != nil {
		return winescan.PriceStats{}, c.err
	}
	return winescan.PriceStats{LWIN: lwin, Vintage: vintage, Region: region, Stats: winescan.PriceStatistics{Median: 120, Count: 4}}, nil
}

func (c *countingData) CriticScores(context.Context, string, string) ([]byte, error) {
	c.scoreCalls++
	if c.err != nil {
		return nil, c.err
	}
	return []byte(`[{"critic":"WA","score":93}]`), nil
}

type brokenStore struct{}

func (brokenStore) Get(context.Context, string) ([]byte, error) { return nil, errors.New("disk on fire") }
func (brokenStore) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("disk on fire")
}
func (brokenStore) Close() error { return nil }

func TestPriceStatsCacheHitsAfterFirstFetch(t *testing.T) {
	data := &countingData{}
	c := NewPriceStatsCache(data, newSQLiteStore(t), time.Hour, zerolog.Nop())
	ctx := context.Background()

	first, err := c.PriceStats(ctx, "1012345", "2015", "world")
	require.NoError(t, err)
	second, err := c.PriceStats(ctx, "1012345", "2015", "world")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, data.priceCalls)

	_, err = c.PriceStats(ctx, "1012345", "2016", "world")
	require.NoError(t, err)
	assert.Equal(t, 2, data.priceCalls)

	for range 2 {
		body, err := c.CriticScores(ctx, "1012345", "2015")
		require.NoError(t, err)
		assert.JSONEq(t, `[{"critic":"WA","score":93}]`, string(body))
	}
	assert.Equal(t, 1, data.scoreCalls)
}

func TestPriceStatsCacheDoesNotCacheFailures(t *testing.T) {
	data := &countingData{err: errors.New("503")}
	c := NewPriceStatsCache(data, newSQLiteStore(t), time.Hour, zerolog.Nop())
	ctx := context.Background()

	_, err := c.PriceStats(ctx, "1", "", "world")
	require.Error(t, err)
	_, err = c.PriceStats(ctx, "1", "", "world")
	require.Error(t, err)
	assert.Equal(t, 2, data.priceCalls)
}

func TestPriceStatsCacheSurvivesBrokenStore(t *testing.T) {
	data := &countingData{}
	c := NewPriceStatsCache(data, brokenStore{}, 0, zerolog.Nop())

	got, err := c.PriceStats(context.Background(), "1", "2019", "world")
	require.NoError(t, err)
	assert.Equal(t, 120.0, got.Stats.Median)
	_, err = c.CriticScores(context.Background(), "1", "2019")
	require.NoError(t, err)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "price:1:2015:world", Key("price", "1", "2015", "world"))
	assert.Equal(t, "price:1::world", Key("price", "1", "", "world"))
}
