package winescan

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// WineSearcher guesses a canonical record for a wine name using web search.
type WineSearcher interface {
	SearchWine(ctx context.Context, name, vintage string) (WebSearchResult, error)
}

type FallbackEnricher struct {
	searcher    WineSearcher
	parallelism int
	log         zerolog.Logger
}

func NewFallbackEnricher(searcher WineSearcher, parallelism int, log zerolog.Logger) *FallbackEnricher {
	if parallelism <= 0 {
		parallelism = DefaultFallbackParallelism
	}
	return &FallbackEnricher{searcher: searcher, parallelism: parallelism, log: log}
}

// FallbackStats reports what Enrich did, for scan metadata.
type FallbackStats struct {
	Attempted int
	Accepted  int
	Failed    int
	Degraded  bool
}

// Enrich returns a copy of matches in which unmatched entries may have been
// upgraded from web search. It never fails: when the whole fallback step is
// unusable the original candidates come back unchanged.
func (f *FallbackEnricher) Enrich(ctx context.Context, queries []string, matches []MatchCandidate) []MatchCandidate {
	out, _ := f.EnrichWithStats(ctx, queries, nil, matches)
	return out
}

// EnrichWithStats is Enrich with per-query vintages, which may be nil or
// shorter than queries, handed to the searcher alongside each name.
func (f *FallbackEnricher) EnrichWithStats(ctx context.Context, queries, vintages []string, matches []MatchCandidate) ([]MatchCandidate, FallbackStats) {
	out := make([]MatchCandidate, len(matches))
	copy(out, matches)

	var pending []int
	for i, m := range matches {
		if !m.Matched && i < len(queries) {
			pending = append(pending, i)
		}
	}
	stats := FallbackStats{Attempted: len(pending)}
	if len(pending) == 0 {
		return out, stats
	}
	if f == nil || f.searcher == nil {
		stats.Degraded = true
		return out, stats
	}

	results := make([]*WebSearchResult, len(matches))
	var failed atomic.Int32
	g := new(errgroup.Group)
	g.SetLimit(f.parallelism)
	for _, idx := range pending {
		g.Go(func() error {
			var vintage string
			if idx < len(vintages) {
				vintage = vintages[idx]
			}
			res, err := f.searcher.SearchWine(ctx, queries[idx], vintage)
			if err != nil {
				failed.Add(1)
				f.log.Warn().Err(err).Int("index", idx).Str("query", queries[idx]).Msg("winescan fallback_query_failed")
				return nil
			}
			results[idx] = &res
			return nil
		})
	}
	_ = g.Wait()

	stats.Failed = int(failed.Load())
	if stats.Failed == len(pending) || ctx.Err() != nil {
		f.log.Warn().Int("unmatched", len(pending)).Int("failed", stats.Failed).Msg("winescan fallback_batch_failed")
		stats.Degraded = true
		return out, stats
	}

	for _, idx := range pending {
		res := results[idx]
		if res == nil || res.Confidence <= FallbackAcceptThreshold {
			continue
		}
		applyWebSearch(&out[idx], *res)
		stats.Accepted++
	}
	f.log.Debug().Int("unmatched", len(pending)).Int("accepted", stats.Accepted).Int("failed", stats.Failed).Msg("winescan fallback_done")
	return out, stats
}

func applyWebSearch(c *MatchCandidate, res WebSearchResult) {
	c.DisplayName = res.DisplayName
	c.Vintage = res.Vintage
	c.Varietal = res.Varietal
	c.Region = res.Region
	c.EstimatedPrice = res.EstimatedPrice
	c.PriceSource = res.PriceSource
	c.Matched = true
	c.DataSource = DataSourceWebSearch
	c.Confidence = webConfidenceToUnit(res.Confidence)
}

// webConfidenceToUnit converts the web-search 0-100 confidence onto the
// pipeline's 0-1 scale.
func webConfidenceToUnit(c float64) float64 {
	c /= 100
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}
