package winescan

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// WineDataService is the price/critic-score side of the identity service.
// CriticScores hands back the raw response body; its shape is not stable
// upstream, so decoding happens here.
type WineDataService interface {
	PriceStats(ctx context.Context, lwin, vintage, region string) (PriceStats, error)
	CriticScores(ctx context.Context, lwin, vintage string) ([]byte, error)
}

// CriticSearcher finds critic scores by free-text name using web search.
type CriticSearcher interface {
	SearchCriticScores(ctx context.Context, name, vintage string) ([]CriticScore, error)
}

type CriticSource string

const (
	CriticSourceNone      CriticSource = ""
	CriticSourceIdentity  CriticSource = "identity-service"
	CriticSourceWebSearch CriticSource = "web-search"
)

// criticStrategy returns scores or nil for "no data". It never fails.
type criticStrategy struct {
	source CriticSource
	run    func(ctx context.Context, c MatchCandidate) []CriticScore
}

type PriceScoreFetcher struct {
	data   WineDataService
	critic CriticSearcher
	region string
	log    zerolog.Logger
}

func NewPriceScoreFetcher(data WineDataService, critic CriticSearcher, region string, log zerolog.Logger) *PriceScoreFetcher {
	if strings.TrimSpace(region) == "" {
		region = DefaultRegion
	}
	return &PriceScoreFetcher{data: data, critic: critic, region: region, log: log}
}

// FetchPriceStats fails loudly: pricing is essential data.
func (f *PriceScoreFetcher) FetchPriceStats(ctx context.Context, lwin, vintage string) (PriceStats, error) {
	if f.data == nil {
		return PriceStats{}, fmt.Errorf("%w: no price service configured", ErrPriceService)
	}
	stats, err := f.data.PriceStats(ctx, lwin, vintage, f.region)
	if err != nil {
		return PriceStats{}, fmt.Errorf("%w: lwin=%s: %w", ErrPriceService, lwin, err)
	}
	if stats.Region == "" {
		stats.Region = f.region
	}
	if stats.LWIN == "" {
		stats.LWIN = lwin
	}
	return stats, nil
}

// FetchCriticScores fails soft: any error or unreadable body is "no scores".
func (f *PriceScoreFetcher) FetchCriticScores(ctx context.Context, lwin, vintage string) []CriticScore {
	if f.data == nil || lwin == "" {
		return nil
	}
	body, err := f.data.CriticScores(ctx, lwin, vintage)
	if err != nil {
		f.log.Warn().Err(err).Str("lwin", lwin).Msg("winescan critic_scores_failed")
		return nil
	}
	return DecodeCriticScores(body)
}

// CriticScoresWithFallback tries the identity service first and only falls
// back to web search when it produced nothing.
func (f *PriceScoreFetcher) CriticScoresWithFallback(ctx context.Context, c MatchCandidate) ([]CriticScore, CriticSource) {
	for _, s := range f.criticStrategies() {
		if scores := s.run(ctx, c); len(scores) > 0 {
			return scores, s.source
		}
	}
	return nil, CriticSourceNone
}

func (f *PriceScoreFetcher) criticStrategies() []criticStrategy {
	return []criticStrategy{
		{source: CriticSourceIdentity, run: func(ctx context.Context, c MatchCandidate) []CriticScore {
			return f.FetchCriticScores(ctx, c.Identifier(), c.Vintage)
		}},
		{source: CriticSourceWebSearch, run: f.searchCriticScores},
	}
}

func (f *PriceScoreFetcher) searchCriticScores(ctx context.Context, c MatchCandidate) []CriticScore {
	if f.critic == nil || strings.TrimSpace(c.DisplayName) == "" {
		return nil
	}
	scores, err := f.critic.SearchCriticScores(ctx, c.DisplayName, c.Vintage)
	if err != nil {
		f.log.Warn().Err(err).Str("wine", c.DisplayName).Msg("winescan critic_search_failed")
		return nil
	}
	valid := scores[:0:0]
	for _, s := range scores {
		if s.Score > 0 {
			valid = append(valid, s)
		}
	}
	return valid
}

type CriticAggregate struct {
	Mean      float64
	Count     int
	TopCritic string
	TopScore  float64
}

// AggregateCriticScores averages the scores (rounded to 2 dp) and picks the
// first critic holding the highest individual score.
func AggregateCriticScores(scores []CriticScore) (CriticAggregate, bool) {
	if len(scores) == 0 {
		return CriticAggregate{}, false
	}
	sum := decimal.Zero
	agg := CriticAggregate{Count: len(scores)}
	for i, s := range scores {
		sum = sum.Add(decimal.NewFromFloat(s.Score))
		if i == 0 || s.Score > agg.TopScore {
			agg.TopScore = s.Score
			agg.TopCritic = s.Critic
		}
	}
	agg.Mean = sum.Div(decimal.NewFromInt(int64(len(scores)))).Round(2).InexactFloat64()
	return agg, true
}
