package websearch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/joelkehle/winelist-scanner/internal/llm"
	"github.com/joelkehle/winelist-scanner/internal/winescan"
)

const (
	purposeIdentify = "identify_wine"
	purposeCritics  = "critic_scores"
)

// ModelEstimateSource replaces the price source when no web search backs the
// model's answer.
const ModelEstimateSource = "model estimate (no web search)"

// Runner is satisfied by *llm.Executor.
type Runner interface {
	Run(ctx context.Context, purpose, prompt string, out any, validate func() error) (llm.AttemptMetrics, error)
}

// Searcher answers the web-search questions of the scan pipeline with an
// LLM. It implements winescan.WineSearcher and winescan.CriticSearcher.
type Searcher struct {
	runner   Runner
	grounded bool
	validate *validator.Validate
	log      zerolog.Logger
}

var (
	_ winescan.WineSearcher   = (*Searcher)(nil)
	_ winescan.CriticSearcher = (*Searcher)(nil)
)

func NewSearcher(runner Runner, log zerolog.Logger) *Searcher {
	grounded := llm.Grounded(runner)
	if !grounded {
		log.Warn().Msg("websearch llm has no web search tool; prices are labelled as model estimates")
	}
	return &Searcher{runner: runner, grounded: grounded, validate: validator.New(), log: log}
}

type wineAnswer struct {
	DisplayName    string   `json:"display_name"`
	Vintage        string   `json:"vintage"`
	Varietal       string   `json:"varietal"`
	Region         string   `json:"region"`
	EstimatedPrice *float64 `json:"estimated_price" validate:"omitempty,gt=0"`
	PriceSource    string   `json:"price_source"`
	Confidence     float64  `json:"confidence" validate:"gte=0,lte=100"`
}

func (s *Searcher) SearchWine(ctx context.Context, name, vintage string) (winescan.WebSearchResult, error) {
	var ans wineAnswer
	if _, err := s.runner.Run(ctx, purposeIdentify, identifyPrompt(name, vintage, s.grounded), &ans, func() error {
		if err := s.validate.Struct(ans); err != nil {
			return err
		}
		if ans.Confidence > 0 && strings.TrimSpace(ans.DisplayName) == "" {
			return errors.New("display_name is required when confidence is above 0")
		}
		return nil
	}); err != nil {
		return winescan.WebSearchResult{}, err
	}
	res := winescan.WebSearchResult{
		DisplayName:    strings.TrimSpace(ans.DisplayName),
		Vintage:        strings.TrimSpace(ans.Vintage),
		Varietal:       strings.TrimSpace(ans.Varietal),
		Region:         strings.TrimSpace(ans.Region),
		EstimatedPrice: ans.EstimatedPrice,
		PriceSource:    strings.TrimSpace(ans.PriceSource),
		Confidence:     ans.Confidence,
	}
	switch {
	case res.EstimatedPrice == nil:
		res.PriceSource = ""
	case !s.grounded:
		res.PriceSource = ModelEstimateSource
	}
	s.log.Debug().Str("query", name).Str("match", res.DisplayName).Float64("confidence", res.Confidence).Msg("websearch wine_identified")
	return res, nil
}

type criticAnswer struct {
	Scores []struct {
		Critic         string  `json:"critic" validate:"required"`
		Score          float64 `json:"score" validate:"gte=0,lte=100"`
		Vintage        string  `json:"vintage"`
		DrinkingWindow string  `json:"drinking_window"`
	} `json:"scores" validate:"dive"`
}

func (s *Searcher) SearchCriticScores(ctx context.Context, name, vintage string) ([]winescan.CriticScore, error) {
	var ans criticAnswer
	if _, err := s.runner.Run(ctx, purposeCritics, criticPrompt(name, vintage, s.grounded), &ans, func() error {
		return s.validate.Struct(ans)
	}); err != nil {
		return nil, err
	}
	out := make([]winescan.CriticScore, 0, len(ans.Scores))
	for _, sc := range ans.Scores {
		if sc.Score <= 0 {
			continue
		}
		out = append(out, winescan.CriticScore{
			Critic:         strings.TrimSpace(sc.Critic),
			Score:          sc.Score,
			Vintage:        strings.TrimSpace(sc.Vintage),
			DrinkingWindow: strings.TrimSpace(sc.DrinkingWindow),
		})
	}
	return out, nil
}

const searchInstruction = "Search the web for the wine before answering and base every field on what you find.\n\n"

func identifyPrompt(name, vintage string, grounded bool) string {
	return fmt.Sprintf(`%sIdentify the wine a restaurant list calls %q%s.

Return JSON:
{
  "display_name": "producer and cuvée as commonly listed by retailers",
  "vintage": "4-digit year, NV, or empty",
  "varietal": "grape or blend, empty if unknown",
  "region": "appellation or region, empty if unknown",
  "estimated_price": typical retail price in USD for one 750ml bottle, or null,
  "price_source": "retailer or site the price was found on, empty if price is null",
  "confidence": 0-100 certainty that this is the same wine
}

Use confidence 0 and empty strings when you cannot identify the wine.`, searchClause(grounded), name, vintageClause(vintage))
}

func criticPrompt(name, vintage string, grounded bool) string {
	return fmt.Sprintf(`%sList published professional critic scores for %q%s on the 100-point scale.

Return JSON:
{
  "scores": [
    {"critic": "critic or publication", "score": 0-100, "vintage": "year reviewed", "drinking_window": "e.g. 2025-2040 or empty"}
  ]
}

Only include scores you are confident were published. Return {"scores": []} when unsure.`, searchClause(grounded), name, vintageClause(vintage))
}

func searchClause(grounded bool) string {
	if grounded {
		return searchInstruction
	}
	return ""
}

func vintageClause(vintage string) string {
	if strings.TrimSpace(vintage) == "" {
		return ""
	}
	return " (vintage " + strings.TrimSpace(vintage) + ")"
}
