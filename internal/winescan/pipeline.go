package winescan

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/joelkehle/winelist-scanner/internal/observability"
)

const tracerName = "github.com/joelkehle/winelist-scanner/internal/winescan"

type StageProgressFn func(stage, message string)

type PipelineConfig struct {
	ChunkSize           int
	Parallelism         int
	FallbackParallelism int
	Region              string
}

// Services bundles the external collaborators. Wines and Critics may be nil,
// in which case the corresponding web-search fallback is skipped.
type Services struct {
	Identity IdentityService
	Data     WineDataService
	Wines    WineSearcher
	Critics  CriticSearcher
}

type Pipeline struct {
	matcher     *IdentityMatcher
	fallback    *FallbackEnricher
	fetcher     *PriceScoreFetcher
	parallelism int
	log         zerolog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

func NewPipeline(cfg PipelineConfig, svc Services, log zerolog.Logger) *Pipeline {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = DefaultParallelism
	}
	return &Pipeline{
		matcher:     NewIdentityMatcher(svc.Identity, cfg.ChunkSize, log),
		fallback:    NewFallbackEnricher(svc.Wines, cfg.FallbackParallelism, log),
		fetcher:     NewPriceScoreFetcher(svc.Data, svc.Critics, cfg.Region, log),
		parallelism: cfg.Parallelism,
		log:         log,
		tracer:      otel.Tracer(tracerName),
		now:         time.Now,
	}
}

func (p *Pipeline) Run(ctx context.Context, req ScanRequest) (ScanResult, error) {
	return p.runWithProgress(ctx, req, nil)
}

func (p *Pipeline) RunWithProgress(ctx context.Context, req ScanRequest, progress StageProgressFn) (ScanResult, error) {
	return p.runWithProgress(ctx, req, progress)
}

func (p *Pipeline) runWithProgress(ctx context.Context, req ScanRequest, progress StageProgressFn) (ScanResult, error) {
	started := p.now()
	res := ScanResult{
		ID:        uuid.NewString(),
		CreatedAt: started,
		Items:     req.Items,
		Metadata:  ScanMetadata{StartedAt: started, TotalItems: len(req.Items)},
	}
	ctx, span := p.tracer.Start(ctx, "winescan.scan", trace.WithAttributes(
		attribute.String("scan.id", res.ID),
		attribute.Int("scan.items", len(req.Items)),
	))
	defer span.End()

	res, err := p.run(ctx, res, progress)
	observability.ScanDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		stage := StageNameFromError(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, stage)
		observability.ScansTotal.WithLabelValues("error", stage).Inc()
		p.log.Error().Err(err).Str("scan_id", res.ID).Str("stage", stage).Int("items", len(req.Items)).Msg("winescan scan_failed")
		return res, err
	}
	observability.ScansTotal.WithLabelValues("ok", "").Inc()
	p.log.Info().
		Str("scan_id", res.ID).
		Int("items", res.Metadata.TotalItems).
		Int("identity_matched", res.Metadata.IdentityMatched).
		Int("web_search_matched", res.Metadata.WebSearchMatched).
		Int("unmatched", res.Metadata.Unmatched).
		Int64("elapsed_ms", res.Metadata.DurationMS).
		Msg("winescan scan_done")
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, res ScanResult, progress StageProgressFn) (ScanResult, error) {
	if len(res.Items) == 0 {
		return res, ErrEmptyRequest
	}
	queries := make([]string, len(res.Items))
	for i, item := range res.Items {
		queries[i] = BuildQuery(item)
	}

	emit(progress, StageMatch, "Matching wines against the wine database...")
	matchCtx, matchSpan := p.tracer.Start(ctx, "winescan.match")
	matches, err := p.matcher.MatchBatch(matchCtx, queries)
	matchSpan.End()
	if err != nil {
		return res, &StageError{Stage: StageMatch, Err: err}
	}
	res.Metadata.StagesExecuted = append(res.Metadata.StagesExecuted, StageMatch)

	emit(progress, StageFallback, "Searching the web for unmatched wines...")
	fbCtx, fbSpan := p.tracer.Start(ctx, "winescan.fallback")
	names, vintages := searchTerms(res.Items)
	matches, fstats := p.fallback.EnrichWithStats(fbCtx, names, vintages, matches)
	fbSpan.SetAttributes(attribute.Int("fallback.attempted", fstats.Attempted), attribute.Int("fallback.accepted", fstats.Accepted))
	fbSpan.End()
	res.Matches = matches
	res.Metadata.FallbackDegraded = fstats.Degraded
	res.Metadata.StagesExecuted = append(res.Metadata.StagesExecuted, StageFallback)
	recordFallback(fstats)

	emit(progress, StagePricing, "Fetching market prices and critic scores...")
	priceCtx, priceSpan := p.tracer.Start(ctx, "winescan.pricing")
	wines, err := p.buildWines(priceCtx, res.Items, matches)
	priceSpan.End()
	if err != nil {
		return res, &StageError{Stage: StagePricing, Err: err}
	}
	res.Wines = wines
	res.Metadata.StagesExecuted = append(res.Metadata.StagesExecuted, StagePricing)

	emit(progress, StageRanking, "Ranking wines...")
	res.Rankings = Rank(wines)
	res.Metadata.StagesExecuted = append(res.Metadata.StagesExecuted, StageRanking)

	finalizeMetadata(&res, p.now())
	return res, nil
}

// buildWines enriches every item concurrently. A price-stats failure for any
// wine cancels the rest and fails the stage.
func (p *Pipeline) buildWines(ctx context.Context, items []WineListItem, matches []MatchCandidate) ([]Wine, error) {
	wines := make([]Wine, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.parallelism)
	for i := range items {
		g.Go(func() error {
			w, err := p.buildWine(gctx, items[i], matches[i])
			if err != nil {
				return err
			}
			wines[i] = w
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return wines, nil
}

func (p *Pipeline) buildWine(ctx context.Context, item WineListItem, m MatchCandidate) (Wine, error) {
	w := Wine{
		Name:            item.Name,
		Vintage:         item.Vintage,
		RestaurantPrice: item.Price,
	}
	if !m.Matched {
		return w, nil
	}
	if strings.TrimSpace(m.DisplayName) != "" {
		w.Name = m.DisplayName
	}
	if w.Vintage == "" {
		w.Vintage = m.Vintage
	}
	w.Varietal = m.Varietal
	w.Region = m.Region
	w.LWIN = m.Identifier()
	w.DataSource = m.DataSource
	if m.DataSource == DataSourceWebSearch {
		w.SearchConfidence = float64Ptr(m.Confidence)
		w.WebSearchPrice = m.EstimatedPrice
		w.WebSearchPriceSource = m.PriceSource
	}

	if m.HasIdentifier() {
		stats, err := p.fetcher.FetchPriceStats(ctx, m.Identifier(), w.Vintage)
		if err != nil {
			return w, err
		}
		if stats.Stats.Median > 0 {
			w.RealPrice = float64Ptr(stats.Stats.Median)
		}
	}
	if w.RealPrice == nil && m.EstimatedPrice != nil && *m.EstimatedPrice > 0 {
		w.RealPrice = float64Ptr(*m.EstimatedPrice)
	}
	if w.RealPrice != nil && w.RestaurantPrice > 0 {
		w.Markup = float64Ptr(CalculateMarkup(w.RestaurantPrice, *w.RealPrice))
	}

	lookup := m
	lookup.DisplayName = w.Name
	lookup.Vintage = w.Vintage
	scores, _ := p.fetcher.CriticScoresWithFallback(ctx, lookup)
	if agg, ok := AggregateCriticScores(scores); ok {
		w.CriticScore = float64Ptr(agg.Mean)
		w.CriticCount = agg.Count
		w.TopCritic = agg.TopCritic
	}
	return w, nil
}

// BuildQuery is the identity-service query for a list item: the name, plus
// the vintage when the name does not already carry it.
func BuildQuery(item WineListItem) string {
	q := strings.TrimSpace(item.Name)
	v := strings.TrimSpace(item.Vintage)
	if v != "" && !strings.Contains(q, v) {
		q = strings.TrimSpace(q + " " + v)
	}
	return q
}

// searchTerms splits items into the name and vintage a web search takes.
func searchTerms(items []WineListItem) ([]string, []string) {
	names := make([]string, len(items))
	vintages := make([]string, len(items))
	for i, item := range items {
		names[i] = strings.TrimSpace(item.Name)
		vintages[i] = strings.TrimSpace(item.Vintage)
	}
	return names, vintages
}

func finalizeMetadata(res *ScanResult, completed time.Time) {
	md := &res.Metadata
	for _, m := range res.Matches {
		switch {
		case !m.Matched:
			md.Unmatched++
		case m.DataSource == DataSourceWebSearch:
			md.WebSearchMatched++
		default:
			md.IdentityMatched++
		}
	}
	for _, w := range res.Wines {
		if w.RealPrice != nil {
			md.Priced++
		}
		if w.CriticScore != nil {
			md.Scored++
		}
	}
	observability.MatchOutcomes.WithLabelValues(string(DataSourceIdentity)).Add(float64(md.IdentityMatched))
	observability.MatchOutcomes.WithLabelValues(string(DataSourceWebSearch)).Add(float64(md.WebSearchMatched))
	observability.MatchOutcomes.WithLabelValues("unmatched").Add(float64(md.Unmatched))
	md.CompletedAt = completed
	md.DurationMS = completed.Sub(md.StartedAt).Milliseconds()
}

func recordFallback(s FallbackStats) {
	if s.Degraded {
		observability.FallbackOutcomes.WithLabelValues("degraded").Add(float64(s.Attempted))
		return
	}
	observability.FallbackOutcomes.WithLabelValues("accepted").Add(float64(s.Accepted))
	observability.FallbackOutcomes.WithLabelValues("failed").Add(float64(s.Failed))
	observability.FallbackOutcomes.WithLabelValues("rejected").Add(float64(s.Attempted - s.Accepted - s.Failed))
}

func emit(progress StageProgressFn, stage, message string) {
	if progress != nil {
		progress(stage, message)
	}
}
