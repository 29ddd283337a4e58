package main

import (
	"context"
	"fmt"
	"io"

	"github.com/joelkehle/winelist-scanner/internal/cache"
	"github.com/joelkehle/winelist-scanner/internal/config"
	"github.com/joelkehle/winelist-scanner/internal/llm"
	"github.com/joelkehle/winelist-scanner/internal/report"
	"github.com/joelkehle/winelist-scanner/internal/store"
	"github.com/joelkehle/winelist-scanner/internal/websearch"
	"github.com/joelkehle/winelist-scanner/internal/winedb"
	"github.com/joelkehle/winelist-scanner/internal/winescan"
)

// closers is released in reverse order of acquisition.
type closers []func()

func (c *closers) add(fn func()) { *c = append(*c, fn) }

func (c closers) closeAll() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func (a *app) buildPipeline(ctx context.Context) (*winescan.Pipeline, closers, error) {
	var cl closers
	cfg := a.cfg

	db, err := winedb.NewClient(cfg.WineDB, a.log)
	if err != nil {
		return nil, nil, err
	}
	cl.add(db.Close)

	var data winescan.WineDataService = db
	cacheStore, err := a.openCache(ctx)
	if err != nil {
		cl.closeAll()
		return nil, nil, err
	}
	if cacheStore != nil {
		cl.add(func() { _ = cacheStore.Close() })
		data = cache.NewPriceStatsCache(db, cacheStore, cfg.Cache.TTL(), a.log)
	}

	svc := winescan.Services{Identity: db, Data: data}
	if cfg.Pipeline.WebSearch {
		caller, err := llm.NewCaller(ctx, cfg.LLM)
		if err != nil {
			cl.closeAll()
			return nil, nil, fmt.Errorf("web search: %w", err)
		}
		if c, ok := caller.(io.Closer); ok {
			cl.add(func() { _ = c.Close() })
		}
		searcher := websearch.NewSearcher(llm.NewExecutor(caller, a.log), a.log)
		svc.Wines = searcher
		svc.Critics = searcher
		a.log.Info().Str("provider", cfg.LLM.Provider).Str("model", caller.ModelName()).Bool("grounded", llm.Grounded(caller)).Msg("web search fallback enabled")
	}

	p := winescan.NewPipeline(winescan.PipelineConfig{
		ChunkSize:           cfg.Pipeline.ChunkSize,
		Parallelism:         cfg.Pipeline.Parallelism,
		FallbackParallelism: cfg.Pipeline.FallbackParallelism,
		Region:              cfg.Pipeline.Region,
	}, svc, a.log)
	return p, cl, nil
}

func (a *app) openCache(ctx context.Context) (cache.Store, error) {
	cfg := a.cfg.Cache
	switch cfg.Backend {
	case config.CacheSQLite:
		s, err := cache.NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open price cache: %w", err)
		}
		if n, err := s.DeleteExpired(ctx); err != nil {
			a.log.Warn().Err(err).Msg("price cache cleanup failed")
		} else if n > 0 {
			a.log.Debug().Int64("removed", n).Msg("price cache cleanup")
		}
		return s, nil
	case config.CacheRedis:
		s, err := cache.NewRedisStore(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("open price cache: %w", err)
		}
		return s, nil
	default:
		return nil, nil
	}
}

// openStore returns nil when scan history is disabled.
func (a *app) openStore() (*store.SQLiteStore, error) {
	if a.cfg.Store.Path == "" {
		return nil, nil
	}
	s, err := store.NewSQLiteStore(a.cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open scan store: %w", err)
	}
	return s, nil
}

func (a *app) pdfRenderer() *report.PDFRenderer {
	return report.NewPDFRenderer(a.cfg.Report.ChromePath)
}
