// Package pipeline wires the ingestion stages onto a bus:
//
//	crawl_targets -> crawl -> raw_html_queue -> clean -> clean_queue -> chunk -> chunk_queue -> index
//	                                                  \-> extracted_links_queue -> frontier -> crawl_targets
//	                                                  \-> image_queue -> image
//
// A run ends once the bus is idle; buffered chunks are then flushed.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-search-crawler/internal/bus"
	"github.com/JakeFAU/realtime-search-crawler/internal/crawler"
)

// Config tunes the chunk and index stages.
type Config struct {
	ChunkSize      int
	ChunkOverlap   int
	IndexBatchSize int
}

// Deps are the collaborators of every stage. Raw and Scope are optional.
type Deps struct {
	Bus       *bus.Bus
	Fetcher   crawler.Fetcher
	Raw       crawler.RawStore
	Extractor Extractor
	Hasher    Hasher
	Frontier  Admitter
	Scope     Scope
	Indexer   *Indexer
	Clock     crawler.Clock
}

// Stats counts stage outcomes.
type Stats struct {
	Crawled int `json:"crawled"`
	Skipped int `json:"skipped"`
	Cleaned int `json:"cleaned"`
	Chunks  int `json:"chunks"`
	Indexed int `json:"indexed"`
	Links   int `json:"links"`
	Images  int `json:"images"`
}

type counters struct {
	crawled, skipped, cleaned, chunks, links, images atomic.Int64
}

// Pipeline owns the stage handlers.
type Pipeline struct {
	deps    Deps
	chunker Chunker
	logger  *zap.Logger
	stats   counters
	started atomic.Bool
}

// New validates deps and builds a Pipeline.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Pipeline, error) {
	switch {
	case deps.Bus == nil:
		return nil, errors.New("pipeline requires a bus")
	case deps.Fetcher == nil:
		return nil, errors.New("pipeline requires a fetcher")
	case deps.Extractor == nil:
		return nil, errors.New("pipeline requires a content extractor")
	case deps.Hasher == nil:
		return nil, errors.New("pipeline requires a hasher")
	case deps.Frontier == nil:
		return nil, errors.New("pipeline requires a frontier")
	case deps.Indexer == nil:
		return nil, errors.New("pipeline requires an indexer")
	case deps.Clock == nil:
		return nil, errors.New("pipeline requires a clock")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		deps:    deps,
		chunker: NewChunker(cfg.ChunkSize, cfg.ChunkOverlap),
		logger:  logger.Named("pipeline"),
	}, nil
}

// Start subscribes every stage. It is a no-op after the first call.
func (p *Pipeline) Start() error {
	if !p.started.CompareAndSwap(false, true) {
		return nil
	}
	b := p.deps.Bus
	for _, err := range []error{
		bus.Subscribe(b, CrawlTargets, p.crawl),
		bus.Subscribe(b, RawHTMLQueue, p.clean),
		bus.Subscribe(b, CleanQueue, p.chunk),
		bus.Subscribe(b, ChunkQueue, p.deps.Indexer.Handle),
		bus.Subscribe(b, LinksQueue, p.schedule),
		bus.Subscribe(b, ImageQueue, p.image),
	} {
		if err != nil {
			return fmt.Errorf("subscribe stages: %w", err)
		}
	}
	return nil
}

// Submit admits seeds through the frontier and publishes the new ones as
// crawl targets. It returns how many were published.
func (p *Pipeline) Submit(ctx context.Context, seeds []string) (int, error) {
	n := 0
	for _, s := range seeds {
		if p.deps.Scope != nil && !p.deps.Scope.AllowFetch(s) {
			p.logger.Info("seed out of scope", zap.String("url", s))
			continue
		}
		entry, ok := p.deps.Frontier.Admit(s)
		if !ok {
			p.logger.Info("seed not admitted", zap.String("url", s))
			continue
		}
		if err := bus.Publish(ctx, p.deps.Bus, CrawlTargets, CrawlTarget{URL: entry.URL}); err != nil {
			return n, fmt.Errorf("publish seed: %w", err)
		}
		n++
	}
	return n, nil
}

// Run starts the stages, submits seeds, waits for the bus to go idle and
// flushes the index buffer.
func (p *Pipeline) Run(ctx context.Context, seeds []string) (Stats, error) {
	start := time.Now()
	if err := p.Start(); err != nil {
		return p.Stats(), err
	}
	submitted, err := p.Submit(ctx, seeds)
	if err != nil {
		return p.Stats(), err
	}
	p.logger.Info("ingestion started", zap.Int("seeds", submitted))

	if err := p.deps.Bus.WaitIdle(ctx); err != nil {
		return p.Stats(), fmt.Errorf("wait for pipeline: %w", err)
	}
	if err := p.deps.Indexer.Flush(ctx); err != nil {
		return p.Stats(), fmt.Errorf("flush index: %w", err)
	}
	stats := p.Stats()
	p.logger.Info("ingestion finished", zap.Any("stats", stats), zap.Duration("duration", time.Since(start)))
	return stats, nil
}

// Stats returns a snapshot of the stage counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Crawled: int(p.stats.crawled.Load()),
		Skipped: int(p.stats.skipped.Load()),
		Cleaned: int(p.stats.cleaned.Load()),
		Chunks:  int(p.stats.chunks.Load()),
		Indexed: p.deps.Indexer.Indexed(),
		Links:   int(p.stats.links.Load()),
		Images:  int(p.stats.images.Load()),
	}
}
