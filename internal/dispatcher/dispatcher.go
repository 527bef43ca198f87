// Package dispatcher runs a pool of crawl workers over one frontier until the
// crawl quiesces or is canceled.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/realtime-search-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-search-crawler/internal/fingerprint"
	"github.com/JakeFAU/realtime-search-crawler/internal/frontier"
	"github.com/JakeFAU/realtime-search-crawler/internal/worker"
)

// Config controls a crawl run.
type Config struct {
	CrawlID          string
	Workers          int
	NearDupThreshold int
	// RecrawlSeeds schedules the seeds before the seen-set is rehydrated so
	// they are fetched again even if a previous run stored them.
	RecrawlSeeds bool
}

// Result summarizes a finished crawl.
type Result struct {
	Counters   crawler.JobCounters
	Frontier   frontier.Stats
	Rehydrated int
	Duration   time.Duration
}

// Dispatcher owns one crawl: its frontier, its workers and the fetcher it
// releases when the crawl ends.
type Dispatcher struct {
	frontier *frontier.Frontier
	deps     worker.Deps
	cfg      Config
	logger   *zap.Logger

	mu      sync.Mutex
	workers []*worker.Worker
}

// New creates a Dispatcher. deps.Frontier is replaced by f.
func New(f *frontier.Frontier, deps worker.Deps, cfg Config, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	deps.Frontier = f
	return &Dispatcher{
		frontier: f,
		deps:     deps,
		cfg:      cfg,
		logger:   logger.Named("dispatcher").With(zap.String("crawl_id", cfg.CrawlID)),
	}
}

// Run seeds the frontier, starts the workers and blocks until no URL is
// pending or in flight, or ctx ends. The fetcher is closed before Run returns.
// On cancellation the partial Result is returned with the context error.
func (d *Dispatcher) Run(ctx context.Context, seeds []string) (Result, error) {
	start := time.Now()
	defer d.deps.Fetcher.Close()
	defer d.frontier.Close()

	if d.cfg.RecrawlSeeds {
		d.seed(seeds)
	}
	rehydrated := d.rehydrate(ctx)
	if !d.cfg.RecrawlSeeds {
		d.seed(seeds)
	}
	d.logger.Info("crawl started",
		zap.Int("workers", d.cfg.Workers),
		zap.Int("seeds", len(seeds)),
		zap.Int("rehydrated", rehydrated),
	)

	g, gctx := errgroup.WithContext(ctx)
	d.mu.Lock()
	for i := 0; i < d.cfg.Workers; i++ {
		w := worker.New(d.deps, worker.Config{
			CrawlID:          d.cfg.CrawlID,
			Index:            i,
			NearDupThreshold: d.cfg.NearDupThreshold,
		}, d.logger)
		d.workers = append(d.workers, w)
		g.Go(func() error {
			return w.Run(gctx)
		})
	}
	d.mu.Unlock()
	err := g.Wait()

	res := Result{
		Counters:   d.Counters(),
		Frontier:   d.frontier.Stats(),
		Rehydrated: rehydrated,
		Duration:   time.Since(start),
	}
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			d.logger.Info("crawl canceled", zap.Any("counters", res.Counters))
			return res, fmt.Errorf("crawl canceled: %w", err)
		}
		return res, fmt.Errorf("run workers: %w", err)
	}
	d.logger.Info("crawl finished",
		zap.Any("counters", res.Counters),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

// Counters sums the outcomes of every worker started so far.
func (d *Dispatcher) Counters() crawler.JobCounters {
	d.mu.Lock()
	defer d.mu.Unlock()
	var total crawler.JobCounters
	for _, w := range d.workers {
		total = total.Add(w.Counters())
	}
	return total
}

// Stats returns the frontier counters.
func (d *Dispatcher) Stats() frontier.Stats {
	return d.frontier.Stats()
}

func (d *Dispatcher) seed(seeds []string) {
	for _, s := range seeds {
		if d.deps.Scope != nil && !d.deps.Scope.AllowFetch(fingerprint.Normalize(s)) {
			d.logger.Info("seed out of scope", zap.String("url", s))
			continue
		}
		if !d.frontier.Add(s, 0) {
			d.logger.Info("seed not scheduled", zap.String("url", s))
		}
	}
}

func (d *Dispatcher) rehydrate(ctx context.Context) int {
	hashes, err := d.deps.Store.ListURLHashes(ctx)
	if err != nil {
		d.logger.Warn("rehydrate seen-set failed", zap.Error(err))
		return 0
	}
	return d.frontier.Rehydrate(hashes)
}
