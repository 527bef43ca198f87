// Package worker implements the per-URL crawl state machine.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-search-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-search-crawler/internal/fingerprint"
	"github.com/JakeFAU/realtime-search-crawler/internal/frontier"
	"github.com/JakeFAU/realtime-search-crawler/internal/metrics"
	"github.com/JakeFAU/realtime-search-crawler/internal/progress"
)

// Frontier is the slice of frontier.Frontier a worker uses.
type Frontier interface {
	Next(ctx context.Context) (frontier.Entry, error)
	Add(rawURL string, priority int) bool
	TaskDone()
}

// Scope filters discovered links before they reach the frontier.
type Scope interface {
	AllowFetch(rawURL string) bool
}

// Config controls Worker behavior.
type Config struct {
	CrawlID string
	Index   int
	// NearDupThreshold is the largest Hamming distance treated as a
	// duplicate. Zero means exact fingerprint equality.
	NearDupThreshold int
}

// Deps are the collaborators a Worker drives. Indexer, Scope and Emitter
// are optional.
type Deps struct {
	Frontier Frontier
	Fetcher  crawler.Fetcher
	Parser   crawler.Parser
	Store    crawler.PageStore
	Indexer  crawler.Indexer
	Scope    Scope
	IDs      crawler.IDGenerator
	Clock    crawler.Clock
	Emitter  progress.Emitter
}

// Worker pulls entries from a shared Frontier until it drains, closes, or the
// context ends. Every per-URL failure is absorbed.
type Worker struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	counters crawler.JobCounters
}

// New constructs a Worker.
func New(deps Deps, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Emitter == nil {
		deps.Emitter = progress.Discard
	}
	if cfg.NearDupThreshold < 0 {
		cfg.NearDupThreshold = 0
	}
	return &Worker{
		deps:   deps,
		cfg:    cfg,
		logger: logger.Named("worker").With(zap.Int("index", cfg.Index)),
	}
}

// Counters returns a snapshot of this worker's outcomes.
func (w *Worker) Counters() crawler.JobCounters {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.counters
}

// Run loops WAIT_FOR_URL through RESCHEDULE_LINKS. It returns nil once the
// frontier drains or closes and the wrapped context error on cancellation.
func (w *Worker) Run(ctx context.Context) error {
	var failed *crawler.FetchResult
	for {
		if ctx.Err() != nil {
			w.emit(progress.StateCancelled, "", nil)
			return fmt.Errorf("worker %d: %w", w.cfg.Index, ctx.Err())
		}
		if failed != nil {
			w.emit(progress.StateWaitForURL, failed.URL, failed)
		} else {
			w.emit(progress.StateWaitForURL, "", nil)
		}
		entry, err := w.deps.Frontier.Next(ctx)
		switch {
		case err == nil:
		case errors.Is(err, frontier.ErrDrained), errors.Is(err, frontier.ErrClosed):
			w.logger.Debug("frontier finished", zap.Error(err))
			return nil
		case ctx.Err() != nil:
			w.emit(progress.StateCancelled, "", nil)
			return fmt.Errorf("worker %d: %w", w.cfg.Index, ctx.Err())
		default:
			return fmt.Errorf("worker %d next: %w", w.cfg.Index, err)
		}
		failed = w.process(ctx, entry)
	}
}

// process runs one entry through the state machine. It returns the fetch
// result when the fetch did not produce a usable page.
func (w *Worker) process(ctx context.Context, entry frontier.Entry) *crawler.FetchResult {
	defer w.deps.Frontier.TaskDone()
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	log := w.logger.With(zap.String("url", entry.URL))

	w.emit(progress.StateFetching, entry.URL, nil)
	res := w.deps.Fetcher.Fetch(ctx, entry.URL)
	w.saveFetchLog(ctx, entry, res, log)
	if ctx.Err() != nil {
		return nil
	}
	if !res.OK() {
		w.add(crawler.JobCounters{Failed: 1})
		log.Warn("fetch unsuccessful",
			zap.Int("status", res.StatusCode),
			zap.Bool("html", res.IsHTML),
			zap.Error(res.Err),
		)
		if res.URL == "" {
			res.URL = entry.URL
		}
		return &res
	}
	w.add(crawler.JobCounters{Fetched: 1})

	w.emit(progress.StateParsing, entry.URL, &res)
	base := res.FinalURL
	if base == "" {
		base = entry.URL
	}
	page := w.deps.Parser.Parse(res.HTML, base)

	w.emit(progress.StateDedupCheck, entry.URL, nil)
	fp := fingerprint.SimHash(page.Text)
	dupOf, duplicate, err := w.deps.Store.CheckDuplicateFingerprint(ctx, fp, entry.URLHash, w.cfg.NearDupThreshold)
	if err != nil {
		log.Warn("duplicate check failed", zap.Error(err))
		duplicate = false
	}

	w.emit(progress.StatePersistIndex, entry.URL, nil)
	now := w.deps.Clock.Now()
	record := crawler.PageRecord{
		URLHash:       entry.URLHash,
		URL:           entry.URL,
		Domain:        entry.Domain,
		Title:         page.Title,
		CanonicalURL:  page.CanonicalURL,
		ContentHash:   fp.String(),
		Language:      page.Language,
		ThumbnailURL:  page.ThumbnailURL,
		PageType:      page.PageType,
		FirstSeenAt:   now,
		LastCrawledAt: now,
	}
	if err := w.deps.Store.SavePage(ctx, record); err != nil {
		log.Warn("save page failed", zap.Error(err))
	}
	if duplicate {
		w.add(crawler.JobCounters{Duplicates: 1})
		metrics.ObserveDuplicate()
		log.Info("near-duplicate content, skipping index", zap.String("duplicate_of", dupOf))
	} else {
		w.index(ctx, entry, page, log)
	}

	w.emit(progress.StateRescheduleLinks, entry.URL, nil)
	w.reschedule(ctx, entry, page.Links, log)
	return nil
}

func (w *Worker) index(ctx context.Context, entry frontier.Entry, page crawler.ParsedPage, log *zap.Logger) {
	if w.deps.Indexer == nil {
		return
	}
	doc := crawler.Document{
		URLHash: entry.URLHash,
		URL:     entry.URL,
		Title:   page.Title,
		Text:    page.Text,
	}
	if err := w.deps.Indexer.IndexDocument(ctx, doc); err != nil {
		log.Warn("index document failed", zap.Error(err))
		return
	}
	w.add(crawler.JobCounters{Indexed: 1})
}

// reschedule offers in-scope links to the frontier one level deeper and
// records an edge for each distinct in-scope target.
func (w *Worker) reschedule(ctx context.Context, entry frontier.Entry, links []crawler.Link, log *zap.Logger) {
	edges := make([]crawler.LinkEdge, 0, len(links))
	targets := make(map[string]struct{}, len(links))
	scheduled := 0
	for _, link := range links {
		normalized := fingerprint.Normalize(link.URL)
		if !fingerprint.IsHTTP(normalized) {
			continue
		}
		if w.deps.Scope != nil && !w.deps.Scope.AllowFetch(normalized) {
			continue
		}
		if w.deps.Frontier.Add(normalized, entry.Priority+1) {
			scheduled++
		}
		target := fingerprint.URLHash(normalized)
		if target == entry.URLHash {
			continue
		}
		if _, ok := targets[target]; ok {
			continue
		}
		targets[target] = struct{}{}
		edges = append(edges, crawler.LinkEdge{
			SourceURLHash: entry.URLHash,
			TargetURLHash: target,
			AnchorText:    link.Anchor,
		})
	}
	w.add(crawler.JobCounters{Links: scheduled})
	if len(edges) == 0 {
		return
	}
	if err := w.deps.Store.SaveLinkEdges(ctx, edges); err != nil {
		log.Warn("save link edges failed", zap.Int("edges", len(edges)), zap.Error(err))
		return
	}
	log.Debug("links rescheduled", zap.Int("edges", len(edges)), zap.Int("scheduled", scheduled))
}

func (w *Worker) saveFetchLog(ctx context.Context, entry frontier.Entry, res crawler.FetchResult, log *zap.Logger) {
	id, err := w.deps.IDs.NewID()
	if err != nil {
		log.Warn("fetch log id failed", zap.Error(err))
		return
	}
	crawledAt := res.FetchedAt
	if crawledAt.IsZero() {
		crawledAt = w.deps.Clock.Now()
	}
	entryLog := crawler.FetchLog{
		ID:           id,
		URLHash:      entry.URLHash,
		FetchTimeMS:  res.FetchTimeMS(),
		HTTPStatus:   res.StatusCode,
		ResponseSize: res.Size,
		CrawledAt:    crawledAt,
	}
	// The attempt is recorded even when the crawl is shutting down.
	if err := w.deps.Store.SaveFetchLog(context.WithoutCancel(ctx), entryLog); err != nil {
		log.Warn("save fetch log failed", zap.Error(err))
	}
}

func (w *Worker) emit(state progress.State, url string, res *crawler.FetchResult) {
	evt := progress.Event{
		CrawlID: w.cfg.CrawlID,
		Worker:  w.cfg.Index,
		TS:      w.now(),
		State:   state,
		URL:     url,
	}
	if res != nil {
		evt.Status = res.StatusCode
		evt.Bytes = res.Size
		evt.Dur = res.FetchTime
		if res.Err != nil {
			evt.Note = res.Err.Error()
		}
	}
	w.deps.Emitter.Emit(evt)
}

func (w *Worker) now() time.Time {
	if w.deps.Clock == nil {
		return time.Now().UTC()
	}
	return w.deps.Clock.Now()
}

func (w *Worker) add(delta crawler.JobCounters) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.counters = w.counters.Add(delta)
}
