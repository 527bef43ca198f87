// Package app builds the long-lived services named by the configuration and
// runs crawls, ingestion and the HTTP API on top of them.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	gpubsub "cloud.google.com/go/pubsub/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/realtime-search-crawler/internal/api"
	"github.com/JakeFAU/realtime-search-crawler/internal/bus"
	"github.com/JakeFAU/realtime-search-crawler/internal/clock/system"
	"github.com/JakeFAU/realtime-search-crawler/internal/config"
	"github.com/JakeFAU/realtime-search-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-search-crawler/internal/dispatcher"
	"github.com/JakeFAU/realtime-search-crawler/internal/embedding"
	collyfetcher "github.com/JakeFAU/realtime-search-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/realtime-search-crawler/internal/frontier"
	"github.com/JakeFAU/realtime-search-crawler/internal/hash/sha256"
	"github.com/JakeFAU/realtime-search-crawler/internal/id/uuid"
	"github.com/JakeFAU/realtime-search-crawler/internal/index"
	"github.com/JakeFAU/realtime-search-crawler/internal/jobs"
	"github.com/JakeFAU/realtime-search-crawler/internal/parser"
	"github.com/JakeFAU/realtime-search-crawler/internal/pipeline"
	"github.com/JakeFAU/realtime-search-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/realtime-search-crawler/internal/policy/scope"
	"github.com/JakeFAU/realtime-search-crawler/internal/politeness"
	"github.com/JakeFAU/realtime-search-crawler/internal/progress"
	"github.com/JakeFAU/realtime-search-crawler/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/realtime-search-crawler/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/realtime-search-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/realtime-search-crawler/internal/ranker"
	"github.com/JakeFAU/realtime-search-crawler/internal/storage/blob"
	"github.com/JakeFAU/realtime-search-crawler/internal/storage/gcs"
	"github.com/JakeFAU/realtime-search-crawler/internal/storage/local"
	"github.com/JakeFAU/realtime-search-crawler/internal/storage/memory"
	"github.com/JakeFAU/realtime-search-crawler/internal/storage/postgres"
	"github.com/JakeFAU/realtime-search-crawler/internal/storage/sqlite"
	"github.com/JakeFAU/realtime-search-crawler/internal/vectorstore"
	"github.com/JakeFAU/realtime-search-crawler/internal/worker"
)

const defaultShutdownTimeout = 10 * time.Second

// App holds the shared services. It is built once per process and closed on exit.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	clock   crawler.Clock
	ids     crawler.IDGenerator
	hasher  *sha256.Hasher
	limiter *ratelimit.Limiter

	pages    crawler.PageStore
	raw      crawler.RawStore
	jobStore crawler.JobStore
	mirror   crawler.Publisher

	embedder embedding.Embedder
	vectors  vectorstore.Store
	chunks   *pipeline.Indexer
	text     *index.Index
	ranker   *ranker.Ranker

	progress *progress.Hub
	jobs     *jobs.Manager

	closers []closer
}

type closer struct {
	name string
	fn   func() error
}

// Option customizes New.
type Option func(*options)

type options struct {
	registerer prometheus.Registerer
}

// WithRegisterer registers the progress collectors against reg instead of
// the default registerer.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// New opens every configured backend. Anything opened before a failure is
// closed again.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}
	a := &App{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(),
		ids:    uuid.New(),
		hasher: sha256.New(),
		limiter: ratelimit.New(ratelimit.Config{
			RPS:   cfg.Fetcher.GlobalRPS,
			Burst: cfg.Fetcher.GlobalBurst,
		}),
		text: index.New(),
	}
	logger.Info("initializing application services",
		zap.String("storage", cfg.Storage.Backend),
		zap.String("raw_storage", cfg.Storage.RawBackend),
		zap.String("vectors", cfg.Vector.Backend),
		zap.String("embedder", cfg.Vector.Embedder),
	)

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"page store", a.openPages},
		{"raw store", a.openRaw},
		{"vector store", a.openVectors},
		{"bus mirror", a.openMirror},
	}
	for _, step := range steps {
		if err := step.fn(ctx); err != nil {
			a.closeResources()
			return nil, fmt.Errorf("open %s: %w", step.name, err)
		}
	}

	prom, err := sinks.NewPrometheusSink(o.registerer)
	if err != nil {
		a.closeResources()
		return nil, fmt.Errorf("init progress sinks: %w", err)
	}
	a.progress = progress.NewHub(progress.Config{Logger: logger}, sinks.NewLogSink(logger), prom)

	a.chunks = pipeline.NewIndexer(a.embedder, a.vectors, a.hasher, cfg.Pipeline.IndexBatchSize, logger)
	rankOpts := []ranker.Option{
		ranker.WithConfig(ranker.Config{
			SemanticWeight: cfg.Ranker.SemanticWeight,
			LexicalWeight:  cfg.Ranker.LexicalWeight,
		}),
		ranker.WithLogger(logger),
	}
	if cfg.Ranker.CrossEncoderURL != "" {
		rankOpts = append(rankOpts, ranker.WithSemantic(ranker.NewCrossEncoder(cfg.Ranker.CrossEncoderURL, cfg.Ranker.Timeout)))
	} else {
		logger.Warn("no cross-encoder configured, search results use vector order")
	}
	a.ranker = ranker.New(a.embedder, a.vectors, rankOpts...)

	a.jobs = jobs.NewManager(a.jobStore, a.newJobRunner, a.ids, a.clock, jobs.Defaults{
		Workers:        cfg.Crawler.Workers,
		MaxPages:       cfg.Crawler.MaxPages,
		AllowedDomains: cfg.Crawler.AllowedDomains,
	}, logger)

	logger.Info("application services initialized")
	return a, nil
}

func (a *App) openPages(ctx context.Context) error {
	switch a.cfg.Storage.Backend {
	case config.BackendSQLite:
		st, err := sqlite.Open(ctx, a.cfg.Storage.SQLitePath)
		if err != nil {
			return err
		}
		a.pages, a.jobStore = st, st
		a.addCloser("sqlite", st.Close)
	case config.BackendPostgres:
		st, err := postgres.NewPageStore(ctx, postgres.Config{DSN: a.cfg.Storage.PostgresDSN})
		if err != nil {
			return err
		}
		a.addCloser("postgres", st.Close)
		if err := st.Migrate(ctx); err != nil {
			return err
		}
		a.pages, a.jobStore = st, memory.NewJobStore()
	default:
		a.pages, a.jobStore = memory.NewPageStore(), memory.NewJobStore()
	}
	return nil
}

func (a *App) openRaw(ctx context.Context) error {
	switch a.cfg.Storage.RawBackend {
	case config.BackendMemory:
		if mem, ok := a.pages.(*memory.PageStore); ok {
			a.raw = mem
		} else {
			a.raw = memory.NewPageStore()
		}
	case config.BackendSQLite:
		st, ok := a.pages.(*sqlite.Store)
		if !ok {
			return errors.New("storage.raw_backend sqlite requires storage.backend sqlite")
		}
		a.raw = st
	case config.BackendLocal:
		bs, err := local.New(local.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return err
		}
		a.raw = blob.New(bs)
	case config.BackendGCS:
		bs, err := gcs.Open(ctx, gcs.Config{Bucket: a.cfg.Storage.GCSBucket})
		if err != nil {
			return err
		}
		a.addCloser("gcs", bs.Close)
		a.raw = blob.New(bs)
	}
	return nil
}

func (a *App) openVectors(ctx context.Context) error {
	var remote *embedding.OpenAI
	switch a.cfg.Vector.Embedder {
	case config.EmbedderOpenAI:
		o, err := embedding.NewOpenAI(embedding.OpenAIConfig{
			APIKey:     a.cfg.Vector.OpenAIAPIKey,
			Model:      a.cfg.Vector.OpenAIModel,
			Dimensions: a.cfg.Vector.Dimensions,
		})
		if err != nil {
			return err
		}
		remote = o
		a.embedder = o
	default:
		a.embedder = embedding.NewHash(a.cfg.Vector.Dimensions)
	}

	switch a.cfg.Vector.Backend {
	case config.BackendChroma:
		if remote == nil {
			return errors.New("the chroma backend requires the openai embedder")
		}
		c, err := vectorstore.OpenChroma(ctx, vectorstore.ChromaConfig{
			BaseURL:    a.cfg.Vector.ChromaURL,
			Collection: a.cfg.Vector.Collection,
			Embedder:   remote.Function(),
		})
		if err != nil {
			return err
		}
		a.addCloser("chroma", c.Close)
		a.vectors = c
	default:
		a.vectors = vectorstore.NewMemory(a.embedder.Dimensions())
	}
	return nil
}

func (a *App) openMirror(ctx context.Context) error {
	switch a.cfg.Pipeline.Mirror {
	case config.BackendPubSub:
	case config.BackendMemory:
		a.mirror = memorypublisher.New()
		return nil
	default:
		return nil
	}
	client, err := gpubsub.NewClient(ctx, a.cfg.Pipeline.PubSubProject)
	if err != nil {
		return fmt.Errorf("create pubsub client: %w", err)
	}
	a.addCloser("pubsub client", client.Close)
	p := pubsubpublisher.New(client, a.cfg.Pipeline.PubSubTopicPrefix)
	a.addCloser("pubsub publisher", func() error {
		p.Close()
		return nil
	})
	a.mirror = p
	return nil
}

func (a *App) addCloser(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Jobs returns the crawl job manager used by the API.
func (a *App) Jobs() *jobs.Manager {
	return a.jobs
}

// Params fills zero fields of p from the crawler configuration.
func (a *App) Params(p crawler.JobParameters) crawler.JobParameters {
	if len(p.Seeds) == 0 {
		p.Seeds = a.cfg.Crawler.Seeds
	}
	if len(p.AllowedDomains) == 0 {
		p.AllowedDomains = a.cfg.Crawler.AllowedDomains
	}
	if p.MaxPages == 0 {
		p.MaxPages = a.cfg.Crawler.MaxPages
	}
	if p.Workers <= 0 {
		p.Workers = a.cfg.Crawler.Workers
	}
	return p
}

// NewDispatcher builds an independent crawl with its own frontier,
// politeness gate and fetcher. Only the global rate limiter is shared.
func (a *App) NewDispatcher(crawlID string, p crawler.JobParameters) *dispatcher.Dispatcher {
	logger := a.logger.With(zap.String("crawl_id", crawlID))
	deps := worker.Deps{
		Fetcher: a.newFetcher(logger),
		Parser:  parser.New(logger),
		Store:   a.pages,
		Indexer: fanout{a.text, pipeline.NewDocumentIndexer(a.chunker(), a.chunks)},
		Scope:   a.scope(p),
		IDs:     a.ids,
		Clock:   a.clock,
		Emitter: a.progress,
	}
	f := frontier.New(frontier.Config{MaxPages: p.MaxPages, Now: a.clock.Now})
	return dispatcher.New(f, deps, dispatcher.Config{
		CrawlID:          crawlID,
		Workers:          p.Workers,
		NearDupThreshold: a.cfg.Crawler.NearDupThreshold,
		RecrawlSeeds:     a.cfg.Crawler.RecrawlSeeds,
	}, logger)
}

func (a *App) newJobRunner(job crawler.Job) (jobs.Runner, error) {
	return a.NewDispatcher(job.ID, job.Parameters), nil
}

func (a *App) newFetcher(logger *zap.Logger) *collyfetcher.Fetcher {
	gate := politeness.New(politeness.Config{
		UserAgent:     a.cfg.Crawler.UserAgent,
		DefaultDelay:  a.cfg.Politeness.DefaultDelay,
		RobotsTimeout: a.cfg.Politeness.RobotsTimeout,
	}, nil, a.clock, logger)
	return collyfetcher.New(collyfetcher.Config{
		UserAgent:    a.cfg.Crawler.UserAgent,
		Timeout:      a.cfg.Fetcher.Timeout,
		MaxRedirects: a.cfg.Fetcher.MaxRedirects,
		MaxBodyBytes: a.cfg.Fetcher.MaxBodyBytes,
	}, gate, a.limiter, logger)
}

func (a *App) scope(p crawler.JobParameters) *scope.Policy {
	return scope.New(p.AllowedDomains, scope.WithBlocked(a.cfg.Crawler.BlockedDomains...))
}

func (a *App) chunker() pipeline.Chunker {
	return pipeline.NewChunker(a.cfg.Pipeline.ChunkSize, a.cfg.Pipeline.ChunkOverlap)
}

// Crawl runs one worker-pool crawl in the foreground.
func (a *App) Crawl(ctx context.Context, p crawler.JobParameters) (dispatcher.Result, error) {
	p = a.Params(p)
	if len(p.Seeds) == 0 {
		return dispatcher.Result{}, errors.New("no seeds to crawl")
	}
	id, err := a.ids.NewID()
	if err != nil {
		return dispatcher.Result{}, fmt.Errorf("generate crawl id: %w", err)
	}
	return a.NewDispatcher(id, p).Run(ctx, p.Seeds)
}

// Ingest runs the bus pipeline from seeds until it is idle.
func (a *App) Ingest(ctx context.Context, p crawler.JobParameters) (pipeline.Stats, error) {
	p = a.Params(p)
	if len(p.Seeds) == 0 {
		return pipeline.Stats{}, errors.New("no seeds to ingest")
	}
	logger := a.logger.Named("ingest")
	busOpts := []bus.Option{bus.WithLogger(logger)}
	if a.mirror != nil {
		busOpts = append(busOpts, bus.WithMirror(a.mirror))
	}
	b := bus.New(busOpts...)
	defer b.Close()

	fetch := a.newFetcher(logger)
	defer fetch.Close()
	f := frontier.New(frontier.Config{MaxPages: p.MaxPages, Now: a.clock.Now})
	defer f.Close()

	pl, err := pipeline.New(pipeline.Deps{
		Bus:       b,
		Fetcher:   fetch,
		Raw:       a.raw,
		Extractor: parser.New(logger),
		Hasher:    a.hasher,
		Frontier:  f,
		Scope:     a.scope(p),
		Indexer:   a.chunks,
		Clock:     a.clock,
	}, pipeline.Config{
		ChunkSize:      a.cfg.Pipeline.ChunkSize,
		ChunkOverlap:   a.cfg.Pipeline.ChunkOverlap,
		IndexBatchSize: a.cfg.Pipeline.IndexBatchSize,
	}, logger)
	if err != nil {
		return pipeline.Stats{}, fmt.Errorf("build pipeline: %w", err)
	}
	return pl.Run(ctx, p.Seeds)
}

// Search ranks stored chunks against query.
func (a *App) Search(ctx context.Context, query string, k int) ([]ranker.Result, string, error) {
	return a.ranker.Retrieve(ctx, query, k)
}

// Handler returns the HTTP API.
func (a *App) Handler() http.Handler {
	return api.NewServer(a.jobs, a.ranker, api.Options{
		APIKey: a.cfg.Server.APIKey,
		Ready: map[string]api.ReadyCheck{
			"vectors": func(ctx context.Context) error {
				_, err := a.vectors.Count(ctx)
				return err
			},
		},
	}, a.logger).Handler()
}

// Serve listens on the configured port until ctx ends, then drains requests
// and running crawl jobs.
func (a *App) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return a.serve(ctx, ln)
}

func (a *App) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: a.cfg.Server.ReadHeaderTimeout,
	}
	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown http server: %w", err))
		}
		if err := a.jobs.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})
	return g.Wait()
}

// Close stops running jobs, flushes progress events and buffered chunks, and
// releases every backend.
func (a *App) Close(ctx context.Context) error {
	a.logger.Info("shutting down application services")
	var errs []error
	if err := a.jobs.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := a.chunks.Flush(ctx); err != nil {
		errs = append(errs, fmt.Errorf("flush chunks: %w", err))
	}
	if err := a.progress.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, a.closeResources()...)
	return errors.Join(errs...)
}

func (a *App) closeResources() []error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			a.logger.Warn("close failed", zap.String("resource", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errs
}

// fanout indexes every document into each target.
type fanout []crawler.Indexer

func (f fanout) IndexDocument(ctx context.Context, doc crawler.Document) error {
	var errs []error
	for _, x := range f {
		if err := x.IndexDocument(ctx, doc); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
