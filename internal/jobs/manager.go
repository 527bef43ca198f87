// Package jobs runs API-submitted crawls in the background and tracks their
// lifecycle in a crawler.JobStore.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-search-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-search-crawler/internal/dispatcher"
	"github.com/JakeFAU/realtime-search-crawler/internal/metrics"
)

var (
	// ErrInvalid wraps parameter validation failures.
	ErrInvalid = errors.New("invalid job parameters")
	// ErrFinished is returned when canceling a job that already ended.
	ErrFinished = errors.New("job already finished")
	// ErrShutdown is returned by Start after Shutdown.
	ErrShutdown = errors.New("job manager shut down")
)

// MaxWorkers caps the per-job worker count.
const MaxWorkers = 64

// Runner is one crawl, typically a *dispatcher.Dispatcher.
type Runner interface {
	Run(ctx context.Context, seeds []string) (dispatcher.Result, error)
	Counters() crawler.JobCounters
}

// Factory builds an independent crawl for job.
type Factory func(job crawler.Job) (Runner, error)

// Defaults fill parameters the request left at zero.
type Defaults struct {
	Workers        int
	MaxPages       int
	AllowedDomains []string
}

type running struct {
	runner Runner
	cancel context.CancelFunc
}

// Manager starts, observes and cancels crawl jobs.
type Manager struct {
	store    crawler.JobStore
	factory  Factory
	ids      crawler.IDGenerator
	clock    crawler.Clock
	defaults Defaults
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	active  map[string]*running
	stopped bool
}

// NewManager creates a Manager. Job goroutines derive from an internal
// context so they outlive the request that started them.
func NewManager(
	store crawler.JobStore,
	factory Factory,
	ids crawler.IDGenerator,
	clock crawler.Clock,
	defaults Defaults,
	logger *zap.Logger,
) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaults.Workers <= 0 {
		defaults.Workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:    store,
		factory:  factory,
		ids:      ids,
		clock:    clock,
		defaults: defaults,
		logger:   logger.Named("jobs"),
		ctx:      ctx,
		cancel:   cancel,
		active:   make(map[string]*running),
	}
}

// Start validates params, records a queued job and launches its crawl.
func (m *Manager) Start(ctx context.Context, params crawler.JobParameters) (crawler.Job, error) {
	params, err := m.normalize(params)
	if err != nil {
		return crawler.Job{}, err
	}
	id, err := m.ids.NewID()
	if err != nil {
		return crawler.Job{}, fmt.Errorf("generate job id: %w", err)
	}
	job := crawler.Job{
		ID:         id,
		Status:     crawler.JobStatusQueued,
		Submitted:  m.clock.Now(),
		Parameters: params,
	}
	runner, err := m.factory(job)
	if err != nil {
		return crawler.Job{}, fmt.Errorf("build crawl: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return crawler.Job{}, ErrShutdown
	}
	if err := m.store.CreateJob(ctx, job); err != nil {
		return crawler.Job{}, fmt.Errorf("create job: %w", err)
	}
	jobCtx, cancel := context.WithCancel(m.ctx)
	m.active[id] = &running{runner: runner, cancel: cancel}
	m.wg.Add(1)
	go m.run(jobCtx, job, runner)
	metrics.ObserveJob(string(crawler.JobStatusQueued))
	return job, nil
}

// Get returns a job. Running jobs report live counters.
func (m *Manager) Get(ctx context.Context, id string) (crawler.Job, error) {
	job, err := m.store.GetJob(ctx, id)
	if err != nil {
		return crawler.Job{}, fmt.Errorf("get job: %w", err)
	}
	m.mu.Lock()
	r, ok := m.active[id]
	m.mu.Unlock()
	if ok && !job.Status.Terminal() {
		job.Counters = r.runner.Counters()
	}
	return job, nil
}

// Cancel stops a running job. The job reaches the canceled status once its
// workers have returned.
func (m *Manager) Cancel(ctx context.Context, id string) (crawler.Job, error) {
	job, err := m.store.GetJob(ctx, id)
	if err != nil {
		return crawler.Job{}, fmt.Errorf("get job: %w", err)
	}
	m.mu.Lock()
	r, ok := m.active[id]
	m.mu.Unlock()
	if !ok || job.Status.Terminal() {
		return job, ErrFinished
	}
	r.cancel()
	m.logger.Info("job cancel requested", zap.String("job_id", id))
	return job, nil
}

// Active returns the number of jobs still running.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Shutdown cancels every running job and waits for them or for ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown jobs: %w", ctx.Err())
	}
}

func (m *Manager) run(ctx context.Context, job crawler.Job, runner Runner) {
	defer m.wg.Done()
	defer func() {
		m.mu.Lock()
		delete(m.active, job.ID)
		m.mu.Unlock()
	}()
	log := m.logger.With(zap.String("job_id", job.ID))
	// Status writes must land even while the job is being canceled.
	bg := context.WithoutCancel(ctx)

	m.update(bg, log, job.ID, crawler.JobStatusRunning, "", crawler.JobCounters{})
	res, err := runner.Run(ctx, job.Parameters.Seeds)
	switch {
	case err == nil:
		m.update(bg, log, job.ID, crawler.JobStatusSucceeded, "", res.Counters)
	case errors.Is(err, context.Canceled):
		m.update(bg, log, job.ID, crawler.JobStatusCanceled, "canceled", res.Counters)
	default:
		log.Error("crawl failed", zap.Error(err))
		m.update(bg, log, job.ID, crawler.JobStatusFailed, err.Error(), res.Counters)
	}
}

func (m *Manager) update(
	ctx context.Context,
	log *zap.Logger,
	id string,
	status crawler.JobStatus,
	errText string,
	counters crawler.JobCounters,
) {
	metrics.ObserveJob(string(status))
	if err := m.store.UpdateJobStatus(ctx, id, status, errText, counters); err != nil {
		log.Warn("update job status failed", zap.String("status", string(status)), zap.Error(err))
		return
	}
	log.Info("job status", zap.String("status", string(status)), zap.Any("counters", counters))
}

func (m *Manager) normalize(p crawler.JobParameters) (crawler.JobParameters, error) {
	if len(p.Seeds) == 0 {
		return p, fmt.Errorf("%w: at least one seed is required", ErrInvalid)
	}
	for _, s := range p.Seeds {
		u, err := url.Parse(s)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return p, fmt.Errorf("%w: seed %q is not an absolute http(s) url", ErrInvalid, s)
		}
	}
	if p.MaxPages < 0 {
		return p, fmt.Errorf("%w: max_pages must be >= 0", ErrInvalid)
	}
	if p.Workers < 0 || p.Workers > MaxWorkers {
		return p, fmt.Errorf("%w: workers must be between 0 and %d", ErrInvalid, MaxWorkers)
	}
	if p.Workers == 0 {
		p.Workers = m.defaults.Workers
	}
	if p.MaxPages == 0 {
		p.MaxPages = m.defaults.MaxPages
	}
	if len(p.AllowedDomains) == 0 && len(m.defaults.AllowedDomains) > 0 {
		p.AllowedDomains = append([]string(nil), m.defaults.AllowedDomains...)
	}
	p.Seeds = append([]string(nil), p.Seeds...)
	return p, nil
}
