package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-search-crawler/internal/clock/system"
	"github.com/JakeFAU/realtime-search-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-search-crawler/internal/dispatcher"
	"github.com/JakeFAU/realtime-search-crawler/internal/storage/memory"
)

type fakeRunner struct {
	block    bool
	err      error
	counters crawler.JobCounters
	seeds    atomic.Value
}

func (r *fakeRunner) Run(ctx context.Context, seeds []string) (dispatcher.Result, error) {
	r.seeds.Store(seeds)
	if r.block {
		<-ctx.Done()
		return dispatcher.Result{Counters: r.counters}, fmt.Errorf("crawl canceled: %w", ctx.Err())
	}
	return dispatcher.Result{Counters: r.counters}, r.err
}

func (r *fakeRunner) Counters() crawler.JobCounters { return r.counters }

type seqIDs struct{ n atomic.Int64 }

func (s *seqIDs) NewID() (string, error) {
	return fmt.Sprintf("job-%d", s.n.Add(1)), nil
}

func newManager(t *testing.T, runner *fakeRunner, defaults Defaults) (*Manager, *memory.JobStore, *[]crawler.Job) {
	t.Helper()
	store := memory.NewJobStore()
	var built []crawler.Job
	m := NewManager(store, func(job crawler.Job) (Runner, error) {
		built = append(built, job)
		return runner, nil
	}, &seqIDs{}, system.New(), defaults, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m, store, &built
}

func waitStatus(t *testing.T, m *Manager, id string, want crawler.JobStatus) crawler.Job {
	t.Helper()
	var job crawler.Job
	require.Eventually(t, func() bool {
		var err error
		job, err = m.Get(context.Background(), id)
		return err == nil && job.Status == want
	}, 2*time.Second, 5*time.Millisecond)
	return job
}

func TestStartRunsToSuccess(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{counters: crawler.JobCounters{Fetched: 3, Indexed: 2}}
	m, _, built := newManager(t, runner, Defaults{Workers: 4, MaxPages: 100, AllowedDomains: []string{"example.com"}})

	job, err := m.Start(context.Background(), crawler.JobParameters{Seeds: []string{"https://example.com/"}})
	require.NoError(t, err)
	assert.Equal(t, "job-1", job.ID)
	assert.Equal(t, crawler.JobStatusQueued, job.Status)
	assert.Equal(t, 4, job.Parameters.Workers)
	assert.Equal(t, 100, job.Parameters.MaxPages)
	assert.Equal(t, []string{"example.com"}, job.Parameters.AllowedDomains)
	require.Len(t, *built, 1)

	done := waitStatus(t, m, job.ID, crawler.JobStatusSucceeded)
	assert.Equal(t, runner.counters, done.Counters)
	assert.NotNil(t, done.Started)
	assert.NotNil(t, done.Finished)
	assert.Equal(t, []string{"https://example.com/"}, runner.seeds.Load())
	require.Eventually(t, func() bool { return m.Active() == 0 }, time.Second, 5*time.Millisecond)
}

func TestStartRecordsFailure(t *testing.T) {
	t.Parallel()

	m, _, _ := newManager(t, &fakeRunner{err: errors.New("store unreachable")}, Defaults{})
	job, err := m.Start(context.Background(), crawler.JobParameters{Seeds: []string{"http://example.com"}})
	require.NoError(t, err)

	done := waitStatus(t, m, job.ID, crawler.JobStatusFailed)
	assert.Equal(t, "store unreachable", done.ErrorText)
}

func TestCancelStopsRunningJob(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{block: true, counters: crawler.JobCounters{Fetched: 1}}
	m, _, _ := newManager(t, runner, Defaults{})
	job, err := m.Start(context.Background(), crawler.JobParameters{Seeds: []string{"https://example.com"}})
	require.NoError(t, err)

	live := waitStatus(t, m, job.ID, crawler.JobStatusRunning)
	assert.Equal(t, 1, live.Counters.Fetched)

	_, err = m.Cancel(context.Background(), job.ID)
	require.NoError(t, err)
	waitStatus(t, m, job.ID, crawler.JobStatusCanceled)
	require.Eventually(t, func() bool { return m.Active() == 0 }, time.Second, 5*time.Millisecond)

	_, err = m.Cancel(context.Background(), job.ID)
	require.ErrorIs(t, err, ErrFinished)
}

func TestCancelUnknownJob(t *testing.T) {
	t.Parallel()

	m, _, _ := newManager(t, &fakeRunner{}, Defaults{})
	_, err := m.Cancel(context.Background(), "nope")
	require.ErrorIs(t, err, crawler.ErrNotFound)
	_, err = m.Get(context.Background(), "nope")
	require.ErrorIs(t, err, crawler.ErrNotFound)
}

func TestStartValidates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		params crawler.JobParameters
	}{
		{name: "no seeds"},
		{name: "relative seed", params: crawler.JobParameters{Seeds: []string{"/docs"}}},
		{name: "ftp seed", params: crawler.JobParameters{Seeds: []string{"ftp://example.com"}}},
		{name: "negative pages", params: crawler.JobParameters{Seeds: []string{"https://a.example"}, MaxPages: -1}},
		{name: "too many workers", params: crawler.JobParameters{Seeds: []string{"https://a.example"}, Workers: MaxWorkers + 1}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			m, _, built := newManager(t, &fakeRunner{}, Defaults{})
			_, err := m.Start(context.Background(), tc.params)
			require.ErrorIs(t, err, ErrInvalid)
			assert.Empty(t, *built)
		})
	}
}

func TestShutdownCancelsJobsAndRejectsNew(t *testing.T) {
	t.Parallel()

	m, _, _ := newManager(t, &fakeRunner{block: true}, Defaults{})
	job, err := m.Start(context.Background(), crawler.JobParameters{Seeds: []string{"https://example.com"}})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))

	got, err := m.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, crawler.JobStatusCanceled, got.Status)

	_, err = m.Start(context.Background(), crawler.JobParameters{Seeds: []string{"https://example.com"}})
	require.ErrorIs(t, err, ErrShutdown)
}
