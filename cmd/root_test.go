package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-search-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-search-crawler/internal/dispatcher"
	"github.com/JakeFAU/realtime-search-crawler/internal/pipeline"
	"github.com/JakeFAU/realtime-search-crawler/internal/ranker"
)

type fakeApp struct {
	params  crawler.JobParameters
	query   string
	k       int
	served  bool
	closed  bool
	runErr  error
	results []ranker.Result
}

func (f *fakeApp) Crawl(_ context.Context, p crawler.JobParameters) (dispatcher.Result, error) {
	f.params = p
	return dispatcher.Result{Counters: crawler.JobCounters{Fetched: 2}}, f.runErr
}

func (f *fakeApp) Ingest(_ context.Context, p crawler.JobParameters) (pipeline.Stats, error) {
	f.params = p
	return pipeline.Stats{Crawled: 3, Indexed: 4}, f.runErr
}

func (f *fakeApp) Search(_ context.Context, q string, k int) ([]ranker.Result, string, error) {
	f.query, f.k = q, k
	return f.results, ranker.ModeDegraded, f.runErr
}

func (f *fakeApp) Serve(context.Context) error {
	f.served = true
	return f.runErr
}

func (f *fakeApp) Close(context.Context) error {
	f.closed = true
	return nil
}

func (f *fakeApp) Logger() *zap.Logger { return zap.NewNop() }

// withFakeApp swaps the app factory for the duration of a test.
func withFakeApp(t *testing.T, fake *fakeApp, factoryErr error) *string {
	t.Helper()
	var gotPath string
	orig := newApp
	newApp = func(_ context.Context, path string) (App, error) {
		gotPath = path
		if factoryErr != nil {
			return nil, factoryErr
		}
		return fake, nil
	}
	t.Cleanup(func() { newApp = orig })
	return &gotPath
}

func execute(args ...string) (string, error) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCrawlCommandPassesFlags(t *testing.T) {
	fake := &fakeApp{}
	path := withFakeApp(t, fake, nil)

	out, err := execute("--config", "crawl.yaml", "crawl",
		"--seed", "https://example.com/", "--seed", "https://example.org/",
		"--allowed-domain", "example.com", "--max-pages", "10", "--workers", "4")
	require.NoError(t, err)

	assert.Equal(t, "crawl.yaml", *path)
	assert.Equal(t, crawler.JobParameters{
		Seeds:          []string{"https://example.com/", "https://example.org/"},
		AllowedDomains: []string{"example.com"},
		MaxPages:       10,
		Workers:        4,
	}, fake.params)
	assert.True(t, fake.closed)

	var res dispatcher.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 2, res.Counters.Fetched)
}

func TestIngestCommandPrintsStats(t *testing.T) {
	fake := &fakeApp{}
	withFakeApp(t, fake, nil)

	out, err := execute("ingest", "--seed", "https://example.com/")
	require.NoError(t, err)
	var stats pipeline.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, pipeline.Stats{Crawled: 3, Indexed: 4}, stats)
	assert.Equal(t, []string{"https://example.com/"}, fake.params.Seeds)
}

func TestSearchCommand(t *testing.T) {
	fake := &fakeApp{results: []ranker.Result{{ID: "c1", Text: "gophers", Score: 0.5}}}
	withFakeApp(t, fake, nil)

	out, err := execute("search", "-k", "3", "burrowing", "gophers")
	require.NoError(t, err)
	assert.Equal(t, "burrowing gophers", fake.query)
	assert.Equal(t, 3, fake.k)

	var got searchOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "vector", got.Mode)
	require.Len(t, got.Results, 1)
	assert.Equal(t, "c1", got.Results[0].ID)

	_, err = execute("search", " ")
	require.ErrorIs(t, err, errNoQuery)
}

func TestServeCommand(t *testing.T) {
	fake := &fakeApp{}
	withFakeApp(t, fake, nil)

	_, err := execute("serve")
	require.NoError(t, err)
	assert.True(t, fake.served)
	assert.True(t, fake.closed)
}

func TestCommandErrors(t *testing.T) {
	withFakeApp(t, nil, errors.New("bad config"))
	_, err := execute("crawl")
	require.ErrorContains(t, err, "initialize application services: bad config")

	fake := &fakeApp{runErr: errors.New("fetcher exploded")}
	withFakeApp(t, fake, nil)
	_, err = execute("crawl")
	require.ErrorContains(t, err, "run crawl: fetcher exploded")
	assert.True(t, fake.closed, "app is closed when the command fails")
}
