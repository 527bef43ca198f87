package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-search-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-search-crawler/internal/fingerprint"
	"github.com/JakeFAU/realtime-search-crawler/internal/frontier"
	"github.com/JakeFAU/realtime-search-crawler/internal/index"
	"github.com/JakeFAU/realtime-search-crawler/internal/parser"
	"github.com/JakeFAU/realtime-search-crawler/internal/policy/scope"
	"github.com/JakeFAU/realtime-search-crawler/internal/storage/memory"
	"github.com/JakeFAU/realtime-search-crawler/internal/worker"
)

// site is a tiny link graph: each page links to the listed paths.
var site = map[string][]string{
	"/":            {"/docs", "/blog", "/about"},
	"/docs":        {"/", "/docs/api", "/blog"},
	"/blog":        {"/blog/post-1", "/blog/post-2"},
	"/about":       {"/"},
	"/docs/api":    nil,
	"/blog/post-1": {"/blog/post-2"},
	"/blog/post-2": {"/blog/post-1"},
}

const host = "https://example.com"

// TestDispatcherRunsToQuiescence ensures the pool visits every reachable page once and stops.
func TestDispatcherRunsToQuiescence(t *testing.T) {
	t.Parallel()

	fetcher := newSiteFetcher()
	store := memory.NewPageStore()
	idx := index.New()
	d := New(frontier.New(frontier.Config{}), deps(fetcher, store, idx), Config{CrawlID: "c1", Workers: 3}, zap.NewNop())

	res, err := d.Run(context.Background(), []string{host + "/"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := len(fetcher.Calls()); got != len(site) {
		t.Fatalf("expected %d fetches, got %d: %v", len(site), got, fetcher.Calls())
	}
	seen := map[string]int{}
	for _, u := range fetcher.Calls() {
		seen[u]++
	}
	for u, n := range seen {
		if n != 1 {
			t.Fatalf("%s fetched %d times", u, n)
		}
	}
	if res.Counters.Fetched != len(site) || res.Counters.Indexed != len(site) {
		t.Fatalf("unexpected counters %+v", res.Counters)
	}
	if res.Counters.Links != len(site)-1 {
		t.Fatalf("expected %d scheduled links, got %d", len(site)-1, res.Counters.Links)
	}
	if res.Frontier.Pending != 0 || res.Frontier.InFlight != 0 {
		t.Fatalf("frontier not quiescent: %+v", res.Frontier)
	}
	if !fetcher.closed.Load() {
		t.Fatal("fetcher not closed")
	}
	if len(store.FetchLogs()) != len(site) {
		t.Fatalf("expected one fetch log per page, got %d", len(store.FetchLogs()))
	}
	if idx.Len() != len(site) {
		t.Fatalf("expected %d indexed documents, got %d", len(site), idx.Len())
	}
}

// TestDispatcherRehydrateSkipsStoredPages verifies previously stored pages are not fetched again.
func TestDispatcherRehydrateSkipsStoredPages(t *testing.T) {
	t.Parallel()

	store := memory.NewPageStore()
	for _, path := range []string{"/", "/blog"} {
		u := host + path
		if err := store.SavePage(context.Background(), crawler.PageRecord{URLHash: fingerprint.URLHash(u), URL: u}); err != nil {
			t.Fatalf("seed store: %v", err)
		}
	}

	fetcher := newSiteFetcher()
	d := New(frontier.New(frontier.Config{}), deps(fetcher, store, nil), Config{Workers: 2}, zap.NewNop())
	res, err := d.Run(context.Background(), []string{host + "/", host + "/docs"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Rehydrated != 2 {
		t.Fatalf("expected 2 rehydrated hashes, got %d", res.Rehydrated)
	}
	for _, u := range fetcher.Calls() {
		if u == host+"/" || u == host+"/blog" || strings.HasPrefix(u, host+"/blog/") {
			t.Fatalf("fetched %s which should have been skipped", u)
		}
	}
	if len(fetcher.Calls()) != 2 {
		t.Fatalf("expected /docs and /docs/api only, got %v", fetcher.Calls())
	}
}

// TestDispatcherRecrawlSeeds schedules seeds even when the store already knows them.
func TestDispatcherRecrawlSeeds(t *testing.T) {
	t.Parallel()

	store := memory.NewPageStore()
	u := host + "/about"
	if err := store.SavePage(context.Background(), crawler.PageRecord{URLHash: fingerprint.URLHash(u), URL: u}); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	fetcher := newSiteFetcher()
	d := New(frontier.New(frontier.Config{MaxPages: 1}), deps(fetcher, store, nil), Config{RecrawlSeeds: true}, nil)
	res, err := d.Run(context.Background(), []string{u})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := fetcher.Calls(); len(got) != 1 || got[0] != u {
		t.Fatalf("expected only the seed to be fetched, got %v", got)
	}
	if res.Counters.Links != 0 {
		t.Fatalf("budget should stop scheduling, got %d links", res.Counters.Links)
	}
}

// TestDispatcherCancelStopsWorkers ensures cancellation ends the run and releases the fetcher.
func TestDispatcherCancelStopsWorkers(t *testing.T) {
	t.Parallel()

	fetcher := newSiteFetcher()
	fetcher.block = true
	d := New(frontier.New(frontier.Config{}), deps(fetcher, memory.NewPageStore(), nil), Config{Workers: 2}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := d.Run(ctx, []string{host + "/", host + "/docs"})
		done <- outcome{res, err}
	}()

	deadline := time.After(time.Second)
	for len(fetcher.Calls()) < 2 {
		select {
		case <-deadline:
			t.Fatal("workers did not start fetching")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	select {
	case out := <-done:
		if !errors.Is(out.err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", out.err)
		}
		if out.res.Frontier.InFlight != 0 {
			t.Fatalf("in-flight entries not released: %+v", out.res.Frontier)
		}
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
	if !fetcher.closed.Load() {
		t.Fatal("fetcher not closed after cancel")
	}
}

// TestDispatcherSinglePageWithoutLinks crawls one seed whose page has no
// anchors and checks what is persisted.
func TestDispatcherSinglePageWithoutLinks(t *testing.T) {
	t.Parallel()

	fetcher := &singlePageFetcher{}
	store := memory.NewPageStore()
	d := worker.Deps{
		Fetcher: fetcher,
		Parser:  parser.New(nil),
		Store:   store,
		Scope:   scope.New(nil),
		IDs:     &seqIDs{},
		Clock:   wallClock{},
	}
	res, err := New(frontier.New(frontier.Config{}), d, Config{Workers: 1}, zap.NewNop()).
		Run(context.Background(), []string{"https://example.com"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := fetcher.calls.Load(); got != 1 {
		t.Fatalf("expected one fetch, got %d", got)
	}
	pages := store.Pages()
	if len(pages) != 1 {
		t.Fatalf("expected exactly one page, got %d", len(pages))
	}
	if pages[0].Title != "Example Domain" {
		t.Fatalf("unexpected title %q", pages[0].Title)
	}
	if len(store.FetchLogs()) < 1 {
		t.Fatal("expected at least one fetch log")
	}
	if edges := store.Edges(); len(edges) != 0 {
		t.Fatalf("expected no link edges, got %v", edges)
	}
	if res.Counters.Links != 0 || res.Counters.Fetched != 1 {
		t.Fatalf("unexpected counters %+v", res.Counters)
	}
}

// TestDispatcherSkipsBlockedSeeds keeps blocked seeds out of the frontier.
func TestDispatcherSkipsBlockedSeeds(t *testing.T) {
	t.Parallel()

	fetcher := newSiteFetcher()
	d := deps(fetcher, memory.NewPageStore(), nil)
	d.Scope = scope.New(nil, scope.WithBlocked("example.com"))
	res, err := New(frontier.New(frontier.Config{}), d, Config{Workers: 1}, zap.NewNop()).
		Run(context.Background(), []string{host + "/", "https://www.example.com/docs"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if calls := fetcher.Calls(); len(calls) != 0 {
		t.Fatalf("blocked seeds were fetched: %v", calls)
	}
	if res.Frontier.Admitted != 0 {
		t.Fatalf("expected nothing admitted, got %+v", res.Frontier)
	}
}

type singlePageFetcher struct {
	calls atomic.Int32
}

func (f *singlePageFetcher) Fetch(_ context.Context, url string) crawler.FetchResult {
	f.calls.Add(1)
	body := `<html><head><title>Example Domain</title></head><body><div><h1>Example Domain</h1>` +
		`<p>This domain is for use in illustrative examples.</p></div></body></html>`
	return crawler.FetchResult{
		URL:        url,
		FinalURL:   url,
		HTML:       body,
		IsHTML:     true,
		StatusCode: http.StatusOK,
		Size:       len(body),
	}
}

func (f *singlePageFetcher) Close() {}

func deps(f crawler.Fetcher, store crawler.PageStore, idx crawler.Indexer) worker.Deps {
	return worker.Deps{
		Fetcher: f,
		Parser:  siteParser{},
		Store:   store,
		Indexer: idx,
		IDs:     &seqIDs{},
		Clock:   wallClock{},
	}
}

type siteFetcher struct {
	mu     sync.Mutex
	calls  []string
	block  bool
	closed atomic.Bool
}

func newSiteFetcher() *siteFetcher {
	return &siteFetcher{}
}

func (f *siteFetcher) Fetch(ctx context.Context, url string) crawler.FetchResult {
	f.mu.Lock()
	f.calls = append(f.calls, url)
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return crawler.FetchResult{URL: url, StatusCode: 499, Err: ctx.Err()}
	}
	path := strings.TrimPrefix(url, host)
	if path == "" {
		path = "/"
	}
	if _, ok := site[path]; !ok {
		return crawler.FetchResult{URL: url, StatusCode: http.StatusNotFound}
	}
	return crawler.FetchResult{
		URL:        url,
		FinalURL:   url,
		HTML:       path,
		IsHTML:     true,
		StatusCode: http.StatusOK,
		Size:       len(path),
	}
}

func (f *siteFetcher) Close() {
	f.closed.Store(true)
}

func (f *siteFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// siteParser treats the HTML body as the page path and returns its links.
// Page text is built from the path hash so no two pages share a token.
type siteParser struct{}

func (siteParser) Parse(html string, _ string) crawler.ParsedPage {
	sum := fingerprint.URLHash(html)
	words := make([]string, 0, len(sum)/8)
	for i := 0; i+8 <= len(sum); i += 8 {
		words = append(words, "w"+sum[i:i+8])
	}
	page := crawler.ParsedPage{
		Title: html,
		Text:  strings.Join(words, " "),
	}
	for _, p := range site[html] {
		page.Links = append(page.Links, crawler.Link{URL: host + p})
	}
	return page
}

type seqIDs struct {
	n atomic.Int64
}

func (s *seqIDs) NewID() (string, error) {
	return fmt.Sprintf("id-%d", s.n.Add(1)), nil
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }

func (wallClock) Sleep(context.Context, time.Duration) error { return nil }
