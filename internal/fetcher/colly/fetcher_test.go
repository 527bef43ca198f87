package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-search-crawler/internal/crawler"
)

type fakeGate struct {
	allow bool
	err   error
	calls atomic.Int32
}

func (g *fakeGate) Gate(context.Context, string) (bool, error) {
	g.calls.Add(1)
	return g.allow, g.err
}

type countingLimiter struct {
	calls atomic.Int32
}

func (l *countingLimiter) Wait(context.Context) (time.Duration, error) {
	l.calls.Add(1)
	return 0, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/page", func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, "<html><head><title>T</title></head><body><p>hello</p></body></html>")
	})
	mux.HandleFunc("/file.pdf", func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/pdf")
		fmt.Fprint(w, "%PDF-1.4 binary")
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, "<html><body>gone</body></html>")
	})
	mux.HandleFunc("/hop/", func(w http.ResponseWriter, r *http.Request) {
		var n int
		_, _ = fmt.Sscanf(r.URL.Path, "/hop/%d", &n)
		if n <= 0 {
			http.Redirect(w, r, "/page", http.StatusFound)
			return
		}
		http.Redirect(w, r, fmt.Sprintf("/hop/%d", n-1), http.StatusFound)
	})
	mux.HandleFunc("/loop", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/loop", http.StatusFound)
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html></html>")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestFetchHTML(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	limiter := &countingLimiter{}
	f := New(Config{UserAgent: "test-agent"}, &fakeGate{allow: true}, limiter, zap.NewNop())
	defer f.Close()

	res := f.Fetch(context.Background(), srv.URL+"/page")
	require.NoError(t, res.Err)
	require.True(t, res.OK())
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, res.HTML, "<p>hello</p>")
	assert.Equal(t, len(res.HTML), res.Size)
	assert.Equal(t, srv.URL+"/page", res.FinalURL)
	assert.Equal(t, "text/html; charset=utf-8", res.Headers.Get("Content-Type"))
	assert.False(t, res.FetchedAt.IsZero())
	assert.GreaterOrEqual(t, res.FetchTimeMS(), int64(0))
	assert.Equal(t, int32(1), limiter.calls.Load())
}

func TestFetchDiscardsNonHTML(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	f := New(Config{}, nil, nil, nil)

	res := f.Fetch(context.Background(), srv.URL+"/file.pdf")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.False(t, res.IsHTML)
	assert.Empty(t, res.HTML)
	assert.Zero(t, res.Size)
	assert.ErrorIs(t, res.Err, ErrNotHTML)
	assert.Equal(t, "application/pdf", res.Headers.Get("Content-Type"))
	assert.False(t, res.OK())
}

func TestFetchKeepsErrorStatus(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	f := New(Config{}, nil, nil, nil)

	res := f.Fetch(context.Background(), srv.URL+"/missing")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.True(t, res.IsHTML)
	assert.False(t, res.OK())
}

func TestFetchFollowsBoundedRedirects(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	f := New(Config{MaxRedirects: 5}, nil, nil, nil)

	res := f.Fetch(context.Background(), srv.URL+"/hop/3")
	require.NoError(t, res.Err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, srv.URL+"/page", res.FinalURL)

	res = f.Fetch(context.Background(), srv.URL+"/loop")
	assert.Equal(t, crawler.StatusTransportError, res.StatusCode)
	assert.ErrorIs(t, res.Err, ErrTooManyRedirects)
	assert.Empty(t, res.HTML)
}

func TestFetchTimeoutMapsTo408(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	f := New(Config{Timeout: 50 * time.Millisecond}, nil, nil, nil)

	res := f.Fetch(context.Background(), srv.URL+"/slow")
	assert.Equal(t, crawler.StatusTimeout, res.StatusCode)
	assert.Error(t, res.Err)
	assert.Less(t, res.FetchTime, time.Second)
}

func TestFetchTransportErrorMapsTo500(t *testing.T) {
	t.Parallel()

	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	f := New(Config{}, nil, nil, nil)
	res := f.Fetch(context.Background(), deadURL+"/page")
	assert.Equal(t, crawler.StatusTransportError, res.StatusCode)
	assert.Error(t, res.Err)
}

func TestFetchRobotsDenied(t *testing.T) {
	t.Parallel()

	srv, hits := newTestServer(t)
	gate := &fakeGate{allow: false}
	f := New(Config{}, gate, nil, nil)

	res := f.Fetch(context.Background(), srv.URL+"/page")
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	assert.ErrorIs(t, res.Err, ErrRobotsDenied)
	assert.Zero(t, hits.Load())
	assert.Equal(t, int32(1), gate.calls.Load())
}

func TestFetchGateErrorIsClassified(t *testing.T) {
	t.Parallel()

	f := New(Config{}, &fakeGate{err: fmt.Errorf("wait: %w", context.Canceled)}, nil, nil)
	res := f.Fetch(context.Background(), "http://example.invalid/")
	assert.Equal(t, StatusCanceled, res.StatusCode)

	f = New(Config{}, &fakeGate{err: fmt.Errorf("wait: %w", context.DeadlineExceeded)}, nil, nil)
	res = f.Fetch(context.Background(), "http://example.invalid/")
	assert.Equal(t, crawler.StatusTimeout, res.StatusCode)
}

func TestFetchReturnsOnCancel(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	f := New(Config{}, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	start := time.Now()
	res := f.Fetch(ctx, srv.URL+"/slow")
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, StatusCanceled, res.StatusCode)
	assert.True(t, errors.Is(res.Err, context.Canceled))
}

func TestFetchCancelReleasesRequest(t *testing.T) {
	t.Parallel()

	released := make(chan time.Time, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
		released <- time.Now()
	}))
	t.Cleanup(srv.Close)

	f := New(Config{Timeout: 5 * time.Second}, nil, nil, zap.NewNop())
	defer f.Close()
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	res := f.Fetch(ctx, srv.URL+"/hold")
	assert.Equal(t, StatusCanceled, res.StatusCode)

	select {
	case at := <-released:
		assert.Less(t, at.Sub(start), 2*time.Second)
	case <-time.After(2 * time.Second):
		t.Fatal("server request still open after cancel")
	}
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{}, nil, nil, nil)
	var result crawler.FetchResult
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, &result, &fetchErr)
	require.NotNil(t, hooks.onHeaders)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	req := &colly.Request{URL: mustParseURL(t, "https://example.com/a")}
	hooks.onHeaders(&colly.Response{
		StatusCode: http.StatusOK,
		Headers:    &http.Header{"Content-Type": {"text/html"}},
		Request:    req,
	})
	require.NoError(t, result.Err, "html headers pass the guard")

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusCreated,
		Body:       []byte("body"),
		Headers:    &http.Header{"X-Resp": {"ok"}},
		Request:    req,
	})
	assert.Equal(t, http.StatusCreated, result.StatusCode)
	assert.Equal(t, "body", result.HTML)
	assert.Equal(t, "ok", result.Headers.Get("X-Resp"))

	hooks.onError(nil, colly.ErrAbortedAfterHeaders)
	assert.NoError(t, fetchErr)
	hooks.onError(nil, errors.New("boom"))
	assert.EqualError(t, fetchErr, "boom")
}

func TestIsHTML(t *testing.T) {
	t.Parallel()

	assert.True(t, isHTML("text/html"))
	assert.True(t, isHTML("text/html; charset=ISO-8859-1"))
	assert.True(t, isHTML("application/xhtml+xml"))
	assert.False(t, isHTML("application/json"))
	assert.False(t, isHTML(""))
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

type stubHooks struct {
	onHeaders  colly.ResponseHeadersCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnResponseHeaders(cb colly.ResponseHeadersCallback) {
	s.onHeaders = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
