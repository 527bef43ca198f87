// Package collyfetcher implements the politeness-gated page fetcher on top of
// gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-search-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-search-crawler/internal/metrics"
)

// StatusCanceled marks attempts abandoned because the caller's context ended.
const StatusCanceled = 499

var (
	// ErrRobotsDenied is attached to results refused by robots.txt.
	ErrRobotsDenied = errors.New("disallowed by robots.txt")
	// ErrTooManyRedirects is returned once the redirect chain exceeds MaxRedirects.
	ErrTooManyRedirects = errors.New("too many redirects")
	// ErrNotHTML is attached to results whose body was discarded by the content-type guard.
	ErrNotHTML = errors.New("response is not html")
)

// Config controls collector behavior.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	MaxRedirects int
	MaxBodyBytes int
}

// Gate admits a URL under robots and per-domain delay rules.
type Gate interface {
	Gate(ctx context.Context, url string) (bool, error)
}

// Limiter throttles the overall request rate.
type Limiter interface {
	Wait(ctx context.Context) (time.Duration, error)
}

// Fetcher implements crawler.Fetcher using the Colly collector.
type Fetcher struct {
	cfg       Config
	gate      Gate
	limiter   Limiter
	transport *http.Transport
	base      *colly.Collector
	logger    *zap.Logger
}

type collectorHooks interface {
	OnResponseHeaders(colly.ResponseHeadersCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. gate and limiter may be nil.
func New(cfg Config, gate Gate, limiter Limiter, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = 5
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 10 << 20
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []colly.CollectorOption{
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
		colly.ParseHTTPErrorResponse(),
		colly.MaxBodySize(cfg.MaxBodyBytes),
	}
	if cfg.UserAgent != "" {
		opts = append(opts, colly.UserAgent(cfg.UserAgent))
	}
	c := colly.NewCollector(opts...)

	transport := newHTTPTransport()
	c.WithTransport(transport)
	c.SetRequestTimeout(cfg.Timeout)
	maxRedirects := cfg.MaxRedirects
	c.SetRedirectHandler(func(_ *http.Request, via []*http.Request) error {
		if len(via) > maxRedirects {
			return fmt.Errorf("%w: stopped after %d", ErrTooManyRedirects, maxRedirects)
		}
		return nil
	})

	return &Fetcher{
		cfg:       cfg,
		gate:      gate,
		limiter:   limiter,
		transport: transport,
		base:      c,
		logger:    logger,
	}
}

// Fetch gates rawURL through the limiter and politeness gate, then performs a
// GET. It never returns an error; failures are encoded in the result.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) crawler.FetchResult {
	start := time.Now()
	result := crawler.FetchResult{URL: rawURL, FetchedAt: start.UTC()}

	if f.limiter != nil {
		if _, err := f.limiter.Wait(ctx); err != nil {
			return f.finish(failed(result, err), start)
		}
	}
	if f.gate != nil {
		allowed, err := f.gate.Gate(ctx, rawURL)
		if err != nil {
			return f.finish(failed(result, err), start)
		}
		if !allowed {
			result.StatusCode = crawler.StatusRobotsDenied
			result.Err = ErrRobotsDenied
			return f.finish(result, start)
		}
	}

	start = time.Now()
	result.FetchedAt = start.UTC()

	// The hooks run on the visit goroutine and only touch visited; it is read
	// back after the visit completes.
	var (
		visited  crawler.FetchResult
		fetchErr error
	)
	collector := f.base.Clone()
	collector.Context = ctx
	f.configureCollectorHooks(collector, &visited, &fetchErr)

	if err := f.runCollector(ctx, collector, rawURL, &fetchErr); err != nil {
		return f.finish(failed(result, err), start)
	}
	result.FinalURL = visited.FinalURL
	result.StatusCode = visited.StatusCode
	result.Headers = visited.Headers
	result.Size = visited.Size
	result.IsHTML = visited.IsHTML
	result.HTML = visited.HTML
	result.Err = visited.Err
	return f.finish(result, start)
}

// Close releases pooled connections.
func (f *Fetcher) Close() {
	f.transport.CloseIdleConnections()
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, result *crawler.FetchResult, fetchErr *error) {
	hooks.OnResponseHeaders(func(r *colly.Response) {
		if isHTML(r.Headers.Get("Content-Type")) {
			return
		}
		result.StatusCode = r.StatusCode
		result.Headers = r.Headers.Clone()
		result.FinalURL = r.Request.URL.String()
		result.Err = ErrNotHTML
		r.Request.Abort()
	})

	hooks.OnResponse(func(r *colly.Response) {
		result.StatusCode = r.StatusCode
		result.Headers = r.Headers.Clone()
		result.FinalURL = r.Request.URL.String()
		result.Size = len(r.Body)
		result.IsHTML = true
		result.HTML = string(r.Body)
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		if errors.Is(err, colly.ErrAbortedAfterHeaders) {
			return
		}
		*fetchErr = err
	})
}

// runCollector is the only place a blocking colly Visit runs. The visit gets
// its own goroutine and the collector carries ctx, so cancellation aborts the
// in-flight request and the connection is released before runCollector returns.
func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		<-done
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil && !errors.Is(err, colly.ErrAbortedAfterHeaders) {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func (f *Fetcher) finish(result crawler.FetchResult, start time.Time) crawler.FetchResult {
	result.FetchTime = time.Since(start)
	metrics.ObserveFetch(result.URL, result.StatusCode, result.Size, result.FetchTime)
	if result.Err != nil && !errors.Is(result.Err, ErrNotHTML) {
		f.logger.Debug("fetch failed",
			zap.String("url", result.URL),
			zap.Int("status", result.StatusCode),
			zap.Error(result.Err),
		)
	}
	return result
}

// failed maps an error to a synthetic status and clears any partial body.
func failed(result crawler.FetchResult, err error) crawler.FetchResult {
	result.Err = err
	result.StatusCode = classify(err)
	result.HTML = ""
	result.IsHTML = false
	result.Size = 0
	return result
}

func classify(err error) int {
	if errors.Is(err, context.Canceled) {
		return StatusCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return crawler.StatusTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return crawler.StatusTimeout
	}
	return crawler.StatusTransportError
}

func isHTML(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(strings.ToLower(contentType), "text/html")
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
