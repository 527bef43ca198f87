// Package politeness enforces robots.txt rules and a minimum interval between
// requests to the same domain.
package politeness

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-search-crawler/internal/clock/system"
	"github.com/JakeFAU/realtime-search-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-search-crawler/internal/metrics"
)

// DefaultDelay applies when robots.txt declares no crawl-delay.
const DefaultDelay = 500 * time.Millisecond

const maxRobotsBytes = 1 << 20

// Config controls a Gate.
type Config struct {
	UserAgent     string
	DefaultDelay  time.Duration
	RobotsTimeout time.Duration
}

// Gate owns the robots rules and last-fetch timestamps of every domain it has
// seen. Nothing is shared between Gate instances.
type Gate struct {
	cfg    Config
	client *http.Client
	clock  crawler.Clock
	logger *zap.Logger

	mu      sync.Mutex
	domains map[string]*domainState
}

// domainState is guarded by its one-slot semaphore, which serializes the
// rules load and the read-sleep-write of lastFetch.
type domainState struct {
	sem       chan struct{}
	rules     *robotstxt.RobotsData
	delay     time.Duration
	lastFetch time.Time
}

// New builds a Gate. A nil client uses a dedicated http.Client with the
// configured robots timeout; a nil clock uses the system clock.
func New(cfg Config, client *http.Client, clock crawler.Clock, logger *zap.Logger) *Gate {
	if cfg.DefaultDelay <= 0 {
		cfg.DefaultDelay = DefaultDelay
	}
	if cfg.RobotsTimeout <= 0 {
		cfg.RobotsTimeout = 10 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.RobotsTimeout}
	}
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		cfg:     cfg,
		client:  client,
		clock:   clock,
		logger:  logger,
		domains: make(map[string]*domainState),
	}
}

// Gate decides whether rawURL may be fetched now. It returns false without
// waiting when robots.txt disallows the path. Otherwise it waits out the rest
// of the domain's crawl delay, records the new fetch time and returns true.
// An error means ctx ended while loading rules or waiting, or rawURL is not a
// valid URL.
func (g *Gate) Gate(ctx context.Context, rawURL string) (bool, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false, fmt.Errorf("gate %q: invalid url", rawURL)
	}
	key := strings.ToLower(u.Host)
	st := g.state(key)

	select {
	case st.sem <- struct{}{}:
	case <-ctx.Done():
		return false, fmt.Errorf("acquire domain %s: %w", key, ctx.Err())
	}
	defer func() { <-st.sem }()

	if st.rules == nil {
		rules, delay, err := g.loadRules(ctx, u)
		if err != nil {
			return false, fmt.Errorf("load robots for %s: %w", key, err)
		}
		st.rules, st.delay = rules, delay
	}
	if !g.allowed(st.rules, u) {
		metrics.ObserveRobotsDenied(rawURL)
		return false, nil
	}

	if !st.lastFetch.IsZero() {
		wait := st.delay - g.clock.Now().Sub(st.lastFetch)
		if wait > 0 {
			if err := g.clock.Sleep(ctx, wait); err != nil {
				return false, fmt.Errorf("politeness delay for %s: %w", key, err)
			}
			metrics.ObservePolitenessDelay(key, wait)
		}
	}
	st.lastFetch = g.clock.Now()
	return true, nil
}

// Delay returns the effective crawl delay for a domain, loading its rules if
// needed.
func (g *Gate) Delay(ctx context.Context, rawURL string) time.Duration {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return g.cfg.DefaultDelay
	}
	st := g.state(strings.ToLower(u.Host))
	select {
	case st.sem <- struct{}{}:
	case <-ctx.Done():
		return g.cfg.DefaultDelay
	}
	defer func() { <-st.sem }()
	if st.rules == nil {
		rules, delay, err := g.loadRules(ctx, u)
		if err != nil {
			return g.cfg.DefaultDelay
		}
		st.rules, st.delay = rules, delay
	}
	return st.delay
}

func (g *Gate) allowed(rules *robotstxt.RobotsData, u *url.URL) bool {
	group := rules.FindGroup(g.cfg.UserAgent)
	if group == nil {
		return true
	}
	return group.Test(u.RequestURI())
}

func (g *Gate) state(key string) *domainState {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.domains[key]
	if !ok {
		st = &domainState{sem: make(chan struct{}, 1)}
		g.domains[key] = st
	}
	return st
}

// loadRules fetches robots.txt once per domain. Any failure or non-200
// answer yields allow-all rules, which are cached like real ones. The one
// exception is ctx ending mid-fetch: that returns ctx's error so the next
// caller fetches again.
func (g *Gate) loadRules(ctx context.Context, u *url.URL) (*robotstxt.RobotsData, time.Duration, error) {
	rules, err := g.fetchRobots(ctx, u)
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return nil, 0, cerr
		}
		g.logger.Warn("robots fetch failed; allowing access",
			zap.String("host", u.Host),
			zap.Error(err),
		)
		rules = allowAll()
	}
	delay := g.cfg.DefaultDelay
	if group := rules.FindGroup(g.cfg.UserAgent); group != nil && group.CrawlDelay > 0 {
		delay = group.CrawlDelay
	}
	return rules, delay, nil
}

func (g *Gate) fetchRobots(ctx context.Context, u *url.URL) (*robotstxt.RobotsData, error) {
	robotsURL := url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/robots.txt"}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("new robots request: %w", err)
	}
	if g.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", g.cfg.UserAgent)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			g.logger.Debug("failed to close robots response body", zap.Error(cerr))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		g.logger.Debug("robots unavailable; allowing access",
			zap.String("host", u.Host),
			zap.Int("status", resp.StatusCode),
		)
		return allowAll(), nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		return nil, fmt.Errorf("read robots body: %w", err)
	}
	data, err := robotstxt.FromBytes(body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}
	return data, nil
}

func allowAll() *robotstxt.RobotsData {
	data, _ := robotstxt.FromStatusAndBytes(http.StatusNotFound, nil)
	return data
}
