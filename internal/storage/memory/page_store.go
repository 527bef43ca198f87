package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/realtime-search-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-search-crawler/internal/fingerprint"
)

type edgeKey struct {
	source string
	target string
}

// PageStore implements crawler.PageStore and crawler.RawStore.
type PageStore struct {
	mu       sync.RWMutex
	pages    map[string]crawler.PageRecord
	logs     []crawler.FetchLog
	logIndex map[string]int
	edges    map[edgeKey]crawler.LinkEdge
	raw      map[string]crawler.RawPage
	images   map[string]crawler.Image
}

var (
	_ crawler.PageStore = (*PageStore)(nil)
	_ crawler.RawStore  = (*PageStore)(nil)
)

// NewPageStore returns an empty store.
func NewPageStore() *PageStore {
	return &PageStore{
		pages:    make(map[string]crawler.PageRecord),
		logIndex: make(map[string]int),
		edges:    make(map[edgeKey]crawler.LinkEdge),
		raw:      make(map[string]crawler.RawPage),
		images:   make(map[string]crawler.Image),
	}
}

// SavePage upserts page by URLHash. FirstSeenAt survives re-crawls.
func (s *PageStore) SavePage(_ context.Context, page crawler.PageRecord) error {
	if page.URLHash == "" {
		return errors.New("page url hash is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.pages[page.URLHash]; ok && !prev.FirstSeenAt.IsZero() {
		page.FirstSeenAt = prev.FirstSeenAt
	}
	s.pages[page.URLHash] = page
	return nil
}

// SaveFetchLog upserts entry by ID.
func (s *PageStore) SaveFetchLog(_ context.Context, entry crawler.FetchLog) error {
	if entry.ID == "" {
		return errors.New("fetch log id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if i, ok := s.logIndex[entry.ID]; ok {
		s.logs[i] = entry
		return nil
	}
	s.logIndex[entry.ID] = len(s.logs)
	s.logs = append(s.logs, entry)
	return nil
}

// SaveLinkEdges upserts edges by (source, target).
func (s *PageStore) SaveLinkEdges(_ context.Context, edges []crawler.LinkEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range edges {
		s.edges[edgeKey{e.SourceURLHash, e.TargetURLHash}] = e
	}
	return nil
}

// CheckDuplicateFingerprint scans stored content hashes for a near match.
func (s *PageStore) CheckDuplicateFingerprint(
	_ context.Context,
	fp fingerprint.Fingerprint,
	exclude string,
	threshold int,
) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := fingerprint.Matcher{Target: fp, Threshold: threshold}
	for hash, page := range s.pages {
		if hash == exclude {
			continue
		}
		m.Offer(hash, page.ContentHash)
	}
	hash, ok := m.Result()
	return hash, ok, nil
}

// ListURLHashes returns every stored page hash, sorted.
func (s *PageStore) ListURLHashes(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.pages))
	for hash := range s.pages {
		out = append(out, hash)
	}
	sort.Strings(out)
	return out, nil
}

// SaveHTML upserts a raw page by URL.
func (s *PageStore) SaveHTML(_ context.Context, page crawler.RawPage) error {
	if page.URL == "" {
		return errors.New("raw page url is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raw[page.URL] = page
	return nil
}

// SaveImage upserts image metadata by URL.
func (s *PageStore) SaveImage(_ context.Context, image crawler.Image) error {
	if image.URL == "" {
		return errors.New("image url is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.images[image.URL] = image
	return nil
}

// Close is a no-op.
func (s *PageStore) Close() error { return nil }

// Page returns the stored page for urlHash.
func (s *PageStore) Page(urlHash string) (crawler.PageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	page, ok := s.pages[urlHash]
	if !ok {
		return crawler.PageRecord{}, fmt.Errorf("page %s: %w", urlHash, crawler.ErrNotFound)
	}
	return page, nil
}

// Pages returns every stored page sorted by URL.
func (s *PageStore) Pages() []crawler.PageRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.PageRecord, 0, len(s.pages))
	for _, p := range s.pages {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

// FetchLogs returns fetch logs in insertion order.
func (s *PageStore) FetchLogs() []crawler.FetchLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.FetchLog, len(s.logs))
	copy(out, s.logs)
	return out
}

// Edges returns the link graph sorted by source then target.
func (s *PageStore) Edges() []crawler.LinkEdge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.LinkEdge, 0, len(s.edges))
	for _, e := range s.edges {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SourceURLHash != out[j].SourceURLHash {
			return out[i].SourceURLHash < out[j].SourceURLHash
		}
		return out[i].TargetURLHash < out[j].TargetURLHash
	})
	return out
}

// RawPage returns the stored raw HTML for url.
func (s *PageStore) RawPage(url string) (crawler.RawPage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.raw[url]
	return p, ok
}

// Images returns stored image metadata sorted by URL.
func (s *PageStore) Images() []crawler.Image {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.Image, 0, len(s.images))
	for _, img := range s.images {
		out = append(out, img)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}
