package pipeline

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-search-crawler/internal/bus"
	"github.com/JakeFAU/realtime-search-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-search-crawler/internal/fingerprint"
	"github.com/JakeFAU/realtime-search-crawler/internal/frontier"
	"github.com/JakeFAU/realtime-search-crawler/internal/parser"
)

// Extractor pulls the main content out of a page.
type Extractor interface {
	ExtractMainContent(rawHTML, pageURL string) parser.Content
}

// Admitter is the seen-set the frontier stage consults.
type Admitter interface {
	Admit(rawURL string) (frontier.Entry, bool)
}

// Scope filters resolved links.
type Scope interface {
	AllowFetch(rawURL string) bool
}

// Hasher digests cleaned text.
type Hasher interface {
	Hash(data []byte) string
}

// crawl fetches a target and forwards 200 HTML pages.
func (p *Pipeline) crawl(ctx context.Context, msg CrawlTarget) error {
	if msg.URL == "" {
		return nil
	}
	log := p.logger.With(zap.String("stage", "crawl"), zap.String("url", msg.URL))
	res := p.deps.Fetcher.Fetch(ctx, msg.URL)
	if !res.OK() {
		p.stats.skipped.Add(1)
		log.Info("skipping target", zap.Int("status", res.StatusCode), zap.Error(res.Err))
		return nil
	}
	headers := flattenHeaders(res.Headers)
	now := p.deps.Clock.Now()
	if p.deps.Raw != nil {
		page := crawler.RawPage{URL: msg.URL, HTML: res.HTML, Headers: headers, SavedAt: now}
		if err := p.deps.Raw.SaveHTML(ctx, page); err != nil {
			return fmt.Errorf("save raw html %s: %w", msg.URL, err)
		}
	}
	p.stats.crawled.Add(1)
	return bus.Publish(ctx, p.deps.Bus, RawHTMLQueue, RawHTML{
		URL:       msg.URL,
		RawHTML:   res.HTML,
		Headers:   headers,
		Timestamp: now,
	})
}

// clean extracts main text, links and images from a raw page.
func (p *Pipeline) clean(ctx context.Context, msg RawHTML) error {
	if msg.RawHTML == "" || msg.URL == "" {
		return nil
	}
	content := p.deps.Extractor.ExtractMainContent(msg.RawHTML, msg.URL)
	doc := CleanDoc{
		CleanText: content.Text,
		Metadata:  DocMetadata{Title: content.Title},
		URL:       msg.URL,
		Hash:      p.deps.Hasher.Hash([]byte(content.Text)),
	}
	p.stats.cleaned.Add(1)
	p.logger.Debug("cleaned page",
		zap.String("url", msg.URL),
		zap.Int("links", len(content.Links)),
		zap.Int("images", len(content.Images)),
	)
	if err := bus.Publish(ctx, p.deps.Bus, CleanQueue, doc); err != nil {
		return err
	}
	if len(content.Links) > 0 {
		if err := bus.Publish(ctx, p.deps.Bus, LinksQueue, ExtractedLinks{BaseURL: msg.URL, Links: content.Links}); err != nil {
			return err
		}
	}
	for _, img := range content.Images {
		ref := ImageRef{URL: img.URL, PageURL: msg.URL, Description: img.Description}
		if err := bus.Publish(ctx, p.deps.Bus, ImageQueue, ref); err != nil {
			return err
		}
	}
	return nil
}

// chunk splits a cleaned document and publishes each chunk.
func (p *Pipeline) chunk(ctx context.Context, msg CleanDoc) error {
	if strings.TrimSpace(msg.CleanText) == "" {
		return nil
	}
	parts := p.chunker.Split(msg.CleanText)
	for i, text := range parts {
		c := Chunk{ChunkText: text, ChunkIndex: i, URL: msg.URL, Title: msg.Metadata.Title}
		if err := bus.Publish(ctx, p.deps.Bus, ChunkQueue, c); err != nil {
			return err
		}
	}
	p.stats.chunks.Add(int64(len(parts)))
	return nil
}

// schedule resolves discovered links and schedules the unseen in-scope ones.
func (p *Pipeline) schedule(ctx context.Context, msg ExtractedLinks) error {
	base, err := url.Parse(msg.BaseURL)
	if err != nil {
		return fmt.Errorf("parse base url %q: %w", msg.BaseURL, err)
	}
	added := 0
	for _, link := range msg.Links {
		ref, err := url.Parse(link)
		if err != nil {
			continue
		}
		abs := base.ResolveReference(ref).String()
		if !fingerprint.IsHTTP(abs) {
			continue
		}
		if p.deps.Scope != nil && !p.deps.Scope.AllowFetch(abs) {
			continue
		}
		entry, ok := p.deps.Frontier.Admit(abs)
		if !ok {
			continue
		}
		if err := bus.Publish(ctx, p.deps.Bus, CrawlTargets, CrawlTarget{URL: entry.URL}); err != nil {
			return err
		}
		added++
	}
	p.stats.links.Add(int64(added))
	if added > 0 {
		p.logger.Info("scheduled new urls", zap.String("base_url", msg.BaseURL), zap.Int("added", added))
	}
	return nil
}

// image persists image metadata.
func (p *Pipeline) image(ctx context.Context, msg ImageRef) error {
	if msg.URL == "" || msg.PageURL == "" || p.deps.Raw == nil {
		return nil
	}
	img := crawler.Image{URL: msg.URL, PageURL: msg.PageURL, Description: msg.Description}
	if err := p.deps.Raw.SaveImage(ctx, img); err != nil {
		return fmt.Errorf("save image %s: %w", msg.URL, err)
	}
	p.stats.images.Add(1)
	return nil
}
