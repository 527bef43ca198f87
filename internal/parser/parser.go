package parser

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/JakeFAU/realtime-search-crawler/internal/crawler"
)

// DefaultTitle is used when a document has no usable <title>.
const DefaultTitle = "No Title"

// boilerplate elements are dropped before any text is read.
const boilerplate = "script, style, nav, footer, aside, header, iframe, noscript"

// Parser implements crawler.Parser.
type Parser struct {
	logger *zap.Logger
}

var _ crawler.Parser = (*Parser)(nil)

// New returns a Parser. A nil logger is replaced with a no-op logger.
func New(logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{logger: logger}
}

// Parse extracts the title, visible text, canonical URL, metadata, outbound
// links and images of rawHTML. Relative references resolve against baseURL.
func (p *Parser) Parse(rawHTML string, baseURL string) (page crawler.ParsedPage) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn("parser panic", zap.String("url", baseURL), zap.Any("panic", r))
			page = crawler.ParsedPage{}
		}
	}()

	base, err := url.Parse(baseURL)
	if err != nil {
		p.logger.Debug("invalid base url", zap.String("url", baseURL), zap.Error(err))
		return crawler.ParsedPage{}
	}
	doc, err := loadDocument(rawHTML)
	if err != nil {
		p.logger.Debug("parse html", zap.String("url", baseURL), zap.Error(err))
		return crawler.ParsedPage{}
	}

	// Links and images are collected before boilerplate removal so
	// navigation menus still feed the frontier.
	links := extractLinks(doc, base)
	images := extractImages(doc, base)

	doc.Find(boilerplate).Remove()

	page = crawler.ParsedPage{
		Title:        title(doc, DefaultTitle),
		Text:         visibleText(doc.Selection),
		CanonicalURL: baseURL,
		Language:     strings.TrimSpace(doc.Find("html").AttrOr("lang", "")),
		PageType:     metaProperty(doc, "og:type"),
		Links:        links,
		Images:       images,
	}
	if href, ok := doc.Find(`link[rel="canonical"]`).First().Attr("href"); ok {
		if resolved := resolve(base, href); resolved != "" {
			page.CanonicalURL = resolved
		}
	}
	if thumb := metaProperty(doc, "og:image"); thumb != "" {
		page.ThumbnailURL = resolve(base, thumb)
	}
	return page
}

func loadDocument(rawHTML string) (*goquery.Document, error) {
	root, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil, err
	}
	return goquery.NewDocumentFromNode(root), nil
}

func title(doc *goquery.Document, fallback string) string {
	t := strings.TrimSpace(doc.Find("title").First().Text())
	if t == "" {
		return fallback
	}
	return t
}

func metaProperty(doc *goquery.Document, property string) string {
	sel := doc.Find(`meta[property="` + property + `"]`).First()
	return strings.TrimSpace(sel.AttrOr("content", ""))
}

// visibleText joins every non-blank text node under sel with single spaces.
func visibleText(sel *goquery.Selection) string {
	var parts []string
	for _, n := range sel.Nodes {
		collectText(n, &parts)
	}
	return strings.Join(parts, " ")
}

func collectText(n *html.Node, parts *[]string) {
	if n.Type == html.TextNode {
		if t := strings.TrimSpace(n.Data); t != "" {
			*parts = append(*parts, strings.Join(strings.Fields(t), " "))
		}
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, parts)
	}
}

func extractLinks(doc *goquery.Document, base *url.URL) []crawler.Link {
	seen := make(map[string]struct{})
	var links []crawler.Link
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if skipHref(href) {
			return
		}
		abs := resolve(base, href)
		if abs == "" {
			return
		}
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		links = append(links, crawler.Link{
			URL:    abs,
			Anchor: strings.Join(strings.Fields(s.Text()), " "),
		})
	})
	return links
}

func extractImages(doc *goquery.Document, base *url.URL) []crawler.Image {
	pageURL := base.String()
	seen := make(map[string]struct{})
	var images []crawler.Image
	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		src := strings.TrimSpace(s.AttrOr("data-src", ""))
		if src == "" {
			src = strings.TrimSpace(s.AttrOr("src", ""))
		}
		// Inline data and very short references are icons or spacers.
		if src == "" || strings.HasPrefix(src, "data:") || len(src) < 10 {
			return
		}
		abs := resolve(base, src)
		if abs == "" {
			return
		}
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		desc := strings.TrimSpace(s.AttrOr("alt", ""))
		if desc == "" {
			desc = "Image from " + pageURL
		}
		images = append(images, crawler.Image{URL: abs, PageURL: pageURL, Description: desc})
	})
	return images
}

func skipHref(href string) bool {
	if href == "" || strings.HasPrefix(href, "#") {
		return true
	}
	lower := strings.ToLower(href)
	for _, prefix := range []string{"javascript:", "mailto:", "tel:"} {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// resolve returns ref as an absolute http(s) URL without a fragment, or "".
func resolve(base *url.URL, ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	abs := base.ResolveReference(u)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return ""
	}
	if abs.Host == "" {
		return ""
	}
	abs.Fragment = ""
	abs.RawFragment = ""
	return abs.String()
}
