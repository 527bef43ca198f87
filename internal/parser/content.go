package parser

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Content is the main-content view of a page used by the clean stage.
type Content struct {
	Title string
	// Text holds the page's paragraphs, one line per non-blank line.
	Text string
	// Links are raw href values, unresolved, in document order.
	Links []string
	Images []ContentImage
}

// ContentImage is an image reference found while extracting main content.
type ContentImage struct {
	URL         string
	Description string
}

// ExtractMainContent keeps the paragraphs of rawHTML, falling back to all
// body text when the page has none. Returns a zero Content on parse failure.
func (p *Parser) ExtractMainContent(rawHTML, pageURL string) Content {
	doc, err := loadDocument(rawHTML)
	if err != nil {
		return Content{}
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		base = &url.URL{}
	}

	var out Content
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if href == "" {
			return
		}
		// Fragment-only links are kept; the frontier stage resolves and
		// normalizes them away.
		if !strings.HasPrefix(href, "#") && skipHref(href) {
			return
		}
		out.Links = append(out.Links, href)
	})
	for _, img := range extractImages(doc, base) {
		out.Images = append(out.Images, ContentImage{URL: img.URL, Description: img.Description})
	}

	doc.Find(boilerplate).Remove()
	out.Title = title(doc, "Unknown")

	var blocks []string
	paragraphs := doc.Find("p")
	if paragraphs.Length() > 0 {
		paragraphs.Each(func(_ int, s *goquery.Selection) {
			blocks = append(blocks, s.Text())
		})
	} else {
		var parts []string
		for _, n := range doc.Find("body").Nodes {
			collectText(n, &parts)
		}
		blocks = append(blocks, strings.Join(parts, "\n"))
	}
	out.Text = squashLines(strings.Join(blocks, "\n\n"))
	return out
}

func squashLines(s string) string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if t := strings.TrimSpace(line); t != "" {
			lines = append(lines, t)
		}
	}
	return strings.Join(lines, "\n")
}
